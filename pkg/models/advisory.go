package models

// DetectionInput describes a single diagnostic event produced by the
// upstream image classifier.
type DetectionInput struct {
	Disease    string  `json:"disease"`
	Confidence float64 `json:"confidence"`
	ImageURL   string  `json:"imageUrl,omitempty"`
}

// Advisory is the guidance returned to a grower. All three fields are always
// present; degraded results may carry fixed fallback text but never omit one.
type Advisory struct {
	Summary      string `json:"summary"`
	Prescription string `json:"prescription"`
	Mitigation   string `json:"mitigation"`
}
