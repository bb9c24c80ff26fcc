package advisor

import "github.com/pario-ai/agronomist/pkg/models"

// Outcome classifies how an advisory lookup resolved.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeTransportFailure
	OutcomeParseFailure
	OutcomeUnexpectedFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransportFailure:
		return "transport_failure"
	case OutcomeParseFailure:
		return "parse_failure"
	default:
		return "unexpected_failure"
	}
}

// Degraded advisories returned in place of model output. They are never cached.
var (
	FallbackTransport = models.Advisory{
		Summary:      "Unable to fetch AI suggestion right now.",
		Prescription: "Please retry later or consult a human expert.",
		Mitigation:   "Ensure stable network connection and correct API key.",
	}
	FallbackParse = models.Advisory{
		Summary:      "AI response could not be parsed.",
		Prescription: "Fallback: manual treatment may be required.",
		Mitigation:   "Retry when the AI service is stable.",
	}
	FallbackUnexpected = models.Advisory{
		Summary:      "An unexpected error occurred.",
		Prescription: "Please retry later.",
		Mitigation:   "Check server logs for details.",
	}
)

// Result is the outcome of a single upstream exchange. Only a success
// carries model output; every other outcome maps to a fixed fallback.
type Result struct {
	Outcome Outcome
	Err     error
	Model   string
	Usage   *models.Usage

	advisory models.Advisory
	raw      string
}

// Success wraps a parsed advisory.
func Success(adv models.Advisory) Result {
	return Result{Outcome: OutcomeSuccess, advisory: adv}
}

// TransportFailure reports a call that did not produce a 2xx response.
func TransportFailure(err error) Result {
	return Result{Outcome: OutcomeTransportFailure, Err: err}
}

// ParseFailure reports a response that did not match the advisory shape.
// raw is the offending text, kept for logging.
func ParseFailure(err error, raw string) Result {
	return Result{Outcome: OutcomeParseFailure, Err: err, raw: raw}
}

// UnexpectedFailure reports any other error.
func UnexpectedFailure(err error) Result {
	return Result{Outcome: OutcomeUnexpectedFailure, Err: err}
}

// Advisory maps the result to the advisory shown to the caller.
func (r Result) Advisory() models.Advisory {
	switch r.Outcome {
	case OutcomeSuccess:
		return r.advisory
	case OutcomeTransportFailure:
		return FallbackTransport
	case OutcomeParseFailure:
		return FallbackParse
	default:
		return FallbackUnexpected
	}
}
