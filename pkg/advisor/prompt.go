package advisor

import (
	"fmt"
	"strings"

	"github.com/pario-ai/agronomist/pkg/config"
	"github.com/pario-ai/agronomist/pkg/models"
)

const systemPrompt = `
You are an expert plant pathologist specialized in onion diseases.

You must return your answer strictly as a JSON object with the following keys:
{
  "summary": "Short explanation of the disease and its effects",
  "prescription": "Recommended treatment steps and fungicides",
  "mitigation": "Best practices to prevent recurrence"
}

Do not include any commentary, markdown, or additional text. Only valid JSON.
`

// question renders the user message for a detection.
func question(in models.DetectionInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Detected onion disease: %s\nConfidence: %s%%", in.Disease, formatConfidence(in.Confidence))
	if in.ImageURL != "" {
		fmt.Fprintf(&b, "\nImage: %s", in.ImageURL)
	}
	return b.String()
}

// buildRequest assembles the chat completion request for a detection.
func buildRequest(p config.ProviderConfig, in models.DetectionInput) models.ChatCompletionRequest {
	return models.ChatCompletionRequest{
		Model: p.Model,
		Messages: []models.ChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: question(in)},
		},
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
	}
}
