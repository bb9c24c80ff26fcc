package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pario-ai/agronomist/pkg/models"
)

// ErrMissingCredentials is reported when the endpoint URL or API key is unset.
var ErrMissingCredentials = errors.New("advisor: provider url and api key are required")

// maxResponseBytes bounds how much of an upstream body is read.
const maxResponseBytes = 1 << 20

// complete performs one upstream exchange and classifies it. It never retries.
func (a *Advisor) complete(ctx context.Context, in models.DetectionInput) Result {
	if a.provider.URL == "" || a.provider.APIKey == "" {
		return TransportFailure(ErrMissingCredentials)
	}
	target, err := url.Parse(a.provider.URL)
	if err != nil {
		return TransportFailure(fmt.Errorf("invalid provider URL: %w", err))
	}
	if (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return TransportFailure(fmt.Errorf("invalid provider URL %q", a.provider.URL))
	}

	body, err := json.Marshal(buildRequest(a.provider, in))
	if err != nil {
		return UnexpectedFailure(fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return TransportFailure(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+a.provider.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return UnexpectedFailure(fmt.Errorf("upstream request: %w", err))
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return TransportFailure(fmt.Errorf("upstream returned %d: %s", resp.StatusCode, truncate(string(respBody), 512)))
	}
	if readErr != nil {
		return UnexpectedFailure(fmt.Errorf("read response: %w", readErr))
	}

	return parseCompletion(respBody)
}

// parseCompletion extracts the advisory from a chat completion body.
func parseCompletion(body []byte) Result {
	var completion models.ChatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return ParseFailure(fmt.Errorf("decode completion: %w", err), string(body))
	}

	var content string
	if len(completion.Choices) > 0 && completion.Choices[0].Message != nil {
		content = completion.Choices[0].Message.Content
	}

	adv, err := ParseAdvisory(content)
	if err != nil {
		res := ParseFailure(err, content)
		res.Model = completion.Model
		res.Usage = completion.Usage
		return res
	}

	res := Success(adv)
	res.Model = completion.Model
	res.Usage = completion.Usage
	return res
}

// ParseAdvisory decodes model output into an Advisory. The text must be a
// JSON object; each field is trimmed, and a missing or null field becomes "".
// Fields of any other JSON type are rejected.
func ParseAdvisory(content string) (models.Advisory, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &fields); err != nil {
		return models.Advisory{}, fmt.Errorf("advisory is not a JSON object: %w", err)
	}
	if fields == nil {
		return models.Advisory{}, errors.New("advisory is null")
	}

	var adv models.Advisory
	var err error
	if adv.Summary, err = stringField(fields, "summary"); err != nil {
		return models.Advisory{}, err
	}
	if adv.Prescription, err = stringField(fields, "prescription"); err != nil {
		return models.Advisory{}, err
	}
	if adv.Mitigation, err = stringField(fields, "mitigation"); err != nil {
		return models.Advisory{}, err
	}
	return adv, nil
}

func stringField(fields map[string]json.RawMessage, name string) (string, error) {
	raw, ok := fields[name]
	if !ok || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("advisory field %q: %w", name, err)
	}
	return strings.TrimSpace(s), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
