package mcp

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/pario-ai/agronomist/pkg/models"
)

type adviseArgs struct {
	Disease    string   `json:"disease"`
	Confidence *float64 `json:"confidence"`
	ImageURL   string   `json:"imageUrl"`
}

type usageArgs struct {
	Since string `json:"since"`
}

// toolHandler is a function that handles a tool call.
type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

// toolHandlers maps tool names to their handlers.
var toolHandlers = map[string]toolHandler{
	"agronomist_advise":      handleAdvise,
	"agronomist_cache_stats": handleCacheStats,
	"agronomist_usage":       handleUsage,
}

// allTools is the list of tool definitions exposed via tools/list.
var allTools = []ToolDefinition{
	{
		Name:        "agronomist_advise",
		Description: "Get treatment guidance (summary, prescription, mitigation) for a detected onion disease.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"disease", "confidence"},
			"properties": map[string]any{
				"disease": map[string]any{
					"type":        "string",
					"description": "Detected disease label, e.g. \"Purple Blotch\"",
				},
				"confidence": map[string]any{
					"type":        "number",
					"minimum":     0,
					"maximum":     100,
					"description": "Classifier confidence in percent",
				},
				"imageUrl": map[string]any{
					"type":        "string",
					"description": "Reference to the analysed image (optional)",
				},
			},
		},
	},
	{
		Name:        "agronomist_cache_stats",
		Description: "Show advisory cache statistics (entries, hits, misses, hit rate).",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "agronomist_usage",
		Description: "Show inference endpoint usage grouped by model and outcome.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"since": map[string]any{
					"type":        "string",
					"description": "Start date in YYYY-MM-DD format (optional, defaults to all time)",
				},
			},
		},
	},
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
	}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
		IsError: true,
	}
}

func handleAdvise(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args adviseArgs
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return errorResult("Invalid arguments: " + err.Error())
		}
	}
	if strings.TrimSpace(args.Disease) == "" {
		return errorResult("disease is required")
	}
	if args.Confidence == nil || math.IsNaN(*args.Confidence) || *args.Confidence < 0 || *args.Confidence > 100 {
		return errorResult("confidence must be a number between 0 and 100")
	}

	rep := s.advisor.Lookup(ctx, models.DetectionInput{
		Disease:    args.Disease,
		Confidence: *args.Confidence,
		ImageURL:   args.ImageURL,
	})
	return textResult(formatAdvisory(rep))
}

func handleCacheStats(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.cache == nil {
		return textResult("Cache is not configured.")
	}
	stats, err := s.cache.Stats()
	if err != nil {
		return errorResult("Error fetching cache stats: " + err.Error())
	}
	return textResult(formatCacheStats(stats))
}

func handleUsage(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.usage == nil {
		return textResult("Usage tracking is not configured.")
	}
	var args usageArgs
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return errorResult("Invalid arguments: " + err.Error())
		}
	}

	var since time.Time
	if args.Since != "" {
		t, err := time.Parse("2006-01-02", args.Since)
		if err != nil {
			return errorResult("Invalid since date (use YYYY-MM-DD): " + err.Error())
		}
		since = t
	}

	rows, err := s.usage.Summary(ctx, since)
	if err != nil {
		return errorResult("Error fetching usage: " + err.Error())
	}
	return textResult(formatUsage(rows))
}
