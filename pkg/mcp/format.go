package mcp

import (
	"fmt"
	"strings"

	"github.com/pario-ai/agronomist/pkg/advisor"
	"github.com/pario-ai/agronomist/pkg/models"
)

// formatAdvisory renders an advisory with its provenance.
func formatAdvisory(rep advisor.Report) string {
	source := "inference endpoint"
	switch {
	case rep.Cached:
		source = "cache"
	case rep.Outcome != advisor.OutcomeSuccess:
		source = "fallback (" + rep.Outcome.String() + ")"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Summary:\n  %s\n\n", rep.Advisory.Summary)
	fmt.Fprintf(&b, "Prescription:\n  %s\n\n", rep.Advisory.Prescription)
	fmt.Fprintf(&b, "Mitigation:\n  %s\n\n", rep.Advisory.Mitigation)
	fmt.Fprintf(&b, "Source: %s\n", source)
	return b.String()
}

// formatUsage formats usage summaries as a text table.
func formatUsage(rows []models.UsageSummary) string {
	if len(rows) == 0 {
		return "No usage data found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-25s %-20s %8s %10s %10s %10s %8s\n",
		"Model", "Outcome", "Requests", "Prompt", "Completion", "Total", "Avg ms")
	b.WriteString(strings.Repeat("-", 97) + "\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-25s %-20s %8d %10d %10d %10d %8d\n",
			r.Model, r.Outcome, r.RequestCount, r.TotalPrompt, r.TotalCompletion, r.TotalTokens, r.AvgLatencyMs)
	}
	return b.String()
}

// formatCacheStats formats cache stats as text.
func formatCacheStats(stats models.CacheStats) string {
	total := stats.Hits + stats.Misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}
	return fmt.Sprintf("Cache Statistics\n"+
		"  Entries:  %d\n"+
		"  Hits:     %d\n"+
		"  Misses:   %d\n"+
		"  Hit Rate: %.1f%%\n",
		stats.Entries, stats.Hits, stats.Misses, hitRate)
}
