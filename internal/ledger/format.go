package ledger

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/e2elog/internal/event"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders r as a text table.
func FormatTimeline(r *Result) string {
	if len(r.Entries) == 0 {
		return "No deliveries recorded.\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Deliveries | %s to %s UTC\n",
		formatDateTime(r.Summary.FirstTimestamp), formatDateTime(r.Summary.LastTimestamp))
	b.WriteString(separator + "\n")
	for _, e := range r.Entries {
		fmt.Fprintf(&b, "%-10s %-8s %-8s %-24s %s\n",
			formatTimeOnly(e.Timestamp),
			strings.ToUpper(e.Level),
			e.Mode,
			truncate(e.Test, 24),
			truncate(e.Message, 40))
	}
	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(r.Summary))
	return b.String()
}

// FormatJSON renders r as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal ledger result: %w", err)
	}
	return string(data), nil
}

func formatSummary(s Summary) string {
	var parts []string
	seen := map[string]bool{}
	for _, l := range event.Levels() {
		if n := s.ByLevel[string(l)]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, l))
		}
		seen[string(l)] = true
	}
	// Levels written by other versions.
	var other []string
	for l := range s.ByLevel {
		if !seen[l] {
			other = append(other, l)
		}
	}
	sort.Strings(other)
	for _, l := range other {
		parts = append(parts, fmt.Sprintf("%d %s", s.ByLevel[l], l))
	}
	return fmt.Sprintf("Summary: %d delivered (%s)\n", s.Total, strings.Join(parts, ", "))
}

func formatDateTime(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatTimeOnly(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("15:04:05")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
