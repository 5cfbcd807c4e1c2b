package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Filter selects ledger entries. Zero fields match everything.
type Filter struct {
	Test  string
	Level string
	From  time.Time
	To    time.Time
	// Last keeps only the newest N matching entries.
	Last int
}

// Summary counts the selected entries.
type Summary struct {
	Total          int            `json:"total"`
	ByLevel        map[string]int `json:"by_level"`
	FirstTimestamp string         `json:"first_timestamp"`
	LastTimestamp  string         `json:"last_timestamp"`
}

// Result is a filtered view of the ledger.
type Result struct {
	Entries []Entry `json:"entries"`
	Summary Summary `json:"summary"`
}

// Read returns the entries matching filter, oldest first. Malformed lines
// are skipped; use Verify to detect them.
func Read(path string, filter Filter) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		if filter.matches(e) {
			entries = append(entries, e)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	if filter.Last > 0 && len(entries) > filter.Last {
		entries = entries[len(entries)-filter.Last:]
	}

	res := &Result{Entries: entries, Summary: Summary{ByLevel: map[string]int{}}}
	for _, e := range entries {
		res.Summary.Total++
		res.Summary.ByLevel[e.Level]++
		if res.Summary.FirstTimestamp == "" {
			res.Summary.FirstTimestamp = e.Timestamp
		}
		res.Summary.LastTimestamp = e.Timestamp
	}
	return res, nil
}

func (f Filter) matches(e Entry) bool {
	if f.Test != "" && e.Test != f.Test {
		return false
	}
	if f.Level != "" && e.Level != f.Level {
		return false
	}
	if f.From.IsZero() && f.To.IsZero() {
		return true
	}
	ts, err := time.Parse(TimestampFormat, e.Timestamp)
	if err != nil {
		return false
	}
	if !f.From.IsZero() && ts.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ts.After(f.To) {
		return false
	}
	return true
}
