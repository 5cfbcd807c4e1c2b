package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestLog(t *testing.T) (*Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	l, err := Open(path)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	return l, path
}

func delivered(level, test string) Entry {
	return Entry{
		EventID:   "0b6c2f3e-1d2a-4c55-9a0e-7f1f3a2b9c10",
		SpoolFile: "2024-01-01T00_00_00_000000.json",
		Level:     level,
		Test:      test,
		Message:   "Test completed",
		Mode:      "network",
	}
}

func writeEntries(t *testing.T, l *Log, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := l.Record(delivered("info", "sikulix_example")); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
}

func rewriteLines(t *testing.T, path string, edit func([]string) []string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := edit(strings.Split(strings.TrimSpace(string(data)), "\n"))
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestRecordedChainVerifies(t *testing.T) {
	l, path := newTestLog(t)
	writeEntries(t, l, 5)
	l.Close()

	result := Verify(path)
	if !result.Valid {
		t.Fatalf("expected valid chain, got error at line %d: %s", result.ErrorLine, result.Error)
	}
	if result.Lines != 5 {
		t.Fatalf("expected 5 lines, got %d", result.Lines)
	}
}

func TestVerifyDetectsEditedLevel(t *testing.T) {
	l, path := newTestLog(t)
	writeEntries(t, l, 3)
	l.Close()

	rewriteLines(t, path, func(lines []string) []string {
		lines[1] = strings.Replace(lines[1], `"level":"info"`, `"level":"error"`, 1)
		return lines
	})

	result := Verify(path)
	if result.Valid {
		t.Fatal("expected edited chain to be invalid")
	}
	if result.ErrorLine != 3 {
		t.Fatalf("expected error at line 3, got line %d", result.ErrorLine)
	}
}

func TestVerifyDetectsRemovedDelivery(t *testing.T) {
	l, path := newTestLog(t)
	writeEntries(t, l, 3)
	l.Close()

	rewriteLines(t, path, func(lines []string) []string {
		return []string{lines[0], lines[2]}
	})

	result := Verify(path)
	if result.Valid || result.ErrorLine != 2 {
		t.Fatalf("expected break at line 2, got %+v", result)
	}
}

func TestVerifyRejectsForgedFirstEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	forged, _ := json.Marshal(Entry{EventID: "x", PrevHash: "sha256:forged"})
	if err := os.WriteFile(path, append(forged, '\n'), 0600); err != nil {
		t.Fatal(err)
	}

	result := Verify(path)
	if result.Valid || result.ErrorLine != 1 {
		t.Fatalf("expected break at line 1, got %+v", result)
	}
}

func TestVerifyMissingFile(t *testing.T) {
	result := Verify(filepath.Join(t.TempDir(), "missing.jsonl"))
	if result.Valid || result.Error == "" {
		t.Fatalf("expected open error, got %+v", result)
	}
}

func TestEmptyLedgerVerifies(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, nil, 0600); err != nil {
		t.Fatal(err)
	}
	result := Verify(path)
	if !result.Valid || result.Lines != 0 {
		t.Fatalf("expected valid empty ledger, got %+v", result)
	}
}

func TestConcurrentRecordsKeepChain(t *testing.T) {
	l, path := newTestLog(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Record(delivered("warn", "t"))
		}()
	}
	wg.Wait()
	l.Close()

	result := Verify(path)
	if !result.Valid || result.Lines != 50 {
		t.Fatalf("expected 50 valid lines, got %+v", result)
	}
}

func TestReopenContinuesChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", FileName)

	l1, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	writeEntries(t, l1, 2)
	l1.Close()

	l2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	writeEntries(t, l2, 2)
	l2.Close()

	result := Verify(path)
	if !result.Valid || result.Lines != 4 {
		t.Fatalf("expected 4 valid lines after reopen, got %+v", result)
	}
}

func TestHashLine(t *testing.T) {
	h := HashLine([]byte(`{"event_id":"a"}`))
	if h != HashLine([]byte(`{"event_id":"a"}`)) {
		t.Fatal("hash not deterministic")
	}
	if !strings.HasPrefix(h, "sha256:") || len(h) != 7+64 {
		t.Fatalf("unexpected hash format %q", h)
	}
	if h == HashLine([]byte(`{"event_id":"b"}`)) {
		t.Fatal("different lines hashed equal")
	}
}

func TestReadFilters(t *testing.T) {
	l, path := newTestLog(t)
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	for i, level := range []string{"info", "warn", "error", "info"} {
		e := delivered(level, "test_a")
		if i == 3 {
			e.Test = "test_b"
		}
		e.Timestamp = base.Add(time.Duration(i) * time.Hour).Format(TimestampFormat)
		if err := l.Record(e); err != nil {
			t.Fatal(err)
		}
	}
	l.Close()

	all, err := Read(path, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if all.Summary.Total != 4 || all.Summary.ByLevel["info"] != 2 {
		t.Fatalf("unexpected summary %+v", all.Summary)
	}

	byTest, _ := Read(path, Filter{Test: "test_b"})
	if len(byTest.Entries) != 1 {
		t.Fatalf("expected 1 entry for test_b, got %d", len(byTest.Entries))
	}

	byLevel, _ := Read(path, Filter{Level: "error"})
	if len(byLevel.Entries) != 1 {
		t.Fatalf("expected 1 error entry, got %d", len(byLevel.Entries))
	}

	window, _ := Read(path, Filter{From: base.Add(30 * time.Minute), To: base.Add(2 * time.Hour)})
	if len(window.Entries) != 2 {
		t.Fatalf("expected 2 entries in window, got %d", len(window.Entries))
	}

	last, _ := Read(path, Filter{Last: 1})
	if len(last.Entries) != 1 || last.Entries[0].Test != "test_b" {
		t.Fatalf("expected newest entry, got %+v", last.Entries)
	}
}

func TestFormatTimeline(t *testing.T) {
	r := &Result{
		Entries: []Entry{
			{Timestamp: "2024-01-01T10:00:00.000Z", Level: "info", Mode: "network", Test: "sikulix_example", Message: "Test completed"},
			{Timestamp: "2024-01-01T11:00:00.000Z", Level: "warn", Mode: "relay", Test: "sikulix_example", Message: "Test failed"},
		},
		Summary: Summary{
			Total:          2,
			ByLevel:        map[string]int{"info": 1, "warn": 1},
			FirstTimestamp: "2024-01-01T10:00:00.000Z",
			LastTimestamp:  "2024-01-01T11:00:00.000Z",
		},
	}
	out := FormatTimeline(r)
	for _, want := range []string{"2024-01-01 10:00:00", "INFO", "relay", "Summary: 2 delivered (1 warn, 1 info)"} {
		if !strings.Contains(out, want) {
			t.Errorf("timeline missing %q:\n%s", want, out)
		}
	}

	if got := FormatTimeline(&Result{}); !strings.Contains(got, "No deliveries") {
		t.Errorf("unexpected empty timeline %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdefghij", 8); got != "abcde..." {
		t.Fatalf("got %q", got)
	}
	if got := truncate("short", 8); got != "short" {
		t.Fatalf("got %q", got)
	}
}
