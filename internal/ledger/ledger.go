// Package ledger keeps an append-only, hash-chained JSONL record of every
// spool file the delivery worker handed to a transport. Deleted spool files
// leave no trace otherwise; the ledger answers "was this run delivered?".
package ledger

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileName is the ledger file inside the log directory.
const FileName = "delivered.jsonl"

// DefaultPath returns the ledger location in logDir.
func DefaultPath(logDir string) string {
	return filepath.Join(logDir, FileName)
}

// GenesisHash is the prev_hash of the first entry.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// TimestampFormat is the layout of entry timestamps.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// Entry is one line of the ledger. Only fixed-order struct fields, so the
// encoded line and therefore its hash are reproducible.
type Entry struct {
	Timestamp string `json:"ts"`
	EventID   string `json:"event_id"`
	SpoolFile string `json:"spool_file"`
	Level     string `json:"level"`
	Test      string `json:"test"`
	Message   string `json:"msg"`
	Mode      string `json:"mode"`
	PrevHash  string `json:"prev_hash"`
}

// Log is an open ledger.
type Log struct {
	path     string
	file     *os.File
	prevHash string
	mu       sync.Mutex
}

// Open opens or creates the ledger at path and recovers the chain tail.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("ledger: create directory: %w", err)
	}

	prevHash := GenesisHash
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		last, err := lastLine(path)
		if err != nil {
			return nil, err
		}
		if len(last) > 0 {
			prevHash = HashLine(last)
		}
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("ledger: open file: %w", err)
	}
	return &Log{path: path, file: file, prevHash: prevHash}, nil
}

func lastLine(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ledger: read existing: %w", err)
	}
	defer f.Close()

	var last []byte
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		last = append(last[:0], scanner.Bytes()...)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ledger: scan existing: %w", err)
	}
	return last, nil
}

// Record appends e, chaining it to the previous line, and syncs the file.
func (l *Log) Record(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.Timestamp == "" {
		e.Timestamp = time.Now().UTC().Format(TimestampFormat)
	}
	e.PrevHash = l.prevHash

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("ledger: marshal entry: %w", err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("ledger: write entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("ledger: sync: %w", err)
	}
	l.prevHash = HashLine(line)
	return nil
}

// Path returns the ledger file.
func (l *Log) Path() string { return l.path }

// Close closes the file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// HashLine returns "sha256:<hex>" of line.
func HashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}
