// Package event defines the structured log unit produced by test runs and
// carried through the spool until a transport accepts it.
package event

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Level is the severity of a record.
type Level string

const (
	LevelCritical Level = "critical"
	LevelError    Level = "error"
	LevelWarn     Level = "warn"
	LevelWarning  Level = "warning"
	LevelInfo     Level = "info"
	LevelDebug    Level = "debug"
)

// ErrUnknownLevel is returned for severities outside the accepted set.
var ErrUnknownLevel = errors.New("unknown level")

// ErrReservedKey is returned when extra defines a top-level key that the
// delivered document fills in itself.
var ErrReservedKey = errors.New("reserved key")

// reservedKeys are the document header keys.
var reservedKeys = map[string]bool{
	"@timestamp": true,
	"@version":   true,
	"event_id":   true,
	"host":       true,
	"level":      true,
	"logsource":  true,
	"message":    true,
	"pid":        true,
	"program":    true,
	"type":       true,
}

// Reserved reports whether key is a document header key.
func Reserved(key string) bool {
	return reservedKeys[key]
}

// CheckExtra rejects extra maps that would shadow a document header key.
func CheckExtra(extra map[string]any) error {
	for k := range extra {
		if reservedKeys[k] {
			return fmt.Errorf("extra: %w %q", ErrReservedKey, k)
		}
	}
	return nil
}

// validLevels is the set of accepted level values.
var validLevels = map[Level]bool{
	LevelCritical: true,
	LevelError:    true,
	LevelWarn:     true,
	LevelWarning:  true,
	LevelInfo:     true,
	LevelDebug:    true,
}

// Levels returns the accepted levels from most to least severe.
func Levels() []Level {
	return []Level{LevelCritical, LevelError, LevelWarn, LevelWarning, LevelInfo, LevelDebug}
}

// ParseLevel validates s as a Level.
func ParseLevel(s string) (Level, error) {
	l := Level(s)
	if !validLevels[l] {
		return "", fmt.Errorf("%w %q", ErrUnknownLevel, s)
	}
	return l, nil
}

// Valid reports whether l is one of the accepted levels.
func (l Level) Valid() bool {
	return validLevels[l]
}

// Record is one spooled log event.
type Record struct {
	ID      string         `json:"id"`
	Level   Level          `json:"level"`
	Msg     string         `json:"msg"`
	Extra   map[string]any `json:"extra"`
	Created time.Time      `json:"created"`
}

// New builds a record with a fresh ID and creation time.
// A nil extra is replaced by an empty map.
func New(level Level, msg string, extra map[string]any) (*Record, error) {
	if !level.Valid() {
		return nil, fmt.Errorf("%w %q", ErrUnknownLevel, level)
	}
	if err := CheckExtra(extra); err != nil {
		return nil, err
	}
	if extra == nil {
		extra = map[string]any{}
	}
	return &Record{
		ID:      uuid.NewString(),
		Level:   level,
		Msg:     msg,
		Extra:   extra,
		Created: time.Now(),
	}, nil
}

// Validate checks a record read back from disk.
func Validate(r *Record) error {
	if !r.Level.Valid() {
		return fmt.Errorf("%w %q", ErrUnknownLevel, r.Level)
	}
	if err := CheckExtra(r.Extra); err != nil {
		return err
	}
	if r.Extra == nil {
		r.Extra = map[string]any{}
	}
	return nil
}

// WithTest sets extra.meta.test to name unless the caller already set it.
// The meta map is created when missing.
func WithTest(extra map[string]any, name string) map[string]any {
	if extra == nil {
		extra = map[string]any{}
	}
	meta, ok := extra["meta"].(map[string]any)
	if !ok {
		meta = map[string]any{}
		extra["meta"] = meta
	}
	if _, set := meta["test"]; !set {
		meta["test"] = name
	}
	return extra
}
