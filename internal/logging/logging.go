// Package logging builds the zerolog logger used by every e2elog command.
//
// A logger is constructed once per process from Config and passed to the
// components that need it. There is no package-level logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Config controls level and destinations.
type Config struct {
	Level  string `json:"level" yaml:"level"`
	Debug  bool   `json:"debug" yaml:"debug"`
	Output string `json:"output" yaml:"output"` // stdout, stderr or none
	File   string `json:"file" yaml:"file"`
}

// New returns a logger and a closer for the optional log file.
func New(cfg Config) (zerolog.Logger, io.Closer, error) {
	level := zerolog.InfoLevel

	if cfg.Debug {
		level = zerolog.DebugLevel
	} else if cfg.Level != "" {
		var err error

		level, err = zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("parse log level: %w", err)
		}
	}

	var writers []io.Writer

	switch cfg.Output {
	case "stdout":
		writers = append(writers, os.Stdout)
	case "none":
	default:
		writers = append(writers, os.Stderr)
	}

	var closer io.Closer = nopCloser{}

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0750); err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
		if err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, f)
		closer = f
	}

	var out io.Writer = io.Discard
	switch len(writers) {
	case 0:
	case 1:
		out = writers[0]
	default:
		out = zerolog.MultiLevelWriter(writers...)
	}

	logger := zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Logger()

	return logger, closer, nil
}

// ScriptLogPath returns <dir>/<script>[_<suffix>].log.
func ScriptLogPath(dir, script, suffix string) string {
	if suffix != "" {
		suffix = "_" + suffix
	}
	return filepath.Join(dir, script+suffix+".log")
}

// WithComponent tags a logger with a component name.
func WithComponent(l zerolog.Logger, component string) zerolog.Logger {
	return l.With().Str("component", component).Logger()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
