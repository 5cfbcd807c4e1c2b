// Package transport chooses where delivered events go and writes them there.
//
// Every enabled mode writes through the SQLite buffer first. In network mode
// a sender drains the buffer to Logstash (or NATS); in relay mode the buffer
// only accumulates and is later shipped as a file by the relay job.
package transport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ppiankov/e2elog/internal/buffer"
	"github.com/ppiankov/e2elog/internal/config"
	"github.com/ppiankov/e2elog/internal/event"
)

// Mode is the active delivery path.
type Mode string

const (
	// ModeNetwork sends buffered events straight to the log endpoint.
	ModeNetwork Mode = "network"
	// ModeRelay buffers events for the relay job to ship by secure copy.
	ModeRelay Mode = "relay"
	// ModeQueue leaves spool files untouched; no transport is enabled.
	ModeQueue Mode = "queue"
)

// Select returns the mode for o. Direct network delivery wins over relay.
func Select(o config.Output) Mode {
	switch {
	case o.Logstash:
		return ModeNetwork
	case o.LogstashViaSCP:
		return ModeRelay
	default:
		return ModeQueue
	}
}

// Entry is one enriched event ready to be emitted.
type Entry struct {
	EventID string
	// Severity is the log severity name written to the document.
	Severity string
	Level    event.Level
	Message  string
	// Fields are the envelope fields, placed at the document top level.
	Fields map[string]any
	Time   time.Time
}

// Transport accepts entries. Emit returns once the entry is durable.
type Transport interface {
	Emit(ctx context.Context, e Entry) error
	// Flush pushes buffered entries to the endpoint, returning how many
	// were sent. Relay transports have nothing to flush.
	Flush(ctx context.Context) (int, error)
	Close() error
}

// New opens the transport for the selected mode. The buffer lives at
// <spoolDir>/events.db. ModeQueue has no transport and returns an error.
func New(cfg config.Config, spoolDir string) (Transport, error) {
	mode := Select(cfg.Output)
	if mode == ModeQueue {
		return nil, fmt.Errorf("no transport enabled")
	}

	db, err := buffer.Open(filepath.Join(spoolDir, buffer.FileName))
	if err != nil {
		return nil, err
	}

	var sender Sender
	if mode == ModeNetwork {
		sender, err = NewSender(cfg.Output)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return NewBuffered(db, sender, DocumentOptions{
		Host:    hostname(),
		Program: program(),
	}), nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return h
}

func program() string {
	if len(os.Args) == 0 {
		return "e2elog"
	}
	return filepath.Base(os.Args[0])
}
