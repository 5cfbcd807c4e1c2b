package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ppiankov/e2elog/internal/config"
)

// dialTimeout bounds connection setup to the log endpoint.
const dialTimeout = 10 * time.Second

// Sender delivers rendered documents. Send returns nil only when every
// document in docs was handed to the endpoint.
type Sender interface {
	Send(ctx context.Context, docs [][]byte) error
	Close() error
}

// NewSender returns the network sender configured in o: NATS when
// nats_url is set, else the Logstash TCP input.
func NewSender(o config.Output) (Sender, error) {
	if o.NATSURL != "" {
		return &NATSSender{URL: o.NATSURL, Subject: o.NATSSubject}, nil
	}
	if o.LogstashHost == "" {
		return nil, fmt.Errorf("output.logstash_host is not set")
	}
	return &LogstashSender{Addr: o.LogstashAddr()}, nil
}

// LogstashSender writes newline-delimited JSON to a Logstash tcp input
// (json_lines codec). Each Send uses its own connection.
type LogstashSender struct {
	Addr    string
	Timeout time.Duration
}

// Send implements Sender.
func (s *LogstashSender) Send(ctx context.Context, docs [][]byte) error {
	timeout := s.Timeout
	if timeout == 0 {
		timeout = dialTimeout
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("connect logstash %s: %w", s.Addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	for _, doc := range docs {
		line := make([]byte, 0, len(doc)+1)
		line = append(append(line, doc...), '\n')
		if _, err := conn.Write(line); err != nil {
			return fmt.Errorf("write logstash %s: %w", s.Addr, err)
		}
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.CloseWrite(); err != nil {
			return fmt.Errorf("close logstash %s: %w", s.Addr, err)
		}
	}
	return nil
}

// Close implements Sender.
func (s *LogstashSender) Close() error { return nil }

// NATSSender publishes each document on Subject. The connection is opened on
// the first Send and reused.
type NATSSender struct {
	URL     string
	Subject string

	mu   sync.Mutex
	conn *nats.Conn
}

func (s *NATSSender) connect() (*nats.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil && !s.conn.IsClosed() {
		return s.conn, nil
	}
	nc, err := nats.Connect(s.URL,
		nats.Name("e2elog"),
		nats.Timeout(dialTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", s.URL, err)
	}
	s.conn = nc
	return nc, nil
}

// Send implements Sender. It returns after the server has processed every
// publish (FlushWithContext), so a nil error means nothing is in flight.
func (s *NATSSender) Send(ctx context.Context, docs [][]byte) error {
	nc, err := s.connect()
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if err := nc.Publish(s.Subject, doc); err != nil {
			return fmt.Errorf("publish %s: %w", s.Subject, err)
		}
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dialTimeout)
		defer cancel()
	}
	if err := nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush nats: %w", err)
	}
	return nil
}

// Close implements Sender.
func (s *NATSSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	return nil
}
