package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/e2elog/internal/buffer"
	"github.com/ppiankov/e2elog/internal/config"
	"github.com/ppiankov/e2elog/internal/event"
)

type fakeSender struct {
	mu     sync.Mutex
	docs   [][]byte
	err    error
	closed bool
}

func (f *fakeSender) Send(_ context.Context, docs [][]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.docs = append(f.docs, docs...)
	return nil
}

func (f *fakeSender) Close() error {
	f.closed = true
	return nil
}

func TestSelect(t *testing.T) {
	tests := []struct {
		name string
		out  config.Output
		want Mode
	}{
		{"nothing enabled", config.Output{}, ModeQueue},
		{"logstash", config.Output{Logstash: true}, ModeNetwork},
		{"relay", config.Output{LogstashViaSCP: true}, ModeRelay},
		{"network wins", config.Output{Logstash: true, LogstashViaSCP: true}, ModeNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Select(tt.out))
		})
	}
}

func TestDocument(t *testing.T) {
	e := Entry{
		EventID:  "id-1",
		Severity: "WARNING",
		Level:    event.LevelWarn,
		Message:  "Test completed",
		Fields: map[string]any{
			"#source": "e2e-tests",
			"env":     map[string]any{"location_id": "ab12"},
		},
		Time: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	data, err := Document(e, DocumentOptions{Host: "ws01", Program: "e2elog"})
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "2024-01-01T12:00:00.000Z", doc["@timestamp"])
	assert.Equal(t, "1", doc["@version"])
	assert.Equal(t, "ws01", doc["host"])
	assert.Equal(t, "ws01", doc["logsource"])
	assert.Equal(t, "WARNING", doc["level"])
	assert.Equal(t, "Test completed", doc["message"])
	assert.Equal(t, "e2elog", doc["program"])
	assert.Equal(t, "python-logstash", doc["type"])
	assert.Equal(t, "id-1", doc["event_id"])
	assert.Equal(t, "e2e-tests", doc["#source"])
	assert.Equal(t, "ab12", doc["env"].(map[string]any)["location_id"])
}

func TestDocumentRejectsHeaderFields(t *testing.T) {
	for _, key := range []string{"host", "level", "message", "type", "pid", "program", "@timestamp", "event_id"} {
		t.Run(key, func(t *testing.T) {
			e := Entry{
				Severity: "INFO",
				Message:  "Test completed",
				Fields:   map[string]any{key: "from extra", "env": map[string]any{}},
			}
			data, err := Document(e, DocumentOptions{Host: "ws01"})
			require.ErrorIs(t, err, event.ErrReservedKey)
			assert.Contains(t, err.Error(), key)
			assert.Nil(t, data)
		})
	}
}

func TestBufferedEmitRejectsHeaderFields(t *testing.T) {
	ctx := context.Background()
	b := NewBuffered(openBuffer(t), nil, DocumentOptions{Host: "h"})
	t.Cleanup(func() { _ = b.Close() })

	err := b.Emit(ctx, Entry{Severity: "INFO", Message: "m", Fields: map[string]any{"host": "spoofed"}})
	require.ErrorIs(t, err, event.ErrReservedKey)

	n, err := b.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func openBuffer(t *testing.T) *buffer.DB {
	t.Helper()
	db, err := buffer.Open(filepath.Join(t.TempDir(), buffer.FileName))
	require.NoError(t, err)
	return db
}

func TestBufferedEmitFlush(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{}
	b := NewBuffered(openBuffer(t), sender, DocumentOptions{Host: "h"})

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Emit(ctx, Entry{Severity: "INFO", Message: "m"}))
	}
	n, err := b.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	sent, err := b.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, sent)
	assert.Len(t, sender.docs, 3)

	n, err = b.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, b.Close())
	assert.True(t, sender.closed)
}

func TestBufferedFlushFailureKeepsRows(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{err: errors.New("connection refused")}
	b := NewBuffered(openBuffer(t), sender, DocumentOptions{})
	defer b.Close()

	require.NoError(t, b.Emit(ctx, Entry{Severity: "ERROR", Message: "m"}))
	_, err := b.Flush(ctx)
	require.Error(t, err)

	n, err := b.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBufferedWithoutSenderOnlyAccumulates(t *testing.T) {
	ctx := context.Background()
	b := NewBuffered(openBuffer(t), nil, DocumentOptions{})
	defer b.Close()

	require.NoError(t, b.Emit(ctx, Entry{Severity: "INFO", Message: "m"}))
	sent, err := b.Flush(ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)
	n, err := b.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewQueueModeFails(t *testing.T) {
	_, err := New(config.Default(), t.TempDir())
	assert.Error(t, err)
}

func TestNewRelayModeCreatesBuffer(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Output.LogstashViaSCP = true

	tr, err := New(cfg, dir)
	require.NoError(t, err)
	require.NoError(t, tr.Emit(context.Background(), Entry{Severity: "INFO", Message: "m"}))
	require.NoError(t, tr.Close())
	assert.FileExists(t, filepath.Join(dir, buffer.FileName))
}

func TestNewSender(t *testing.T) {
	s, err := NewSender(config.Output{LogstashHost: "logs", LogstashPort: 5959})
	require.NoError(t, err)
	assert.Equal(t, "logs:5959", s.(*LogstashSender).Addr)

	s, err = NewSender(config.Output{NATSURL: "nats://127.0.0.1:4222", NATSSubject: "e2e.events"})
	require.NoError(t, err)
	assert.Equal(t, "e2e.events", s.(*NATSSender).Subject)

	_, err = NewSender(config.Output{})
	assert.Error(t, err)
}

func TestLogstashSenderWritesLines(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	lines := make(chan []string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		var got []string
		sc := bufio.NewScanner(conn)
		for sc.Scan() {
			got = append(got, sc.Text())
		}
		lines <- got
	}()

	s := &LogstashSender{Addr: ln.Addr().String()}
	require.NoError(t, s.Send(context.Background(), [][]byte{[]byte(`{"a":1}`), []byte(`{"b":2}`)}))

	select {
	case got := <-lines:
		assert.Equal(t, []string{`{"a":1}`, `{"b":2}`}, got)
	case <-time.After(5 * time.Second):
		t.Fatal("listener received nothing")
	}
}

func TestLogstashSenderUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	s := &LogstashSender{Addr: addr, Timeout: time.Second}
	assert.Error(t, s.Send(context.Background(), [][]byte{[]byte("{}")}))
}

func runNATSServer(t *testing.T) *server.Server {
	t.Helper()
	srv, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1})
	require.NoError(t, err)
	go srv.Start()
	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		t.Fatal("embedded NATS server not ready for connections")
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

func TestNATSSenderPublishes(t *testing.T) {
	srv := runNATSServer(t)

	sub, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer sub.Close()
	msgs := make(chan *nats.Msg, 4)
	_, err = sub.ChanSubscribe("e2e.events", msgs)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	s := &NATSSender{URL: srv.ClientURL(), Subject: "e2e.events"}
	defer s.Close()
	require.NoError(t, s.Send(context.Background(), [][]byte{[]byte(`{"n":1}`), []byte(`{"n":2}`)}))

	for _, want := range []string{`{"n":1}`, `{"n":2}`} {
		select {
		case m := <-msgs:
			assert.Equal(t, want, string(m.Data))
		case <-time.After(5 * time.Second):
			t.Fatal("no message received")
		}
	}
}

func TestNATSSenderUnreachable(t *testing.T) {
	s := &NATSSender{URL: "nats://127.0.0.1:1", Subject: "x"}
	assert.Error(t, s.Send(context.Background(), [][]byte{[]byte("{}")}))
}
