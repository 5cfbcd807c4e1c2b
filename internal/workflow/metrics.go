package workflow

import (
	"fmt"
	"maps"
	"sync"
	"time"
)

// Metrics collects the measurements of a run. They become the data field
// of the result event.
type Metrics struct {
	mu     sync.Mutex
	values map[string]any
}

// NewMetrics returns an empty collection.
func NewMetrics() *Metrics {
	return &Metrics{values: make(map[string]any)}
}

// Save records value under <name>_<iteration> and returns that key.
func (m *Metrics) Save(name string, value any, iteration int) string {
	key := fmt.Sprintf("%s_%d", name, iteration)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = make(map[string]any)
	}
	m.values[key] = value
	return key
}

// Measure runs fn and saves its duration in seconds under name, also when
// fn fails.
func (m *Metrics) Measure(name string, iteration int, fn func() error) (time.Duration, error) {
	start := time.Now()
	err := fn()
	d := time.Since(start)
	m.Save(name, d.Seconds(), iteration)
	return d, err
}

// Snapshot returns a copy of the collected values.
func (m *Metrics) Snapshot() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]any, len(m.values))
	maps.Copy(out, m.values)
	return out
}
