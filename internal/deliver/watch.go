package deliver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ppiankov/e2elog/internal/spool"
)

// DefaultWatchInterval is how often Watch runs a pass without file events,
// retrying buffered events and files left by failed passes.
const DefaultWatchInterval = time.Minute

// Watch runs a pass at start, whenever new spool files settle, and every
// interval. Passes never overlap. After a failed pass, file events are
// ignored until the next interval: a released file reappearing in the spool
// must not retrigger a pass immediately. It blocks until ctx is cancelled.
func (w *Worker) Watch(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}

	var mu sync.Mutex
	backoff := false
	pass := func(ctx context.Context, fromEvent bool) {
		mu.Lock()
		defer mu.Unlock()
		if ctx.Err() != nil || (fromEvent && backoff) {
			return
		}
		_, err := w.ProcessLogEvents(ctx)
		backoff = err != nil
		switch {
		case err == nil:
		case errors.Is(err, spool.ErrLocked):
			w.Log.Info().Err(err).Msg("spool busy, pass skipped")
		default:
			w.Log.Error().Err(err).Msg("delivery pass")
		}
	}

	pass(ctx, false)

	watcher := spool.NewWatcher(w.Store.Dir(), func(ctx context.Context) { pass(ctx, true) }, w.Log)
	errc := make(chan error, 1)
	go func() { errc <- watcher.Run(ctx) }()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return <-errc
		case err := <-errc:
			return err
		case <-ticker.C:
			pass(ctx, false)
		}
	}
}
