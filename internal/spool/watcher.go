package spool

import (
	"context"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// debounceDefault is the quiet period after the last new file before notify runs.
const debounceDefault = 200 * time.Millisecond

// pollDefault is the polling interval when fsnotify is unavailable.
const pollDefault = 5 * time.Second

// Watcher calls notify when new spool files appear. Bursts of files are
// coalesced into one call; calls never overlap.
type Watcher struct {
	dir      string
	notify   func(ctx context.Context)
	debounce time.Duration
	poll     time.Duration
	log      zerolog.Logger
}

// NewWatcher creates a watcher for dir.
func NewWatcher(dir string, notify func(ctx context.Context), log zerolog.Logger) *Watcher {
	return &Watcher{
		dir:      dir,
		notify:   notify,
		debounce: debounceDefault,
		poll:     pollDefault,
		log:      log,
	}
}

// Run blocks until ctx is cancelled. It falls back to polling when an
// fsnotify watch cannot be established (e.g. network shares).
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		err = watcher.Add(w.dir)
		if err != nil {
			_ = watcher.Close()
		}
	}
	if err != nil {
		w.log.Warn().Err(err).Str("dir", w.dir).Msg("fsnotify unavailable, polling")
		return w.runPoll(ctx)
	}
	defer func() { _ = watcher.Close() }()

	// Single debounce timer, stopped until the first event.
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-timer.C:
			w.notify(ctx)

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) || !isSpoolFile(ev.Name) {
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("watch error")
		}
	}
}

// runPoll calls notify whenever a spool file not seen on the previous scan
// is present.
func (w *Watcher) runPoll(ctx context.Context) error {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	seen := map[string]bool{}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			entries, err := os.ReadDir(w.dir)
			if err != nil {
				w.log.Warn().Err(err).Msg("poll spool")
				continue
			}
			current := map[string]bool{}
			fresh := false
			for _, e := range entries {
				if e.IsDir() || !isSpoolFile(e.Name()) {
					continue
				}
				current[e.Name()] = true
				if !seen[e.Name()] {
					fresh = true
				}
			}
			seen = current
			if fresh {
				w.notify(ctx)
			}
		}
	}
}
