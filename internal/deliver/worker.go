// Package deliver drains the spool: every spooled event is enriched with the
// metadata envelope and emitted through the configured transport, then its
// spool file is removed.
package deliver

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/ppiankov/e2elog/internal/config"
	"github.com/ppiankov/e2elog/internal/envelope"
	"github.com/ppiankov/e2elog/internal/event"
	"github.com/ppiankov/e2elog/internal/ledger"
	"github.com/ppiankov/e2elog/internal/spool"
	"github.com/ppiankov/e2elog/internal/transport"
)

// severities maps spool levels to the severity names written to the log
// store. Both warn spellings land on WARNING.
var severities = map[event.Level]string{
	event.LevelCritical: "CRITICAL",
	event.LevelError:    "ERROR",
	event.LevelWarn:     "WARNING",
	event.LevelWarning:  "WARNING",
	event.LevelInfo:     "INFO",
	event.LevelDebug:    "DEBUG",
}

// Severity returns the log severity for l.
func Severity(l event.Level) (string, error) {
	s, ok := severities[l]
	if !ok {
		return "", fmt.Errorf("%w %q", event.ErrUnknownLevel, l)
	}
	return s, nil
}

// FactsCollector gathers the host facts for one pass.
type FactsCollector interface {
	Collect(ctx context.Context) (envelope.Facts, error)
}

// Opener opens the transport for a pass.
type Opener func(cfg config.Config, spoolDir string) (transport.Transport, error)

// Options tune a delivery pass.
type Options struct {
	// ContinueOnError skips a failing record (leaving its file in the
	// spool) instead of aborting the pass.
	ContinueOnError bool
}

// Stats summarizes one pass.
type Stats struct {
	Mode      transport.Mode
	Recovered int
	Delivered int
	Failed    int
	// Skipped counts files claimed by a concurrent pass.
	Skipped int
	Flushed int
}

// Worker runs delivery passes over one spool.
type Worker struct {
	Config  config.Config
	Store   *spool.Store
	Facts   FactsCollector
	Open    Opener
	Ledger  *ledger.Log
	Options Options
	Log     zerolog.Logger
}

// New returns a worker with the default fact collector and transport.
func New(cfg config.Config, store *spool.Store, log zerolog.Logger) *Worker {
	return &Worker{
		Config: cfg,
		Store:  store,
		Facts: &envelope.Collector{
			VMCheckCommand: cfg.Environment.VMCheckCommand,
			Log:            log,
		},
		Open: transport.New,
		Log:  log,
	}
}

// ProcessLogEvents runs exactly one drain pass. With no transport enabled it
// leaves the spool untouched. Records that fail stay in the spool; by default
// the first failure aborts the pass.
func (w *Worker) ProcessLogEvents(ctx context.Context) (Stats, error) {
	stats := Stats{Mode: transport.Select(w.Config.Output)}
	if stats.Mode == transport.ModeQueue {
		w.Log.Warn().Str("spool", w.Store.Dir()).Msg("no transport enabled, events stay queued")
		return stats, nil
	}

	lock, err := spool.AcquireLock(filepath.Join(w.Store.Dir(), spool.LockFileName))
	if err != nil {
		return stats, err
	}
	defer func() { _ = lock.Release() }()

	stats.Recovered, err = w.Store.RecoverOrphans()
	if err != nil {
		return stats, fmt.Errorf("recover orphans: %w", err)
	}
	if stats.Recovered > 0 {
		w.Log.Warn().Int("files", stats.Recovered).Msg("recovered files from interrupted pass")
	}

	facts, err := w.Facts.Collect(ctx)
	if err != nil {
		return stats, fmt.Errorf("collect facts: %w", err)
	}

	tr, err := w.Open(w.Config, w.Store.Dir())
	if err != nil {
		return stats, fmt.Errorf("open transport: %w", err)
	}
	defer func() {
		if err := tr.Close(); err != nil {
			w.Log.Error().Err(err).Msg("close transport")
		}
	}()

	drainErr := w.drain(ctx, tr, facts, &stats)

	if stats.Mode == transport.ModeNetwork {
		n, err := tr.Flush(ctx)
		stats.Flushed = n
		if err != nil {
			w.Log.Warn().Err(err).Int("sent", n).Msg("flush failed, events stay buffered")
		}
	}

	w.Log.Info().
		Str("mode", string(stats.Mode)).
		Int("delivered", stats.Delivered).
		Int("failed", stats.Failed).
		Int("flushed", stats.Flushed).
		Msg("delivery pass finished")
	return stats, drainErr
}

func (w *Worker) drain(ctx context.Context, tr transport.Transport, facts envelope.Facts, stats *Stats) error {
	var errs []error
	fail := func(item spool.Item, err error) bool {
		stats.Failed++
		errs = append(errs, err)
		w.Log.Error().Err(err).Str("file", item.Name).Msg("delivery failed")
		return w.Options.ContinueOnError
	}

	for item, err := range w.Store.Drain() {
		if ctxErr := ctx.Err(); ctxErr != nil {
			errs = append(errs, ctxErr)
			break
		}
		if err != nil {
			if !fail(item, err) {
				break
			}
			continue
		}

		claimed, err := w.Store.Claim(item)
		if errors.Is(err, spool.ErrAlreadyClaimed) {
			stats.Skipped++
			continue
		}
		if err != nil {
			if !fail(item, err) {
				break
			}
			continue
		}

		if err := w.deliverOne(ctx, tr, item, facts); err != nil {
			if relErr := claimed.Release(); relErr != nil {
				err = errors.Join(err, relErr)
			}
			if !fail(item, fmt.Errorf("%s: %w", item.Name, err)) {
				break
			}
			continue
		}

		if err := claimed.Done(); err != nil {
			// Emitted but still claimed: the next pass recovers and
			// re-sends it under the same event id.
			if !fail(item, err) {
				break
			}
			continue
		}
		stats.Delivered++
		w.record(item, stats.Mode)
	}
	return errors.Join(errs...)
}

func (w *Worker) deliverOne(ctx context.Context, tr transport.Transport, item spool.Item, facts envelope.Facts) error {
	rec := item.Record
	severity, err := Severity(rec.Level)
	if err != nil {
		return err
	}
	fields, err := envelope.Build(rec.Extra, w.Config, facts)
	if err != nil {
		return err
	}
	return tr.Emit(ctx, transport.Entry{
		EventID:  rec.ID,
		Severity: severity,
		Level:    rec.Level,
		Message:  rec.Msg,
		Fields:   fields,
		Time:     rec.Created,
	})
}

func (w *Worker) record(item spool.Item, mode transport.Mode) {
	if w.Ledger == nil {
		return
	}
	err := w.Ledger.Record(ledger.Entry{
		EventID:   item.Record.ID,
		SpoolFile: item.Name,
		Level:     string(item.Record.Level),
		Test:      testName(item.Record.Extra),
		Message:   item.Record.Msg,
		Mode:      string(mode),
	})
	if err != nil {
		w.Log.Error().Err(err).Str("file", item.Name).Msg("ledger record")
	}
}

func testName(extra map[string]any) string {
	meta, _ := extra["meta"].(map[string]any)
	name, _ := meta["test"].(string)
	return name
}
