// Package collector runs on the staging host. It pulls relayed buffer files
// into a local spool and replays each one into the log endpoint.
package collector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ppiankov/e2elog/internal/buffer"
	"github.com/ppiankov/e2elog/internal/config"
	"github.com/ppiankov/e2elog/internal/transport"
)

// replayBatch is the number of rows sent per request during replay.
const replayBatch = 100

// Stats summarizes one collector pass.
type Stats struct {
	// Files is the number of buffer files fully replayed and removed.
	Files int
	// Events is the number of rows sent.
	Events int
	// Failed is the number of files left for the next pass.
	Failed int
}

// Collector moves buffers from Source to SpoolDir and replays them.
type Collector struct {
	Source   string
	SpoolDir string
	Syncer   Syncer
	Sender   transport.Sender
	Log      zerolog.Logger
}

// FromConfig builds the collector described by cfg.
func FromConfig(cfg config.Config, log zerolog.Logger) (*Collector, error) {
	sender, err := transport.NewSender(cfg.Output)
	if err != nil {
		return nil, err
	}
	source := cfg.CollectorSource()
	return &Collector{
		Source:   source,
		SpoolDir: cfg.Paths.CollectorSpool,
		Syncer:   SyncerFor(source),
		Sender:   sender,
		Log:      log,
	}, nil
}

// RunOnce syncs the staging directory and replays every buffer in the spool.
// A file that fails stays in the spool; failures of several files are
// joined into the returned error.
func (c *Collector) RunOnce(ctx context.Context) (Stats, error) {
	var stats Stats

	if err := os.MkdirAll(c.SpoolDir, 0750); err != nil {
		return stats, fmt.Errorf("create spool %s: %w", c.SpoolDir, err)
	}
	if c.Syncer != nil && c.Source != "" {
		if err := c.Syncer.Sync(ctx, c.Source, c.SpoolDir); err != nil {
			// Buffers already in the spool are still replayed.
			c.Log.Error().Err(err).Str("source", c.Source).Msg("sync staging")
			return c.replayAll(ctx, stats, fmt.Errorf("sync %s: %w", c.Source, err))
		}
	}
	return c.replayAll(ctx, stats, nil)
}

func (c *Collector) replayAll(ctx context.Context, stats Stats, syncErr error) (Stats, error) {
	files, err := bufferFiles(c.SpoolDir)
	if err != nil {
		return stats, errors.Join(syncErr, err)
	}

	errs := []error{syncErr}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		sent, err := c.replay(ctx, f)
		stats.Events += sent
		if err != nil {
			stats.Failed++
			c.Log.Error().Err(err).Str("file", filepath.Base(f)).Int("sent", sent).Msg("replay failed")
			errs = append(errs, fmt.Errorf("%s: %w", filepath.Base(f), err))
			continue
		}
		stats.Files++
		c.Log.Info().Str("file", filepath.Base(f)).Int("events", sent).Msg("buffer replayed")
	}
	return stats, errors.Join(errs...)
}

// replay sends every row of the buffer at path and removes the file.
// Sent rows are deleted batch by batch, so a retry resumes where it stopped.
func (c *Collector) replay(ctx context.Context, path string) (int, error) {
	db, err := buffer.OpenExisting(path)
	if err != nil {
		return 0, err
	}
	sent, err := db.Drain(ctx, replayBatch, c.Sender.Send)
	if cerr := db.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return sent, err
	}
	if err := os.Remove(path); err != nil {
		return sent, fmt.Errorf("remove replayed buffer: %w", err)
	}
	return sent, nil
}

// bufferFiles lists *.db files in dir in name order.
func bufferFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".db") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}
