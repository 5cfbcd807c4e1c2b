// Package relay ships the local event buffer to a staging host when the
// test host cannot reach the log endpoint directly. A collector on the
// staging side replays shipped buffers.
package relay

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ppiankov/e2elog/internal/buffer"
	"github.com/ppiankov/e2elog/internal/config"
	"github.com/ppiankov/e2elog/internal/spool"
)

// Outcome describes what one relay pass did.
type Outcome string

const (
	OutcomeDisabled Outcome = "disabled"
	OutcomeNoBuffer Outcome = "no-buffer"
	OutcomeEmpty    Outcome = "empty"
	OutcomeShipped  Outcome = "shipped"
)

// Target is a remote file location.
type Target struct {
	User string
	Host string
	Dir  string
	Name string
}

// Path returns the remote file path.
func (t Target) Path() string {
	return path.Join(t.Dir, t.Name)
}

// String returns user@host:dir/name.
func (t Target) String() string {
	return fmt.Sprintf("%s@%s:%s", t.User, t.Host, t.Path())
}

// Channel moves a local file to a remote target and removes the local file
// once the remote side has it. On error the local file is presumed intact.
type Channel interface {
	Transfer(ctx context.Context, local string, remote Target) error
}

// RemoteName returns the staging file name for a buffer shipped by hostname at t.
func RemoteName(hostname string, t time.Time) string {
	return fmt.Sprintf("%s_%s_events.db", strings.ToLower(hostname), spool.SafeTimestamp(t))
}

// Relay ships <SpoolDir>/events.db.
type Relay struct {
	Enabled  bool
	SpoolDir string
	Hostname string
	// Target names the staging directory; Name is filled per pass.
	Target  Target
	Channel Channel
	Log     zerolog.Logger

	now func() time.Time
}

// FromConfig builds the relay described by cfg.
func FromConfig(cfg config.Config, log zerolog.Logger) (*Relay, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("hostname: %w", err)
	}
	o := cfg.Output
	r := &Relay{
		Enabled:  o.LogstashViaSCP,
		SpoolDir: cfg.Paths.Spool,
		Hostname: hostname,
		Target: Target{
			User: o.LogstashViaSCPUser,
			Host: o.LogstashViaSCPHost,
			Dir:  o.LogstashViaSCPPath,
		},
		Log: log,
	}
	if !r.Enabled {
		return r, nil
	}

	switch o.LogstashViaSCPMethod {
	case config.MethodSSH:
		r.Channel = &SSHChannel{
			Addr:       o.LogstashViaSCPHost + ":" + strconv.Itoa(o.SSHPort),
			Identity:   o.Identity,
			KnownHosts: o.KnownHosts,
		}
	default:
		r.Channel = &SCPChannel{Shell: o.Shell}
	}
	return r, nil
}

// BufferPath returns the local buffer file.
func (r *Relay) BufferPath() string {
	return filepath.Join(r.SpoolDir, buffer.FileName)
}

// RunOnce ships the buffer if relaying is enabled and the buffer holds
// events. It takes the spool lock so a buffer is never shipped mid-write.
func (r *Relay) RunOnce(ctx context.Context) (Outcome, error) {
	if !r.Enabled {
		return OutcomeDisabled, nil
	}
	if r.Channel == nil {
		return "", fmt.Errorf("relay channel is not configured")
	}

	lock, err := spool.AcquireLock(filepath.Join(r.SpoolDir, spool.LockFileName))
	if err != nil {
		return "", err
	}
	defer func() { _ = lock.Release() }()

	src := r.BufferPath()
	empty, err := bufferEmpty(ctx, src)
	if err != nil {
		if os.IsNotExist(err) {
			return OutcomeNoBuffer, nil
		}
		return "", err
	}
	if empty {
		r.Log.Debug().Str("buffer", src).Msg("buffer empty, nothing to relay")
		return OutcomeEmpty, nil
	}

	now := time.Now
	if r.now != nil {
		now = r.now
	}
	target := r.Target
	target.Name = RemoteName(r.Hostname, now())

	if err := r.Channel.Transfer(ctx, src, target); err != nil {
		return "", fmt.Errorf("relay to %s: %w", target, err)
	}
	r.Log.Info().Str("target", target.String()).Msg("buffer relayed")
	return OutcomeShipped, nil
}

// bufferEmpty reports whether the buffer at p has no rows. A missing file
// returns an error satisfying os.IsNotExist.
func bufferEmpty(ctx context.Context, p string) (bool, error) {
	fi, err := os.Stat(p)
	if err != nil {
		return false, err
	}
	if fi.Size() == 0 {
		return true, nil
	}
	db, err := buffer.OpenExisting(p)
	if err != nil {
		return false, err
	}
	defer db.Close()
	n, err := db.Count(ctx)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}
