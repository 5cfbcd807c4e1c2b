// Package probe runs best-effort external commands (version control queries,
// VM checks) and classifies their failures.
//
// Recoverable failures are reported as *Failure so callers can degrade a
// feature without swallowing errors they did not anticipate.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
	"time"
)

// Kind enumerates the recoverable failure modes of a probe.
type Kind int

const (
	ToolNotFound Kind = iota + 1
	PermissionDenied
	NonZeroExit
)

func (k Kind) String() string {
	switch k {
	case ToolNotFound:
		return "tool-not-found"
	case PermissionDenied:
		return "permission-denied"
	case NonZeroExit:
		return "non-zero-exit"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Failure is a recoverable probe error.
type Failure struct {
	Tool     string
	Kind     Kind
	ExitCode int
	Stderr   string
	Err      error
}

func (f *Failure) Error() string {
	if f.Kind == NonZeroExit {
		if f.Stderr != "" {
			return fmt.Sprintf("probe %s: %s (exit %d): %s", f.Tool, f.Kind, f.ExitCode, f.Stderr)
		}
		return fmt.Sprintf("probe %s: %s (exit %d)", f.Tool, f.Kind, f.ExitCode)
	}
	return fmt.Sprintf("probe %s: %s: %v", f.Tool, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// IsRecoverable reports whether err is a *Failure.
func IsRecoverable(err error) bool {
	var f *Failure
	return errors.As(err, &f)
}

// IsKind reports whether err is a *Failure of the given kind.
func IsKind(err error, k Kind) bool {
	var f *Failure
	return errors.As(err, &f) && f.Kind == k
}

// Output is the result of a successful probe.
type Output struct {
	Stdout   string
	Duration time.Duration
}

// Run executes name with args and returns trimmed stdout.
// Context cancellation and other unexpected errors are returned unwrapped.
func Run(ctx context.Context, name string, args ...string) (Output, error) {
	start := time.Now()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := Output{
		Stdout:   strings.TrimSpace(stdout.String()),
		Duration: time.Since(start),
	}
	if err == nil {
		return out, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, ctxErr
	}
	return out, classify(name, err, strings.TrimSpace(stderr.String()))
}

// ExitZero runs the command and reports whether it exited 0.
// A non-zero exit is a valid answer (false, nil); every other failure is returned.
func ExitZero(ctx context.Context, name string, args ...string) (bool, error) {
	_, err := Run(ctx, name, args...)
	if err == nil {
		return true, nil
	}
	if IsKind(err, NonZeroExit) {
		return false, nil
	}
	return false, err
}

func classify(tool string, err error, stderr string) error {
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		return &Failure{Tool: tool, Kind: NonZeroExit, ExitCode: exitErr.ExitCode(), Stderr: stderr, Err: err}
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return &Failure{Tool: tool, Kind: ToolNotFound, Err: err}
	case errors.Is(err, fs.ErrPermission):
		return &Failure{Tool: tool, Kind: PermissionDenied, Err: err}
	default:
		return fmt.Errorf("probe %s: %w", tool, err)
	}
}
