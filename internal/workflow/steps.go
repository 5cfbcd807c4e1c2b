package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrLoopExhausted is returned when a bounded loop ran out of attempts.
var ErrLoopExhausted = errors.New("loop exhausted")

// Engine is the GUI automation backend a test drives.
type Engine interface {
	// Exists reports whether pattern is visible, waiting at most timeout.
	Exists(ctx context.Context, pattern string, timeout time.Duration) (bool, error)
	Click(ctx context.Context, pattern string) error
}

// Step is either an Action or a Target.
type Step interface {
	isStep()
}

// Action is a step implemented by a function.
type Action func(ctx context.Context, iteration int) error

// Target is a step that clicks a pattern.
type Target string

func (Action) isStep() {}
func (Target) isStep() {}

func perform(ctx context.Context, e Engine, s Step, iteration int) error {
	switch s := s.(type) {
	case Action:
		return s(ctx, iteration)
	case Target:
		return e.Click(ctx, string(s))
	default:
		return fmt.Errorf("unsupported step %T", s)
	}
}

// Loop bounds UntilExists and ClickWhileExists.
type Loop struct {
	Repeat   int
	Interval time.Duration
	// Probe is the timeout of each Exists check.
	Probe time.Duration
}

// DefaultLoop is 15 attempts one second apart.
var DefaultLoop = Loop{Repeat: 15, Interval: time.Second, Probe: 100 * time.Millisecond}

func (l Loop) withDefaults() Loop {
	if l.Repeat <= 0 {
		l.Repeat = DefaultLoop.Repeat
	}
	if l.Probe <= 0 {
		l.Probe = DefaultLoop.Probe
	}
	return l
}

// UntilExists performs step until pattern appears. With clickOnExists the
// pattern is clicked once it is visible.
func UntilExists(ctx context.Context, e Engine, step Step, pattern string, loop Loop, clickOnExists bool) error {
	loop = loop.withDefaults()
	for i := 0; i < loop.Repeat; i++ {
		ok, err := e.Exists(ctx, pattern, loop.Probe)
		if err != nil {
			return err
		}
		if ok {
			if clickOnExists {
				return e.Click(ctx, pattern)
			}
			return nil
		}
		if err := perform(ctx, e, step, i); err != nil {
			return err
		}
		if err := sleep(ctx, loop.Interval); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: %s did not appear after %d attempts", ErrLoopExhausted, pattern, loop.Repeat)
}

// ClickWhileExists clicks pattern, or runs action when set, until pattern
// vanishes.
func ClickWhileExists(ctx context.Context, e Engine, pattern string, action Action, loop Loop) error {
	loop = loop.withDefaults()
	var step Step = Target(pattern)
	if action != nil {
		step = action
	}
	for i := 0; i < loop.Repeat; i++ {
		if i > 0 {
			if err := sleep(ctx, loop.Interval); err != nil {
				return err
			}
		}
		ok, err := e.Exists(ctx, pattern, loop.Probe)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := perform(ctx, e, step, i); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: %s still visible after %d attempts", ErrLoopExhausted, pattern, loop.Repeat)
}

// WaitAny polls patterns until one of them is visible and returns it.
func WaitAny(ctx context.Context, e Engine, patterns []string, timeout time.Duration, loop Loop) (string, error) {
	loop = loop.withDefaults()
	deadline := time.Now().Add(timeout)
	for {
		for _, p := range patterns {
			ok, err := e.Exists(ctx, p, loop.Probe)
			if err != nil {
				return "", err
			}
			if ok {
				return p, nil
			}
		}
		if !time.Now().Before(deadline) {
			return "", fmt.Errorf("%w: none of %d patterns appeared within %s", ErrLoopExhausted, len(patterns), timeout)
		}
		if err := sleep(ctx, loop.Interval); err != nil {
			return "", err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
