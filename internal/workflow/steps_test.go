package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine reports a pattern as visible according to visible, which is
// consulted once per Exists call.
type fakeEngine struct {
	visible func(pattern string, call int) bool
	calls   map[string]int
	clicks  []string
	err     error
}

func (f *fakeEngine) Exists(_ context.Context, pattern string, _ time.Duration) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	call := f.calls[pattern]
	f.calls[pattern]++
	return f.visible(pattern, call), nil
}

func (f *fakeEngine) Click(_ context.Context, pattern string) error {
	f.clicks = append(f.clicks, pattern)
	return nil
}

var fast = Loop{Repeat: 5, Interval: time.Millisecond}

func TestUntilExistsClicksTargetUntilVisible(t *testing.T) {
	e := &fakeEngine{visible: func(p string, call int) bool { return p == "dialog.png" && call >= 2 }}

	err := UntilExists(context.Background(), e, Target("open.png"), "dialog.png", fast, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"open.png", "open.png", "dialog.png"}, e.clicks)
}

func TestUntilExistsRunsAction(t *testing.T) {
	e := &fakeEngine{visible: func(_ string, call int) bool { return call >= 1 }}
	var iterations []int
	action := Action(func(_ context.Context, i int) error {
		iterations = append(iterations, i)
		return nil
	})

	require.NoError(t, UntilExists(context.Background(), e, action, "menu.png", fast, false))
	assert.Equal(t, []int{0}, iterations)
	assert.Empty(t, e.clicks)
}

func TestUntilExistsExhausted(t *testing.T) {
	e := &fakeEngine{visible: func(string, int) bool { return false }}

	err := UntilExists(context.Background(), e, Target("open.png"), "dialog.png", fast, false)
	assert.ErrorIs(t, err, ErrLoopExhausted)
	assert.Len(t, e.clicks, 5)
}

func TestUntilExistsActionError(t *testing.T) {
	e := &fakeEngine{visible: func(string, int) bool { return false }}
	boom := errors.New("boom")

	err := UntilExists(context.Background(), e, Action(func(context.Context, int) error { return boom }), "x.png", fast, false)
	assert.ErrorIs(t, err, boom)
}

func TestClickWhileExists(t *testing.T) {
	e := &fakeEngine{visible: func(_ string, call int) bool { return call < 3 }}

	require.NoError(t, ClickWhileExists(context.Background(), e, "popup.png", nil, fast))
	assert.Equal(t, []string{"popup.png", "popup.png", "popup.png"}, e.clicks)
}

func TestClickWhileExistsWithAction(t *testing.T) {
	e := &fakeEngine{visible: func(_ string, call int) bool { return call < 1 }}
	ran := 0
	err := ClickWhileExists(context.Background(), e, "popup.png", func(context.Context, int) error { ran++; return nil }, fast)
	require.NoError(t, err)
	assert.Equal(t, 1, ran)
	assert.Empty(t, e.clicks)
}

func TestClickWhileExistsExhausted(t *testing.T) {
	e := &fakeEngine{visible: func(string, int) bool { return true }}
	err := ClickWhileExists(context.Background(), e, "popup.png", nil, fast)
	assert.ErrorIs(t, err, ErrLoopExhausted)
}

func TestEngineErrorPropagates(t *testing.T) {
	e := &fakeEngine{err: errors.New("engine gone")}
	assert.EqualError(t, ClickWhileExists(context.Background(), e, "p.png", nil, fast), "engine gone")
}

func TestWaitAny(t *testing.T) {
	e := &fakeEngine{visible: func(p string, call int) bool { return p == "b.png" && call >= 1 }}

	got, err := WaitAny(context.Background(), e, []string{"a.png", "b.png"}, time.Second, fast)
	require.NoError(t, err)
	assert.Equal(t, "b.png", got)

	e = &fakeEngine{visible: func(string, int) bool { return false }}
	_, err = WaitAny(context.Background(), e, []string{"a.png"}, 5*time.Millisecond, fast)
	assert.ErrorIs(t, err, ErrLoopExhausted)
}

func TestLoopHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := &fakeEngine{visible: func(string, int) bool { return false }}

	err := UntilExists(ctx, e, Target("x.png"), "y.png", Loop{Repeat: 3, Interval: time.Hour}, false)
	assert.ErrorIs(t, err, context.Canceled)
}
