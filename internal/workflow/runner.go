package workflow

import (
	"context"
	"fmt"
	"maps"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ppiankov/e2elog/internal/event"
	"github.com/ppiankov/e2elog/internal/spool"
)

// Process is one named stage of a test.
type Process struct {
	Name string
	Run  func(ctx context.Context, iteration int) error
}

// Runner executes the enabled processes of a test in their declared order.
type Runner struct {
	Test string
	// Processes lists every supported process in execution order.
	Processes []Process
	// Enabled names the processes to run. InitProcess always runs.
	Enabled    []string
	Iterations int
	// Screenshot captures the screen after a failed process. Nil disables
	// capture.
	Screenshot func(ctx context.Context) error
	Metrics    *Metrics
	// Meta is copied into the meta field of the report.
	Meta map[string]any
	Log  zerolog.Logger
}

// Run executes the workflow and reports its outcome. A failed process
// degrades the severity to warn and the run continues; a failed
// InitProcess degrades it to error and stops the run.
func (r *Runner) Run(ctx context.Context) *Report {
	enabled := r.enabledSet()
	rep := &Report{
		Test:      r.Test,
		Severity:  event.LevelInfo,
		Message:   r.Test + " test workflow completed successfully",
		Processes: slices.Sorted(maps.Keys(enabled)),
		meta:      maps.Clone(r.Meta),
		tags:      make(map[string]bool),
	}
	if r.Metrics == nil {
		r.Metrics = NewMetrics()
	}

	iterations := max(r.Iterations, 1)
run:
	for iteration := 1; iteration <= iterations; iteration++ {
		for _, p := range r.Processes {
			if !enabled[p.Name] {
				continue
			}
			log := r.Log.With().Str("process", p.Name).Int("iteration", iteration).Logger()
			log.Info().Msg("run")

			f := runProcess(ctx, p, iteration)
			if f == nil {
				log.Info().Msg("completed successfully")
				continue
			}

			log.Warn().Str("trace", f.short).Msg("failed")
			log.Debug().Msg(f.full)
			rep.Exceptions = append(rep.Exceptions, f.full)
			rep.ExceptionShort = append(rep.ExceptionShort, f.short)
			if rep.Severity == event.LevelInfo {
				rep.Severity = event.LevelWarn
			}
			r.screenshot(ctx, rep, log)

			if p.Name == InitProcess || ctx.Err() != nil {
				rep.Severity = event.LevelError
				rep.Message = r.Test + " test workflow failed"
				break run
			}
		}
	}
	rep.Data = r.Metrics.Snapshot()
	return rep
}

func (r *Runner) enabledSet() map[string]bool {
	set := map[string]bool{InitProcess: true}
	for _, name := range r.Enabled {
		set[name] = true
	}
	return set
}

func (r *Runner) screenshot(ctx context.Context, rep *Report, log zerolog.Logger) {
	if r.Screenshot == nil {
		return
	}
	if err := r.Screenshot(ctx); err != nil {
		log.Warn().Err(err).Msg("screenshot")
		rep.tags[r.Test+"-unable_to_take_screenshot"] = true
	}
}

type failure struct {
	full  string
	short string
}

// runProcess runs p and converts a returned error or a panic into a failure.
func runProcess(ctx context.Context, p Process, iteration int) (f *failure) {
	defer func() {
		if v := recover(); v != nil {
			f = &failure{
				full:  fmt.Sprintf("%s: panic: %v\n%s", p.Name, v, strings.TrimSpace(string(debug.Stack()))),
				short: shortTrace(),
			}
		}
	}()
	if err := ctx.Err(); err != nil {
		return &failure{full: fmt.Sprintf("%s: %v", p.Name, err), short: err.Error()}
	}
	if err := p.Run(ctx, iteration); err != nil {
		full := fmt.Sprintf("%s: %v", p.Name, err)
		short, _, _ := strings.Cut(err.Error(), "\n")
		return &failure{full: full, short: short}
	}
	return nil
}

// shortTrace lists the frames of the panicking goroutine as
// "file:line: function", without runtime and workflow frames.
func shortTrace() string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	var lines []string
	for {
		fr, more := frames.Next()
		if !strings.HasPrefix(fr.Function, "runtime.") && !strings.Contains(fr.Function, "/internal/workflow.runProcess") &&
			!strings.Contains(fr.Function, "/internal/workflow.(*Runner)") {
			lines = append(lines, fmt.Sprintf("%s:%d: %s", filepath.Base(fr.File), fr.Line, fr.Function))
		}
		if !more {
			break
		}
	}
	return strings.Join(lines, "\n")
}

// Report is the outcome of a workflow run.
type Report struct {
	Test           string
	Severity       event.Level
	Message        string
	Processes      []string
	Data           map[string]any
	Exceptions     []string
	ExceptionShort []string

	meta map[string]any
	tags map[string]bool
}

// exitCodes maps severities to the process exit code. Missing levels exit 0.
var exitCodes = map[event.Level]int{
	event.LevelError: 1,
}

// ExitCode returns the exit code of the test process.
func (r *Report) ExitCode() int {
	return exitCodes[r.Severity]
}

// Tags returns the report tags in sorted order.
func (r *Report) Tags() []string {
	return slices.Sorted(maps.Keys(r.tags))
}

// Extra builds the extra field of the result event.
func (r *Report) Extra() map[string]any {
	meta := maps.Clone(r.meta)
	if meta == nil {
		meta = map[string]any{}
	}
	meta["processes"] = slices.Clone(r.Processes)
	data := r.Data
	if data == nil {
		data = map[string]any{}
	}
	extra := map[string]any{
		"tags":            nonNil(r.Tags()),
		"meta":            meta,
		"data":            data,
		"exception":       nonNil(slices.Clone(r.Exceptions)),
		"exception_short": nonNil(slices.Clone(r.ExceptionShort)),
	}
	return event.WithTest(extra, r.Test)
}

// Store enqueues the report as one event.
func (r *Report) Store(s *spool.Store) (string, error) {
	path, err := s.Enqueue(r.Severity, r.Message, r.Extra())
	if err != nil {
		return "", fmt.Errorf("store %s report: %w", r.Test, err)
	}
	return path, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
