package workflow

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ppiankov/e2elog/internal/config"
	"github.com/ppiankov/e2elog/internal/probe"
)

// Words substituted in process and screenshot commands.
const (
	VarTest          = "{test}"
	VarIteration     = "{iteration}"
	VarScreenshotDir = "{screenshot_dir}"
	VarTime          = "{time}"
)

// FromConfig builds the runner of a configured test. Every process runs its
// command and its duration is saved as a metric. The init process checks
// the credentials file first when the test requires a login.
func FromConfig(cfg config.Config, test string, log zerolog.Logger) (*Runner, error) {
	tc, ok := cfg.Tests[test]
	if !ok {
		return nil, fmt.Errorf("test %q is not configured", test)
	}

	metrics := NewMetrics()
	shots := cfg.Paths.ScreenshotDir()
	r := &Runner{
		Test:       test,
		Enabled:    ParseEnabledProcesses(tc.EnabledProcesses),
		Iterations: tc.Iterations,
		Metrics:    metrics,
		Meta:       map[string]any{"iterations": max(tc.Iterations, 1)},
		Log:        log,
	}

	var initCmd []string
	var rest []Process
	for _, pc := range tc.Processes {
		if pc.Name == InitProcess {
			initCmd = pc.Command
			continue
		}
		rest = append(rest, commandProcess(test, pc.Name, pc.Command, shots, metrics))
	}
	r.Processes = append([]Process{initProcess(cfg.Paths, tc.Login, commandProcess(test, InitProcess, initCmd, shots, metrics))}, rest...)

	for _, name := range r.Enabled {
		if !slices.ContainsFunc(r.Processes, func(p Process) bool { return p.Name == name }) {
			log.Warn().Str("process", name).Msg("enabled process has no command")
		}
	}

	if len(tc.ScreenshotCommand) > 0 {
		argv := tc.ScreenshotCommand
		r.Screenshot = func(ctx context.Context) error {
			if err := os.MkdirAll(shots, 0750); err != nil {
				return fmt.Errorf("create screenshot dir: %w", err)
			}
			args := expand(argv, test, 0, shots)
			_, err := probe.Run(ctx, args[0], args[1:]...)
			return err
		}
	}
	return r, nil
}

func initProcess(paths config.Paths, login bool, cmd Process) Process {
	return Process{
		Name: InitProcess,
		Run: func(ctx context.Context, iteration int) error {
			if login {
				if _, err := config.LoadCredentials(paths.CredentialsPath()); err != nil {
					return err
				}
			}
			return cmd.Run(ctx, iteration)
		},
	}
}

// commandProcess runs argv once per iteration. An empty argv does nothing.
func commandProcess(test, name string, argv []string, shots string, metrics *Metrics) Process {
	return Process{
		Name: name,
		Run: func(ctx context.Context, iteration int) error {
			if len(argv) == 0 {
				return nil
			}
			args := expand(argv, test, iteration, shots)
			_, err := metrics.Measure(name, iteration, func() error {
				_, err := probe.Run(ctx, args[0], args[1:]...)
				return err
			})
			return err
		},
	}
}

func expand(argv []string, test string, iteration int, shots string) []string {
	r := strings.NewReplacer(
		VarTest, test,
		VarIteration, strconv.Itoa(iteration),
		VarScreenshotDir, shots,
		VarTime, time.Now().Format("20060102T150405"),
	)
	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = r.Replace(a)
	}
	return out
}
