package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ppiankov/e2elog/internal/config"
	"github.com/ppiankov/e2elog/internal/logging"
)

var (
	configPath string
	debugLog   bool
	logToFile  bool
	timeout    time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "e2elog",
	Short: "Spool, enrich and deliver end-to-end test events",
	Long: "Test scripts store one result event per run in a local spool. Delivery enriches\n" +
		"each event with host and run metadata and forwards it to Logstash, directly or\n" +
		"through a relayed SQLite buffer picked up by the collector.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default $E2ELOG_CONFIG or ./"+config.DefaultPath+")")
	rootCmd.PersistentFlags().BoolVar(&debugLog, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&logToFile, "log-file", false, "Also log to <paths.log>/e2elog_<command>.log")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "Abort the command after this duration (0 = no limit)")
}

// exitCode ends the process with a status and no error message.
type exitCode int

func (c exitCode) Error() string { return fmt.Sprintf("exit status %d", int(c)) }

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var code exitCode
		if errors.As(err, &code) {
			os.Exit(int(code))
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// session is the per-invocation state shared by commands that touch the
// spool or the network.
type session struct {
	cfg    config.Config
	log    zerolog.Logger
	closer io.Closer
}

func (s *session) Close() {
	_ = s.closer.Close()
}

// setup loads the configuration and builds the logger for cmd.
func setup(cmd *cobra.Command) (*session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if debugLog {
		cfg.Log.Debug = true
	}
	if logToFile && cfg.Log.File == "" {
		cfg.Log.File = logging.ScriptLogPath(cfg.Paths.Log, "e2elog", cmd.Name())
	}
	log, closer, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	log = log.With().Str("command", cmd.Name()).Logger()
	return &session{cfg: cfg, log: log, closer: closer}, nil
}

// commandContext is cancelled on SIGINT, SIGTERM or when --timeout expires.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}
