package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/e2elog/internal/deliver"
	"github.com/ppiankov/e2elog/internal/ledger"
	"github.com/ppiankov/e2elog/internal/logging"
	"github.com/ppiankov/e2elog/internal/relay"
	"github.com/ppiankov/e2elog/internal/spool"
)

var (
	deliverWatch           bool
	deliverInterval        = deliver.DefaultWatchInterval
	deliverContinueOnError bool
	deliverNoLedger        bool
)

func init() {
	rootCmd.AddCommand(deliverCmd)
	rootCmd.AddCommand(relayCmd)
	rootCmd.AddCommand(shipCmd)
	for _, c := range []*cobra.Command{deliverCmd, shipCmd} {
		c.Flags().BoolVar(&deliverContinueOnError, "continue-on-error", false, "Skip failing events instead of aborting the pass")
		c.Flags().BoolVar(&deliverNoLedger, "no-ledger", false, "Do not record deliveries in the ledger")
	}
	deliverCmd.Flags().BoolVarP(&deliverWatch, "watch", "w", false, "Keep running and deliver new events as they are stored")
	deliverCmd.Flags().DurationVar(&deliverInterval, "interval", deliver.DefaultWatchInterval, "Retry interval in watch mode")
}

var deliverCmd = &cobra.Command{
	Use:   "deliver",
	Short: "Deliver spooled events",
	Long: "Runs one delivery pass: every spooled event is enriched and emitted through the\n" +
		"configured transport, then its spool file is removed. With no transport enabled\n" +
		"the spool is left untouched.",
	Args: cobra.NoArgs,
	RunE: runDeliver,
}

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Ship the event buffer to the staging host",
	Args:  cobra.NoArgs,
	RunE:  runRelay,
}

var shipCmd = &cobra.Command{
	Use:   "ship",
	Short: "Deliver spooled events, then relay the buffer",
	Args:  cobra.NoArgs,
	RunE:  runShip,
}

// newWorker builds a delivery worker for store. The returned func closes
// the ledger.
func newWorker(s *session, store *spool.Store) (*deliver.Worker, func(), error) {
	w := deliver.New(s.cfg, store, logging.WithComponent(s.log, "deliver"))
	w.Options.ContinueOnError = deliverContinueOnError
	if deliverNoLedger {
		return w, func() {}, nil
	}
	l, err := ledger.Open(ledger.DefaultPath(s.cfg.Paths.Log))
	if err != nil {
		return nil, nil, err
	}
	w.Ledger = l
	return w, func() { _ = l.Close() }, nil
}

func runDeliver(cmd *cobra.Command, args []string) error {
	s, err := setup(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	store, err := spool.Open(s.cfg.Paths.Spool)
	if err != nil {
		return err
	}
	w, closeLedger, err := newWorker(s, store)
	if err != nil {
		return err
	}
	defer closeLedger()

	if deliverWatch {
		s.log.Info().Str("spool", store.Dir()).Dur("interval", deliverInterval).Msg("watching spool")
		return w.Watch(ctx, deliverInterval)
	}

	stats, err := w.ProcessLogEvents(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d delivered, %d flushed\n", stats.Mode, stats.Delivered, stats.Flushed)
	return nil
}

func runRelay(cmd *cobra.Command, args []string) error {
	s, err := setup(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	r, err := relay.FromConfig(s.cfg, s.log)
	if err != nil {
		return err
	}
	outcome, err := r.RunOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "relay: %s\n", outcome)
	return nil
}

// runShip delivers, then relays. The relay runs even after a failed pass
// so events buffered before the failure still leave the host.
func runShip(cmd *cobra.Command, args []string) error {
	s, err := setup(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	store, err := spool.Open(s.cfg.Paths.Spool)
	if err != nil {
		return err
	}
	w, closeLedger, err := newWorker(s, store)
	if err != nil {
		return err
	}
	defer closeLedger()
	stats, deliverErr := w.ProcessLogEvents(ctx)

	r, err := relay.FromConfig(s.cfg, s.log)
	if err != nil {
		return errors.Join(deliverErr, err)
	}
	outcome, relayErr := r.RunOnce(ctx)
	if err := errors.Join(deliverErr, relayErr); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d delivered, relay: %s\n", stats.Mode, stats.Delivered, outcome)
	return nil
}
