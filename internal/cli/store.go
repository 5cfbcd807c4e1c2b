package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/e2elog/internal/event"
	"github.com/ppiankov/e2elog/internal/spool"
)

var (
	storeLevel   string
	storeMessage string
	storeExtra   string
	storeTest    string
	storeDeliver bool
)

func init() {
	rootCmd.AddCommand(storeCmd)
	storeCmd.Flags().StringVarP(&storeLevel, "level", "l", string(event.LevelInfo), "Severity: critical, error, warn, warning, info or debug")
	storeCmd.Flags().StringVarP(&storeMessage, "message", "m", "", "Event message (required)")
	storeCmd.Flags().StringVarP(&storeExtra, "extra", "e", "", "Extra fields as a JSON object")
	storeCmd.Flags().StringVarP(&storeTest, "test", "t", "", "Test name recorded as meta.test")
	storeCmd.Flags().BoolVar(&storeDeliver, "deliver", false, "Run a delivery pass after storing")
	_ = storeCmd.MarkFlagRequired("message")
}

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Store one event in the spool",
	Long:  "Validates the event and writes it to the spool directory. Delivery happens\nlater, or right away with --deliver.",
	Args:  cobra.NoArgs,
	RunE:  runStore,
}

func runStore(cmd *cobra.Command, args []string) error {
	level, err := event.ParseLevel(storeLevel)
	if err != nil {
		return err
	}
	var extra map[string]any
	if storeExtra != "" {
		if err := json.Unmarshal([]byte(storeExtra), &extra); err != nil {
			return fmt.Errorf("invalid --extra: %w", err)
		}
		if err := event.CheckExtra(extra); err != nil {
			return fmt.Errorf("invalid --extra: %w", err)
		}
	}
	if storeTest != "" {
		extra = event.WithTest(extra, storeTest)
	}

	s, err := setup(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	store, err := spool.Open(s.cfg.Paths.Spool)
	if err != nil {
		return err
	}
	path, err := store.Enqueue(level, storeMessage, extra)
	if err != nil {
		return err
	}
	s.log.Debug().Str("file", path).Msg("event stored")
	fmt.Fprintln(cmd.OutOrStdout(), path)

	if !storeDeliver {
		return nil
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()
	w, closeLedger, err := newWorker(s, store)
	if err != nil {
		return err
	}
	defer closeLedger()
	_, err = w.ProcessLogEvents(ctx)
	return err
}
