package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/e2elog/internal/config"
	"github.com/ppiankov/e2elog/internal/ledger"
)

var (
	tailLines  int
	tailTest   string
	tailLevel  string
	tailFrom   string
	tailTo     string
	tailFormat string
)

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerVerifyCmd)
	ledgerCmd.AddCommand(ledgerTailCmd)
	ledgerTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent deliveries to show (0 = all)")
	ledgerTailCmd.Flags().StringVar(&tailTest, "test", "", "Only deliveries of this test")
	ledgerTailCmd.Flags().StringVar(&tailLevel, "level", "", "Only deliveries with this level")
	ledgerTailCmd.Flags().StringVar(&tailFrom, "from", "", "Start time filter (RFC3339)")
	ledgerTailCmd.Flags().StringVar(&tailTo, "to", "", "End time filter (RFC3339)")
	ledgerTailCmd.Flags().StringVarP(&tailFormat, "format", "f", "text", "Output format (text|json)")
}

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Delivery ledger operations",
	Long:  "Commands for verifying and inspecting the hash-chained record of delivered events.",
}

var ledgerVerifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Verify hash chain integrity of the ledger",
	Long:  "Walks the JSONL ledger and validates that every entry's prev_hash\nmatches the SHA-256 of the previous entry. Exits 0 if valid, 1 if tampered.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLedgerVerify,
}

var ledgerTailCmd = &cobra.Command{
	Use:   "tail [path]",
	Short: "Show recent deliveries",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLedgerTail,
}

// resolveLedger returns args[0] or the ledger in the configured log dir.
func resolveLedger(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", err
	}
	return ledger.DefaultPath(cfg.Paths.Log), nil
}

func runLedgerVerify(cmd *cobra.Command, args []string) error {
	path, err := resolveLedger(args)
	if err != nil {
		return err
	}
	result := ledger.Verify(path)
	if result.Valid {
		fmt.Fprintf(cmd.OutOrStdout(), "OK: %d entries verified\n", result.Lines)
		return nil
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "FAILED at line %d: %s\n", result.ErrorLine, result.Error)
	return exitCode(1)
}

func runLedgerTail(cmd *cobra.Command, args []string) error {
	path, err := resolveLedger(args)
	if err != nil {
		return err
	}

	filter := ledger.Filter{Test: tailTest, Level: tailLevel, Last: tailLines}
	if tailFrom != "" {
		if filter.From, err = time.Parse(time.RFC3339, tailFrom); err != nil {
			return fmt.Errorf("invalid --from time %q: %w", tailFrom, err)
		}
	}
	if tailTo != "" {
		if filter.To, err = time.Parse(time.RFC3339, tailTo); err != nil {
			return fmt.Errorf("invalid --to time %q: %w", tailTo, err)
		}
	}

	result, err := ledger.Read(path, filter)
	if err != nil {
		return err
	}
	switch tailFormat {
	case "json":
		out, err := ledger.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
	default:
		fmt.Fprint(cmd.OutOrStdout(), ledger.FormatTimeline(result))
	}
	return nil
}
