package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/e2elog/internal/logging"
	"github.com/ppiankov/e2elog/internal/spool"
	"github.com/ppiankov/e2elog/internal/workflow"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run <test>",
	Short: "Run a configured test and store its result event",
	Long: "Runs the enabled processes of tests.<test> in their configured order and stores\n" +
		"one result event in the spool. Exits 1 when the init process fails, 0 otherwise.",
	Args: cobra.ExactArgs(1),
	RunE: runTest,
}

func runTest(cmd *cobra.Command, args []string) error {
	s, err := setup(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	test := args[0]
	log := logging.WithComponent(s.log, "workflow").With().Str("test", test).Logger()
	r, err := workflow.FromConfig(s.cfg, test, log)
	if err != nil {
		return err
	}
	store, err := spool.Open(s.cfg.Paths.Spool)
	if err != nil {
		return err
	}

	rep := r.Run(ctx)
	path, err := rep.Store(store)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", rep.Severity, path)
	if code := rep.ExitCode(); code != 0 {
		return exitCode(code)
	}
	return nil
}
