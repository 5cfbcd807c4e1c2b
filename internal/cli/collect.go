package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/e2elog/internal/collector"
)

func init() {
	rootCmd.AddCommand(collectCmd)
}

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Pull relayed buffers and replay them into Logstash",
	Long: "Runs on the staging host. Moves relayed buffer files from collector.source\n" +
		"into paths.collector_spool, replays every buffer and removes it once all of its\n" +
		"events were sent.",
	Args: cobra.NoArgs,
	RunE: runCollect,
}

func runCollect(cmd *cobra.Command, args []string) error {
	s, err := setup(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	c, err := collector.FromConfig(s.cfg, s.log)
	if err != nil {
		return err
	}
	stats, err := c.RunOnce(ctx)
	fmt.Fprintf(cmd.OutOrStdout(), "collect: %d files, %d events, %d failed\n", stats.Files, stats.Events, stats.Failed)
	return err
}
