package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/e2elog/internal/config"
	"github.com/ppiankov/e2elog/internal/deliver"
	"github.com/ppiankov/e2elog/internal/systemd"
)

var (
	unitsBinary  string
	unitsUser    string
	unitsInstall string
	unitsCheck   string
)

func init() {
	rootCmd.AddCommand(unitsCmd)
	unitsCmd.Flags().StringVar(&unitsBinary, "binary", "", "Path of the e2elog binary in ExecStart (default: this executable)")
	unitsCmd.Flags().StringVar(&unitsUser, "user", "", "User the jobs run as")
	unitsCmd.Flags().StringVar(&unitsInstall, "install", "", "Write the units into this directory, e.g. /etc/systemd/system")
	unitsCmd.Flags().StringVar(&unitsCheck, "check", "", "Compare the units installed in this directory with the rendering")
	unitsCmd.MarkFlagsMutuallyExclusive("install", "check")
}

var unitsCmd = &cobra.Command{
	Use:   "units",
	Short: "Render systemd units for the deliver, relay and collect jobs",
	Long: "Prints a service and a timer per job. With --install the files are written,\n" +
		"with --check installed files are compared and the command exits 1 on drift.",
	Args: cobra.NoArgs,
	RunE: runUnits,
}

func runUnits(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	binary := unitsBinary
	if binary == "" {
		if exe, err := os.Executable(); err == nil {
			binary = exe
		}
	}
	units := systemd.Units(systemd.Options{
		Binary:          binary,
		ConfigPath:      configPath,
		User:            unitsUser,
		SpoolDir:        cfg.Paths.Spool,
		LogDir:          cfg.Paths.Log,
		DeliverInterval: deliver.DefaultWatchInterval,
	})

	out := cmd.OutOrStdout()
	switch {
	case unitsInstall != "":
		if err := systemd.Install(unitsInstall, units); err != nil {
			return err
		}
		for _, u := range units {
			fmt.Fprintf(out, "installed %s\n", u.Name)
		}
		return nil
	case unitsCheck != "":
		drift, err := systemd.CheckInstalled(unitsCheck, units)
		if err != nil {
			return err
		}
		for _, d := range drift {
			fmt.Fprintln(out, d.String())
		}
		if len(drift) > 0 {
			return exitCode(1)
		}
		fmt.Fprintf(out, "OK: %d units match\n", len(units))
		return nil
	}

	for _, u := range units {
		fmt.Fprintf(out, "# %s\n%s\n", u.Name, u.Content)
	}
	return nil
}
