package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/e2elog/internal/config"
	"github.com/ppiankov/e2elog/internal/hostcheck"
)

func init() {
	rootCmd.AddCommand(checkProcessCmd)
	rootCmd.AddCommand(checkVMCmd)
	rootCmd.AddCommand(checkCredentialsCmd)
}

var checkProcessCmd = &cobra.Command{
	Use:   "check-process <search>",
	Short: "Check whether a process matching search is running",
	Long:  "Matches search against the executable path and every command line argument\nof running processes. Prints Found: true|false and exits 0 when found, 1 otherwise.",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckProcess,
}

var checkVMCmd = &cobra.Command{
	Use:   "check-vm",
	Short: "Check whether this host is a virtual machine guest",
	Long:  "Runs environment.vm_check_command when configured, otherwise inspects the host.\nExits 0 on a VM guest, 1 on bare metal or when the state is unknown.",
	Args:  cobra.NoArgs,
	RunE:  runCheckVM,
}

var checkCredentialsCmd = &cobra.Command{
	Use:     "check-credentials",
	Aliases: []string{"credentials"},
	Short:   "Check the login credentials file",
	Long:    "Reads <paths.working>/login_credentials.json and prints the user it holds.\nExits with an error naming the expected file when it is missing.",
	Args:    cobra.NoArgs,
	RunE:    runCheckCredentials,
}

func runCheckProcess(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	found, err := hostcheck.ProcessRunning(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Found: %t\n", found)
	if !found {
		return exitCode(1)
	}
	return nil
}

func runCheckVM(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()

	verdict, err := hostcheck.DetectVM(ctx, cfg.Environment.VMCheckCommand)
	if errors.Is(err, hostcheck.ErrVMUnknown) {
		fmt.Fprintln(cmd.OutOrStdout(), "Unable to determine virtualization state.")
		return exitCode(1)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), verdict.Message())
	if !verdict.Guest {
		return exitCode(1)
	}
	return nil
}

func runCheckCredentials(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	path := cfg.Paths.CredentialsPath()
	creds, err := config.LoadCredentials(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "OK: credentials for %s in %s\n", creds.Username, path)
	return nil
}
