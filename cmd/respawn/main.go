package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/loykin/respawn/internal/config"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	cmd := &command{global: globalFlags}

	root.AddCommand(
		createServeCommand(globalFlags),
		createValidateCommand(globalFlags),
		createStartCommand(cmd),
		createStopCommand(cmd),
		createRestartCommand(cmd),
		createStatusCommand(cmd),
		createLogsCommand(cmd),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "respawn",
		Short: "Minimal process supervisor",
		Long: `respawn keeps processes running: it restarts them under a bounded
retry policy and writes their output to rotating log files.

Examples:
  respawn serve --config respawn.toml   # run the supervisor
  respawn status                        # list every process
  respawn restart --name web
  respawn logs --name web --lines 100 --err`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to a TOML, YAML or JSON config file")
	root.PersistentFlags().StringVar(&flags.Socket, "socket", "", "control socket path (default: from --config, else "+config.DefaultSocketPath()+")")
	root.PersistentFlags().DurationVar(&flags.Timeout, "timeout", defaultTimeout, "control request timeout")
	return root
}

func createStartCommand(c *command) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a registered process",
		Long: `Start a process registered in the running supervisor. Starting an
errored process clears its restart counter.

Examples:
  respawn start --name=web`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Start(cmd.Context(), cmd.OutOrStdout(), name)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "process name (required)")
	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err) // This should never happen during setup
	}
	return cmd
}

func createStopCommand(c *command) *cobra.Command {
	f := &StopFlags{}
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop processes",
		Long: `Stop a process, or every process matching a wildcard. The process gets
SIGTERM, then SIGKILL once the wait (default: its kill_timeout) elapses.

Examples:
  respawn stop --name=web
  respawn stop --wildcard='worker-*' --wait=5s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Stop(cmd.Context(), cmd.OutOrStdout(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "process name")
	cmd.Flags().StringVar(&f.Wildcard, "wildcard", "", "stop every process matching this pattern")
	cmd.Flags().DurationVar(&f.Wait, "wait", 0, "grace period before SIGKILL (0 uses kill_timeout)")
	cmd.MarkFlagsOneRequired("name", "wildcard")
	cmd.MarkFlagsMutuallyExclusive("name", "wildcard")
	return cmd
}

func createRestartCommand(c *command) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart a process",
		Long: `Stop a process if it is running and start it again with a fresh
restart counter.

Examples:
  respawn restart --name=web`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Restart(cmd.Context(), cmd.OutOrStdout(), name)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "process name (required)")
	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err) // This should never happen during setup
	}
	return cmd
}

func createStatusCommand(c *command) *cobra.Command {
	f := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show process status",
		Long: `Show the status of supervised processes.

Examples:
  respawn status                    # all processes
  respawn status --name=web
  respawn status --wildcard='api-*' --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(cmd.Context(), cmd.OutOrStdout(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "process name")
	cmd.Flags().StringVar(&f.Wildcard, "wildcard", "", "only processes matching this pattern")
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print JSON instead of a table")
	cmd.MarkFlagsMutuallyExclusive("name", "wildcard")
	return cmd
}

func createLogsCommand(c *command) *cobra.Command {
	f := &LogsFlags{}
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the last lines of a process log",
		Long: `Print the tail of a process's stdout log, or its stderr log with --err.

Examples:
  respawn logs --name=web
  respawn logs --name=web --lines=200 --err`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Logs(cmd.Context(), cmd.OutOrStdout(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "process name (required)")
	cmd.Flags().IntVar(&f.Lines, "lines", 50, "number of lines")
	cmd.Flags().BoolVar(&f.Stderr, "err", false, "read the stderr log")
	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err) // This should never happen during setup
	}
	return cmd
}
