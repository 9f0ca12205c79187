package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loykin/respawn"
	"github.com/loykin/respawn/internal/process"
)

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the supervisor",
		Long: `Run the supervisor in the foreground. Every app in the config is started,
and the control socket accepts operator commands until SIGINT or SIGTERM,
which stop all processes gracefully.

Examples:
  respawn serve --config respawn.toml
  respawn serve respawn.yaml
  respawn serve --config respawn.toml --daemonize --pidfile respawn.pid`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := globalFlags.ConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			return runServe(cmd.Context(), path, globalFlags.Socket, serveFlags)
		},
	}
	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run in the background")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "write the daemon PID to this file")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon output to this file")
	return cmd
}

func runServe(ctx context.Context, configPath, socket string, flags *ServeFlags) error {
	if configPath == "" {
		return fmt.Errorf("config file required for serve command. Use --config=respawn.toml or provide as argument")
	}
	cfg, err := respawn.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if socket != "" {
		cfg.Socket = socket
	}

	if flags.Daemonize {
		return daemonize(flags.PidFile, flags.LogFile)
	}
	if flags.PidFile != "" {
		if err := process.WritePIDFile(flags.PidFile, os.Getpid()); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = removePidFile(flags.PidFile) }()
	}

	d, err := respawn.NewDaemon(cfg)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return d.Run(ctx)
}

func createValidateCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [config.toml]",
		Short: "Check a config file without starting anything",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := globalFlags.ConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("config file required. Use --config=respawn.toml or provide as argument")
			}
			cfg, err := respawn.LoadConfig(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, w := range cfg.Warnings {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w)
			}
			_, _ = fmt.Fprintf(out, "%s: %d app(s) OK\n", path, len(cfg.Apps))
			for _, a := range cfg.Apps {
				_, _ = fmt.Fprintf(out, "  %s: %s\n", a.Name, a.Command)
			}
			return nil
		},
	}
}
