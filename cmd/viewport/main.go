package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds minimal global/persistent flags for CLI commands
type GlobalFlags struct {
	ConfigPath string
}

// buildRoot creates the root command and its subcommands.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createStatusCommand(),
		createResetCommand(),
		createReloadCommand(),
		createValidateCommand(),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "viewport",
		Short: "Video wall stream supervisor",
		Long: `Viewport keeps one mpv player per wall tile running, as described by the
layout file written by the layout chooser.

Examples:
  viewport serve /etc/viewport/viewport.toml   # Start the supervisor
  viewport status                              # Show every tile
  viewport reset --tile 0,1                    # Lift a quarantine
  viewport validate ~/viewport_config.json     # Check a layout before using it`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

// addAPIFlags registers the daemon connection flags shared by the client commands.
func addAPIFlags(cmd *cobra.Command, f *APIFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "daemon URL (default http://127.0.0.1:8080/api)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	cmd.Flags().BoolVar(&f.Insecure, "insecure", false, "skip TLS verification for https URLs")
}

// createServeCommand creates the serve subcommand
func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the supervisor daemon",
		Long: `Start the supervisor. Without a config file the built-in defaults are used
and VIEWPORT_* environment variables still apply.

Signals:
  SIGINT, SIGTERM   stop (players keep running and are adopted on restart)
  SIGHUP            re-read the layout now
  SIGUSR1           lift every quarantine

Examples:
  viewport serve viewport.toml
  viewport serve --once             # One reconciliation pass, print the report
  viewport serve --daemonize --pidfile /run/viewport.pid --logfile /var/log/viewport.log`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			if len(args) > 0 {
				serveFlags.ConfigPath = args[0]
			}
			return runServe(cmd.Context(), *serveFlags)
		},
	}
	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "write the daemon pid to this file")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon output to file")
	cmd.Flags().BoolVar(&serveFlags.Once, "once", false, "run a single cycle and exit")
	return cmd
}

// createStatusCommand creates the status subcommand
func createStatusCommand() *cobra.Command {
	f := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show tile status",
		Long: `Show every tile of the running daemon, or one tile with --tile.

Examples:
  viewport status
  viewport status --tile 1,0
  viewport status --json --api-url=http://wall:8080/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), cmd.OutOrStdout(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Tile, "tile", "", "single tile (r,c)")
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print raw JSON")
	addAPIFlags(cmd, &f.APIFlags)
	return cmd
}

// createResetCommand creates the reset subcommand
func createResetCommand() *cobra.Command {
	f := &ResetFlags{}
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Lift quarantine",
		Long: `Clear the restart count and cooldown of tiles and lift their quarantine.
Without --tile every tile is reset.

Examples:
  viewport reset
  viewport reset --tile 0,1 --tile 1,1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReset(cmd.Context(), cmd.OutOrStdout(), *f)
		},
	}
	cmd.Flags().StringArrayVar(&f.Tiles, "tile", nil, "tile to reset (r,c); repeatable")
	addAPIFlags(cmd, &f.APIFlags)
	return cmd
}

// createReloadCommand creates the reload subcommand
func createReloadCommand() *cobra.Command {
	f := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "reload",
		Short: "Re-read the layout now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReload(cmd.Context(), cmd.OutOrStdout(), *f)
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

// createValidateCommand creates the validate subcommand
func createValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <layout-file>",
		Short: "Check a layout file",
		Long: `Parse and validate a layout file without contacting the daemon.
JSON, YAML and TOML are accepted, chosen by extension.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.OutOrStdout(), args[0])
		},
	}
}
