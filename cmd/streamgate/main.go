package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the command tree.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createHookCommand(globalFlags),
		createProcessesCommand(globalFlags),
		createPathsCommand(globalFlags),
		createCheckConfigCommand(globalFlags),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "streamgate",
		Short: "On-demand camera stream workers behind a media relay",
		Long: `Streamgate starts a worker process for a camera path while the media relay
has readers for it, keeps it alive through short gaps and reports every
lifecycle change to subscribers.

Examples:
  streamgate serve --config=/etc/streamgate.toml
  streamgate hook demand            # run by the relay; reads MTX_* from env
  streamgate paths                  # demand state of every path
  streamgate processes --name=mtx-cam-1-1a2b3c4d`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

// createServeCommand creates the serve subcommand
func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the control plane",
		Long: `Run the control plane: listen for relay hook events on the intake socket,
supervise stream workers and publish lifecycle telemetry.

Examples:
  streamgate serve --config=streamgate.toml
  streamgate serve streamgate.toml
  streamgate serve --daemonize --pidfile=/run/streamgate.pid --logfile=/var/log/streamgate.out`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := globalFlags.ConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			return runServe(cmd.Context(), path, serveFlags)
		},
	}
	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "write the daemon pid to this file")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon stdout/stderr to file")
	return cmd
}

// createHookCommand creates the hook subcommand the media relay invokes.
func createHookCommand(globalFlags *GlobalFlags) *cobra.Command {
	hookFlags := &HookFlags{}
	cmd := &cobra.Command{
		Use:   "hook <event>",
		Short: "Forward a relay hook event to the control plane",
		Long: `Forward one relay hook event over the intake socket. Event fields are read
from the relay's environment (MTX_PATH, MTX_QUERY, RTSP_PORT, MTX_SOURCE_TYPE,
MTX_SOURCE_ID, MTX_READER_TYPE, MTX_READER_ID, MTX_SEGMENT_PATH).

Relay configuration example:
  runOnDemand: streamgate hook demand
  runOnUnDemand: streamgate hook unDemand`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: knownEvents(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHook(cmd.Context(), globalFlags, hookFlags, args[0], os.LookupEnv)
		},
	}
	cmd.Flags().StringVar(&hookFlags.Socket, "socket", "", "intake socket (default from config)")
	cmd.Flags().DurationVar(&hookFlags.Timeout, "timeout", defaultHookTimeout, "send timeout")
	return cmd
}

// createProcessesCommand lists workers through the status API.
func createProcessesCommand(globalFlags *GlobalFlags) *cobra.Command {
	flags := &QueryFlags{}
	cmd := &cobra.Command{
		Use:   "processes",
		Short: "Show worker processes",
		Long: `Show worker processes known to a running control plane.

Examples:
  streamgate processes
  streamgate processes --name=mtx-cam-1-1a2b3c4d
  streamgate processes --api-url=http://gateway:62005/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newQueryClient(globalFlags, flags)
			if err != nil {
				return err
			}
			return client.Processes(cmd.OutOrStdout(), flags.Name)
		},
	}
	addQueryFlags(cmd, flags, "process name")
	return cmd
}

// createPathsCommand shows demand state through the status API.
func createPathsCommand(globalFlags *GlobalFlags) *cobra.Command {
	flags := &QueryFlags{}
	cmd := &cobra.Command{
		Use:   "paths",
		Short: "Show demand state of stream paths",
		Long: `Show the demand state (Idle, Active, GracePeriod) of stream paths.

Examples:
  streamgate paths
  streamgate paths --name=cam-1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newQueryClient(globalFlags, flags)
			if err != nil {
				return err
			}
			return client.Paths(cmd.OutOrStdout(), flags.Name)
		},
	}
	addQueryFlags(cmd, flags, "stream path")
	return cmd
}

// createCheckConfigCommand loads and validates a config file without serving.
func createCheckConfigCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config [config.toml]",
		Short: "Validate a config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := globalFlags.ConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			return runCheckConfig(cmd.OutOrStdout(), path)
		},
	}
}
