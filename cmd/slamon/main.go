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

// buildRoot creates the root command and wires the subcommands.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	recordFlags := &RecordFlags{}
	statusFlags := &StatusFlags{}
	resyncFlags := &ResyncFlags{}
	serveFlags := &ServeFlags{}

	slamonCommand := command{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags, serveFlags),
		createRecordCommand(slamonCommand, recordFlags),
		createStatusCommand(slamonCommand, statusFlags),
		createResyncCommand(slamonCommand, resyncFlags),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "slamon",
		Short: "SLA response-time monitor with resilient telemetry shipping",
		Long: `Slamon measures support-channel response times, checks them against
SLA thresholds and ships measurements and alerts to a remote telemetry
backend. Failed deliveries are stored in a durable local backlog and
reconciled once the remote recovers.

Examples:
  slamon serve --config=slamon.toml
  slamon record --channel=chat --elapsed=2.5
  slamon status --api-url=http://remote:8080
  slamon resync`,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")

	return root
}

// createServeCommand creates the serve subcommand
func createServeCommand(globalFlags *GlobalFlags, serveFlags *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the monitoring daemon",
		Long: `Run the slamon daemon: loads the TOML configuration, opens the local
backlog, starts the background reconciliation loop and serves the HTTP API.

Examples:
  slamon serve --config=slamon.toml
  slamon serve --config=slamon.toml --listen=:9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := serveFlags.ConfigPath
			if cfgPath == "" {
				cfgPath = globalFlags.ConfigPath
			}
			return Serve(ServeFlags{
				ConfigPath: cfgPath,
				Listen:     serveFlags.Listen,
			})
		},
	}

	cmd.Flags().StringVar(&serveFlags.ConfigPath, "config", "", "path to TOML config file")
	cmd.Flags().StringVar(&serveFlags.Listen, "listen", "", "listen address override (e.g. :9090)")

	return cmd
}

// createRecordCommand creates the record subcommand
func createRecordCommand(slamonCommand command, recordFlags *RecordFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a response-time measurement",
		Long: `Submit one response-time measurement to a running daemon.

Examples:
  slamon record --channel=chat --elapsed=2.5
  slamon record --channel=email --elapsed=95 --api-url=http://remote:8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return slamonCommand.Record(*recordFlags)
		},
	}

	cmd.Flags().StringVar(&recordFlags.Channel, "channel", "", "support channel name (required)")
	cmd.Flags().Float64Var(&recordFlags.Elapsed, "elapsed", 0, "response time in seconds (required)")

	cmd.Flags().StringVar(&recordFlags.APIUrl, "api-url", "", "daemon URL (e.g. http://host:8080)")
	cmd.Flags().DurationVar(&recordFlags.APITimeout, "api-timeout", 10*time.Second, "request timeout")

	if err := cmd.MarkFlagRequired("channel"); err != nil {
		panic(err)
	}
	if err := cmd.MarkFlagRequired("elapsed"); err != nil {
		panic(err)
	}

	return cmd
}

// createStatusCommand creates the status subcommand
func createStatusCommand(slamonCommand command, statusFlags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Long: `Show the circuit breaker state, backlog depth and per-channel
response-time aggregates of a running daemon.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return slamonCommand.Status(*statusFlags)
		},
	}

	cmd.Flags().StringVar(&statusFlags.APIUrl, "api-url", "", "daemon URL (e.g. http://host:8080)")
	cmd.Flags().DurationVar(&statusFlags.APITimeout, "api-timeout", 10*time.Second, "request timeout")

	return cmd
}

// createResyncCommand creates the resync subcommand
func createResyncCommand(slamonCommand command, resyncFlags *ResyncFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resync",
		Short: "Trigger a backlog reconciliation cycle",
		Long: `Ask a running daemon to replay unsynced backlog records to the
remote ingestion service immediately instead of waiting for the next
scheduled cycle.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return slamonCommand.Resync(*resyncFlags)
		},
	}

	cmd.Flags().StringVar(&resyncFlags.APIUrl, "api-url", "", "daemon URL (e.g. http://host:8080)")
	cmd.Flags().DurationVar(&resyncFlags.APITimeout, "api-timeout", 10*time.Second, "request timeout")

	return cmd
}
