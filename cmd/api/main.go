package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"legisledger/internal/app/bootstrap"
	"legisledger/internal/platform/config"
	"legisledger/internal/platform/logging"
)

const programName = "legisledger-api"

var (
	globalFlags = struct {
		debug          bool
		configFile     string
		embeddedWorker bool
	}{}
)

// API process entrypoint.
// Data flow:
// 1) Load config.
// 2) Build app wiring (ports + adapters + use cases).
// 3) Serve HTTP until SIGINT/SIGTERM.
func main() {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Serve the legislative voting ledger HTTP API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	rootCmd.PersistentFlags().
		BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")
	rootCmd.PersistentFlags().
		StringVar(&globalFlags.configFile, "config", "", "path to config file")
	rootCmd.Flags().
		BoolVar(&globalFlags.embeddedWorker, "embedded-worker", false, "run the outbox relay and reconciliation loops in this process")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", programName, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	logger, err := logging.Setup(programName, globalFlags.debug)
	if err != nil {
		return err
	}
	cfg, err := config.Load(globalFlags.configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger.Info("api starting",
		"event", "api_starting",
		"layer", "platform",
		"wiring", bootstrap.Describe(cfg),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.BuildAPI(ctx, cfg, logger, globalFlags.embeddedWorker)
	if err != nil {
		return fmt.Errorf("bootstrap api failed: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("api shutdown close failed",
				"event", "api_close_failed",
				"layer", "platform",
				"error", err.Error(),
			)
		}
	}()
	return app.Run(ctx)
}
