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

const programName = "legisledger-worker"

var (
	globalFlags = struct {
		debug      bool
		configFile string
	}{}
)

// Worker process entrypoint.
// Data flow:
// 1) Load config.
// 2) Build app wiring.
// 3) Start the vote cast consumer, outbox relay and reconciliation scheduler.
func main() {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Run the voting ledger outbox relay and reconciliation loops",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	rootCmd.PersistentFlags().
		BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")
	rootCmd.PersistentFlags().
		StringVar(&globalFlags.configFile, "config", "", "path to config file")

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
	logger.Info("worker starting",
		"event", "worker_starting",
		"layer", "platform",
		"wiring", bootstrap.Describe(cfg),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.BuildWorker(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("bootstrap worker failed: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("worker shutdown close failed",
				"event", "worker_close_failed",
				"layer", "platform",
				"error", err.Error(),
			)
		}
	}()
	return app.Run(ctx)
}
