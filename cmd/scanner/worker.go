package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume queued scans from Kafka",
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer app.close()

	if app.config.Queue.Driver != "kafka" {
		return fmt.Errorf("worker needs the kafka queue driver, got %q (the memory queue runs inside serve)", app.config.Queue.Driver)
	}
	if err := app.scanAPI.Migrate(); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	runner, err := app.scanAPI.NewRunner()
	if err != nil {
		return err
	}
	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	app.logger.Info(context.Background(), "Worker stopped")
	return nil
}
