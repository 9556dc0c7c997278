package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/thep200/github-contrib-scanner/internal/server"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the HTTP API. With the memory queue the scan worker runs in the
same process; with Kafka run "scanner worker" separately.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer app.close()

	if err := app.scanAPI.Migrate(); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	srv, err := server.NewServer(app.logger, app.config, app.scanAPI)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})

	if app.config.Queue.Driver == "memory" {
		runner, err := app.scanAPI.NewRunner()
		if err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		g.Go(func() error {
			if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	err = g.Wait()
	app.logger.Info(context.Background(), "Server stopped")
	return err
}
