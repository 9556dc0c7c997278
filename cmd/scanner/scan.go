package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var scanLimit int

var scanCmd = &cobra.Command{
	Use:   "scan <username>",
	Short: "Scan a user now and print the contributions found",
	Long: `Scan the organization's repositories for the user's contributions and
print them as JSON. Nothing is written to the database.`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().IntVar(&scanLimit, "limit", 0, "number of repositories to scan (default 5)")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer app.close()

	result, err := app.scanAPI.ScanNow(ctx, args[0], scanLimit)
	if err != nil {
		return fmt.Errorf("scanning %s: %w", args[0], err)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}
