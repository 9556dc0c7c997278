package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/thep200/github-contrib-scanner/api"
	"github.com/thep200/github-contrib-scanner/cfg"
	"github.com/thep200/github-contrib-scanner/internal/queue"
	"github.com/thep200/github-contrib-scanner/pkg/db"
	"github.com/thep200/github-contrib-scanner/pkg/log"
	"github.com/thep200/github-contrib-scanner/pkg/redis"
)

var (
	// Version information set at build time.
	version = "dev"
	commit  = "none"
)

var (
	cfgFile     string
	logLevel    string
	watchConfig bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "scanner",
	Short: "GitHub contribution scanner",
	Long: `Scanner collects a user's contributions across the repositories of a
GitHub organization, scores them and records them as activities.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("scanner %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default cfg/yaml/mode.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
	rootCmd.PersistentFlags().BoolVar(&watchConfig, "watch", false, "reload the log level when the config file changes")

	rootCmd.AddCommand(versionCmd)
}

// application holds everything a command needs. close releases it in reverse
// order of construction.
type application struct {
	config  *cfg.Config
	logger  *log.LogrusLogger
	scanAPI *api.ScanAPI
	redis   *goredis.Client
}

func bootstrap(ctx context.Context) (*application, error) {
	loader, _ := cfg.NewViperLoader(cfgFile, watchConfig)
	config, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if logLevel != "" {
		config.Log.Level = logLevel
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	logger, err := log.NewLogrusLogger(config.Log.Level, config.Log.Format, os.Stdout)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", config.Log.Level, err)
	}
	loader.RegisterConfigChangeCallback(func(updated *cfg.Config) {
		level, err := logrus.ParseLevel(updated.Log.Level)
		if err != nil {
			logger.Warn(context.Background(), "Ignoring invalid log level %q", updated.Log.Level)
			return
		}
		logger.Logrus().SetLevel(level)
	})

	app := &application{config: config, logger: logger}

	var guard queue.Guard = queue.NewMemoryGuard()
	if config.Redis.Addr != "" {
		client, err := redis.NewClient(ctx, config, logger)
		if err != nil {
			return nil, err
		}
		app.redis = client
		guard = queue.NewRedisGuard(client)
	}

	database, _ := db.NewDatabase(config)
	q, err := queue.New(logger, config)
	if err != nil {
		app.close()
		return nil, err
	}

	scanAPI, err := api.NewScanAPI(logger, config, database, q, guard)
	if err != nil {
		_ = q.Close()
		app.close()
		return nil, err
	}
	app.scanAPI = scanAPI
	return app, nil
}

func (a *application) close() {
	var errs []error
	if a.scanAPI != nil {
		errs = append(errs, a.scanAPI.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Error(context.Background(), "Shutdown error: %v", err)
	}
}
