package cfg

import (
	"errors"
	"fmt"
	"time"
)

// ErrMissingToken is returned when no GitHub access token is configured.
var ErrMissingToken = errors.New("github access token is not configured")

type (
	App struct {
		Name    string
		Version string
	}

	Log struct {
		Level  string
		Format string
	}

	Database struct {
		Driver                string
		Host                  string
		Port                  string
		Username              string
		Password              string
		Database              string
		SSLMode               string
		MaxIdleConnection     int
		MaxOpenConnection     int
		MaxLifeTimeConnection int
	}

	GithubApi struct {
		AccessToken       string
		ApiUrl            string
		Organization      string
		RequestsPerMinute int
		RateWindowSec     int
		RequestTimeoutSec int
		RepoLimit         int
		RepoBatchSize     int
		RepoBatchDelayMs  int
		ScanCommits       bool
	}

	Persist struct {
		BatchSize    int
		BatchDelayMs int
	}

	Queue struct {
		Driver      string
		Attempts    int
		BackoffMs   int
		Concurrency int
		InflightTTL int
	}

	Kafka struct {
		Brokers []string
		Topic   string
		GroupID string
	}

	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	Http struct {
		Port              int
		ScanTimeoutSec    int
		RequestsPerMinute int
		AllowedOrigins    []string
	}
)

type Config struct {
	App       App
	Log       Log
	Database  Database
	GithubApi GithubApi
	Persist   Persist
	Queue     Queue
	Kafka     Kafka
	Redis     Redis
	Http      Http
}

// ApplyDefaults fills unset values with the scanner's canonical settings.
func (c *Config) ApplyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "github-contrib-scanner"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.GithubApi.ApiUrl == "" {
		c.GithubApi.ApiUrl = "https://api.github.com/"
	}
	if c.GithubApi.RequestsPerMinute <= 0 {
		c.GithubApi.RequestsPerMinute = 30
	}
	if c.GithubApi.RateWindowSec <= 0 {
		c.GithubApi.RateWindowSec = 60
	}
	if c.GithubApi.RequestTimeoutSec <= 0 {
		c.GithubApi.RequestTimeoutSec = 30
	}
	if c.GithubApi.RepoLimit <= 0 {
		c.GithubApi.RepoLimit = 10
	}
	if c.GithubApi.RepoBatchSize <= 0 {
		c.GithubApi.RepoBatchSize = 3
	}
	if c.GithubApi.RepoBatchDelayMs <= 0 {
		c.GithubApi.RepoBatchDelayMs = 2000
	}
	if c.Persist.BatchSize <= 0 {
		c.Persist.BatchSize = 20
	}
	if c.Persist.BatchDelayMs <= 0 {
		c.Persist.BatchDelayMs = 1000
	}
	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Attempts <= 0 {
		c.Queue.Attempts = 3
	}
	if c.Queue.BackoffMs <= 0 {
		c.Queue.BackoffMs = 5000
	}
	if c.Queue.Concurrency <= 0 {
		c.Queue.Concurrency = 1
	}
	if c.Queue.InflightTTL <= 0 {
		c.Queue.InflightTTL = 3600
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "github-scan"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "github-scan-worker"
	}
	if c.Http.Port <= 0 {
		c.Http.Port = 8080
	}
	if c.Http.ScanTimeoutSec <= 0 {
		c.Http.ScanTimeoutSec = 120
	}
	if c.Http.RequestsPerMinute <= 0 {
		c.Http.RequestsPerMinute = 30
	}
}

// Validate reports configuration errors. These are fatal and checked before any
// external call is made.
func (c *Config) Validate() error {
	if c.GithubApi.AccessToken == "" {
		return ErrMissingToken
	}
	if c.GithubApi.Organization == "" {
		return errors.New("github organization is not configured")
	}
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	switch c.Queue.Driver {
	case "memory":
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			return errors.New("kafka queue selected but no brokers configured")
		}
	default:
		return fmt.Errorf("unsupported queue driver: %s", c.Queue.Driver)
	}
	return nil
}

func (g GithubApi) RateWindow() time.Duration {
	return time.Duration(g.RateWindowSec) * time.Second
}

func (g GithubApi) RepoBatchDelay() time.Duration {
	return time.Duration(g.RepoBatchDelayMs) * time.Millisecond
}

func (p Persist) BatchDelay() time.Duration {
	return time.Duration(p.BatchDelayMs) * time.Millisecond
}

func (q Queue) Backoff() time.Duration {
	return time.Duration(q.BackoffMs) * time.Millisecond
}

func (h Http) ScanTimeout() time.Duration {
	return time.Duration(h.ScanTimeoutSec) * time.Second
}
