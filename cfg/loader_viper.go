package cfg

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SCANNER_GITHUBAPI_ORGANIZATION.
const EnvPrefix = "SCANNER"

type ViperLoader struct {
	path                  string
	watch                 bool
	v                     *viper.Viper
	mu                    sync.RWMutex
	once                  sync.Once
	config                *Config
	configChangeCallbacks []func(*Config)
}

// NewViperLoader reads path (a yaml file) when set, otherwise looks for
// cfg/yaml/mode.yaml. A missing file is tolerated: defaults and environment
// variables still apply.
func NewViperLoader(path string, watch bool) (*ViperLoader, error) {
	return &ViperLoader{
		path:                  path,
		watch:                 watch,
		v:                     viper.New(),
		configChangeCallbacks: make([]func(*Config), 0),
	}, nil
}

func (yl *ViperLoader) Load() (*Config, error) {
	var err error
	yl.once.Do(func() {
		var fileUsed bool
		fileUsed, err = yl.loadConfig()
		if err == nil && fileUsed && yl.IsWatchChange() {
			yl.v.WatchConfig()
			yl.v.OnConfigChange(func(e fsnotify.Event) {
				fmt.Printf("[INFO][CONFIG] Config file changed: %s\n", e.Name)
				if errReload := yl.reloadConfig(); errReload != nil {
					fmt.Printf("[ERROR][CONFIG] Failed to reload config: %v\n", errReload)
				}
			})
		}
	})

	if err != nil {
		return nil, err
	}

	yl.mu.RLock()
	defer yl.mu.RUnlock()
	return yl.config, nil
}

func (yl *ViperLoader) IsWatchChange() bool {
	return yl.watch
}

func (yl *ViperLoader) RegisterConfigChangeCallback(callback func(*Config)) {
	yl.mu.Lock()
	yl.configChangeCallbacks = append(yl.configChangeCallbacks, callback)
	yl.mu.Unlock()
}

func (yl *ViperLoader) loadConfig() (bool, error) {
	if yl.path != "" {
		yl.v.SetConfigFile(yl.path)
	} else {
		yl.v.AddConfigPath("cfg/yaml")
		yl.v.SetConfigName("mode")
		yl.v.SetConfigType("yaml")
	}

	registerDefaults(yl.v)
	yl.v.SetEnvPrefix(EnvPrefix)
	yl.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	yl.v.AutomaticEnv()
	if err := yl.v.BindEnv("githubapi.accesstoken", EnvPrefix+"_GITHUBAPI_ACCESSTOKEN", "GITHUB_TOKEN"); err != nil {
		return false, fmt.Errorf("[ERROR][CONFIG] failed to bind token env: %w", err)
	}

	fileUsed := true
	if err := yl.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if yl.path != "" || !errors.As(err, &notFound) {
			return false, fmt.Errorf("[ERROR][CONFIG] failed to read config file: %w", err)
		}
		fileUsed = false
	}

	config, err := yl.unmarshal()
	if err != nil {
		return false, err
	}

	yl.mu.Lock()
	yl.config = config
	yl.mu.Unlock()

	return fileUsed, nil
}

func (yl *ViperLoader) unmarshal() (*Config, error) {
	config := &Config{}
	if err := yl.v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("[ERROR][CONFIG] failed to unmarshal config: %w", err)
	}
	config.ApplyDefaults()
	return config, nil
}

func (yl *ViperLoader) reloadConfig() error {
	config, err := yl.unmarshal()
	if err != nil {
		return err
	}

	yl.mu.Lock()
	yl.config = config
	callbacks := make([]func(*Config), len(yl.configChangeCallbacks))
	copy(callbacks, yl.configChangeCallbacks)
	yl.mu.Unlock()

	for _, callback := range callbacks {
		go callback(config)
	}

	fmt.Println("[INFO][CONFIG] Configuration reloaded successfully")
	return nil
}

// registerDefaults makes every key known to viper so that AutomaticEnv can
// override keys that are absent from the yaml file.
func registerDefaults(v *viper.Viper) {
	defaults := Config{}
	defaults.ApplyDefaults()

	v.SetDefault("app.name", defaults.App.Name)
	v.SetDefault("app.version", "dev")
	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.format", defaults.Log.Format)

	v.SetDefault("database.driver", defaults.Database.Driver)
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", "3306")
	v.SetDefault("database.username", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "github_contrib")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxidleconnection", 10)
	v.SetDefault("database.maxopenconnection", 50)
	v.SetDefault("database.maxlifetimeconnection", 3600)

	v.SetDefault("githubapi.apiurl", defaults.GithubApi.ApiUrl)
	v.SetDefault("githubapi.organization", "")
	v.SetDefault("githubapi.requestsperminute", defaults.GithubApi.RequestsPerMinute)
	v.SetDefault("githubapi.ratewindowsec", defaults.GithubApi.RateWindowSec)
	v.SetDefault("githubapi.requesttimeoutsec", defaults.GithubApi.RequestTimeoutSec)
	v.SetDefault("githubapi.repolimit", defaults.GithubApi.RepoLimit)
	v.SetDefault("githubapi.repobatchsize", defaults.GithubApi.RepoBatchSize)
	v.SetDefault("githubapi.repobatchdelayms", defaults.GithubApi.RepoBatchDelayMs)
	v.SetDefault("githubapi.scancommits", false)

	v.SetDefault("persist.batchsize", defaults.Persist.BatchSize)
	v.SetDefault("persist.batchdelayms", defaults.Persist.BatchDelayMs)

	v.SetDefault("queue.driver", defaults.Queue.Driver)
	v.SetDefault("queue.attempts", defaults.Queue.Attempts)
	v.SetDefault("queue.backoffms", defaults.Queue.BackoffMs)
	v.SetDefault("queue.concurrency", defaults.Queue.Concurrency)
	v.SetDefault("queue.inflightttl", defaults.Queue.InflightTTL)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", defaults.Kafka.Topic)
	v.SetDefault("kafka.groupid", defaults.Kafka.GroupID)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("http.port", defaults.Http.Port)
	v.SetDefault("http.scantimeoutsec", defaults.Http.ScanTimeoutSec)
	v.SetDefault("http.requestsperminute", defaults.Http.RequestsPerMinute)
	v.SetDefault("http.allowedorigins", []string{"*"})
}
