package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/thep200/github-contrib-scanner/cfg"
	"github.com/thep200/github-contrib-scanner/pkg/log"
)

// NewClient connects to the configured Redis and checks it answers.
func NewClient(ctx context.Context, config *cfg.Config, logger log.Logger) (*goredis.Client, error) {
	if config.Redis.Addr == "" {
		return nil, errors.New("redis address is not configured")
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", config.Redis.Addr, err)
	}

	logger.Info(ctx, "Connected to Redis at %s", config.Redis.Addr)
	return client, nil
}
