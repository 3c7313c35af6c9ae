package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/malbeclabs/gameledger/utils/pkg/retry"
	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string
}

// RedisFromEnv reads REDIS_* variables. An empty REDIS_ADDR disables event publication to redis.
func RedisFromEnv() (RedisConfig, error) {
	cfg := RedisConfig{
		Addr:          os.Getenv("REDIS_ADDR"),
		Password:      os.Getenv("REDIS_PASSWORD"),
		ChannelPrefix: os.Getenv("REDIS_CHANNEL_PREFIX"),
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid REDIS_DB %q: %w", v, err)
		}
		cfg.DB = db
	}
	return cfg, nil
}

func (c RedisConfig) Enabled() bool { return c.Addr != "" }

func OpenRedis(ctx context.Context, log *slog.Logger, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := retry.Do(pingCtx, retry.DefaultConfig(), func() error {
		return client.Ping(pingCtx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	log.Info("config: connected to redis", "addr", cfg.Addr, "db", cfg.DB)
	return client, nil
}
