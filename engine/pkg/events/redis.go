package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/malbeclabs/gameledger/engine/pkg/host"
	"github.com/redis/go-redis/v9"
)

const DefaultChannelPrefix = "gameledger:events"

type RedisConfig struct {
	Logger *slog.Logger
	Client redis.UniversalClient
	// ChannelPrefix is joined with the module name, e.g. "gameledger:events:ledger".
	ChannelPrefix string
}

func (cfg *RedisConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Client == nil {
		return errors.New("redis client is required")
	}
	if cfg.ChannelPrefix == "" {
		cfg.ChannelPrefix = DefaultChannelPrefix
	}
	return nil
}

// RedisPublisher publishes each event as JSON on a per-module pub/sub channel.
type RedisPublisher struct {
	log *slog.Logger
	cfg RedisConfig
}

func NewRedisPublisher(cfg RedisConfig) (*RedisPublisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &RedisPublisher{log: cfg.Logger, cfg: cfg}, nil
}

func (p *RedisPublisher) Channel(module string) string {
	return p.cfg.ChannelPrefix + ":" + module
}

func (p *RedisPublisher) Publish(ctx context.Context, events []host.Event) error {
	if len(events) == 0 {
		return nil
	}
	pipe := p.cfg.Client.Pipeline()
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		pipe.Publish(ctx, p.Channel(ev.Module), payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish events: %w", err)
	}
	p.log.Debug("events: published to redis", "count", len(events), "tx_id", events[0].TxID)
	return nil
}
