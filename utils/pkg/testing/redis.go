package gltesting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type RedisConfig struct {
	ContainerImage string
}

func (cfg *RedisConfig) Validate() error {
	if cfg.ContainerImage == "" {
		cfg.ContainerImage = "redis:7-alpine"
	}
	return nil
}

// Redis represents a Redis test container.
type Redis struct {
	log       *slog.Logger
	addr      string
	container testcontainers.Container
}

// Addr returns the host:port the container is reachable on.
func (r *Redis) Addr() string {
	return r.addr
}

func (r *Redis) Close() {
	terminateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.container.Terminate(terminateCtx); err != nil {
		r.log.Error("failed to terminate Redis container", "error", err)
	}
}

// NewRedis starts a Redis testcontainer, retrying transient docker start failures.
func NewRedis(ctx context.Context, log *slog.Logger, cfg *RedisConfig) (*Redis, error) {
	if cfg == nil {
		cfg = &RedisConfig{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate Redis config: %w", err)
	}

	req := testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        cfg.ContainerImage,
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	}

	var container testcontainers.Container
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		var err error
		container, err = testcontainers.GenericContainer(ctx, req)
		if err == nil {
			break
		}
		lastErr = err
		if !isRetryableContainerStartErr(err) || attempt == 3 {
			return nil, fmt.Errorf("failed to start Redis container after retries: %w", lastErr)
		}
		time.Sleep(time.Duration(attempt) * 750 * time.Millisecond)
	}

	addr, err := container.Endpoint(ctx, "")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get Redis endpoint: %w", err)
	}
	return &Redis{log: log, addr: addr, container: container}, nil
}
