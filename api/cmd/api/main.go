package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/malbeclabs/gameledger/api/config"
	"github.com/malbeclabs/gameledger/api/handlers"
	"github.com/malbeclabs/gameledger/api/metrics"
	"github.com/malbeclabs/gameledger/api/server"
	"github.com/malbeclabs/gameledger/engine/pkg/engine"
	"github.com/malbeclabs/gameledger/engine/pkg/events"
	"github.com/malbeclabs/gameledger/engine/pkg/host"
	"github.com/malbeclabs/gameledger/engine/pkg/host/pghost"
	"github.com/malbeclabs/gameledger/utils/pkg/logger"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultListenAddr  = "0.0.0.0:8080"
	defaultMetricsAddr = "0.0.0.0:0"

	hostMemory   = "memory"
	hostPostgres = "postgres"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "Address to listen on for the HTTP API")
	metricsAddrFlag := flag.String("metrics-addr", defaultMetricsAddr, "Address to listen on for prometheus metrics (empty to disable)")
	hostFlag := flag.String("host", hostPostgres, "State host: 'memory' (dev) or 'postgres'")
	bootstrapFlag := flag.String("bootstrap", "", "Bootstrap a deployment with this name on startup (memory host only)")
	bootstrapAdminFlag := flag.String("bootstrap-admin", "", "Base58 admin key for --bootstrap")
	rateLimitFlag := flag.Float64("rate-limit", 2, "Signed requests per second allowed per signer")
	rateBurstFlag := flag.Int("rate-burst", 20, "Burst size for the per-signer rate limiter")
	maxClockSkewFlag := flag.Duration("max-clock-skew", 5*time.Minute, "Maximum accepted age of a request signature")
	allowedOriginsFlag := flag.String("allowed-origins", "*", "Comma-separated CORS origins")
	shutdownTimeoutFlag := flag.Duration("shutdown-timeout", 30*time.Second, "Maximum time to wait for in-flight requests during shutdown")

	flag.Parse()

	// .env is optional
	_ = godotenv.Load()

	log := logger.New(*verboseFlag)

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		sentryEnv := os.Getenv("SENTRY_ENVIRONMENT")
		if sentryEnv == "" {
			sentryEnv = "development"
		}
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         dsn,
			Environment: sentryEnv,
			Release:     version,
		}); err != nil {
			return fmt.Errorf("failed to init sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
		log.Info("sentry enabled", "environment", sentryEnv)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	redisCfg, err := config.RedisFromEnv()
	if err != nil {
		return err
	}
	var redisClient *redis.Client
	if redisCfg.Enabled() {
		redisClient, err = config.OpenRedis(ctx, log, redisCfg)
		if err != nil {
			return err
		}
		defer func() { _ = redisClient.Close() }()
	}

	publisher, err := newPublisher(log, redisClient, redisCfg)
	if err != nil {
		return err
	}

	var (
		h     host.Host
		ready func(context.Context) error
	)
	switch *hostFlag {
	case hostMemory:
		h, err = host.NewMemory(host.MemoryConfig{Logger: log})
		if err != nil {
			return fmt.Errorf("failed to create memory host: %w", err)
		}
		log.Warn("using in-memory host, state is lost on exit")
	case hostPostgres:
		pgCfg, err := config.PostgresFromEnv()
		if err != nil {
			return err
		}
		pool, err := config.OpenPostgres(ctx, log, pgCfg)
		if err != nil {
			return err
		}
		defer pool.Close()
		h, err = pghost.New(pghost.Config{Logger: log, Pool: pool})
		if err != nil {
			return fmt.Errorf("failed to create postgres host: %w", err)
		}
		ready = pingReady(pool)
	default:
		return fmt.Errorf("unknown host %q", *hostFlag)
	}

	eng, err := engine.New(engine.Config{Logger: log, Host: h, Publisher: publisher})
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	if *bootstrapFlag != "" {
		if *hostFlag != hostMemory {
			return errors.New("--bootstrap is only supported with --host=memory, use the admin tool for postgres")
		}
		admin, err := solana.PublicKeyFromBase58(*bootstrapAdminFlag)
		if err != nil {
			return fmt.Errorf("invalid --bootstrap-admin: %w", err)
		}
		params := engine.DefaultBootstrapParams(*bootstrapFlag)
		params.Admin = admin
		d, err := eng.Bootstrap(ctx, params)
		if err != nil {
			return fmt.Errorf("failed to bootstrap deployment: %w", err)
		}
		log.Info("bootstrapped deployment", "name", d.Name, "mint", d.Mint, "admin", d.Admin)
	}

	limiter := handlers.NewRateLimiter(rate.Limit(*rateLimitFlag), *rateBurstFlag)
	api, err := handlers.New(handlers.Config{
		Logger:         log,
		Engine:         eng,
		MaxClockSkew:   *maxClockSkewFlag,
		Limiter:        limiter,
		Nonces:         newNonceStore(redisClient),
		AllowedOrigins: strings.Split(*allowedOriginsFlag, ","),
	})
	if err != nil {
		return fmt.Errorf("failed to create api handler: %w", err)
	}

	sentryHandler := sentryhttp.New(sentryhttp.Options{Repanic: true})
	srv, err := server.New(server.Config{
		Logger:          log,
		ListenAddr:      *listenAddrFlag,
		ShutdownTimeout: *shutdownTimeoutFlag,
		VersionInfo:     server.VersionInfo{Version: version, Commit: commit, Date: date},
		Handler:         sentryHandler.Handle(api.Router()),
		Ready:           ready,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		limiter.Run(gctx)
		return nil
	})
	if *metricsAddrFlag != "" {
		g.Go(func() error {
			return serveMetrics(gctx, log, *metricsAddrFlag)
		})
	}

	err = g.Wait()
	log.Info("api shutting down", "reason", err)
	return err
}

// newPublisher always logs committed events and adds redis pub/sub when a client is configured.
func newPublisher(log *slog.Logger, client *redis.Client, cfg config.RedisConfig) (events.Publisher, error) {
	logPub := events.NewLogPublisher(log, slog.LevelDebug)
	if client == nil {
		return logPub, nil
	}
	redisPub, err := events.NewRedisPublisher(events.RedisConfig{
		Logger:        log,
		Client:        client,
		ChannelPrefix: cfg.ChannelPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create redis publisher: %w", err)
	}
	return events.Multi{logPub, redisPub}, nil
}

// newNonceStore shares claimed request nonces through redis when available.
func newNonceStore(client *redis.Client) handlers.NonceStore {
	if client == nil {
		return nil
	}
	return handlers.NewRedisNonceStore(client, "")
}

func pingReady(pool *pgxpool.Pool) func(context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return pool.Ping(ctx)
	}
}

func serveMetrics(ctx context.Context, log *slog.Logger, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start prometheus metrics server listener: %w", err)
	}
	log.Info("prometheus metrics server listening", "address", listener.Addr().String())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve prometheus metrics: %w", err)
	}
	return nil
}
