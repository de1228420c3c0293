package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tournament-registry/internal/cache"
	"github.com/tournament-registry/internal/config"
	"github.com/tournament-registry/internal/fftt"
	"github.com/tournament-registry/internal/handler"
	"github.com/tournament-registry/internal/helloasso"
	"github.com/tournament-registry/internal/kafka"
	"github.com/tournament-registry/internal/override"
	"github.com/tournament-registry/internal/postgres"
	"github.com/tournament-registry/internal/reconcile"
	"github.com/tournament-registry/internal/redis"
	"github.com/tournament-registry/internal/retry"
	"github.com/tournament-registry/internal/service"
	"github.com/tournament-registry/internal/websocket"
	"github.com/tournament-registry/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, cfgErr := config.Load(*configPath)
	if cfgErr != nil {
		cfg = config.DefaultConfig()
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))
	slog.SetDefault(logger)

	if cfgErr != nil {
		logger.Warn("failed to load config file, using defaults", "error", cfgErr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	shared := cache.New(store, logger)
	local := cache.New(cache.NewMemoryStore(), logger)
	retryOpts := retry.FromConfig(cfg.Retry, logger)

	tokens := helloasso.NewTokenManager(
		&cfg.HelloAsso,
		&http.Client{Timeout: cfg.HelloAsso.Timeout},
		local,
		shared,
		retryOpts,
		logger,
	)
	registrations := helloasso.NewClient(
		&cfg.HelloAsso,
		&http.Client{Timeout: cfg.HelloAsso.Timeout},
		tokens,
		retryOpts,
		logger,
	)

	static, err := override.LoadFile(cfg.Overrides.File)
	if err != nil {
		logger.Error("failed to load overrides", "file", cfg.Overrides.File, "error", err)
		os.Exit(1)
	}
	overrides := override.NewSource(static, shared, logger)

	deps := service.Dependencies{
		Fetcher:    registrations,
		Reconciler: reconcile.New(reconcile.Strategy(cfg.Refresh.GroupBy), logger),
		Overrides:  overrides,
		Cache:      shared,
	}
	if cfg.FFTT.Enabled {
		deps.Rankings = fftt.NewClient(
			&cfg.FFTT,
			&http.Client{Timeout: cfg.FFTT.Timeout},
			shared,
			retryOpts,
			logger,
		)
		logger.Info("federation enrichment enabled", "rps", cfg.FFTT.RequestsPerSecond)
	}

	registrationService := service.NewRegistrationService(deps, &cfg.Cache, &cfg.Refresh, logger)

	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	registrationService.SetNotifier(wsHub)

	refreshWorker := worker.NewRefreshWorker(registrationService, &cfg.Schedule, logger)
	if cfg.Schedule.Enabled {
		if err := refreshWorker.Start(ctx); err != nil {
			logger.Error("failed to start refresh worker", "error", err)
			os.Exit(1)
		}
	}

	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing kafka consumer", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, registrationService, logger)
		if err != nil {
			logger.Warn("failed to create kafka consumer, continuing without kafka", "error", err)
		} else if err := kafkaConsumer.Start(); err != nil {
			logger.Warn("failed to start kafka consumer, continuing without kafka", "error", err)
			kafkaConsumer = nil
		}
	}

	httpHandler := handler.NewHandler(registrationService, wsHub, overrides, store, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	wsHub.Stop()

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop kafka consumer", "error", err)
		}
	}

	if err := refreshWorker.Stop(); err != nil {
		logger.Error("failed to stop refresh worker", "error", err)
	}

	logger.Info("server stopped")
}

// openStore connects the configured backend behind the shared cache
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (cache.Store, func(), error) {
	switch cfg.Store.Driver {
	case config.StoreDriverRedis:
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		s, err := redis.NewStore(&cfg.Redis, cfg.Store.KeyPrefix, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil

	case config.StoreDriverPostgres:
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		s, err := postgres.NewStore(&cfg.Postgres, cfg.Store.KeyPrefix, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := s.RunMigrations(ctx); err != nil {
			s.Close()
			return nil, nil, fmt.Errorf("running migrations: %w", err)
		}
		return s, s.Close, nil

	default:
		logger.Warn("using in-memory store; cached data is lost on restart")
		return cache.NewMemoryStore(), func() {}, nil
	}
}
