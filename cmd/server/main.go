// Command server starts the TikTok upload relay HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tikrelay/internal/api"
	"tikrelay/internal/config"
	"tikrelay/internal/observability/logging"
	"tikrelay/internal/observability/metrics"
	"tikrelay/internal/relay"
	"tikrelay/internal/server"
	"tikrelay/internal/storage"
	"tikrelay/internal/tiktok"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (overrides PORT)")
	storeDriver := flag.String("store-driver", "", "account store driver (supabase, postgres, or json)")
	dataPath := flag.String("data", "", "path to the JSON account datastore")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	uploadLimit := flag.Int("rate-upload-limit", 0, "maximum upload attempts per window for a single IP")
	uploadWindow := flag.Duration("rate-upload-window", time.Minute, "window for counting upload attempts")
	redisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed upload throttling")
	redisUsername := flag.String("rate-redis-username", "", "Redis username for distributed upload throttling")
	redisPassword := flag.String("rate-redis-password", "", "Redis password for distributed upload throttling")
	redisTimeout := flag.Duration("rate-redis-timeout", 2*time.Second, "timeout for Redis operations")
	flag.Parse()

	logger := logging.New(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("LOG_FORMAT")),
	})
	recorder := metrics.Default()

	cfg, err := config.Load(config.Options{
		StoreDriver: *storeDriver,
		JSONPath:    *dataPath,
	})
	if err != nil {
		logger.Error("configuration validation failed", "error", err)
		os.Exit(1)
	}

	var (
		store       storage.Repository
		storeCloser func(context.Context) error
	)
	switch cfg.StoreDriver {
	case config.DriverSupabase:
		repo, err := storage.NewSupabaseRepository(storage.SupabaseConfig{
			BaseURL:    cfg.SupabaseURL,
			ServiceKey: cfg.SupabaseServiceKey,
		})
		if err != nil {
			logger.Error("failed to open account store", "driver", cfg.StoreDriver, "error", err)
			os.Exit(1)
		}
		store = repo
	case config.DriverPostgres:
		repo, err := storage.NewPostgresRepository(context.Background(), cfg.PostgresDSN)
		if err != nil {
			logger.Error("failed to open account store", "driver", cfg.StoreDriver, "error", err)
			os.Exit(1)
		}
		store = repo
		storeCloser = repo.Close
	case config.DriverJSON:
		repo, err := storage.NewJSONRepository(cfg.JSONPath)
		if err != nil {
			logger.Error("failed to open account store", "driver", cfg.StoreDriver, "error", err)
			os.Exit(1)
		}
		store = repo
	default:
		logger.Error("unsupported account store driver", "driver", cfg.StoreDriver)
		os.Exit(1)
	}

	orchestrator := relay.New(relay.Config{
		Store:   store,
		Client:  tiktok.NewClient(tiktok.Config{}),
		Logger:  logging.WithComponent(logger, "relay"),
		Metrics: recorder,
	})
	handler := api.NewHandler(orchestrator, cfg.Environment, logging.WithComponent(logger, "api"))

	listenAddr := strings.TrimSpace(*addr)
	if listenAddr == "" {
		listenAddr = cfg.Addr()
	}

	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("TLS_KEY")),
		},
		CORS: server.CORSConfig{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowAll:       cfg.AllowAnyOrigin(),
		},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:     *globalRPS,
			GlobalBurst:   *globalBurst,
			UploadLimit:   *uploadLimit,
			UploadWindow:  *uploadWindow,
			RedisAddr:     firstNonEmpty(*redisAddr, os.Getenv("RATE_REDIS_ADDR")),
			RedisUsername: firstNonEmpty(*redisUsername, os.Getenv("RATE_REDIS_USERNAME")),
			RedisPassword: firstNonEmpty(*redisPassword, os.Getenv("RATE_REDIS_PASSWORD")),
			RedisTimeout:  *redisTimeout,
		},
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("upload relay listening",
			"addr", listenAddr,
			"environment", cfg.Environment,
			"store_driver", cfg.StoreDriver)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errs:
		logger.Error("server error", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
	if storeCloser != nil {
		if err := storeCloser(ctx); err != nil {
			logger.Warn("failed to close account store", "error", err)
		}
	}

	logger.Info("server stopped")
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
