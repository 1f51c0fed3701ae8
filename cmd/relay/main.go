package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/wastewise/relay/internal/config"
	"github.com/wastewise/relay/internal/handlers"
	"github.com/wastewise/relay/internal/i18n"
	"github.com/wastewise/relay/internal/middleware"
	"github.com/wastewise/relay/internal/realtime"
	"github.com/wastewise/relay/internal/server"
	"github.com/wastewise/relay/internal/services/ai"
	"github.com/wastewise/relay/internal/services/prompt"
	"github.com/wastewise/relay/pkg/logger"
)

// Upper bound on pooled Postgres connections, one per live subscription
const maxRealtimeConns = 50

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	// .env is optional
	if err := godotenv.Load(*envFile); err != nil {
		fmt.Printf("Warning: .env file not found: %v\n", err)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("Starting chat relay...")

	if cfg.Provider.APIKey() == "" {
		// Not fatal: each chat request reports the missing key itself
		log.WithField("env", cfg.Provider.APIKeyEnv).Warn("Provider API key is not set")
	}

	localizer, err := i18n.NewLocalizer()
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize i18n")
	}

	metrics := middleware.NewMetrics()

	if cfg.Monitoring.Metrics.Enabled {
		go func() {
			log.WithFields(logrus.Fields{
				"port": cfg.Monitoring.Metrics.Port,
				"path": cfg.Monitoring.Metrics.Path,
			}).Info("Starting metrics server")

			if err := middleware.StartMetricsServer(cfg.Monitoring.Metrics.Port, cfg.Monitoring.Metrics.Path); err != nil {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	aiClient := ai.NewClient(&cfg.Provider, log)
	chatHandler := handlers.NewChatHandler(cfg, aiClient, prompt.NewBuilder(localizer), localizer, metrics, log)

	routes := server.Handlers{Chat: chatHandler}

	var closeSource func()
	if cfg.Realtime.Enabled {
		source, closer, err := newRealtimeSource(cfg, log)
		if err != nil {
			log.WithError(err).Fatal("Failed to initialize realtime source")
		}
		closeSource = closer
		routes.Realtime = handlers.NewRealtimeHandler(source, cfg.Realtime.Tables, metrics, log)

		log.WithFields(logrus.Fields{
			"driver": cfg.Realtime.Driver,
			"tables": cfg.Realtime.Tables,
		}).Info("Realtime subscriptions enabled")
	}

	limiter := middleware.NewRateLimiter(&cfg.RateLimit, metrics, log)
	router := server.NewRouter(cfg, routes, limiter, log)
	srv := server.New(&cfg.Server, router, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.WithError(err).Error("Server stopped unexpectedly")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	if closeSource != nil {
		closeSource()
	}

	log.Info("Chat relay stopped")
}

// newRealtimeSource builds the configured change source and its cleanup
func newRealtimeSource(cfg *config.Config, log *logrus.Logger) (realtime.Source, func(), error) {
	switch cfg.Realtime.Driver {
	case "redis":
		src, err := realtime.NewRedisSource(&cfg.Realtime.Redis, log)
		if err != nil {
			return nil, nil, err
		}
		return src, func() {
			if err := src.Close(); err != nil {
				log.WithError(err).Error("Failed to close redis client")
			}
		}, nil

	case "postgres":
		src, err := realtime.NewPostgresSource(&cfg.Realtime.Postgres, maxRealtimeConns, log)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Realtime.Postgres.InstallTriggers {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := src.InstallTriggers(ctx, cfg.Realtime.Tables); err != nil {
				src.Close()
				return nil, nil, err
			}
		}
		return src, src.Close, nil

	default:
		log.Warn("Using in-process realtime source; only events published inside this process are delivered")
		return realtime.NewMemorySource(0, log), func() {}, nil
	}
}
