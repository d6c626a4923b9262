package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arunvm123/voyagecache/auth"
	"github.com/arunvm123/voyagecache/bootstrap"
	"github.com/arunvm123/voyagecache/config"
)

func main() {
	// Try to load from config.yaml first, fallback to environment variables
	cfg, err := config.Initialise("config.yaml", false)
	if err != nil {
		log.Printf("Config file not found or invalid, using environment variables: %v", err)
		cfg, err = config.Initialise("", true)
		if err != nil {
			log.Fatal("Failed to load configuration:", err)
		}
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stack, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		log.Fatal("Failed to initialize freshness stack:", err)
	}
	defer stack.Close()

	// Kafka commands act on the same manager as the API
	commandsDone := make(chan struct{})
	if cfg.Kafka.Enabled {
		consumer := bootstrap.NewCommandReader(&cfg.Kafka)
		defer consumer.Close()

		go func() {
			defer close(commandsDone)
			if err := stack.ServeCommands(ctx, consumer, cfg.Worker.MaxWorkers, logger); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("command processor stopped", "error", err)
			}
		}()
	} else {
		close(commandsDone)
	}

	jwtService := auth.NewJWTService(cfg.JWTSecret, "voyage-freshness")
	handler := NewVoyageHandler(stack.Manager, stack.Store, logger)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: SetupRouter(handler, jwtService, logger),
	}

	go func() {
		logger.Info("starting voyage freshness API", "port", cfg.Port, "store", cfg.Freshness.Store)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server:", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down voyage freshness API")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	<-commandsDone
}
