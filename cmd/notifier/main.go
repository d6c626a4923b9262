package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/kafka-go"

	"github.com/arunvm123/voyagecache/config"
	"github.com/arunvm123/voyagecache/notifier"
)

type healthResponse struct {
	Status            string    `json:"status"`
	Service           string    `json:"service"`
	Timestamp         time.Time `json:"timestamp"`
	MessagesProcessed int64     `json:"messages_processed"`
}

func main() {
	fmt.Println("Starting Voyage Notifier")

	cfg, err := config.InitialiseNotifier("config.yaml", false)
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("component", "notifier")
	slog.SetDefault(logger)

	// Setup Kafka consumer
	consumer := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.StateTopic,
		GroupID: cfg.Kafka.ConsumerGroup + "-notifier",
	})
	defer consumer.Close()

	processor := notifier.NewProcessor(logger, nil)

	// Health check endpoint only
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, healthResponse{
			Status:            "healthy",
			Service:           "voyage-notifier",
			Timestamp:         time.Now(),
			MessagesProcessed: processor.MessagesProcessed(),
		})
	})

	go func() {
		if err := r.Run(":" + cfg.Port); err != nil {
			log.Fatal("Failed to start health server:", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println("Notifier started")
	if err := processor.Run(ctx, consumer); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("Notifier error:", err)
	}

	fmt.Println("Notifier stopped gracefully")
}
