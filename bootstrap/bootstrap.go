// Package bootstrap assembles the freshness stack from configuration for the
// API server. The server is the only owner of the manager: Kafka commands are
// served in the same process through ServeCommands.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/arunvm123/voyagecache/auth"
	"github.com/arunvm123/voyagecache/cache"
	"github.com/arunvm123/voyagecache/config"
	"github.com/arunvm123/voyagecache/datasource"
	"github.com/arunvm123/voyagecache/freshness"
	"github.com/arunvm123/voyagecache/service"
	httpservice "github.com/arunvm123/voyagecache/service/http"
	"github.com/arunvm123/voyagecache/service/mock"
	"github.com/arunvm123/voyagecache/store"
	"github.com/arunvm123/voyagecache/store/memory"
	"github.com/arunvm123/voyagecache/store/postgres"
	"github.com/arunvm123/voyagecache/store/redis"
	"github.com/arunvm123/voyagecache/worker"
)

const serviceName = "voyage-freshness"

// Stack is a fully wired freshness manager and the resources behind it.
type Stack struct {
	Manager *freshness.Manager
	Store   store.Store

	closers []func() error
}

// Close stops the manager and releases the store and Kafka connections
func (s *Stack) Close() {
	s.Manager.Close()
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
}

// NewStore opens the durable backend selected by cfg.Freshness.Store
func NewStore(ctx context.Context, cfg *config.Config) (store.Store, func() error, error) {
	switch cfg.Freshness.Store {
	case config.StoreRedis:
		s, err := redis.NewRedisStore(ctx, cfg.Redis.GetRedisURL(), cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.StorePostgres:
		s, err := postgres.NewKVRepository(&cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.StoreMemory:
		return memory.NewMemoryStore(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown freshness store %q", cfg.Freshness.Store)
	}
}

// NewVoyageService returns the mock when configured, otherwise the HTTP client
func NewVoyageService(cfg *config.Config) service.VoyageService {
	if cfg.VoyageService.UseMock {
		return mock.NewMockVoyageService(
			cfg.VoyageService.BookingID,
			time.Duration(cfg.VoyageService.MockLatencyMillis)*time.Millisecond,
			cfg.VoyageService.MockFailureRate,
		)
	}
	jwtService := auth.NewJWTService(cfg.JWTSecret, serviceName)
	return httpservice.NewHTTPVoyageServiceWithConfig(&cfg.VoyageService, jwtService)
}

// NewManager wires a manager over an already opened store
func NewManager(cfg *config.Config, s store.Store, remote service.VoyageService, logger *slog.Logger) *freshness.Manager {
	window := cfg.Freshness.Window()

	durable := cache.NewDurableCache(s, cache.Options{
		Key:    cfg.Freshness.CacheKey,
		Window: window,
		Logger: logger,
	})
	source := datasource.New(remote, datasource.Options{
		Window: window,
		Logger: logger,
	})

	return freshness.NewManager(durable, source, freshness.Options{
		Window:        window,
		RefreshOnLoad: cfg.Freshness.RefreshOnLoad,
		Logger:        logger,
	})
}

// NewCommandReader returns the consumer for the command topic
func NewCommandReader(cfg *config.Kafka) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.CommandTopic,
		GroupID: cfg.ConsumerGroup,
	})
}

// ServeCommands runs a CommandProcessor against the stack's manager until
// ctx is cancelled.
func (s *Stack) ServeCommands(ctx context.Context, consumer worker.MessageReader, maxWorkers int, logger *slog.Logger) error {
	processor := worker.NewCommandProcessor(s.Manager, consumer, maxWorkers, logger)
	return processor.Start(ctx)
}

// NewStateWriter returns the producer for the state topic
func NewStateWriter(cfg *config.Kafka) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.StateTopic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
	}
}

// Build opens the store, wires the manager and, when Kafka is enabled,
// subscribes a StatePublisher to the state topic.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Stack, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, closeStore, err := NewStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s store: %w", cfg.Freshness.Store, err)
	}

	stack := &Stack{
		Manager: NewManager(cfg, s, NewVoyageService(cfg), logger),
		Store:   s,
		closers: []func() error{closeStore},
	}

	if cfg.Kafka.Enabled {
		writer := NewStateWriter(&cfg.Kafka)
		publisher := worker.NewStatePublisher(writer, logger)
		unsubscribe := stack.Manager.Subscribe(publisher.Publish)
		stack.closers = append(stack.closers, writer.Close, func() error {
			unsubscribe()
			return nil
		})
	}

	return stack, nil
}
