package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/arunvm123/voyagecache/model"
)

// Pool for refresh command objects
var refreshCommandPool = sync.Pool{
	New: func() interface{} {
		return &model.RefreshCommand{}
	},
}

// resetRefreshCommand clears a command for reuse
func resetRefreshCommand(cmd *model.RefreshCommand) {
	cmd.RequestID = ""
	cmd.Action = ""
	cmd.RequestedBy = ""
	cmd.Timestamp = time.Time{}
}

var ErrUnknownAction = errors.New("unknown command action")

// CommandProcessor consumes refresh commands and applies them to the
// freshness manager through a fixed pool of workers. Concurrent load and
// refresh commands still collapse into one fetch inside the manager.
type CommandProcessor struct {
	manager  VoyageManager
	consumer MessageReader
	logger   *slog.Logger

	commandTimeout time.Duration

	// Worker pool for managing goroutines
	workerPool chan chan kafka.Message
	workers    []*CommandWorker

	// Metrics
	processedCount int64
	failedCount    int64
	activeWorkers  int64
}

type CommandWorker struct {
	id         int
	processor  *CommandProcessor
	jobChannel chan kafka.Message
	workerPool chan chan kafka.Message
	quit       chan bool
}

func NewCommandProcessor(manager VoyageManager, consumer MessageReader, maxWorkers int, logger *slog.Logger) *CommandProcessor {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	processor := &CommandProcessor{
		manager:        manager,
		consumer:       consumer,
		logger:         logger,
		commandTimeout: time.Minute,
		workerPool:     make(chan chan kafka.Message, maxWorkers),
		workers:        make([]*CommandWorker, maxWorkers),
	}

	for i := 0; i < maxWorkers; i++ {
		processor.workers[i] = &CommandWorker{
			id:         i,
			processor:  processor,
			jobChannel: make(chan kafka.Message),
			workerPool: processor.workerPool,
			quit:       make(chan bool),
		}
	}

	return processor
}

// Start reads commands until ctx is cancelled
func (p *CommandProcessor) Start(ctx context.Context) error {
	p.logger.Info("starting command processor", "workers", len(p.workers))

	for _, worker := range p.workers {
		worker.start()
	}
	defer p.shutdown()

	go p.reportMetrics(ctx)

	for {
		msg, err := p.consumer.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("command processor shutting down")
				return ctx.Err()
			}
			p.logger.Error("error reading command", "error", err)
			continue
		}

		// Dispatch to worker pool (blocks if all workers busy)
		select {
		case jobChannel := <-p.workerPool:
			select {
			case jobChannel <- msg:
			case <-ctx.Done():
				return ctx.Err()
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *CommandWorker) start() {
	go func() {
		for {
			// Register this worker in the pool
			select {
			case w.workerPool <- w.jobChannel:
			case <-w.quit:
				return
			}

			select {
			case job := <-w.jobChannel:
				atomic.AddInt64(&w.processor.activeWorkers, 1)

				if err := w.processor.processCommand(job); err != nil {
					atomic.AddInt64(&w.processor.failedCount, 1)
					w.processor.logger.Error("command failed", "worker", w.id, "offset", job.Offset, "error", err)
				}

				atomic.AddInt64(&w.processor.processedCount, 1)
				atomic.AddInt64(&w.processor.activeWorkers, -1)

			case <-w.quit:
				return
			}
		}
	}()
}

func (w *CommandWorker) stop() {
	close(w.quit)
}

// shutdown stops all workers and waits for in-flight commands
func (p *CommandProcessor) shutdown() {
	for _, worker := range p.workers {
		worker.stop()
	}

	timeout := time.After(30 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if atomic.LoadInt64(&p.activeWorkers) == 0 {
			p.logger.Info("all command workers finished")
			return
		}
		select {
		case <-timeout:
			p.logger.Warn("command processor shutdown timeout reached")
			return
		case <-ticker.C:
		}
	}
}

// reportMetrics logs throughput every 30 seconds
func (p *CommandProcessor) reportMetrics(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.logger.Info("command processor metrics",
				"processed", atomic.LoadInt64(&p.processedCount),
				"failed", atomic.LoadInt64(&p.failedCount),
				"active_workers", atomic.LoadInt64(&p.activeWorkers))
		}
	}
}

// Processed returns the number of commands handled so far
func (p *CommandProcessor) Processed() int64 {
	return atomic.LoadInt64(&p.processedCount)
}

func (p *CommandProcessor) processCommand(msg kafka.Message) error {
	cmd := refreshCommandPool.Get().(*model.RefreshCommand)
	defer func() {
		resetRefreshCommand(cmd)
		refreshCommandPool.Put(cmd)
	}()

	if err := json.Unmarshal(msg.Value, cmd); err != nil {
		return fmt.Errorf("failed to unmarshal refresh command: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.commandTimeout)
	defer cancel()

	log := p.logger.With("request_id", cmd.RequestID, "action", cmd.Action)
	log.Info("processing command", "requested_by", cmd.RequestedBy)

	switch cmd.Action {
	case model.ActionLoad:
		voyage, err := p.manager.Load(ctx)
		if err != nil {
			return fmt.Errorf("load %s: %w", cmd.RequestID, err)
		}
		log.Info("voyage loaded", "booking_id", voyage.BookingID)
	case model.ActionRefresh:
		voyage, err := p.manager.Refresh(ctx)
		if err != nil {
			return fmt.Errorf("refresh %s: %w", cmd.RequestID, err)
		}
		log.Info("voyage refreshed", "booking_id", voyage.BookingID)
	case model.ActionClear:
		if err := p.manager.ClearAll(ctx); err != nil {
			return fmt.Errorf("clear %s: %w", cmd.RequestID, err)
		}
		log.Info("voyage cache cleared")
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, cmd.Action)
	}

	return nil
}
