package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/arunvm123/voyagecache/model"
)

// Pool for JSON encoding buffers
var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return &bytes.Buffer{}
	},
}

const defaultMessageKey = "voyage"

// StatePublisher forwards manager states to the state topic. Its Publish
// method is meant to be registered as a freshness observer.
type StatePublisher struct {
	writer  MessageWriter
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
}

func NewStatePublisher(writer MessageWriter, logger *slog.Logger) *StatePublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatePublisher{
		writer:  writer,
		logger:  logger,
		timeout: 5 * time.Second,
		now:     time.Now,
	}
}

// Publish writes one StateChangeEvent. Failures are logged, not returned.
func (p *StatePublisher) Publish(state model.ManagerState) {
	event := state.ToStateChangeEvent(uuid.NewString(), p.now())

	jsonBuffer := jsonBufferPool.Get().(*bytes.Buffer)
	defer func() {
		jsonBuffer.Reset()
		jsonBufferPool.Put(jsonBuffer)
	}()

	if err := json.NewEncoder(jsonBuffer).Encode(event); err != nil {
		p.logger.Error("failed to encode state change event", "event_id", event.EventID, "error", err)
		return
	}

	key := defaultMessageKey
	if event.BookingID != "" {
		key = event.BookingID
	}

	// the writer may keep the slice until the write returns
	value := append([]byte(nil), jsonBuffer.Bytes()...)

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value}); err != nil {
		p.logger.Error("failed to publish state change event", "event_id", event.EventID, "error", err)
		return
	}

	p.logger.Debug("published state change event",
		"event_id", event.EventID, "is_loading", event.IsLoading, "has_snapshot", event.HasSnapshot)
}
