package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/segmentio/kafka-go"

	"github.com/arunvm123/voyagecache/model"
	"github.com/arunvm123/voyagecache/worker"
)

// Notice is a traveller-facing message derived from a state transition
type Notice struct {
	BookingID string
	Subject   string
	Body      string
}

// Processor turns the state feed into notices. It remembers the last event
// per booking so only meaningful transitions produce a notice.
type Processor struct {
	logger *slog.Logger
	send   func(*Notice) error

	mu   sync.Mutex
	last map[string]*model.StateChangeEvent

	messagesProcessed int64
}

// NewProcessor creates a processor. send defaults to logging the notice.
func NewProcessor(logger *slog.Logger, send func(*Notice) error) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Processor{
		logger: logger,
		send:   send,
		last:   make(map[string]*model.StateChangeEvent),
	}
	if p.send == nil {
		p.send = p.logNotice
	}
	return p
}

// MessagesProcessed returns the number of consumed state events
func (p *Processor) MessagesProcessed() int64 {
	return atomic.LoadInt64(&p.messagesProcessed)
}

// Run consumes the state feed until ctx is cancelled
func (p *Processor) Run(ctx context.Context, consumer worker.MessageReader) error {
	for {
		msg, err := consumer.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Error("error reading state event", "error", err)
			continue
		}

		if err := p.Process(msg); err != nil {
			p.logger.Error("error processing state event", "offset", msg.Offset, "error", err)
		}

		atomic.AddInt64(&p.messagesProcessed, 1)
	}
}

// Process handles one state event
func (p *Processor) Process(msg kafka.Message) error {
	var event model.StateChangeEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal state change event: %w", err)
	}

	key := string(msg.Key)
	if key == "" {
		key = event.BookingID
	}

	p.mu.Lock()
	prev := p.last[key]
	if !event.IsLoading {
		p.last[key] = &event
	}
	p.mu.Unlock()

	notice := BuildNotice(prev, &event)
	if notice == nil {
		return nil
	}

	if err := p.send(notice); err != nil {
		return fmt.Errorf("failed to send notice: %w", err)
	}
	return nil
}

// BuildNotice returns the notice for the transition from prev to next, or
// nil when the traveller has nothing new to learn. prev may be nil.
func BuildNotice(prev, next *model.StateChangeEvent) *Notice {
	if next.IsLoading {
		return nil
	}

	switch {
	case next.Error != "" && next.HasSnapshot:
		if prev != nil && prev.Error == next.Error {
			return nil
		}
		return &Notice{
			BookingID: next.BookingID,
			Subject:   "Voyage details may be out of date - " + next.ShipName,
			Body: "We could not reach the booking system, so you are seeing the last saved details " +
				"for booking " + next.BookingID + ".\n\nReason: " + next.Error,
		}

	case next.Error != "":
		if prev != nil && !prev.HasSnapshot && prev.Error == next.Error {
			return nil
		}
		return &Notice{
			Subject: "Voyage details unavailable",
			Body:    "Your voyage details could not be loaded.\n\nReason: " + next.Error,
		}

	case !next.HasSnapshot:
		if prev == nil || !prev.HasSnapshot {
			return nil
		}
		return &Notice{
			BookingID: prev.BookingID,
			Subject:   "Saved voyage details cleared",
			Body:      "The saved details for booking " + prev.BookingID + " were removed from this device.",
		}

	default:
		if prev != nil && prev.HasSnapshot && prev.Error == "" &&
			prev.BookingID == next.BookingID && prev.Status == next.Status {
			return nil
		}
		body := "Booking " + next.BookingID + " on " + next.ShipName + " is " + next.Status + "."
		if next.LastUpdated != nil {
			body += "\n\nLast updated: " + next.LastUpdated.Format("2006-01-02 15:04")
		}
		return &Notice{
			BookingID: next.BookingID,
			Subject:   "Voyage details updated - " + next.ShipName,
			Body:      body,
		}
	}
}

func (p *Processor) logNotice(n *Notice) error {
	p.logger.Info("notice sent", "booking_id", n.BookingID, "subject", n.Subject, "body", n.Body)
	return nil
}
