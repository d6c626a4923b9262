package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/arunvm123/voyagecache/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeReader struct {
	messages chan kafka.Message
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case msg := <-r.messages:
		return msg, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

type fakeManager struct {
	loads, refreshes, clears atomic.Int32
	clearErr                 error
}

func (m *fakeManager) Load(ctx context.Context) (*model.Voyage, error) {
	m.loads.Add(1)
	return &model.Voyage{BookingID: "BK-1"}, nil
}

func (m *fakeManager) Refresh(ctx context.Context) (*model.Voyage, error) {
	m.refreshes.Add(1)
	return &model.Voyage{BookingID: "BK-1"}, nil
}

func (m *fakeManager) ClearAll(ctx context.Context) error {
	m.clears.Add(1)
	return m.clearErr
}

func commandMessage(t *testing.T, action string) kafka.Message {
	t.Helper()
	value, err := json.Marshal(model.RefreshCommand{RequestID: "req-" + action, Action: action, Timestamp: time.Now()})
	require.NoError(t, err)
	return kafka.Message{Value: value}
}

func TestCommandProcessor_DispatchesActions(t *testing.T) {
	manager := &fakeManager{}
	reader := &fakeReader{messages: make(chan kafka.Message, 8)}
	processor := NewCommandProcessor(manager, reader, 2, discardLogger())

	reader.messages <- commandMessage(t, model.ActionLoad)
	reader.messages <- commandMessage(t, model.ActionRefresh)
	reader.messages <- commandMessage(t, model.ActionRefresh)
	reader.messages <- commandMessage(t, model.ActionClear)
	reader.messages <- commandMessage(t, "explode")
	reader.messages <- kafka.Message{Value: []byte("not json")}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- processor.Start(ctx) }()

	require.Eventually(t, func() bool {
		return processor.Processed() == 6
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	require.EqualValues(t, 1, manager.loads.Load())
	require.EqualValues(t, 2, manager.refreshes.Load())
	require.EqualValues(t, 1, manager.clears.Load())
	require.EqualValues(t, 2, atomic.LoadInt64(&processor.failedCount))
}

func TestCommandProcessor_ProcessCommandErrors(t *testing.T) {
	manager := &fakeManager{clearErr: errors.New("redis down")}
	processor := NewCommandProcessor(manager, &fakeReader{}, 1, discardLogger())

	err := processor.processCommand(commandMessage(t, "explode"))
	require.ErrorIs(t, err, ErrUnknownAction)

	err = processor.processCommand(commandMessage(t, model.ActionClear))
	require.ErrorIs(t, err, manager.clearErr)
	require.ErrorContains(t, err, "req-clear")
}

func TestStatePublisher_PublishesEvent(t *testing.T) {
	writer := &fakeWriter{}
	publisher := NewStatePublisher(writer, discardLogger())
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	publisher.now = func() time.Time { return fixed }

	publisher.Publish(model.ManagerState{
		Snapshot:    &model.Voyage{BookingID: "BK-42", ShipName: "Aurora", Status: "confirmed"},
		LastUpdated: &fixed,
		Error:       errors.New("stale"),
	})

	require.Len(t, writer.messages, 1)
	msg := writer.messages[0]
	require.Equal(t, "BK-42", string(msg.Key))

	var event model.StateChangeEvent
	require.NoError(t, json.Unmarshal(msg.Value, &event))
	require.NotEmpty(t, event.EventID)
	require.True(t, event.HasSnapshot)
	require.Equal(t, "Aurora", event.ShipName)
	require.Equal(t, "stale", event.Error)
	require.True(t, event.Timestamp.Equal(fixed))
}

func TestStatePublisher_EmptyStateUsesDefaultKey(t *testing.T) {
	writer := &fakeWriter{}
	publisher := NewStatePublisher(writer, discardLogger())

	publisher.Publish(model.ManagerState{IsLoading: true})

	require.Len(t, writer.messages, 1)
	require.Equal(t, defaultMessageKey, string(writer.messages[0].Key))
}

func TestStatePublisher_WriteFailureIsSwallowed(t *testing.T) {
	writer := &fakeWriter{err: errors.New("broker unreachable")}
	publisher := NewStatePublisher(writer, discardLogger())

	require.NotPanics(t, func() {
		publisher.Publish(model.ManagerState{})
	})
	require.Empty(t, writer.messages)
}
