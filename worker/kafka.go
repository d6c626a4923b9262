package worker

import (
	"context"

	"github.com/segmentio/kafka-go"

	"github.com/arunvm123/voyagecache/model"
)

// MessageReader is the consuming side of *kafka.Reader
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// MessageWriter is the producing side of *kafka.Writer
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// VoyageManager is the part of the freshness manager driven by commands
type VoyageManager interface {
	Load(ctx context.Context) (*model.Voyage, error)
	Refresh(ctx context.Context) (*model.Voyage, error)
	ClearAll(ctx context.Context) error
}

var (
	_ MessageReader = (*kafka.Reader)(nil)
	_ MessageWriter = (*kafka.Writer)(nil)
)
