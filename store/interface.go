package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key holds no value
var ErrNotFound = errors.New("store: key not found")

// Store defines the key-value boundary used by the durable voyage cache
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error

	// Health check
	Ping(ctx context.Context) error
}
