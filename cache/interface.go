package cache

import (
	"context"
	"time"

	"github.com/arunvm123/voyagecache/model"
)

// VoyageCache defines the durable snapshot cache used by the freshness manager
type VoyageCache interface {
	// Snapshot persistence
	Put(ctx context.Context, voyage *model.Voyage) error
	Get(ctx context.Context, ignoreExpiry bool) (*model.Voyage, error)
	Clear(ctx context.Context) error

	// Freshness checks
	Metadata(ctx context.Context) (*model.CacheMetadata, error)
	IsExpired(fetchedAt time.Time) bool
}
