package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/arunvm123/voyagecache/model"
	"github.com/arunvm123/voyagecache/store"
)

const DefaultKey = "voyage:snapshot"

var errEntryWithoutData = errors.New("entry has no data")

// Options tunes a DurableCache.
type Options struct {
	// Key is the single store key holding the snapshot. Default: DefaultKey.
	Key string
	// Window is the freshness window. Default: 30m.
	Window time.Duration
	// Now overrides the clock.
	Now func() time.Time
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Key == "" {
		o.Key = DefaultKey
	}
	if o.Window <= 0 {
		o.Window = 30 * time.Minute
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// DurableCache persists the last known voyage with its fetch time in a
// key-value store. It never talks to the voyage API.
type DurableCache struct {
	store store.Store
	opts  Options

	mu          sync.Mutex
	lastWritten int64
}

var _ VoyageCache = (*DurableCache)(nil)

func NewDurableCache(s store.Store, opts Options) *DurableCache {
	opts.defaults()
	return &DurableCache{store: s, opts: opts}
}

// Put overwrites the entry with the voyage stamped at the current time.
// Timestamps never go backwards within a process.
func (c *DurableCache) Put(ctx context.Context, voyage *model.Voyage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := c.opts.Now().UnixMilli()
	if ts < c.lastWritten {
		ts = c.lastWritten
	}

	data, err := json.Marshal(model.CacheEntry{Data: voyage, Timestamp: ts})
	if err != nil {
		return &model.PersistenceError{Op: "encode", Key: c.opts.Key, Err: err}
	}

	if err := c.store.Set(ctx, c.opts.Key, string(data)); err != nil {
		return &model.PersistenceError{Op: "put", Key: c.opts.Key, Err: err}
	}

	c.lastWritten = ts
	return nil
}

// Get returns the cached voyage, or nil on a miss. Expired entries are
// deleted and reported as a miss unless ignoreExpiry is set.
func (c *DurableCache) Get(ctx context.Context, ignoreExpiry bool) (*model.Voyage, error) {
	raw, err := c.store.Get(ctx, c.opts.Key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil // Cache miss
		}
		return nil, &model.PersistenceError{Op: "get", Key: c.opts.Key, Err: err}
	}

	var entry model.CacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		c.discardCorrupt(ctx, err)
		return nil, nil
	}
	if entry.Data == nil {
		c.discardCorrupt(ctx, errEntryWithoutData)
		return nil, nil
	}

	if !ignoreExpiry && c.IsExpired(entry.FetchedAt()) {
		if err := c.store.Remove(ctx, c.opts.Key); err != nil {
			c.opts.Logger.WarnContext(ctx, "failed to evict expired voyage entry", "key", c.opts.Key, "error", err)
		}
		return nil, nil
	}

	return entry.Data, nil
}

// Metadata peeks at the entry age without decoding the voyage or evicting
// anything. A missing or unreadable entry yields nil.
func (c *DurableCache) Metadata(ctx context.Context) (*model.CacheMetadata, error) {
	raw, err := c.store.Get(ctx, c.opts.Key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, &model.PersistenceError{Op: "metadata", Key: c.opts.Key, Err: err}
	}

	var header struct {
		Timestamp *int64 `json:"timestamp"`
	}
	if err := json.Unmarshal([]byte(raw), &header); err != nil || header.Timestamp == nil {
		return nil, nil
	}

	return &model.CacheMetadata{FetchedAt: time.UnixMilli(*header.Timestamp)}, nil
}

// IsExpired reports whether fetchedAt is at least one window old
func (c *DurableCache) IsExpired(fetchedAt time.Time) bool {
	return c.opts.Now().Sub(fetchedAt) >= c.opts.Window
}

// Clear deletes the entry. Deleting a missing entry is not an error.
func (c *DurableCache) Clear(ctx context.Context) error {
	if err := c.store.Remove(ctx, c.opts.Key); err != nil {
		return &model.PersistenceError{Op: "clear", Key: c.opts.Key, Err: err}
	}
	return nil
}

func (c *DurableCache) discardCorrupt(ctx context.Context, decodeErr error) {
	c.opts.Logger.WarnContext(ctx, "discarding corrupted voyage entry", "key", c.opts.Key, "error", decodeErr)
	if err := c.store.Remove(ctx, c.opts.Key); err != nil {
		c.opts.Logger.WarnContext(ctx, "failed to clear corrupted voyage entry", "key", c.opts.Key, "error", err)
	}
}
