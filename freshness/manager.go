package freshness

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/arunvm123/voyagecache/cache"
	"github.com/arunvm123/voyagecache/datasource"
	"github.com/arunvm123/voyagecache/model"
)

const pipelineKey = "voyage"

var errNoVoyage = errors.New("load finished without a voyage")

// Options tunes a Manager.
type Options struct {
	// Window is the freshness window applied to LastUpdated. Default: 30m.
	Window time.Duration
	// RefreshOnLoad makes every Load go to the data source even when a
	// voyage is already held.
	RefreshOnLoad bool
	Now           func() time.Time
	Logger        *slog.Logger
	// OnStale is called when an expired memo or durable entry is served
	// because the remote call failed.
	OnStale func(*model.StaleDataWarning)
}

func (o *Options) defaults() {
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

// Manager owns the voyage state and serializes fetches through one pipeline.
type Manager struct {
	cache  cache.VoyageCache
	source datasource.VoyageSource
	opts   Options
	group  singleflight.Group

	// persistMu orders durable writes against ClearAll.
	persistMu sync.Mutex

	mu          sync.Mutex
	state       model.ManagerState
	generation  uint64
	subscribers []*subscription

	dispatcher *dispatcher
}

func NewManager(c cache.VoyageCache, source datasource.VoyageSource, opts Options) *Manager {
	opts.defaults()
	return &Manager{
		cache:      c,
		source:     source,
		opts:       opts,
		dispatcher: newDispatcher(opts.Logger),
	}
}

// Load returns the current voyage, fetching it if needed. Concurrent calls
// share a single fetch.
func (m *Manager) Load(ctx context.Context) (*model.Voyage, error) {
	return m.run(ctx, false)
}

// Refresh drops the memo and fetches from the remote service. It joins a
// pipeline that is already running instead of starting a second one.
func (m *Manager) Refresh(ctx context.Context) (*model.Voyage, error) {
	m.source.ClearMemo()
	return m.run(ctx, true)
}

// ClearAll removes the memo and the durable entry, then forgets the held
// voyage. State is left untouched if the durable clear fails.
func (m *Manager) ClearAll(ctx context.Context) error {
	m.source.ClearMemo()

	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	if err := m.cache.Clear(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.generation++
	next := m.state
	next.Snapshot = nil
	next.LastUpdated = nil
	m.setStateLocked(next)
	return nil
}

// IsCacheValid reports whether the held voyage, or failing that the durable
// entry, is inside the freshness window.
func (m *Manager) IsCacheValid(ctx context.Context) bool {
	m.mu.Lock()
	lastUpdated := m.state.LastUpdated
	m.mu.Unlock()

	if lastUpdated != nil && m.opts.Now().Sub(*lastUpdated) < m.opts.Window {
		return true
	}

	meta, err := m.cache.Metadata(ctx)
	if err != nil {
		m.opts.Logger.WarnContext(ctx, "failed to read voyage cache metadata", "error", err)
		return false
	}
	return meta != nil && !m.cache.IsExpired(meta.FetchedAt)
}

// GetState returns a copy of the current state
func (m *Manager) GetState() model.ManagerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// Close stops notification delivery. Pending notifications are dropped.
// It must not be called from an observer.
func (m *Manager) Close() {
	m.dispatcher.stop()
}

func (m *Manager) run(ctx context.Context, forceRefresh bool) (*model.Voyage, error) {
	detached := context.WithoutCancel(ctx)
	ch := m.group.DoChan(pipelineKey, func() (interface{}, error) {
		return m.pipeline(detached, forceRefresh)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		voyage, ok := res.Val.(*model.Voyage)
		if !ok || voyage == nil {
			return nil, errNoVoyage
		}
		return voyage, nil
	}
}

func (m *Manager) pipeline(ctx context.Context, forceRefresh bool) (*model.Voyage, error) {
	refresh := forceRefresh || m.opts.RefreshOnLoad

	m.mu.Lock()
	gen := m.generation
	if !refresh && m.state.Snapshot != nil {
		snapshot := m.state.Snapshot
		now := m.opts.Now()
		next := m.state
		next.IsLoading = false
		next.LastUpdated = &now
		m.setStateLocked(next)
		m.mu.Unlock()
		return snapshot, nil
	}
	loading := m.state
	loading.IsLoading = true
	m.setStateLocked(loading)
	m.mu.Unlock()

	voyage, stale, fetchErr := m.source.Fetch(ctx, refresh)
	if fetchErr == nil && stale != nil {
		m.serveStale(stale)
		m.apply(gen, func(s *model.ManagerState) {
			s.Snapshot = voyage
			s.Error = stale
		})
		return voyage, nil
	}
	if fetchErr == nil {
		putErr := m.persist(ctx, gen, voyage)
		m.apply(gen, func(s *model.ManagerState) {
			now := m.opts.Now()
			s.Snapshot = voyage
			s.LastUpdated = &now
			s.Error = putErr
		})
		return voyage, nil
	}

	m.mu.Lock()
	holding := m.state.Snapshot != nil
	m.mu.Unlock()

	if holding {
		m.opts.Logger.WarnContext(ctx, "voyage fetch failed, keeping held voyage", "error", fetchErr)
		m.apply(gen, func(s *model.ManagerState) {
			s.Error = fetchErr
		})
		return nil, fetchErr
	}

	fallback := m.fallback(ctx, fetchErr)
	m.apply(gen, func(s *model.ManagerState) {
		s.Error = fetchErr
		if fallback != nil {
			s.Snapshot = fallback
		}
	})
	if fallback == nil {
		return nil, fetchErr
	}
	return fallback, nil
}

// persist writes the voyage unless a ClearAll happened since gen was taken.
func (m *Manager) persist(ctx context.Context, gen uint64, voyage *model.Voyage) error {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.Lock()
	current := m.generation == gen
	m.mu.Unlock()
	if !current {
		return nil
	}

	if err := m.cache.Put(ctx, voyage); err != nil {
		m.opts.Logger.WarnContext(ctx, "failed to persist voyage", "error", err)
		return err
	}
	return nil
}

func (m *Manager) fallback(ctx context.Context, fetchErr error) *model.Voyage {
	voyage, err := m.cache.Get(ctx, true)
	if err != nil {
		m.opts.Logger.WarnContext(ctx, "durable voyage fallback failed", "error", err)
		return nil
	}
	if voyage == nil {
		return nil
	}

	warning := &model.StaleDataWarning{Source: "durable", Cause: fetchErr}
	if meta, err := m.cache.Metadata(ctx); err == nil && meta != nil {
		warning.Age = m.opts.Now().Sub(meta.FetchedAt)
	}
	m.opts.Logger.WarnContext(ctx, "voyage service unavailable, serving cached voyage",
		"age", warning.Age.Round(time.Second), "error", fetchErr)
	m.serveStale(warning)
	return voyage
}

func (m *Manager) serveStale(warning *model.StaleDataWarning) {
	if m.opts.OnStale != nil {
		m.opts.OnStale(warning)
	}
}

// apply ends the loading phase. Results from a pipeline that predates the
// last ClearAll are dropped; only the loading flag is reset.
func (m *Manager) apply(gen uint64, mutate func(*model.ManagerState)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.state
	next.IsLoading = false
	if m.generation == gen {
		mutate(&next)
	}
	m.setStateLocked(next)
}

// setStateLocked must be called with m.mu held.
func (m *Manager) setStateLocked(next model.ManagerState) {
	if m.state.Equal(next) {
		return
	}
	m.state = next

	targets := make([]*subscription, len(m.subscribers))
	copy(targets, m.subscribers)
	m.dispatcher.enqueue(next.Clone(), targets)
}
