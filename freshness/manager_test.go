package freshness

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arunvm123/voyagecache/cache"
	"github.com/arunvm123/voyagecache/datasource"
	"github.com/arunvm123/voyagecache/model"
	"github.com/arunvm123/voyagecache/store/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeRemote stands in for the voyage API. When gate is set every call
// blocks until the gate is closed.
type fakeRemote struct {
	calls   atomic.Int32
	entered chan struct{}
	gate    chan struct{}

	mu     sync.Mutex
	voyage *model.Voyage
	err    error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{entered: make(chan struct{}, 64)}
}

func (r *fakeRemote) FetchVoyage(ctx context.Context, forceRefresh bool) (*model.Voyage, error) {
	r.calls.Add(1)
	r.entered <- struct{}{}
	if r.gate != nil {
		<-r.gate
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	// hand out a distinct value per call
	v := *r.voyage
	return &v, nil
}

func (r *fakeRemote) respond(voyage *model.Voyage, err error) {
	r.mu.Lock()
	r.voyage, r.err = voyage, err
	r.mu.Unlock()
}

// faultyCache fails selected operations of a real durable cache.
type faultyCache struct {
	*cache.DurableCache
	putErr   error
	clearErr error
}

func (f *faultyCache) Put(ctx context.Context, voyage *model.Voyage) error {
	if f.putErr != nil {
		return &model.PersistenceError{Op: "put", Key: cache.DefaultKey, Err: f.putErr}
	}
	return f.DurableCache.Put(ctx, voyage)
}

func (f *faultyCache) Clear(ctx context.Context) error {
	if f.clearErr != nil {
		return &model.PersistenceError{Op: "clear", Key: cache.DefaultKey, Err: f.clearErr}
	}
	return f.DurableCache.Clear(ctx)
}

type harness struct {
	manager *Manager
	remote  *fakeRemote
	durable *faultyCache
	clock   *fakeClock

	mu    sync.Mutex
	stale []*model.StaleDataWarning
}

func newHarness(t *testing.T, refreshOnLoad bool) *harness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	h := &harness{remote: newFakeRemote(), clock: clock}
	h.remote.respond(&model.Voyage{BookingID: "BK-1", ShipName: "Aurora"}, nil)

	h.durable = &faultyCache{DurableCache: cache.NewDurableCache(memory.NewMemoryStore(), cache.Options{
		Window: 30 * time.Minute,
		Now:    clock.Now,
		Logger: logger,
	})}
	source := datasource.New(h.remote, datasource.Options{
		Window: 30 * time.Minute,
		Now:    clock.Now,
		Logger: logger,
	})

	h.manager = NewManager(h.durable, source, Options{
		Window:        30 * time.Minute,
		RefreshOnLoad: refreshOnLoad,
		Now:           clock.Now,
		Logger:        logger,
		OnStale: func(w *model.StaleDataWarning) {
			h.mu.Lock()
			h.stale = append(h.stale, w)
			h.mu.Unlock()
		},
	})
	t.Cleanup(h.manager.Close)
	return h
}

func (h *harness) waitForFetch(t *testing.T) {
	t.Helper()
	select {
	case <-h.remote.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("remote fetch was not started")
	}
}

func TestLoad_ConcurrentCallsShareOneFetch(t *testing.T) {
	h := newHarness(t, false)
	h.remote.gate = make(chan struct{})

	const callers = 8
	results := make([]*model.Voyage, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.manager.Load(context.Background())
		}(i)
	}

	h.waitForFetch(t)
	time.Sleep(20 * time.Millisecond)
	close(h.remote.gate)
	wg.Wait()

	require.EqualValues(t, 1, h.remote.calls.Load())
	for i := range results {
		require.NoError(t, errs[i])
		require.Same(t, results[0], results[i])
	}
}

func TestLoad_ConcurrentCallsShareOneFailure(t *testing.T) {
	h := newHarness(t, false)
	h.remote.gate = make(chan struct{})
	h.remote.respond(nil, errors.New("booking api unavailable"))

	const callers = 5
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.manager.Load(context.Background())
		}(i)
	}

	h.waitForFetch(t)
	time.Sleep(20 * time.Millisecond)
	close(h.remote.gate)
	wg.Wait()

	require.EqualValues(t, 1, h.remote.calls.Load())
	for _, err := range errs {
		require.Error(t, err)
		require.Same(t, errs[0], err)
	}
}

func TestLoad_ScenarioSecondLoadSkipsRemote(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	first, err := h.manager.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "BK-1", first.BookingID)

	stored, err := h.durable.Get(ctx, false)
	require.NoError(t, err)
	require.Equal(t, first, stored)

	meta, err := h.durable.Metadata(ctx)
	require.NoError(t, err)
	require.True(t, meta.FetchedAt.Equal(h.clock.Now()))

	second, err := h.manager.Load(ctx)
	require.NoError(t, err)
	require.Same(t, first, second)
	require.EqualValues(t, 1, h.remote.calls.Load())

	state := h.manager.GetState()
	require.False(t, state.IsLoading)
	require.NoError(t, state.Error)
	require.Same(t, first, state.Snapshot)
}

func TestLoad_RefreshOnLoadFetchesEveryTime(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	_, err := h.manager.Load(ctx)
	require.NoError(t, err)
	_, err = h.manager.Load(ctx)
	require.NoError(t, err)

	require.EqualValues(t, 2, h.remote.calls.Load())
}

func TestRefresh_BypassesMemo(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	_, err := h.manager.Load(ctx)
	require.NoError(t, err)
	_, err = h.manager.Load(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, h.remote.calls.Load())

	h.remote.respond(&model.Voyage{BookingID: "BK-1", ShipName: "Aurora", Cabin: "D214"}, nil)
	refreshed, err := h.manager.Refresh(ctx)
	require.NoError(t, err)
	require.Equal(t, "D214", refreshed.Cabin)
	require.EqualValues(t, 2, h.remote.calls.Load())
	require.Same(t, refreshed, h.manager.GetState().Snapshot)
}

func TestRefresh_JoinsInFlightLoad(t *testing.T) {
	h := newHarness(t, false)
	h.remote.gate = make(chan struct{})
	ctx := context.Background()

	var loaded, refreshed *model.Voyage
	var loadErr, refreshErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		loaded, loadErr = h.manager.Load(ctx)
	}()
	h.waitForFetch(t)

	go func() {
		defer wg.Done()
		refreshed, refreshErr = h.manager.Refresh(ctx)
	}()
	time.Sleep(20 * time.Millisecond)
	close(h.remote.gate)
	wg.Wait()

	require.NoError(t, loadErr)
	require.NoError(t, refreshErr)
	require.EqualValues(t, 1, h.remote.calls.Load())
	require.Same(t, loaded, refreshed)
}

func TestLoad_NoSnapshotAnywhereFails(t *testing.T) {
	h := newHarness(t, false)
	outage := errors.New("connection refused")
	h.remote.respond(nil, outage)

	v, err := h.manager.Load(context.Background())
	require.Nil(t, v)

	var fetchErr *model.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.ErrorIs(t, err, outage)

	state := h.manager.GetState()
	require.Nil(t, state.Snapshot)
	require.False(t, state.IsLoading)
	require.ErrorIs(t, state.Error, outage)
}

func TestLoad_FallsBackToExpiredDurableEntry(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	require.NoError(t, h.durable.Put(ctx, &model.Voyage{BookingID: "BK-OLD", ShipName: "Aurora"}))
	h.clock.Advance(2 * time.Hour)
	h.remote.respond(nil, errors.New("timeout"))

	v, err := h.manager.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "BK-OLD", v.BookingID)

	state := h.manager.GetState()
	require.NotNil(t, state.Snapshot)
	require.Error(t, state.Error)
	require.False(t, state.IsLoading)
	require.Nil(t, state.LastUpdated)

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.stale, 1)
	require.Equal(t, "durable", h.stale[0].Source)
	require.Equal(t, 2*time.Hour, h.stale[0].Age)
}

func TestLoad_ExpiredMemoIsNotServedAsFresh(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	loadedAt := h.clock.Now()

	first, err := h.manager.Load(ctx)
	require.NoError(t, err)
	before, err := h.durable.Metadata(ctx)
	require.NoError(t, err)

	h.clock.Advance(40 * time.Minute)
	outage := errors.New("booking api unavailable")
	h.remote.respond(nil, outage)

	v, err := h.manager.Load(ctx)
	require.NoError(t, err)
	require.Same(t, first, v)

	state := h.manager.GetState()
	require.Same(t, first, state.Snapshot)
	require.False(t, state.IsLoading)
	require.NotNil(t, state.LastUpdated)
	require.True(t, loadedAt.Equal(*state.LastUpdated))

	var warning *model.StaleDataWarning
	require.ErrorAs(t, state.Error, &warning)
	require.Equal(t, "memo", warning.Source)
	require.Equal(t, 40*time.Minute, warning.Age)
	require.ErrorIs(t, state.Error, outage)

	after, err := h.durable.Metadata(ctx)
	require.NoError(t, err)
	require.True(t, before.FetchedAt.Equal(after.FetchedAt))
	require.False(t, h.manager.IsCacheValid(ctx))

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.stale, 1)
	require.Equal(t, "memo", h.stale[0].Source)
}

func TestLoad_FailureWhileHoldingSnapshot(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	held, err := h.manager.Load(ctx)
	require.NoError(t, err)

	outage := errors.New("502 bad gateway")
	h.remote.respond(nil, outage)

	_, err = h.manager.Refresh(ctx)
	require.ErrorIs(t, err, outage)

	state := h.manager.GetState()
	require.Same(t, held, state.Snapshot)
	require.ErrorIs(t, state.Error, outage)
	require.False(t, state.IsLoading)
}

func TestLoad_PersistFailureKeepsFreshSnapshot(t *testing.T) {
	h := newHarness(t, false)
	h.durable.putErr = errors.New("disk full")

	v, err := h.manager.Load(context.Background())
	require.NoError(t, err)

	state := h.manager.GetState()
	require.Same(t, v, state.Snapshot)
	require.NotNil(t, state.LastUpdated)

	var perr *model.PersistenceError
	require.ErrorAs(t, state.Error, &perr)
	require.Equal(t, "put", perr.Op)
}

func TestLoad_SuccessClearsPreviousError(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	h.remote.respond(nil, errors.New("down"))
	_, err := h.manager.Load(ctx)
	require.Error(t, err)

	h.remote.respond(&model.Voyage{BookingID: "BK-1"}, nil)
	_, err = h.manager.Load(ctx)
	require.NoError(t, err)
	require.NoError(t, h.manager.GetState().Error)
}

func TestLoad_CallerCancellationDoesNotStopPipeline(t *testing.T) {
	h := newHarness(t, false)
	h.remote.gate = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.manager.Load(ctx)
		done <- err
	}()

	h.waitForFetch(t)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.True(t, h.manager.GetState().IsLoading)

	close(h.remote.gate)
	require.Eventually(t, func() bool {
		return h.manager.GetState().Snapshot != nil
	}, 2*time.Second, 5*time.Millisecond)
	require.False(t, h.manager.GetState().IsLoading)
}

func TestClearAll_ThenCacheInvalid(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	_, err := h.manager.Load(ctx)
	require.NoError(t, err)
	require.True(t, h.manager.IsCacheValid(ctx))

	require.NoError(t, h.manager.ClearAll(ctx))
	require.False(t, h.manager.IsCacheValid(ctx))

	state := h.manager.GetState()
	require.Nil(t, state.Snapshot)
	require.Nil(t, state.LastUpdated)

	v, err := h.durable.Get(ctx, true)
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestClearAll_KeepsErrorAndLoadingFlag(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	require.NoError(t, h.durable.Put(ctx, &model.Voyage{BookingID: "BK-OLD"}))
	h.remote.respond(nil, errors.New("down"))
	_, err := h.manager.Load(ctx)
	require.NoError(t, err)

	before := h.manager.GetState().Error
	require.NoError(t, h.manager.ClearAll(ctx))

	state := h.manager.GetState()
	require.Same(t, before, state.Error)
	require.False(t, state.IsLoading)
	require.Nil(t, state.Snapshot)
}

func TestClearAll_DurableFailureLeavesState(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	held, err := h.manager.Load(ctx)
	require.NoError(t, err)

	h.durable.clearErr = errors.New("read-only")
	err = h.manager.ClearAll(ctx)

	var perr *model.PersistenceError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "clear", perr.Op)
	require.Same(t, held, h.manager.GetState().Snapshot)
}

func TestClearAll_DropsResultOfEarlierPipeline(t *testing.T) {
	h := newHarness(t, false)
	h.remote.gate = make(chan struct{})
	ctx := context.Background()

	type result struct {
		voyage *model.Voyage
		err    error
	}
	done := make(chan result, 1)
	go func() {
		v, err := h.manager.Load(ctx)
		done <- result{v, err}
	}()

	h.waitForFetch(t)
	require.NoError(t, h.manager.ClearAll(ctx))
	close(h.remote.gate)

	// the caller still gets what it asked for
	res := <-done
	require.NoError(t, res.err)
	require.NotNil(t, res.voyage)

	state := h.manager.GetState()
	require.Nil(t, state.Snapshot)
	require.Nil(t, state.LastUpdated)
	require.False(t, state.IsLoading)

	v, err := h.durable.Get(ctx, true)
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestIsCacheValid(t *testing.T) {
	t.Run("durable entry inside window", func(t *testing.T) {
		h := newHarness(t, false)
		require.NoError(t, h.durable.Put(context.Background(), &model.Voyage{BookingID: "BK-1"}))
		h.clock.Advance(10 * time.Minute)
		require.True(t, h.manager.IsCacheValid(context.Background()))
	})

	t.Run("durable entry expired", func(t *testing.T) {
		h := newHarness(t, false)
		require.NoError(t, h.durable.Put(context.Background(), &model.Voyage{BookingID: "BK-1"}))
		h.clock.Advance(31 * time.Minute)
		require.False(t, h.manager.IsCacheValid(context.Background()))

		// read-only: the expired entry is still there for fallback
		v, err := h.durable.Get(context.Background(), true)
		require.NoError(t, err)
		require.NotNil(t, v)
	})

	t.Run("nothing anywhere", func(t *testing.T) {
		h := newHarness(t, false)
		require.False(t, h.manager.IsCacheValid(context.Background()))
	})

	t.Run("held voyage ages out", func(t *testing.T) {
		h := newHarness(t, false)
		_, err := h.manager.Load(context.Background())
		require.NoError(t, err)
		h.clock.Advance(30 * time.Minute)
		require.False(t, h.manager.IsCacheValid(context.Background()))
	})
}

func TestGetState_ReturnsCopy(t *testing.T) {
	h := newHarness(t, false)
	_, err := h.manager.Load(context.Background())
	require.NoError(t, err)

	state := h.manager.GetState()
	*state.LastUpdated = time.Time{}

	require.False(t, h.manager.GetState().LastUpdated.IsZero())
}
