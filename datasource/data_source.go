package datasource

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/arunvm123/voyagecache/model"
	"github.com/arunvm123/voyagecache/service"
)

var errEmptyResponse = errors.New("voyage service returned no voyage")

// Options tunes a DataSource.
type Options struct {
	// Window is how long a memoized voyage stays fresh. Default: 30m.
	Window time.Duration
	Now    func() time.Time
	Logger *slog.Logger
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

// DataSource wraps the remote voyage service and memoizes its last
// successful response.
type DataSource struct {
	remote service.VoyageService
	opts   Options

	mu       sync.Mutex
	memo     *model.Voyage
	memoedAt time.Time
}

func New(remote service.VoyageService, opts Options) *DataSource {
	opts.defaults()
	return &DataSource{remote: remote, opts: opts}
}

// Fetch returns the memoized voyage while it is fresh, otherwise calls the
// remote service. On remote failure an expired memo is still served, paired
// with a StaleDataWarning so the caller does not mistake it for fresh data.
func (d *DataSource) Fetch(ctx context.Context, forceRefresh bool) (*model.Voyage, *model.StaleDataWarning, error) {
	if !forceRefresh {
		if memo, ok := d.freshMemo(); ok {
			return memo, nil, nil
		}
	}

	voyage, err := d.remote.FetchVoyage(ctx, forceRefresh)
	if err == nil && voyage != nil {
		d.mu.Lock()
		d.memo = voyage
		d.memoedAt = d.opts.Now()
		d.mu.Unlock()
		return voyage, nil, nil
	}
	if err == nil {
		err = errEmptyResponse
	}

	d.mu.Lock()
	memo, memoedAt := d.memo, d.memoedAt
	d.mu.Unlock()

	if memo == nil {
		return nil, nil, &model.FetchError{Cause: err}
	}

	warning := &model.StaleDataWarning{Source: "memo", Age: d.opts.Now().Sub(memoedAt), Cause: err}
	d.opts.Logger.WarnContext(ctx, "voyage service unavailable, serving memoized voyage",
		"age", warning.Age.Round(time.Second), "error", err)
	return memo, warning, nil
}

// ClearMemo drops the memoized voyage
func (d *DataSource) ClearMemo() {
	d.mu.Lock()
	d.memo = nil
	d.memoedAt = time.Time{}
	d.mu.Unlock()
}

func (d *DataSource) freshMemo() (*model.Voyage, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.memo == nil || d.opts.Now().Sub(d.memoedAt) >= d.opts.Window {
		return nil, false
	}
	return d.memo, true
}
