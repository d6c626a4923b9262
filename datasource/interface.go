package datasource

import (
	"context"

	"github.com/arunvm123/voyagecache/model"
)

// VoyageSource defines the memoizing fetch layer used by the freshness manager.
// A non-nil warning from Fetch marks the voyage as an expired memo served
// in place of a failed remote call.
type VoyageSource interface {
	Fetch(ctx context.Context, forceRefresh bool) (*model.Voyage, *model.StaleDataWarning, error)
	ClearMemo()
}

var _ VoyageSource = (*DataSource)(nil)
