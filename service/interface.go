package service

import (
	"context"

	"github.com/arunvm123/voyagecache/model"
)

// VoyageService defines the remote fetch capability for the tracked booking
type VoyageService interface {
	// FetchVoyage retrieves the booking from the voyage API. forceRefresh asks
	// upstream caches to be bypassed.
	FetchVoyage(ctx context.Context, forceRefresh bool) (*model.Voyage, error)
}
