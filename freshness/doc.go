// Package freshness coordinates access to the tracked voyage.
//
// A Manager sits in front of a memoizing data source and a durable cache.
// It owns the authoritative ManagerState and is the only thing that mutates
// it. Callers interact through Load, Refresh, ClearAll, IsCacheValid,
// GetState and Subscribe.
//
// # Coalescing
//
// Load and Refresh share one in-flight pipeline. Callers that arrive while a
// pipeline is running wait for it and receive the same voyage or the same
// error. The pipeline runs detached from the caller's context, so a caller
// that gives up stops waiting without cancelling the fetch for others.
//
// # Fallback
//
// When the data source fails and the manager holds no voyage yet, the
// durable cache is read ignoring expiry. An expired entry is served with the
// original error recorded in state.
//
// # Generations
//
// ClearAll advances a generation counter. A pipeline that started before the
// clear neither writes the durable cache nor applies its result to state.
//
// # Notification
//
// Every state change is queued and delivered on a dedicated goroutine, in
// order, with no manager lock held. Observers may call back into the manager.
// States equal to the previous one are not delivered.
package freshness
