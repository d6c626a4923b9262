package model

import (
	"time"
)

// ============================================================================
// SNAPSHOT (the cached unit, JSON tags match the remote booking API)
// ============================================================================

// Voyage represents a guest's ship booking as returned by the voyage API
type Voyage struct {
	BookingID   string    `json:"booking_id"`
	Reference   string    `json:"reference"`
	ShipName    string    `json:"ship_name"`
	ShipCode    string    `json:"ship_code"`
	GuestName   string    `json:"guest_name"`
	Cabin       string    `json:"cabin"`
	Status      string    `json:"status"`
	EmbarkAt    time.Time `json:"embark_at"`
	DisembarkAt time.Time `json:"disembark_at"`
	Segments    []Segment `json:"segments"`
}

// Segment represents one day of the itinerary
type Segment struct {
	Day      int        `json:"day"`
	Port     string     `json:"port"`
	ArriveAt *time.Time `json:"arrive_at,omitempty"`
	DepartAt *time.Time `json:"depart_at,omitempty"`
	AtSea    bool       `json:"at_sea"`
}

// Nights returns the number of nights between embarkation and disembarkation
func (v *Voyage) Nights() int {
	if v.DisembarkAt.Before(v.EmbarkAt) {
		return 0
	}
	return int(v.DisembarkAt.Sub(v.EmbarkAt).Hours() / 24)
}

// ============================================================================
// DURABLE CACHE STRUCTURES
// ============================================================================

// CacheEntry is the envelope persisted in the key-value store.
// Timestamp is the fetch time in unix milliseconds.
type CacheEntry struct {
	Data      *Voyage `json:"data"`
	Timestamp int64   `json:"timestamp"`
}

// FetchedAt returns the entry timestamp as a time.Time
func (e *CacheEntry) FetchedAt() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// CacheMetadata describes a stored entry without its payload
type CacheMetadata struct {
	FetchedAt time.Time
}

// ============================================================================
// MANAGER STATE
// ============================================================================

// ManagerState is the authoritative in-memory view owned by the freshness manager.
// Error and Snapshot may both be set when stale data is being served.
type ManagerState struct {
	IsLoading   bool
	Error       error
	Snapshot    *Voyage
	LastUpdated *time.Time
}

// Equal reports whether two states carry the same values. Snapshots and errors
// are compared by identity since both are replaced, never mutated.
func (s ManagerState) Equal(other ManagerState) bool {
	if s.IsLoading != other.IsLoading || s.Error != other.Error || s.Snapshot != other.Snapshot {
		return false
	}
	if s.LastUpdated == nil || other.LastUpdated == nil {
		return s.LastUpdated == nil && other.LastUpdated == nil
	}
	return s.LastUpdated.Equal(*other.LastUpdated)
}

// Clone returns a copy whose LastUpdated pointer is not shared
func (s ManagerState) Clone() ManagerState {
	dup := s
	if s.LastUpdated != nil {
		ts := *s.LastUpdated
		dup.LastUpdated = &ts
	}
	return dup
}

// ToStateResponse converts the state to its API representation
func (s ManagerState) ToStateResponse(cacheValid bool) *StateResponse {
	response := &StateResponse{
		IsLoading:   s.IsLoading,
		Voyage:      s.Snapshot,
		LastUpdated: s.LastUpdated,
		CacheValid:  cacheValid,
	}
	if s.Error != nil {
		response.Error = s.Error.Error()
	}
	return response
}

// ============================================================================
// API DATA TRANSFER OBJECTS (External - JSON tags for HTTP)
// ============================================================================

// StateResponse represents the manager state in API responses and SSE events
type StateResponse struct {
	IsLoading   bool       `json:"is_loading"`
	Error       string     `json:"error,omitempty"`
	Voyage      *Voyage    `json:"voyage,omitempty"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
	CacheValid  bool       `json:"cache_valid"`
}

// VoyageResponse represents the API response for load and refresh
type VoyageResponse struct {
	Voyage      *Voyage    `json:"voyage"`
	Nights      int        `json:"nights"`
	Stale       bool       `json:"stale"`
	Warning     string     `json:"warning,omitempty"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Service   string    `json:"service"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ============================================================================
// KAFKA MESSAGE STRUCTURES
// ============================================================================

// Refresh command actions
const (
	ActionLoad    = "load"
	ActionRefresh = "refresh"
	ActionClear   = "clear"
)

// RefreshCommand represents an on-demand request consumed from the command topic
type RefreshCommand struct {
	RequestID   string    `json:"request_id"`
	Action      string    `json:"action"`
	RequestedBy string    `json:"requested_by,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// StateChangeEvent represents a manager state transition on the state topic
type StateChangeEvent struct {
	EventID     string     `json:"event_id"`
	BookingID   string     `json:"booking_id,omitempty"`
	ShipName    string     `json:"ship_name,omitempty"`
	Status      string     `json:"status,omitempty"`
	IsLoading   bool       `json:"is_loading"`
	HasSnapshot bool       `json:"has_snapshot"`
	Error       string     `json:"error,omitempty"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
}

// ============================================================================
// CONVERSION METHODS
// ============================================================================

// ToStateChangeEvent converts a manager state to a state feed message
func (s ManagerState) ToStateChangeEvent(eventID string, now time.Time) *StateChangeEvent {
	event := &StateChangeEvent{
		EventID:     eventID,
		IsLoading:   s.IsLoading,
		HasSnapshot: s.Snapshot != nil,
		LastUpdated: s.LastUpdated,
		Timestamp:   now,
	}
	if s.Snapshot != nil {
		event.BookingID = s.Snapshot.BookingID
		event.ShipName = s.Snapshot.ShipName
		event.Status = s.Snapshot.Status
	}
	if s.Error != nil {
		event.Error = s.Error.Error()
	}
	return event
}
