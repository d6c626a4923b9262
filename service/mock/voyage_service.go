package mock

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/arunvm123/voyagecache/model"
	"github.com/arunvm123/voyagecache/service"
)

var ErrSimulatedOutage = errors.New("simulated voyage service outage")

// MockVoyageService serves a fixed itinerary with simulated latency and failures
type MockVoyageService struct {
	bookingID   string
	latency     time.Duration
	failureRate float64

	mu    sync.Mutex
	rng   *rand.Rand
	calls int
}

var _ service.VoyageService = (*MockVoyageService)(nil)

func NewMockVoyageService(bookingID string, latency time.Duration, failureRate float64) *MockVoyageService {
	return &MockVoyageService{
		bookingID:   bookingID,
		latency:     latency,
		failureRate: failureRate,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *MockVoyageService) FetchVoyage(ctx context.Context, forceRefresh bool) (*model.Voyage, error) {
	s.mu.Lock()
	s.calls++
	fail := s.failureRate > 0 && s.rng.Float64() < s.failureRate
	s.mu.Unlock()

	if s.latency > 0 {
		timer := time.NewTimer(s.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if fail {
		return nil, ErrSimulatedOutage
	}

	return sampleVoyage(s.bookingID), nil
}

// Calls returns how many fetches were attempted
func (s *MockVoyageService) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func sampleVoyage(bookingID string) *model.Voyage {
	embark := time.Date(2026, 6, 12, 16, 0, 0, 0, time.UTC)
	at := func(day int, hour int) *time.Time {
		t := embark.AddDate(0, 0, day-1).Truncate(24 * time.Hour).Add(time.Duration(hour) * time.Hour)
		return &t
	}

	return &model.Voyage{
		BookingID:   bookingID,
		Reference:   "AUR-" + bookingID,
		ShipName:    "Aurora",
		ShipCode:    "AU",
		GuestName:   "Sample Guest",
		Cabin:       "D214",
		Status:      "confirmed",
		EmbarkAt:    embark,
		DisembarkAt: embark.AddDate(0, 0, 4),
		Segments: []model.Segment{
			{Day: 1, Port: "Southampton", DepartAt: at(1, 17)},
			{Day: 2, AtSea: true},
			{Day: 3, Port: "Bilbao", ArriveAt: at(3, 8), DepartAt: at(3, 18)},
			{Day: 4, Port: "La Coruna", ArriveAt: at(4, 9), DepartAt: at(4, 17)},
			{Day: 5, Port: "Southampton", ArriveAt: at(5, 7)},
		},
	}
}
