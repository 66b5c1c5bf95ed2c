package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/trike-dispatch/internal/geo"
	"github.com/example/trike-dispatch/internal/models"
)

// MemoryStore keeps everything in maps behind one lock. It backs local
// runs and tests; the conditional-claim semantics match the Postgres
// store exactly because both claim paths evaluate their guard and
// write under the same critical section.
type MemoryStore struct {
	mu        sync.RWMutex
	trips     map[string]models.Trip
	scheduled map[string]models.ScheduledRide
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		trips:     make(map[string]models.Trip),
		scheduled: make(map[string]models.ScheduledRide),
	}
}

func (m *MemoryStore) CreateTrip(_ context.Context, t *models.Trip) error {
	prepareTrip(t)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trips[t.ID] = cloneTrip(*t)
	return nil
}

func (m *MemoryStore) GetTrip(_ context.Context, id string) (*models.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trips[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := cloneTrip(t)
	return &c, nil
}

func (m *MemoryStore) ListByPassenger(_ context.Context, passengerID string, limit int) ([]models.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Trip
	for _, t := range m.trips {
		if t.PassengerID == passengerID {
			out = append(out, cloneTrip(t))
		}
	}
	sortNewestFirst(out)
	return truncate(out, limit), nil
}

func (m *MemoryStore) ListByDriver(_ context.Context, driverID string, limit int) ([]models.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Trip
	for _, t := range m.trips {
		if t.DriverID != nil && *t.DriverID == driverID {
			out = append(out, cloneTrip(t))
		}
	}
	sortNewestFirst(out)
	return truncate(out, limit), nil
}

func (m *MemoryStore) ListUnclaimed(_ context.Context, createdAfter time.Time) ([]models.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Trip
	for _, t := range m.trips {
		if !t.Status.Dispatchable() || t.DriverID != nil {
			continue
		}
		if t.CreatedAt.Before(createdAfter) {
			continue
		}
		out = append(out, cloneTrip(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) AssignDriver(_ context.Context, tripID string, a models.Assignment) (*models.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[tripID]
	if !ok {
		return nil, ErrNotFound
	}
	if t.DriverID != nil || !claimable(t.Status) {
		return nil, ErrAlreadyClaimed
	}
	id := a.DriverID
	t.DriverID = &id
	t.DriverName = a.DriverName
	t.PlateNumber = a.PlateNumber
	t.Status = models.StatusDriverAccepted
	m.trips[tripID] = t
	c := cloneTrip(t)
	return &c, nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, tripID string, status models.TripStatus, at time.Time) (*models.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[tripID]
	if !ok {
		return nil, ErrNotFound
	}
	if t.Status.Terminal() {
		return nil, ErrTerminal
	}
	t.Status = status
	switch status {
	case models.StatusInProgress:
		if t.StartedAt == nil {
			stamp := at
			t.StartedAt = &stamp
		}
	case models.StatusCompleted:
		if t.CompletedAt == nil {
			stamp := at
			t.CompletedAt = &stamp
		}
	}
	m.trips[tripID] = t
	c := cloneTrip(t)
	return &c, nil
}

func (m *MemoryStore) SetPayment(_ context.Context, tripID string, method models.PaymentMethod, status models.PaymentStatus, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[tripID]
	if !ok {
		return ErrNotFound
	}
	t.PaymentMethod = method
	t.PaymentStatus = status
	if ref != "" {
		t.PaymentRef = ref
	}
	m.trips[tripID] = t
	return nil
}

func (m *MemoryStore) SetRating(_ context.Context, tripID string, by models.Role, stars int, feedback string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[tripID]
	if !ok {
		return ErrNotFound
	}
	s := stars
	if by == models.RoleDriver {
		t.PassengerRating = &s
		t.PassengerFeedback = feedback
	} else {
		t.DriverRating = &s
		t.DriverFeedback = feedback
	}
	m.trips[tripID] = t
	return nil
}

func (m *MemoryStore) DriverRatingSummary(_ context.Context, driverID string) (float64, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sum, count int
	for _, t := range m.trips {
		if t.DriverID == nil || *t.DriverID != driverID || t.DriverRating == nil {
			continue
		}
		sum += *t.DriverRating
		count++
	}
	if count == 0 {
		return 0, 0, nil
	}
	return float64(sum) / float64(count), count, nil
}

func (m *MemoryStore) CountCompletedPickupsNear(_ context.Context, center models.Coord, radiusKm float64, hour int, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, t := range m.trips {
		if t.Status != models.StatusCompleted || t.Pickup == nil {
			continue
		}
		if t.CreatedAt.Before(since) {
			continue
		}
		if t.CreatedAt.Local().Hour() != hour {
			continue
		}
		if geo.HaversineKm(center.Lat, center.Lon, t.Pickup.Lat, t.Pickup.Lon) > radiusKm {
			continue
		}
		count++
	}
	return count, nil
}

func (m *MemoryStore) CreateScheduled(_ context.Context, s *models.ScheduledRide) error {
	prepareScheduled(s)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduled[s.ID] = cloneScheduled(*s)
	return nil
}

func (m *MemoryStore) GetScheduled(_ context.Context, id string) (*models.ScheduledRide, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scheduled[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := cloneScheduled(s)
	return &c, nil
}

func (m *MemoryStore) ListAvailable(_ context.Context, now time.Time) ([]models.ScheduledRide, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ScheduledRide
	for _, s := range m.scheduled {
		if s.Status != models.ScheduledOpen || s.DriverID != nil {
			continue
		}
		if s.ScheduledAt.Before(now) {
			continue
		}
		out = append(out, cloneScheduled(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (m *MemoryStore) ListScheduledByPassenger(_ context.Context, passengerID string, limit int) ([]models.ScheduledRide, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ScheduledRide
	for _, s := range m.scheduled {
		if s.PassengerID == passengerID {
			out = append(out, cloneScheduled(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return truncateScheduled(out, limit), nil
}

func (m *MemoryStore) ClaimScheduled(_ context.Context, id string, a models.Assignment) (*models.ScheduledRide, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scheduled[id]
	if !ok {
		return nil, ErrNotFound
	}
	if s.DriverID != nil || s.Status != models.ScheduledOpen {
		return nil, ErrAlreadyClaimed
	}
	driverID := a.DriverID
	s.DriverID = &driverID
	s.DriverName = a.DriverName
	s.PlateNumber = a.PlateNumber
	s.Status = models.ScheduledAccepted
	m.scheduled[id] = s
	c := cloneScheduled(s)
	return &c, nil
}

func (m *MemoryStore) ReleaseScheduled(_ context.Context, id, driverID string) (*models.ScheduledRide, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scheduled[id]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status != models.ScheduledAccepted || s.DriverID == nil || *s.DriverID != driverID {
		return nil, ErrAlreadyClaimed
	}
	s.DriverID = nil
	s.DriverName = ""
	s.PlateNumber = ""
	s.Status = models.ScheduledOpen
	m.scheduled[id] = s
	c := cloneScheduled(s)
	return &c, nil
}

func (m *MemoryStore) CancelScheduled(_ context.Context, id string) (*models.ScheduledRide, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scheduled[id]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status.Terminal() {
		return nil, ErrTerminal
	}
	s.Status = models.ScheduledCancelled
	m.scheduled[id] = s
	c := cloneScheduled(s)
	return &c, nil
}

func (m *MemoryStore) CompleteScheduled(_ context.Context, id, driverID string) (*models.ScheduledRide, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scheduled[id]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status != models.ScheduledAccepted || s.DriverID == nil || *s.DriverID != driverID {
		return nil, ErrAlreadyClaimed
	}
	s.Status = models.ScheduledCompleted
	m.scheduled[id] = s
	c := cloneScheduled(s)
	return &c, nil
}

func sortNewestFirst(trips []models.Trip) {
	sort.Slice(trips, func(i, j int) bool { return trips[i].CreatedAt.After(trips[j].CreatedAt) })
}

func truncate(trips []models.Trip, limit int) []models.Trip {
	if limit > 0 && len(trips) > limit {
		return trips[:limit]
	}
	return trips
}

func truncateScheduled(rides []models.ScheduledRide, limit int) []models.ScheduledRide {
	if limit > 0 && len(rides) > limit {
		return rides[:limit]
	}
	return rides
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTrip(t models.Trip) models.Trip {
	t.DriverID = clonePtr(t.DriverID)
	t.Pickup = clonePtr(t.Pickup)
	t.Dropoff = clonePtr(t.Dropoff)
	t.DistanceKm = clonePtr(t.DistanceKm)
	t.StartedAt = clonePtr(t.StartedAt)
	t.CompletedAt = clonePtr(t.CompletedAt)
	t.DriverRating = clonePtr(t.DriverRating)
	t.PassengerRating = clonePtr(t.PassengerRating)
	return t
}

func cloneScheduled(s models.ScheduledRide) models.ScheduledRide {
	s.DriverID = clonePtr(s.DriverID)
	s.Pickup = clonePtr(s.Pickup)
	s.Dropoff = clonePtr(s.Dropoff)
	return s
}
