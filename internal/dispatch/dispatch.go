package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/example/trike-dispatch/internal/eta"
	"github.com/example/trike-dispatch/internal/geo"
	"github.com/example/trike-dispatch/internal/models"
	"github.com/example/trike-dispatch/internal/observability"
	"github.com/example/trike-dispatch/internal/storage"
)

// ErrAlreadyTaken reports a claim race lost to another driver.
var ErrAlreadyTaken = errors.New("trip already taken")

// Candidate is one open trip on a driver's board. Distance and ETA are
// zero when either side has no coordinates.
type Candidate struct {
	Trip       models.Trip `json:"trip"`
	DistanceKm float64     `json:"distance_km"`
	EtaMin     int         `json:"eta_min"`

	sortKm float64
}

// EventSink matches the trip-event producer; claims are announced on it.
type EventSink interface {
	PublishTripEvent(ctx context.Context, tripID string, status models.TripStatus, driverID string) error
}

// Service is the first-accept-wins dispatcher. Every online driver sees
// the same board; the store's conditional update picks the single
// winner.
type Service struct {
	Store      storage.TripStore
	Geo        geo.Index     // optional, fills driver name/plate on accept
	Registry   *WSRegistry   // optional, push board changes to sessions
	Events     EventSink     // optional
	StaleAfter time.Duration // board drops requests older than this
	SpeedKmh   float64
	Logger     *slog.Logger

	Now func() time.Time // test hook
}

// Board lists open trips for a driver, nearest pickup first. Trips
// without a pickup point keep creation order at the end.
func (s *Service) Board(ctx context.Context, driverLoc *models.Coord) ([]Candidate, error) {
	stale := s.StaleAfter
	if stale <= 0 {
		stale = time.Hour
	}
	rows, err := s.Store.ListUnclaimed(ctx, s.clock().Add(-stale))
	if err != nil {
		return nil, err
	}
	cands := make([]Candidate, 0, len(rows))
	for _, t := range rows {
		// the store already filters, but a stale row can slip through a
		// replica lag window; check both sides of the status fence again
		if !t.Status.Dispatchable() || t.Status.Terminal() || models.HasDriver(t.Status) || t.DriverID != nil {
			continue
		}
		c := Candidate{Trip: t, sortKm: -1}
		if driverLoc != nil && t.Pickup != nil {
			c.DistanceKm = geo.HaversineKm(driverLoc.Lat, driverLoc.Lon, t.Pickup.Lat, t.Pickup.Lon)
			c.EtaMin = eta.MinutesAt(c.DistanceKm, s.SpeedKmh)
			c.sortKm = c.DistanceKm
		}
		cands = append(cands, c)
	}
	sort.SliceStable(cands, func(i, j int) bool {
		ki, kj := cands[i].sortKm, cands[j].sortKm
		if ki < 0 {
			return false
		}
		if kj < 0 {
			return true
		}
		return ki < kj
	})
	return cands, nil
}

// Accept claims a trip for a driver. The store update is conditional,
// so of N concurrent accepts exactly one wins; the rest get
// ErrAlreadyTaken.
func (s *Service) Accept(ctx context.Context, tripID string, asg models.Assignment) (*models.Trip, error) {
	start := time.Now()
	observability.AcceptAttempts.Inc()

	t, err := s.Store.GetTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if t.DriverID != nil || !t.Status.Dispatchable() {
		observability.AcceptConflicts.Inc()
		return nil, ErrAlreadyTaken
	}
	s.fillDriverMeta(&asg)

	claimed, err := s.Store.AssignDriver(ctx, tripID, asg)
	if errors.Is(err, storage.ErrAlreadyClaimed) {
		observability.AcceptConflicts.Inc()
		return nil, ErrAlreadyTaken
	}
	if err != nil {
		return nil, err
	}
	observability.AcceptWins.Inc()
	observability.AcceptLatency.Observe(time.Since(start).Seconds())

	if s.Registry != nil {
		s.Registry.Broadcast(Notice{Kind: NoticeTripTaken, TripID: tripID})
	}
	if s.Events != nil {
		if err := s.Events.PublishTripEvent(ctx, tripID, claimed.Status, asg.DriverID); err != nil {
			s.log().Warn("claim event publish failed", "trip_id", tripID, "err", err)
		}
	}
	s.log().Info("trip claimed", "trip_id", tripID, "driver_id", asg.DriverID)
	return claimed, nil
}

// Announce pushes a freshly booked trip to every connected driver.
func (s *Service) Announce(t *models.Trip) {
	if s.Registry == nil || t == nil {
		return
	}
	s.Registry.Broadcast(Notice{
		Kind:    NoticeTripPosted,
		TripID:  t.ID,
		Pickup:  t.PickupLabel,
		Dropoff: t.DropoffLabel,
		Fare:    t.FinalFare,
	})
}

func (s *Service) fillDriverMeta(asg *models.Assignment) {
	if s.Geo == nil || (asg.DriverName != "" && asg.PlateNumber != "") {
		return
	}
	d, ok := s.Geo.Get(asg.DriverID)
	if !ok {
		return
	}
	if asg.DriverName == "" {
		asg.DriverName = d.Name
	}
	if asg.PlateNumber == "" {
		asg.PlateNumber = d.Plate
	}
}

func (s *Service) clock() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
