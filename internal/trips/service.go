package trips

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/trike-dispatch/internal/fare"
	"github.com/example/trike-dispatch/internal/geo"
	"github.com/example/trike-dispatch/internal/models"
	"github.com/example/trike-dispatch/internal/observability"
	"github.com/example/trike-dispatch/internal/storage"
)

var (
	ErrBadRequest        = errors.New("invalid request")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotAssigned       = errors.New("actor does not hold this trip")
	ErrNotCompleted      = errors.New("trip is not completed")
	ErrBadRating         = errors.New("rating must be between 1 and 5")
)

// EventSink receives trip lifecycle events. Publishing is best-effort;
// failures are logged, never surfaced to the caller.
type EventSink interface {
	PublishTripEvent(ctx context.Context, tripID string, status models.TripStatus, driverID string) error
}

// Settler moves money at lifecycle points. Hold runs when a card trip
// starts, Settle when any trip completes, Release when a held trip is
// cancelled.
type Settler interface {
	Hold(ctx context.Context, t *models.Trip) error
	Settle(ctx context.Context, t *models.Trip) error
	Release(ctx context.Context, t *models.Trip) error
}

// Request is a passenger's booking. Dropoff drives the fare quote;
// coordinates are optional and only improve distance-based pricing.
type Request struct {
	PassengerID   string
	PassengerName string
	PickupLabel   string
	Pickup        *models.Coord
	DropoffLabel  string
	Dropoff       *models.Coord
	DistanceKm    float64
	Mode          models.RideMode
	DiscountType  models.DiscountType
	PaymentMethod models.PaymentMethod
	Notes         string
}

// RatingSummary is the aggregate a driver shows on their profile.
type RatingSummary struct {
	Average float64 `json:"average"`
	Count   int     `json:"count"`
}

type Service struct {
	Store  storage.TripStore
	Fares  *fare.Engine
	Events EventSink    // optional
	Pay    Settler      // optional
	Logger *slog.Logger // optional, defaults to slog.Default

	Now func() time.Time // test hook
}

// Book prices the ride and persists it in searching state so dispatch
// can offer it to drivers.
func (s *Service) Book(ctx context.Context, req Request) (*models.Trip, error) {
	if req.PassengerID == "" {
		return nil, fmt.Errorf("%w: passenger_id required", ErrBadRequest)
	}
	if req.DropoffLabel == "" {
		return nil, fmt.Errorf("%w: dropoff required", ErrBadRequest)
	}
	km := req.DistanceKm
	if km <= 0 && req.Pickup != nil && req.Dropoff != nil {
		km = geo.HaversineKm(req.Pickup.Lat, req.Pickup.Lon, req.Dropoff.Lat, req.Dropoff.Lon)
	}
	now := s.clock()
	q := s.Fares.Quote(fare.Request{
		Destination: req.DropoffLabel,
		DistanceKm:  km,
		Night:       fare.IsNightHour(now.Hour()),
		Senior:      req.DiscountType == models.DiscountSenior,
		PWD:         req.DiscountType == models.DiscountPWD,
		Errand:      req.Mode == models.ModeErrand,
	})

	t := &models.Trip{
		PassengerID:    req.PassengerID,
		PassengerName:  req.PassengerName,
		PickupLabel:    req.PickupLabel,
		Pickup:         req.Pickup,
		DropoffLabel:   req.DropoffLabel,
		Dropoff:        req.Dropoff,
		BaseFare:       q.Base,
		DiscountAmount: q.DiscountAmount,
		DiscountType:   q.DiscountType,
		FinalFare:      q.Fare,
		Mode:           req.Mode,
		Notes:          req.Notes,
		PaymentMethod:  req.PaymentMethod,
	}
	if km > 0 {
		t.DistanceKm = &km
	}
	if err := s.Store.CreateTrip(ctx, t); err != nil {
		return nil, err
	}
	observability.TripsRequested.Inc()
	observability.QuotesTotal.WithLabelValues(string(q.Source)).Inc()
	s.publish(ctx, t)
	s.log().Info("trip requested",
		"trip_id", t.ID, "dropoff", t.DropoffLabel, "fare", t.FinalFare, "source", q.Source)
	return t, nil
}

// MarkArrived records the driver reaching the pickup point.
func (s *Service) MarkArrived(ctx context.Context, tripID, driverID string) (*models.Trip, error) {
	return s.driverTransition(ctx, tripID, driverID, models.StatusArrived)
}

// Start moves the trip onto the road. Card fares get a hold placed so
// completion only has to capture.
func (s *Service) Start(ctx context.Context, tripID, driverID string) (*models.Trip, error) {
	t, err := s.driverTransition(ctx, tripID, driverID, models.StatusInProgress)
	if err != nil {
		return nil, err
	}
	if s.Pay != nil && t.PaymentMethod == models.PayCard {
		if err := s.Pay.Hold(ctx, t); err != nil {
			s.log().Warn("payment hold failed", "trip_id", t.ID, "err", err)
		} else {
			t, err = s.Store.GetTrip(ctx, tripID)
			if err != nil {
				return nil, err
			}
		}
	}
	return t, nil
}

// Complete finishes the trip and settles its fare.
func (s *Service) Complete(ctx context.Context, tripID, driverID string) (*models.Trip, error) {
	t, err := s.driverTransition(ctx, tripID, driverID, models.StatusCompleted)
	if err != nil {
		return nil, err
	}
	observability.TripsCompleted.Inc()
	if s.Pay != nil {
		if err := s.Pay.Settle(ctx, t); err != nil {
			s.log().Warn("payment settle failed", "trip_id", t.ID, "err", err)
		} else {
			t, err = s.Store.GetTrip(ctx, tripID)
			if err != nil {
				return nil, err
			}
		}
	}
	s.log().Info("trip completed", "trip_id", t.ID, "driver_id", driverID, "fare", t.FinalFare)
	return t, nil
}

// Cancel aborts a trip from any live state. Passengers may only cancel
// their own trips, drivers only trips they hold.
func (s *Service) Cancel(ctx context.Context, tripID string, by models.Role, actorID string) (*models.Trip, error) {
	t, err := s.Store.GetTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if actorID != "" {
		switch by {
		case models.RoleDriver:
			if t.DriverID == nil || *t.DriverID != actorID {
				return nil, ErrNotAssigned
			}
		default:
			if t.PassengerID != actorID {
				return nil, ErrNotAssigned
			}
		}
	}
	if !models.CanTransition(t.Status, models.StatusCancelled) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, models.StatusCancelled)
	}
	updated, err := s.Store.UpdateStatus(ctx, tripID, models.StatusCancelled, s.clock())
	if err != nil {
		return nil, err
	}
	observability.TripsCancelled.Inc()
	if s.Pay != nil && updated.PaymentMethod == models.PayCard && updated.PaymentRef != "" {
		if err := s.Pay.Release(ctx, updated); err != nil {
			s.log().Warn("payment release failed", "trip_id", updated.ID, "err", err)
		}
	}
	s.publish(ctx, updated)
	s.log().Info("trip cancelled", "trip_id", updated.ID, "by", by)
	return updated, nil
}

// SubmitRating records post-trip feedback. Passengers rate the driver,
// drivers rate the passenger; both only after completion.
func (s *Service) SubmitRating(ctx context.Context, tripID string, by models.Role, stars int, feedback string) error {
	if stars < 1 || stars > 5 {
		return ErrBadRating
	}
	t, err := s.Store.GetTrip(ctx, tripID)
	if err != nil {
		return err
	}
	if t.Status != models.StatusCompleted {
		return ErrNotCompleted
	}
	return s.Store.SetRating(ctx, tripID, by, stars, feedback)
}

// DriverRating aggregates passenger stars across a driver's trips.
func (s *Service) DriverRating(ctx context.Context, driverID string) (RatingSummary, error) {
	avg, count, err := s.Store.DriverRatingSummary(ctx, driverID)
	if err != nil {
		return RatingSummary{}, err
	}
	return RatingSummary{Average: avg, Count: count}, nil
}

func (s *Service) driverTransition(ctx context.Context, tripID, driverID string, to models.TripStatus) (*models.Trip, error) {
	t, err := s.Store.GetTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if driverID != "" && (t.DriverID == nil || *t.DriverID != driverID) {
		return nil, ErrNotAssigned
	}
	if !models.CanTransition(t.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}
	updated, err := s.Store.UpdateStatus(ctx, tripID, to, s.clock())
	if err != nil {
		return nil, err
	}
	s.publish(ctx, updated)
	return updated, nil
}

func (s *Service) publish(ctx context.Context, t *models.Trip) {
	if s.Events == nil {
		return
	}
	driverID := ""
	if t.DriverID != nil {
		driverID = *t.DriverID
	}
	if err := s.Events.PublishTripEvent(ctx, t.ID, t.Status, driverID); err != nil {
		s.log().Warn("trip event publish failed", "trip_id", t.ID, "err", err)
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
