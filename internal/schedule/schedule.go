package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/trike-dispatch/internal/fare"
	"github.com/example/trike-dispatch/internal/models"
	"github.com/example/trike-dispatch/internal/observability"
	"github.com/example/trike-dispatch/internal/storage"
)

var (
	ErrBadRequest = errors.New("invalid request")
	ErrPastDate   = errors.New("scheduled time must be in the future")
)

// Request is a passenger's advance booking. The fare locks in at
// booking time, priced for the scheduled pickup hour.
type Request struct {
	PassengerID   string
	PassengerName string
	PickupLabel   string
	Pickup        *models.Coord
	DropoffLabel  string
	Dropoff       *models.Coord
	DiscountType  models.DiscountType
	Notes         string
	ScheduledAt   time.Time
}

// Manager runs the advance-booking board: passengers post future
// rides, drivers browse and claim them one at a time.
type Manager struct {
	Store  storage.ScheduledStore
	Fares  *fare.Engine
	Logger *slog.Logger

	Now func() time.Time // test hook
}

func (m *Manager) Create(ctx context.Context, req Request) (*models.ScheduledRide, error) {
	if req.PassengerID == "" {
		return nil, fmt.Errorf("%w: passenger_id required", ErrBadRequest)
	}
	if req.DropoffLabel == "" {
		return nil, fmt.Errorf("%w: dropoff required", ErrBadRequest)
	}
	if !req.ScheduledAt.After(m.clock()) {
		return nil, ErrPastDate
	}
	q := m.Fares.Quote(fare.Request{
		Destination: req.DropoffLabel,
		Night:       fare.IsNightHour(req.ScheduledAt.Hour()),
		Senior:      req.DiscountType == models.DiscountSenior,
		PWD:         req.DiscountType == models.DiscountPWD,
	})

	s := &models.ScheduledRide{
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
		Notes:          req.Notes,
		ScheduledAt:    req.ScheduledAt,
	}
	if err := m.Store.CreateScheduled(ctx, s); err != nil {
		return nil, err
	}
	m.log().Info("scheduled ride posted",
		"ride_id", s.ID, "dropoff", s.DropoffLabel, "pickup_at", s.ScheduledAt)
	return s, nil
}

// Available lists open rides whose pickup time has not passed.
func (m *Manager) Available(ctx context.Context) ([]models.ScheduledRide, error) {
	return m.Store.ListAvailable(ctx, m.clock())
}

// Claim hands an open ride to a driver. Conditional at the store, so
// concurrent claims resolve to one holder.
func (m *Manager) Claim(ctx context.Context, rideID string, asg models.Assignment) (*models.ScheduledRide, error) {
	s, err := m.Store.ClaimScheduled(ctx, rideID, asg)
	if err != nil {
		return nil, err
	}
	observability.ScheduledClaims.Inc()
	m.log().Info("scheduled ride claimed", "ride_id", rideID, "driver_id", asg.DriverID)
	return s, nil
}

// CancelByPassenger withdraws the booking entirely.
func (m *Manager) CancelByPassenger(ctx context.Context, rideID, passengerID string) (*models.ScheduledRide, error) {
	s, err := m.Store.GetScheduled(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if passengerID != "" && s.PassengerID != passengerID {
		return nil, fmt.Errorf("%w: not the booking passenger", ErrBadRequest)
	}
	return m.Store.CancelScheduled(ctx, rideID)
}

// CancelByDriver releases the hold and reopens the ride for others.
func (m *Manager) CancelByDriver(ctx context.Context, rideID, driverID string) (*models.ScheduledRide, error) {
	s, err := m.Store.ReleaseScheduled(ctx, rideID, driverID)
	if err != nil {
		return nil, err
	}
	m.log().Info("scheduled ride reopened", "ride_id", rideID, "driver_id", driverID)
	return s, nil
}

// Complete marks the ride served by its holder.
func (m *Manager) Complete(ctx context.Context, rideID, driverID string) (*models.ScheduledRide, error) {
	return m.Store.CompleteScheduled(ctx, rideID, driverID)
}

func (m *Manager) Get(ctx context.Context, rideID string) (*models.ScheduledRide, error) {
	return m.Store.GetScheduled(ctx, rideID)
}

func (m *Manager) ListForPassenger(ctx context.Context, passengerID string) ([]models.ScheduledRide, error) {
	return m.Store.ListScheduledByPassenger(ctx, passengerID, 0)
}

func (m *Manager) clock() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *Manager) log() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}
