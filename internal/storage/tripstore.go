package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/example/trike-dispatch/internal/models"
)

var (
	// ErrNotFound: no record under that id.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyClaimed: a conditional claim/release lost to another
	// actor. The caller refreshes and moves on; nothing is broken.
	ErrAlreadyClaimed = errors.New("already claimed")
	// ErrTerminal: the record is completed or cancelled and refuses
	// further writes.
	ErrTerminal = errors.New("record is terminal")
)

// TripStore defines persistence for on-demand trips. Claims go through
// AssignDriver, whose guard is evaluated atomically against current
// storage state; plain status writes are last-write-wins but never
// overwrite a terminal trip.
type TripStore interface {
	CreateTrip(ctx context.Context, t *models.Trip) error
	GetTrip(ctx context.Context, id string) (*models.Trip, error)
	ListByPassenger(ctx context.Context, passengerID string, limit int) ([]models.Trip, error)
	ListByDriver(ctx context.Context, driverID string, limit int) ([]models.Trip, error)

	// ListUnclaimed returns dispatchable trips created at or after the
	// cutoff: status still in the searching set and no driver attached.
	ListUnclaimed(ctx context.Context, createdAfter time.Time) ([]models.Trip, error)

	// AssignDriver attaches the driver to a still-unclaimed trip and
	// moves it to driver_accepted in one conditional write. Exactly one
	// concurrent caller wins; the rest get ErrAlreadyClaimed.
	AssignDriver(ctx context.Context, tripID string, a models.Assignment) (*models.Trip, error)

	// UpdateStatus writes the new status and stamps started_at /
	// completed_at as the status dictates.
	UpdateStatus(ctx context.Context, tripID string, status models.TripStatus, at time.Time) (*models.Trip, error)

	SetPayment(ctx context.Context, tripID string, method models.PaymentMethod, status models.PaymentStatus, ref string) error
	SetRating(ctx context.Context, tripID string, by models.Role, stars int, feedback string) error

	// DriverRatingSummary aggregates the passenger-given ratings across
	// a driver's trips.
	DriverRatingSummary(ctx context.Context, driverID string) (avg float64, count int, err error)

	// CountCompletedPickupsNear counts completed trips since the given
	// time whose pickup falls inside the radius and whose creation hour
	// matches hour (local clock).
	CountCompletedPickupsNear(ctx context.Context, center models.Coord, radiusKm float64, hour int, since time.Time) (int, error)
}

// ScheduledStore defines persistence for future-dated bookings. Claim,
// release and complete are conditional the same way trip claims are.
type ScheduledStore interface {
	CreateScheduled(ctx context.Context, s *models.ScheduledRide) error
	GetScheduled(ctx context.Context, id string) (*models.ScheduledRide, error)

	// ListAvailable returns open rides no driver holds whose pickup
	// time has not passed.
	ListAvailable(ctx context.Context, now time.Time) ([]models.ScheduledRide, error)
	ListScheduledByPassenger(ctx context.Context, passengerID string, limit int) ([]models.ScheduledRide, error)

	ClaimScheduled(ctx context.Context, id string, a models.Assignment) (*models.ScheduledRide, error)

	// ReleaseScheduled undoes a claim: the holder backs out, driver
	// fields clear, and the ride returns to the open pool.
	ReleaseScheduled(ctx context.Context, id, driverID string) (*models.ScheduledRide, error)

	CancelScheduled(ctx context.Context, id string) (*models.ScheduledRide, error)
	CompleteScheduled(ctx context.Context, id, driverID string) (*models.ScheduledRide, error)
}

// Store is what the wiring layer hands around: both record families
// behind one value.
type Store interface {
	TripStore
	ScheduledStore
}

// prepareTrip fills the fields every new trip needs regardless of
// backend.
func prepareTrip(t *models.Trip) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if t.Status == "" {
		t.Status = models.StatusSearching
	}
	if t.Mode == "" {
		t.Mode = models.ModeNormal
	}
	if t.PaymentMethod == "" {
		t.PaymentMethod = models.PayCash
	}
	if t.PaymentStatus == "" {
		t.PaymentStatus = models.PaymentPending
	}
}

func prepareScheduled(s *models.ScheduledRide) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	if s.Status == "" {
		s.Status = models.ScheduledOpen
	}
}

// claimableStatuses are the trip states a driver may claim from.
var claimableStatuses = []models.TripStatus{
	models.StatusSearching,
	models.StatusPending,
	models.StatusDriverFound,
}

func claimable(s models.TripStatus) bool {
	for _, c := range claimableStatuses {
		if s == c {
			return true
		}
	}
	return false
}
