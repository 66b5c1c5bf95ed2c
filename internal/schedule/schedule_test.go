package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/trike-dispatch/internal/fare"
	"github.com/example/trike-dispatch/internal/models"
	"github.com/example/trike-dispatch/internal/storage"
)

func newManager(now time.Time) (*Manager, *storage.MemoryStore) {
	store := storage.NewMemoryStore()
	m := &Manager{
		Store: store,
		Fares: fare.NewEngine(nil, nil, ""),
		Now:   func() time.Time { return now },
	}
	return m, store
}

func TestCreateLocksFareForPickupHour(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 20, 9, 0, 0, 0, time.Local)
	m, _ := newManager(now)

	ride, err := m.Create(ctx, Request{
		PassengerID:  "p1",
		DropoffLabel: "POBLACION",
		DiscountType: models.DiscountPWD,
		ScheduledAt:  now.Add(26 * time.Hour),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ride.Status != models.ScheduledOpen {
		t.Fatalf("status %s, want scheduled", ride.Status)
	}
	if ride.BaseFare != 13 || ride.FinalFare != 10 || ride.DiscountType != models.DiscountPWD {
		t.Fatalf("fare mismatch: %+v", ride)
	}
}

func TestCreateRejectsPastDate(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 20, 9, 0, 0, 0, time.Local)
	m, _ := newManager(now)

	_, err := m.Create(ctx, Request{PassengerID: "p1", DropoffLabel: "POBLACION", ScheduledAt: now.Add(-time.Minute)})
	if !errors.Is(err, ErrPastDate) {
		t.Fatalf("got %v, want ErrPastDate", err)
	}
	_, err = m.Create(ctx, Request{PassengerID: "p1", ScheduledAt: now.Add(time.Hour)})
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("got %v, want ErrBadRequest", err)
	}
}

func TestClaimReleaseReopens(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 20, 9, 0, 0, 0, time.Local)
	m, _ := newManager(now)

	ride, err := m.Create(ctx, Request{PassengerID: "p1", DropoffLabel: "SUGOD", ScheduledAt: now.Add(3 * time.Hour)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	claimed, err := m.Claim(ctx, ride.ID, models.Assignment{DriverID: "d1", DriverName: "Ka Tony"})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != models.ScheduledAccepted || claimed.DriverID == nil {
		t.Fatalf("claim not recorded: %+v", claimed)
	}

	if _, err := m.Claim(ctx, ride.ID, models.Assignment{DriverID: "d2"}); !errors.Is(err, storage.ErrAlreadyClaimed) {
		t.Fatalf("got %v, want ErrAlreadyClaimed", err)
	}

	avail, err := m.Available(ctx)
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if len(avail) != 0 {
		t.Fatalf("claimed ride still listed: %+v", avail)
	}

	reopened, err := m.CancelByDriver(ctx, ride.ID, "d1")
	if err != nil {
		t.Fatalf("driver cancel: %v", err)
	}
	if reopened.Status != models.ScheduledOpen || reopened.DriverID != nil || reopened.DriverName != "" {
		t.Fatalf("ride not reopened: %+v", reopened)
	}

	avail, err = m.Available(ctx)
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if len(avail) != 1 || avail[0].ID != ride.ID {
		t.Fatalf("reopened ride missing from pool: %+v", avail)
	}
}

func TestPassengerCancelIsFinal(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 20, 9, 0, 0, 0, time.Local)
	m, _ := newManager(now)

	ride, err := m.Create(ctx, Request{PassengerID: "p1", DropoffLabel: "SUGOD", ScheduledAt: now.Add(3 * time.Hour)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.CancelByPassenger(ctx, ride.ID, "p2"); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("stranger cancel: got %v", err)
	}
	got, err := m.CancelByPassenger(ctx, ride.ID, "p1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != models.ScheduledCancelled {
		t.Fatalf("status %s, want cancelled", got.Status)
	}
	if _, err := m.Claim(ctx, ride.ID, models.Assignment{DriverID: "d1"}); !errors.Is(err, storage.ErrAlreadyClaimed) {
		t.Fatalf("claim after cancel: got %v", err)
	}
}

func TestCompleteRequiresHolder(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 20, 9, 0, 0, 0, time.Local)
	m, _ := newManager(now)

	ride, err := m.Create(ctx, Request{PassengerID: "p1", DropoffLabel: "SUGOD", ScheduledAt: now.Add(time.Hour)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.Claim(ctx, ride.ID, models.Assignment{DriverID: "d1"}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := m.Complete(ctx, ride.ID, "d9"); err == nil {
		t.Fatal("stranger complete should fail")
	}
	done, err := m.Complete(ctx, ride.ID, "d1")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != models.ScheduledCompleted {
		t.Fatalf("status %s, want completed", done.Status)
	}
}
