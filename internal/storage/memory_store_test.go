package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/trike-dispatch/internal/models"
)

func TestAssignDriverExactlyOneWinner(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	trip := &models.Trip{PassengerID: "p1", PickupLabel: "POBLACION", DropoffLabel: "SUGOD"}
	if err := store.CreateTrip(ctx, trip); err != nil {
		t.Fatalf("create: %v", err)
	}

	const drivers = 8
	var wins, conflicts int32
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < drivers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			<-start
			_, err := store.AssignDriver(ctx, trip.ID, models.Assignment{
				DriverID:    fmt.Sprintf("d%02d", n),
				DriverName:  fmt.Sprintf("Driver %02d", n),
				PlateNumber: fmt.Sprintf("TRK-%02d", n),
			})
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case errors.Is(err, ErrAlreadyClaimed):
				atomic.AddInt32(&conflicts, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
	if conflicts != drivers-1 {
		t.Fatalf("expected %d conflicts, got %d", drivers-1, conflicts)
	}

	got, err := store.GetTrip(ctx, trip.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.StatusDriverAccepted {
		t.Fatalf("status = %s, want driver_accepted", got.Status)
	}
	if got.DriverID == nil || got.DriverName == "" || got.PlateNumber == "" {
		t.Fatalf("driver fields not set atomically: %+v", got)
	}
}

func TestAssignDriverRejectsClaimedAndTerminal(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	trip := &models.Trip{PassengerID: "p1"}
	_ = store.CreateTrip(ctx, trip)
	if _, err := store.AssignDriver(ctx, trip.ID, models.Assignment{DriverID: "d1"}); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if _, err := store.AssignDriver(ctx, trip.ID, models.Assignment{DriverID: "d2"}); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("second claim: got %v, want ErrAlreadyClaimed", err)
	}

	cancelled := &models.Trip{PassengerID: "p2"}
	_ = store.CreateTrip(ctx, cancelled)
	if _, err := store.UpdateStatus(ctx, cancelled.ID, models.StatusCancelled, time.Now()); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := store.AssignDriver(ctx, cancelled.ID, models.Assignment{DriverID: "d3"}); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("claim of cancelled trip: got %v, want ErrAlreadyClaimed", err)
	}

	if _, err := store.AssignDriver(ctx, "missing", models.Assignment{DriverID: "d4"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("claim of missing trip: got %v, want ErrNotFound", err)
	}
}

func TestListUnclaimedFiltersStatusDriverAndAge(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	fresh := &models.Trip{PassengerID: "p1"}
	_ = store.CreateTrip(ctx, fresh)

	stale := &models.Trip{PassengerID: "p2", CreatedAt: now.Add(-61 * time.Minute)}
	_ = store.CreateTrip(ctx, stale)

	claimed := &models.Trip{PassengerID: "p3"}
	_ = store.CreateTrip(ctx, claimed)
	_, _ = store.AssignDriver(ctx, claimed.ID, models.Assignment{DriverID: "d1"})

	done := &models.Trip{PassengerID: "p4", Status: models.StatusCancelled}
	_ = store.CreateTrip(ctx, done)

	got, err := store.ListUnclaimed(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != fresh.ID {
		t.Fatalf("expected only the fresh unclaimed trip, got %d rows", len(got))
	}
}

func TestUpdateStatusStampsAndProtectsTerminal(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	trip := &models.Trip{PassengerID: "p1"}
	_ = store.CreateTrip(ctx, trip)
	_, _ = store.AssignDriver(ctx, trip.ID, models.Assignment{DriverID: "d1"})

	startAt := time.Now().Add(-10 * time.Minute)
	got, err := store.UpdateStatus(ctx, trip.ID, models.StatusInProgress, startAt)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(startAt) {
		t.Fatalf("started_at not stamped: %+v", got.StartedAt)
	}

	endAt := time.Now()
	got, err = store.UpdateStatus(ctx, trip.ID, models.StatusCompleted, endAt)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(endAt) {
		t.Fatalf("completed_at not stamped: %+v", got.CompletedAt)
	}

	if _, err := store.UpdateStatus(ctx, trip.ID, models.StatusCancelled, time.Now()); !errors.Is(err, ErrTerminal) {
		t.Fatalf("write to completed trip: got %v, want ErrTerminal", err)
	}
}

func TestDriverRatingSummary(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for i, stars := range []int{5, 4} {
		trip := &models.Trip{PassengerID: fmt.Sprintf("p%d", i)}
		_ = store.CreateTrip(ctx, trip)
		_, _ = store.AssignDriver(ctx, trip.ID, models.Assignment{DriverID: "d1"})
		_, _ = store.UpdateStatus(ctx, trip.ID, models.StatusCompleted, time.Now())
		if err := store.SetRating(ctx, trip.ID, models.RolePassenger, stars, "salamat"); err != nil {
			t.Fatalf("rate: %v", err)
		}
	}

	avg, count, err := store.DriverRatingSummary(ctx, "d1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if count != 2 || avg != 4.5 {
		t.Fatalf("got avg=%v count=%d, want 4.5/2", avg, count)
	}
}

func TestCountCompletedPickupsNear(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	center := models.Coord{Lat: 10.305, Lon: 124.98}
	at := time.Date(2026, 8, 20, 7, 30, 0, 0, time.Local)

	mk := func(lat, lon float64, created time.Time, status models.TripStatus) {
		trip := &models.Trip{
			PassengerID: "p",
			Pickup:      &models.Coord{Lat: lat, Lon: lon},
			CreatedAt:   created,
			Status:      status,
		}
		_ = store.CreateTrip(ctx, trip)
	}

	// two inside the radius at hour 7; the rest miss on distance,
	// hour, or status
	mk(center.Lat, center.Lon, at, models.StatusCompleted)
	mk(center.Lat+0.002, center.Lon, at.Add(10*time.Minute), models.StatusCompleted)
	mk(center.Lat+0.5, center.Lon, at, models.StatusCompleted)
	mk(center.Lat, center.Lon, at.Add(3*time.Hour), models.StatusCompleted)
	mk(center.Lat, center.Lon, at, models.StatusSearching)

	got, err := store.CountCompletedPickupsNear(ctx, center, 1.0, 7, at.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if got != 2 {
		t.Fatalf("got %d pickups, want 2", got)
	}
}

func TestScheduledClaimReleaseComplete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	ride := &models.ScheduledRide{PassengerID: "p1", ScheduledAt: time.Now().Add(4 * time.Hour)}
	if err := store.CreateScheduled(ctx, ride); err != nil {
		t.Fatalf("create: %v", err)
	}

	open, err := store.ListAvailable(ctx, time.Now())
	if err != nil || len(open) != 1 {
		t.Fatalf("expected 1 open ride, got %d (err=%v)", len(open), err)
	}

	if _, err := store.ClaimScheduled(ctx, ride.ID, models.Assignment{DriverID: "d1", DriverName: "Ka Tony", PlateNumber: "TRK-07"}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := store.ClaimScheduled(ctx, ride.ID, models.Assignment{DriverID: "d2"}); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("second claim: got %v, want ErrAlreadyClaimed", err)
	}

	// claimed rides leave the open pool
	if open, _ = store.ListAvailable(ctx, time.Now()); len(open) != 0 {
		t.Fatalf("claimed ride still listed: %d", len(open))
	}

	// only the holder may back out
	if _, err := store.ReleaseScheduled(ctx, ride.ID, "d2"); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("release by stranger: got %v", err)
	}
	rel, err := store.ReleaseScheduled(ctx, ride.ID, "d1")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if rel.Status != models.ScheduledOpen || rel.DriverID != nil || rel.DriverName != "" {
		t.Fatalf("release did not clear the claim: %+v", rel)
	}

	// released ride is claimable again
	if _, err := store.ClaimScheduled(ctx, ride.ID, models.Assignment{DriverID: "d2"}); err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	done, err := store.CompleteScheduled(ctx, ride.ID, "d2")
	if err != nil || done.Status != models.ScheduledCompleted {
		t.Fatalf("complete: %+v err=%v", done, err)
	}

	if _, err := store.CancelScheduled(ctx, ride.ID); !errors.Is(err, ErrTerminal) {
		t.Fatalf("cancel of completed ride: got %v, want ErrTerminal", err)
	}
}

func TestListAvailableSkipsPastDue(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	past := &models.ScheduledRide{PassengerID: "p1", ScheduledAt: time.Now().Add(-time.Hour)}
	_ = store.CreateScheduled(ctx, past)
	future := &models.ScheduledRide{PassengerID: "p2", ScheduledAt: time.Now().Add(time.Hour)}
	_ = store.CreateScheduled(ctx, future)

	open, err := store.ListAvailable(ctx, time.Now())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(open) != 1 || open[0].ID != future.ID {
		t.Fatalf("expected only the future ride, got %d rows", len(open))
	}
}
