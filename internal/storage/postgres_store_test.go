package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/example/trike-dispatch/internal/fare"
	"github.com/example/trike-dispatch/internal/models"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStoreFromDB(db), mock
}

func tripRow(tr models.Trip) *sqlmock.Rows {
	rows := sqlmock.NewRows(strings.Split(tripCols, ", "))
	rows.AddRow(tr.ID, tr.PassengerID, tr.PassengerName, strPtrVal(tr.DriverID), tr.DriverName, tr.PlateNumber,
		tr.PickupLabel, coordLat(tr.Pickup), coordLon(tr.Pickup), tr.DropoffLabel, coordLat(tr.Dropoff), coordLon(tr.Dropoff), floatPtrVal(tr.DistanceKm),
		tr.BaseFare, tr.DiscountAmount, string(tr.DiscountType), tr.FinalFare, string(tr.Mode), tr.Notes,
		string(tr.Status), tr.CreatedAt, timePtrVal(tr.StartedAt), timePtrVal(tr.CompletedAt),
		string(tr.PaymentMethod), string(tr.PaymentStatus), tr.PaymentRef,
		intPtrVal(tr.DriverRating), intPtrVal(tr.PassengerRating), tr.DriverFeedback, tr.PassengerFeedback)
	return rows
}

func strPtrVal(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func floatPtrVal(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func timePtrVal(p *time.Time) any {
	if p == nil {
		return nil
	}
	return *p
}

func intPtrVal(p *int) any {
	if p == nil {
		return nil
	}
	return int64(*p)
}

func coordLat(c *models.Coord) any {
	if c == nil {
		return nil
	}
	return c.Lat
}

func coordLon(c *models.Coord) any {
	if c == nil {
		return nil
	}
	return c.Lon
}

func baseTrip(id string, status models.TripStatus) models.Trip {
	return models.Trip{
		ID:            id,
		PassengerID:   "p1",
		PickupLabel:   "POBLACION",
		DropoffLabel:  "SUGOD",
		BaseFare:      20,
		FinalFare:     20,
		Mode:          models.ModeNormal,
		Status:        status,
		CreatedAt:     time.Date(2026, 8, 20, 7, 0, 0, 0, time.UTC),
		PaymentStatus: models.PaymentPending,
	}
}

func TestPostgresAssignDriverWins(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE trips SET driver_id=\$2, driver_name=\$3, plate_number=\$4, status='driver_accepted'`).
		WithArgs("t1", "d1", "Ka Tony", "TRK-07").
		WillReturnResult(sqlmock.NewResult(0, 1))

	won := baseTrip("t1", models.StatusDriverAccepted)
	d := "d1"
	won.DriverID = &d
	won.DriverName = "Ka Tony"
	won.PlateNumber = "TRK-07"
	mock.ExpectQuery(`SELECT .+ FROM trips WHERE id=\$1`).
		WithArgs("t1").
		WillReturnRows(tripRow(won))

	got, err := store.AssignDriver(context.Background(), "t1", models.Assignment{DriverID: "d1", DriverName: "Ka Tony", PlateNumber: "TRK-07"})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if got.Status != models.StatusDriverAccepted || got.DriverID == nil || *got.DriverID != "d1" {
		t.Fatalf("unexpected trip: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresAssignDriverLosesRace(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE trips SET driver_id=\$2`).
		WithArgs("t1", "d2", "", "").
		WillReturnResult(sqlmock.NewResult(0, 0))

	taken := baseTrip("t1", models.StatusDriverAccepted)
	d := "d1"
	taken.DriverID = &d
	mock.ExpectQuery(`SELECT .+ FROM trips WHERE id=\$1`).
		WithArgs("t1").
		WillReturnRows(tripRow(taken))

	_, err := store.AssignDriver(context.Background(), "t1", models.Assignment{DriverID: "d2"})
	if !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("got %v, want ErrAlreadyClaimed", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresAssignDriverMissingTrip(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE trips SET driver_id=\$2`).
		WithArgs("nope", "d1", "", "").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT .+ FROM trips WHERE id=\$1`).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(strings.Split(tripCols, ", ")))

	_, err := store.AssignDriver(context.Background(), "nope", models.Assignment{DriverID: "d1"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestPostgresUpdateStatusTerminalRejected(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE trips SET status=\$2 WHERE id=\$1 AND status NOT IN \('completed','cancelled'\)`).
		WithArgs("t1", "cancelled").
		WillReturnResult(sqlmock.NewResult(0, 0))

	done := baseTrip("t1", models.StatusCompleted)
	mock.ExpectQuery(`SELECT .+ FROM trips WHERE id=\$1`).
		WithArgs("t1").
		WillReturnRows(tripRow(done))

	_, err := store.UpdateStatus(context.Background(), "t1", models.StatusCancelled, time.Now())
	if !errors.Is(err, ErrTerminal) {
		t.Fatalf("got %v, want ErrTerminal", err)
	}
}

func TestPostgresUpdateStatusStampsCompletion(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Date(2026, 8, 20, 8, 15, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE trips SET status=\$2, completed_at=COALESCE\(completed_at,\$3\)`).
		WithArgs("t1", "completed", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	done := baseTrip("t1", models.StatusCompleted)
	done.CompletedAt = &at
	mock.ExpectQuery(`SELECT .+ FROM trips WHERE id=\$1`).
		WithArgs("t1").
		WillReturnRows(tripRow(done))

	got, err := store.UpdateStatus(context.Background(), "t1", models.StatusCompleted, at)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(at) {
		t.Fatalf("completed_at not loaded: %+v", got)
	}
}

func TestPostgresListUnclaimedQuery(t *testing.T) {
	store, mock := newMockStore(t)
	cutoff := time.Date(2026, 8, 20, 6, 0, 0, 0, time.UTC)

	rows := tripRow(baseTrip("t1", models.StatusSearching))
	mock.ExpectQuery(`SELECT .+ FROM trips WHERE status IN \('searching','pending'\) AND driver_id IS NULL AND created_at >= \$1 ORDER BY created_at ASC`).
		WithArgs(cutoff).
		WillReturnRows(rows)

	got, err := store.ListUnclaimed(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != "t1" {
		t.Fatalf("unexpected rows: %+v", got)
	}
}

func TestPostgresClaimScheduledConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE scheduled_rides SET driver_id=\$2, driver_name=\$3, plate_number=\$4, status='accepted'`).
		WithArgs("s1", "d2", "", "").
		WillReturnResult(sqlmock.NewResult(0, 0))

	cols := strings.Split(scheduledCols, ", ")
	taken := sqlmock.NewRows(cols).AddRow(
		"s1", "p1", "", "d1", "Ka Tony", "TRK-07",
		"POBLACION", nil, nil, "SUGOD", nil, nil,
		int64(20), int64(0), "", int64(20), "",
		time.Now().Add(2*time.Hour), "accepted", time.Now())
	mock.ExpectQuery(`SELECT .+ FROM scheduled_rides WHERE id=\$1`).
		WithArgs("s1").
		WillReturnRows(taken)

	_, err := store.ClaimScheduled(context.Background(), "s1", models.Assignment{DriverID: "d2"})
	if !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("got %v, want ErrAlreadyClaimed", err)
	}
}

func TestPostgresEnsureSeededSkipsWhenPopulated(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM barangay_rates`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	if err := store.EnsureSeeded(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresEnsureSeededInsertsDefaults(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM barangay_rates`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	for range fare.DefaultRates() {
		mock.ExpectExec(`INSERT INTO barangay_rates`).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	if err := store.EnsureSeeded(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
