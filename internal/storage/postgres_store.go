package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/trike-dispatch/internal/geo"
	"github.com/example/trike-dispatch/internal/models"
)

// PostgresStore implements Store on lib/pq. Every claim-shaped write
// is a single guarded UPDATE; RowsAffected decides who won.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return NewPostgresStoreFromDB(db), nil
}

// NewPostgresStoreFromDB wraps an existing handle; tests hand in a
// mocked one.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Close() error { return p.db.Close() }

// ExecRaw runs a migration script verbatim.
func (p *PostgresStore) ExecRaw(script string) error {
	_, err := p.db.Exec(script)
	return err
}

const tripCols = `id, passenger_id, passenger_name, driver_id, driver_name, plate_number, pickup_label, pickup_lat, pickup_lon, dropoff_label, dropoff_lat, dropoff_lon, distance_km, base_fare, discount_amount, discount_type, final_fare, mode, notes, status, created_at, started_at, completed_at, payment_method, payment_status, payment_ref, driver_rating, passenger_rating, driver_feedback, passenger_feedback`

func (p *PostgresStore) CreateTrip(ctx context.Context, t *models.Trip) error {
	prepareTrip(t)
	pLat, pLon := coordVals(t.Pickup)
	dLat, dLon := coordVals(t.Dropoff)
	_, err := p.db.ExecContext(ctx, `INSERT INTO trips(`+tripCols+`) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30)`,
		t.ID, t.PassengerID, t.PassengerName, t.DriverID, t.DriverName, t.PlateNumber,
		t.PickupLabel, pLat, pLon, t.DropoffLabel, dLat, dLon, t.DistanceKm,
		t.BaseFare, t.DiscountAmount, string(t.DiscountType), t.FinalFare, string(t.Mode), t.Notes,
		string(t.Status), t.CreatedAt, t.StartedAt, t.CompletedAt,
		string(t.PaymentMethod), string(t.PaymentStatus), t.PaymentRef,
		t.DriverRating, t.PassengerRating, t.DriverFeedback, t.PassengerFeedback)
	if err != nil {
		return fmt.Errorf("insert trip: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetTrip(ctx context.Context, id string) (*models.Trip, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+tripCols+` FROM trips WHERE id=$1`, id)
	t, err := scanTrip(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

func (p *PostgresStore) ListByPassenger(ctx context.Context, passengerID string, limit int) ([]models.Trip, error) {
	return p.listTrips(ctx, `SELECT `+tripCols+` FROM trips WHERE passenger_id=$1 ORDER BY created_at DESC LIMIT $2`, passengerID, listLimit(limit))
}

func (p *PostgresStore) ListByDriver(ctx context.Context, driverID string, limit int) ([]models.Trip, error) {
	return p.listTrips(ctx, `SELECT `+tripCols+` FROM trips WHERE driver_id=$1 ORDER BY created_at DESC LIMIT $2`, driverID, listLimit(limit))
}

func (p *PostgresStore) ListUnclaimed(ctx context.Context, createdAfter time.Time) ([]models.Trip, error) {
	return p.listTrips(ctx, `SELECT `+tripCols+` FROM trips WHERE status IN ('searching','pending') AND driver_id IS NULL AND created_at >= $1 ORDER BY created_at ASC`, createdAfter)
}

func (p *PostgresStore) AssignDriver(ctx context.Context, tripID string, a models.Assignment) (*models.Trip, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE trips SET driver_id=$2, driver_name=$3, plate_number=$4, status='driver_accepted'
		 WHERE id=$1 AND driver_id IS NULL AND status IN ('searching','pending','driver_found')`,
		tripID, a.DriverID, a.DriverName, a.PlateNumber)
	if err != nil {
		return nil, fmt.Errorf("assign driver: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("assign driver: %w", err)
	}
	if n == 0 {
		// lost the race or the trip is gone; look to tell which
		if _, gerr := p.GetTrip(ctx, tripID); errors.Is(gerr, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, ErrAlreadyClaimed
	}
	return p.GetTrip(ctx, tripID)
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, tripID string, status models.TripStatus, at time.Time) (*models.Trip, error) {
	var (
		res sql.Result
		err error
	)
	switch status {
	case models.StatusInProgress:
		res, err = p.db.ExecContext(ctx,
			`UPDATE trips SET status=$2, started_at=COALESCE(started_at,$3) WHERE id=$1 AND status NOT IN ('completed','cancelled')`,
			tripID, string(status), at)
	case models.StatusCompleted:
		res, err = p.db.ExecContext(ctx,
			`UPDATE trips SET status=$2, completed_at=COALESCE(completed_at,$3) WHERE id=$1 AND status NOT IN ('completed','cancelled')`,
			tripID, string(status), at)
	default:
		res, err = p.db.ExecContext(ctx,
			`UPDATE trips SET status=$2 WHERE id=$1 AND status NOT IN ('completed','cancelled')`,
			tripID, string(status))
	}
	if err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	if n == 0 {
		t, gerr := p.GetTrip(ctx, tripID)
		if gerr != nil {
			return nil, gerr
		}
		if t.Status.Terminal() {
			return nil, ErrTerminal
		}
		return nil, fmt.Errorf("update status: trip %s not updated", tripID)
	}
	return p.GetTrip(ctx, tripID)
}

func (p *PostgresStore) SetPayment(ctx context.Context, tripID string, method models.PaymentMethod, status models.PaymentStatus, ref string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE trips SET payment_method=$2, payment_status=$3, payment_ref=CASE WHEN $4='' THEN payment_ref ELSE $4 END WHERE id=$1`,
		tripID, string(method), string(status), ref)
	if err != nil {
		return fmt.Errorf("set payment: %w", err)
	}
	return requireRow(res)
}

func (p *PostgresStore) SetRating(ctx context.Context, tripID string, by models.Role, stars int, feedback string) error {
	var (
		res sql.Result
		err error
	)
	if by == models.RoleDriver {
		res, err = p.db.ExecContext(ctx, `UPDATE trips SET passenger_rating=$2, passenger_feedback=$3 WHERE id=$1`, tripID, stars, feedback)
	} else {
		res, err = p.db.ExecContext(ctx, `UPDATE trips SET driver_rating=$2, driver_feedback=$3 WHERE id=$1`, tripID, stars, feedback)
	}
	if err != nil {
		return fmt.Errorf("set rating: %w", err)
	}
	return requireRow(res)
}

func (p *PostgresStore) DriverRatingSummary(ctx context.Context, driverID string) (float64, int, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT COALESCE(AVG(driver_rating),0), COUNT(driver_rating) FROM trips WHERE driver_id=$1`, driverID)
	var avg float64
	var count int
	if err := row.Scan(&avg, &count); err != nil {
		return 0, 0, fmt.Errorf("rating summary: %w", err)
	}
	return avg, count, nil
}

func (p *PostgresStore) CountCompletedPickupsNear(ctx context.Context, center models.Coord, radiusKm float64, hour int, since time.Time) (int, error) {
	// bounding box narrows the scan; the exact circle check runs here
	latSpan := radiusKm / 111.0
	lonSpan := radiusKm / (111.0 * math.Max(math.Cos(center.Lat*math.Pi/180), 0.01))
	rows, err := p.db.QueryContext(ctx,
		`SELECT pickup_lat, pickup_lon, created_at FROM trips
		 WHERE status='completed' AND created_at >= $1
		   AND pickup_lat BETWEEN $2 AND $3 AND pickup_lon BETWEEN $4 AND $5`,
		since, center.Lat-latSpan, center.Lat+latSpan, center.Lon-lonSpan, center.Lon+lonSpan)
	if err != nil {
		return 0, fmt.Errorf("count pickups: %w", err)
	}
	defer rows.Close()
	count := 0
	for rows.Next() {
		var lat, lon float64
		var createdAt time.Time
		if err := rows.Scan(&lat, &lon, &createdAt); err != nil {
			return 0, fmt.Errorf("count pickups: %w", err)
		}
		if createdAt.Local().Hour() != hour {
			continue
		}
		if geo.HaversineKm(center.Lat, center.Lon, lat, lon) > radiusKm {
			continue
		}
		count++
	}
	return count, rows.Err()
}

func (p *PostgresStore) listTrips(ctx context.Context, query string, args ...any) ([]models.Trip, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list trips: %w", err)
	}
	defer rows.Close()
	var out []models.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, fmt.Errorf("list trips: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrip(rs rowScanner) (*models.Trip, error) {
	var (
		t                    models.Trip
		driverID             sql.NullString
		pLat, pLon           sql.NullFloat64
		dLat, dLon, distKm   sql.NullFloat64
		startedAt, completed sql.NullTime
		dRating, pRating     sql.NullInt64
		discountType, mode   string
		status               string
		payMethod, payStatus string
	)
	err := rs.Scan(&t.ID, &t.PassengerID, &t.PassengerName, &driverID, &t.DriverName, &t.PlateNumber,
		&t.PickupLabel, &pLat, &pLon, &t.DropoffLabel, &dLat, &dLon, &distKm,
		&t.BaseFare, &t.DiscountAmount, &discountType, &t.FinalFare, &mode, &t.Notes,
		&status, &t.CreatedAt, &startedAt, &completed,
		&payMethod, &payStatus, &t.PaymentRef,
		&dRating, &pRating, &t.DriverFeedback, &t.PassengerFeedback)
	if err != nil {
		return nil, err
	}
	if driverID.Valid {
		t.DriverID = &driverID.String
	}
	t.Pickup = coordPtr(pLat, pLon)
	t.Dropoff = coordPtr(dLat, dLon)
	if distKm.Valid {
		t.DistanceKm = &distKm.Float64
	}
	t.DiscountType = models.DiscountType(discountType)
	t.Mode = models.RideMode(mode)
	t.Status = models.TripStatus(status)
	t.PaymentMethod = models.PaymentMethod(payMethod)
	t.PaymentStatus = models.PaymentStatus(payStatus)
	if startedAt.Valid {
		t.StartedAt = &startedAt.Time
	}
	if completed.Valid {
		t.CompletedAt = &completed.Time
	}
	if dRating.Valid {
		v := int(dRating.Int64)
		t.DriverRating = &v
	}
	if pRating.Valid {
		v := int(pRating.Int64)
		t.PassengerRating = &v
	}
	return &t, nil
}

func coordVals(c *models.Coord) (lat, lon any) {
	if c == nil {
		return nil, nil
	}
	return c.Lat, c.Lon
}

func coordPtr(lat, lon sql.NullFloat64) *models.Coord {
	if !lat.Valid || !lon.Valid {
		return nil
	}
	return &models.Coord{Lat: lat.Float64, Lon: lon.Float64}
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func listLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}
