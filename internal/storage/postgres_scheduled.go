package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/example/trike-dispatch/internal/models"
)

const scheduledCols = `id, passenger_id, passenger_name, driver_id, driver_name, plate_number, pickup_label, pickup_lat, pickup_lon, dropoff_label, dropoff_lat, dropoff_lon, base_fare, discount_amount, discount_type, final_fare, notes, scheduled_at, status, created_at`

func (p *PostgresStore) CreateScheduled(ctx context.Context, s *models.ScheduledRide) error {
	prepareScheduled(s)
	pLat, pLon := coordVals(s.Pickup)
	dLat, dLon := coordVals(s.Dropoff)
	_, err := p.db.ExecContext(ctx, `INSERT INTO scheduled_rides(`+scheduledCols+`) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		s.ID, s.PassengerID, s.PassengerName, s.DriverID, s.DriverName, s.PlateNumber,
		s.PickupLabel, pLat, pLon, s.DropoffLabel, dLat, dLon,
		s.BaseFare, s.DiscountAmount, string(s.DiscountType), s.FinalFare, s.Notes,
		s.ScheduledAt, string(s.Status), s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert scheduled ride: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetScheduled(ctx context.Context, id string) (*models.ScheduledRide, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+scheduledCols+` FROM scheduled_rides WHERE id=$1`, id)
	s, err := scanScheduled(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

func (p *PostgresStore) ListAvailable(ctx context.Context, now time.Time) ([]models.ScheduledRide, error) {
	return p.listScheduled(ctx,
		`SELECT `+scheduledCols+` FROM scheduled_rides WHERE status='scheduled' AND driver_id IS NULL AND scheduled_at >= $1 ORDER BY scheduled_at ASC`, now)
}

func (p *PostgresStore) ListScheduledByPassenger(ctx context.Context, passengerID string, limit int) ([]models.ScheduledRide, error) {
	return p.listScheduled(ctx,
		`SELECT `+scheduledCols+` FROM scheduled_rides WHERE passenger_id=$1 ORDER BY created_at DESC LIMIT $2`, passengerID, listLimit(limit))
}

func (p *PostgresStore) ClaimScheduled(ctx context.Context, id string, a models.Assignment) (*models.ScheduledRide, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE scheduled_rides SET driver_id=$2, driver_name=$3, plate_number=$4, status='accepted'
		 WHERE id=$1 AND driver_id IS NULL AND status='scheduled'`,
		id, a.DriverID, a.DriverName, a.PlateNumber)
	if err != nil {
		return nil, fmt.Errorf("claim scheduled: %w", err)
	}
	return p.finishConditional(ctx, id, res)
}

func (p *PostgresStore) ReleaseScheduled(ctx context.Context, id, driverID string) (*models.ScheduledRide, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE scheduled_rides SET driver_id=NULL, driver_name='', plate_number='', status='scheduled'
		 WHERE id=$1 AND driver_id=$2 AND status='accepted'`,
		id, driverID)
	if err != nil {
		return nil, fmt.Errorf("release scheduled: %w", err)
	}
	return p.finishConditional(ctx, id, res)
}

func (p *PostgresStore) CancelScheduled(ctx context.Context, id string) (*models.ScheduledRide, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE scheduled_rides SET status='cancelled' WHERE id=$1 AND status IN ('scheduled','accepted')`, id)
	if err != nil {
		return nil, fmt.Errorf("cancel scheduled: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("cancel scheduled: %w", err)
	}
	if n == 0 {
		if _, gerr := p.GetScheduled(ctx, id); gerr != nil {
			return nil, gerr
		}
		return nil, ErrTerminal
	}
	return p.GetScheduled(ctx, id)
}

func (p *PostgresStore) CompleteScheduled(ctx context.Context, id, driverID string) (*models.ScheduledRide, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE scheduled_rides SET status='completed' WHERE id=$1 AND driver_id=$2 AND status='accepted'`,
		id, driverID)
	if err != nil {
		return nil, fmt.Errorf("complete scheduled: %w", err)
	}
	return p.finishConditional(ctx, id, res)
}

// finishConditional turns a guarded UPDATE's outcome into the staged
// errors callers expect: missing row, lost condition, or the fresh row.
func (p *PostgresStore) finishConditional(ctx context.Context, id string, res sql.Result) (*models.ScheduledRide, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		if _, gerr := p.GetScheduled(ctx, id); errors.Is(gerr, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, ErrAlreadyClaimed
	}
	return p.GetScheduled(ctx, id)
}

func (p *PostgresStore) listScheduled(ctx context.Context, query string, args ...any) ([]models.ScheduledRide, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list scheduled: %w", err)
	}
	defer rows.Close()
	var out []models.ScheduledRide
	for rows.Next() {
		s, err := scanScheduled(rows)
		if err != nil {
			return nil, fmt.Errorf("list scheduled: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func scanScheduled(rs rowScanner) (*models.ScheduledRide, error) {
	var (
		s            models.ScheduledRide
		driverID     sql.NullString
		pLat, pLon   sql.NullFloat64
		dLat, dLon   sql.NullFloat64
		discountType string
		status       string
	)
	err := rs.Scan(&s.ID, &s.PassengerID, &s.PassengerName, &driverID, &s.DriverName, &s.PlateNumber,
		&s.PickupLabel, &pLat, &pLon, &s.DropoffLabel, &dLat, &dLon,
		&s.BaseFare, &s.DiscountAmount, &discountType, &s.FinalFare, &s.Notes,
		&s.ScheduledAt, &status, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	if driverID.Valid {
		s.DriverID = &driverID.String
	}
	s.Pickup = coordPtr(pLat, pLon)
	s.Dropoff = coordPtr(dLat, dLon)
	s.DiscountType = models.DiscountType(discountType)
	s.Status = models.ScheduledStatus(status)
	return &s, nil
}
