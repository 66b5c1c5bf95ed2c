package storage

import (
	"context"
	"fmt"

	"github.com/example/trike-dispatch/internal/fare"
)

// EnsureSeeded inserts the built-in barangay rate rows when the table
// is empty. It runs at every boot and is a no-op once rows exist, so
// there is no seeding flag to forget or reset.
func (p *PostgresStore) EnsureSeeded(ctx context.Context) error {
	var n int
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM barangay_rates`).Scan(&n); err != nil {
		return fmt.Errorf("seed check: %w", err)
	}
	if n > 0 {
		return nil
	}
	for _, r := range fare.DefaultRates() {
		if _, err := p.db.ExecContext(ctx,
			`INSERT INTO barangay_rates(destination, base_fare, per_km, min_fare, night_surcharge, effective_date)
			 VALUES($1,$2,$3,$4,$5,$6) ON CONFLICT DO NOTHING`,
			r.Destination, r.BaseFare, r.PerKm, r.MinFare, r.NightSurcharge, r.EffectiveDate); err != nil {
			return fmt.Errorf("seed rates: %w", err)
		}
	}
	return nil
}

// LoadBarangayRates returns every rate row, all versions included; the
// fare engine reduces them to the active set itself.
func (p *PostgresStore) LoadBarangayRates(ctx context.Context) ([]fare.BarangayRate, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT destination, base_fare, per_km, min_fare, night_surcharge, effective_date FROM barangay_rates ORDER BY destination, effective_date`)
	if err != nil {
		return nil, fmt.Errorf("load rates: %w", err)
	}
	defer rows.Close()
	var out []fare.BarangayRate
	for rows.Next() {
		var r fare.BarangayRate
		if err := rows.Scan(&r.Destination, &r.BaseFare, &r.PerKm, &r.MinFare, &r.NightSurcharge, &r.EffectiveDate); err != nil {
			return nil, fmt.Errorf("load rates: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
