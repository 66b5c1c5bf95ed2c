package fare

import "time"

// BarangayRate prices destinations the fixed matrix does not cover:
// base fare plus a per-kilometer rate, with an optional night surcharge
// and a minimum the fare never drops below. Rows are versioned by
// effective date; only the newest active row per destination applies.
type BarangayRate struct {
	Destination    string
	BaseFare       int64
	PerKm          float64
	MinFare        int64
	NightSurcharge int64
	EffectiveDate  time.Time
}

var defaultRates = []BarangayRate{
	{Destination: "CAMBUAC", BaseFare: 20, PerKm: 12, MinFare: 15, NightSurcharge: 5, EffectiveDate: date(2024, 1, 1)},
	{Destination: "TUBOD", BaseFare: 20, PerKm: 12, MinFare: 15, NightSurcharge: 5, EffectiveDate: date(2024, 1, 1)},
	{Destination: "TUBOD", BaseFare: 22, PerKm: 13, MinFare: 18, NightSurcharge: 8, EffectiveDate: date(2025, 7, 1)},
	{Destination: "MAHAYAG", BaseFare: 25, PerKm: 13, MinFare: 20, NightSurcharge: 8, EffectiveDate: date(2024, 1, 1)},
	{Destination: "LOOC", BaseFare: 25, PerKm: 14, MinFare: 20, NightSurcharge: 8, EffectiveDate: date(2024, 1, 1)},
	{Destination: "BITOON", BaseFare: 30, PerKm: 14, MinFare: 25, NightSurcharge: 10, EffectiveDate: date(2024, 1, 1)},
	{Destination: "CANAWAY", BaseFare: 30, PerKm: 15, MinFare: 25, NightSurcharge: 10, EffectiveDate: date(2024, 1, 1)},
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DefaultRates returns a copy of the built-in rate rows, all versions
// included.
func DefaultRates() []BarangayRate {
	return append([]BarangayRate(nil), defaultRates...)
}

// LatestRates reduces rows to the newest entry per destination whose
// effective date is not after asOf. Order of first appearance is kept
// so lookups stay deterministic.
func LatestRates(rows []BarangayRate, asOf time.Time) []BarangayRate {
	byDest := make(map[string]int)
	out := make([]BarangayRate, 0, len(rows))
	for _, r := range rows {
		if r.EffectiveDate.After(asOf) {
			continue
		}
		if i, ok := byDest[r.Destination]; ok {
			if r.EffectiveDate.After(out[i].EffectiveDate) {
				out[i] = r
			}
			continue
		}
		byDest[r.Destination] = len(out)
		out = append(out, r)
	}
	return out
}

// findRate mirrors findRoute for the rate table.
func findRate(rates []BarangayRate, dest string) (BarangayRate, bool) {
	for _, r := range rates {
		if r.Destination == dest {
			return r, true
		}
	}
	if len(dest) < 4 {
		return BarangayRate{}, false
	}
	for _, r := range rates {
		if containsEither(dest, r.Destination) {
			return r, true
		}
	}
	return BarangayRate{}, false
}
