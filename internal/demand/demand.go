package demand

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/example/trike-dispatch/internal/geo"
	"github.com/example/trike-dispatch/internal/models"
	"github.com/example/trike-dispatch/internal/storage"
)

// Zone is a known hotspot: a landmark, its catchment radius, and the
// hours it typically fills with passengers.
type Zone struct {
	Name      string
	Center    models.Coord
	RadiusKm  float64
	PeakHours []int
	Baseline  float64 // typical requests during one peak hour
}

// DefaultZones covers the landmarks that generate most tricycle trips
// in town.
func DefaultZones() []Zone {
	return []Zone{
		{Name: "Transport Terminal", Center: models.Coord{Lat: 10.3031, Lon: 124.9812}, RadiusKm: 0.8, PeakHours: []int{5, 6, 7, 8, 17, 18, 19}, Baseline: 7},
		{Name: "Public Market", Center: models.Coord{Lat: 10.3049, Lon: 124.9799}, RadiusKm: 0.6, PeakHours: []int{6, 7, 8, 16, 17}, Baseline: 6},
		{Name: "Central School", Center: models.Coord{Lat: 10.3062, Lon: 124.9785}, RadiusKm: 0.5, PeakHours: []int{6, 7, 11, 12, 16, 17}, Baseline: 5},
		{Name: "Town Plaza", Center: models.Coord{Lat: 10.3046, Lon: 124.9793}, RadiusKm: 0.5, PeakHours: []int{17, 18, 19, 20}, Baseline: 4},
		{Name: "Parish Church", Center: models.Coord{Lat: 10.3055, Lon: 124.9805}, RadiusKm: 0.4, PeakHours: []int{5, 6, 17, 18}, Baseline: 3},
	}
}

// Suggestion tells drivers where to position for the current hour.
type Suggestion struct {
	Zone        string  `json:"zone"`
	Demand      float64 `json:"expected_demand"`
	TargetUnits int     `json:"target_units"`
	OnlineUnits int     `json:"online_units"`
	Shortfall   int     `json:"shortfall"`
	Priority    string  `json:"priority"`
}

const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// ridersPerTrike is how many hourly requests one tricycle absorbs.
const ridersPerTrike = 2.5

// Estimator blends each zone's static peak profile with the completed
// pickups actually seen there at the same hour of day. Results are
// memoized per hour; history queries are not free on a busy store.
type Estimator struct {
	Store    storage.TripStore
	Drivers  geo.Index // optional, supplies the online counts
	Zones    []Zone    // nil means DefaultZones
	Lookback time.Duration
	CacheTTL time.Duration
	Logger   *slog.Logger

	mu       sync.Mutex
	memo     []Suggestion
	memoAt   time.Time
	memoHour int
}

// Suggestions ranks the zones in peak for the hour of now by expected
// demand. Zones outside their peak hours are not listed at all.
func (e *Estimator) Suggestions(ctx context.Context, now time.Time) ([]Suggestion, error) {
	hour := now.Hour()

	e.mu.Lock()
	if e.memo != nil && e.memoHour == hour && now.Sub(e.memoAt) < e.ttl() {
		out := make([]Suggestion, len(e.memo))
		copy(out, e.memo)
		e.mu.Unlock()
		return out, nil
	}
	e.mu.Unlock()

	zones := e.Zones
	if zones == nil {
		zones = DefaultZones()
	}
	lookback := e.Lookback
	if lookback <= 0 {
		lookback = 14 * 24 * time.Hour
	}
	days := math.Max(1, math.Floor(lookback.Hours()/24))
	since := now.Add(-lookback)

	var online []models.Driver
	if e.Drivers != nil {
		online = e.Drivers.ListOnline()
	}

	out := make([]Suggestion, 0, len(zones))
	for _, z := range zones {
		if !peakAt(z, hour) {
			continue
		}
		observed := 0.0
		if e.Store != nil {
			n, err := e.Store.CountCompletedPickupsNear(ctx, z.Center, z.RadiusKm, hour, since)
			if err != nil {
				return nil, err
			}
			observed = float64(n) / days
		}
		expected := (z.Baseline + observed) / 2

		nearby := 0
		for _, d := range online {
			if geo.HaversineKm(d.Loc.Lat, d.Loc.Lon, z.Center.Lat, z.Center.Lon) <= z.RadiusKm {
				nearby++
			}
		}
		target := int(math.Ceil(expected / ridersPerTrike))
		shortfall := max(0, target-nearby)
		s := Suggestion{
			Zone:        z.Name,
			Demand:      expected,
			TargetUnits: target,
			OnlineUnits: nearby,
			Shortfall:   shortfall,
			Priority:    priorityFor(shortfall),
		}
		out = append(out, s)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Demand != out[j].Demand {
			return out[i].Demand > out[j].Demand
		}
		return out[i].Zone < out[j].Zone
	})

	e.mu.Lock()
	e.memo = make([]Suggestion, len(out))
	copy(e.memo, out)
	e.memoAt = now
	e.memoHour = hour
	e.mu.Unlock()

	e.log().Debug("demand refreshed", "hour", hour, "zones", len(out))
	return out, nil
}

// priorityFor grades the gap between wanted and present units. Missing
// three or more tricycles is worth shouting about; one is routine churn.
func priorityFor(shortfall int) string {
	switch {
	case shortfall >= 3:
		return PriorityHigh
	case shortfall >= 2:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

func peakAt(z Zone, hour int) bool {
	for _, h := range z.PeakHours {
		if h == hour {
			return true
		}
	}
	return false
}

func (e *Estimator) ttl() time.Duration {
	if e.CacheTTL > 0 {
		return e.CacheTTL
	}
	return 5 * time.Minute
}

func (e *Estimator) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}
