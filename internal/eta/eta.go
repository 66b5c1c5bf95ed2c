package eta

import "math"

// DefaultSpeedKmh is the assumed tricycle pace on municipal roads.
const DefaultSpeedKmh = 30.0

// Minutes converts a straight-line distance to the rider-facing pickup
// estimate at the default pace. Estimates never drop below a minute;
// telling a passenger "zero minutes" reads as broken.
func Minutes(distanceKm float64) int {
	return MinutesAt(distanceKm, DefaultSpeedKmh)
}

// MinutesAt is Minutes with an explicit speed, for configs that want a
// different pace.
func MinutesAt(distanceKm, speedKmh float64) int {
	if speedKmh <= 0 {
		speedKmh = DefaultSpeedKmh
	}
	if distanceKm < 0 {
		distanceKm = 0
	}
	m := int(math.Round(distanceKm / speedKmh * 60))
	if m < 1 {
		m = 1
	}
	return m
}
