// Package geo holds the spherical-earth helpers used to place traffic relative
// to ownship. Everything here is pure.
package geo

import (
	"math"

	"stratux-hud/internal/units"
)

const (
	degToRad = math.Pi / 180.0
	radToDeg = 180.0 / math.Pi
)

// Position is a WGS84-ish lat/lon pair in degrees.
type Position struct {
	LatDeg float64
	LonDeg float64
}

// Valid reports whether p is finite and within the usual lat/lon ranges.
func Valid(p Position) bool {
	if math.IsNaN(p.LatDeg) || math.IsInf(p.LatDeg, 0) || math.IsNaN(p.LonDeg) || math.IsInf(p.LonDeg, 0) {
		return false
	}
	return p.LatDeg >= -90 && p.LatDeg <= 90 && p.LonDeg >= -180 && p.LonDeg <= 180
}

// NormalizeDeg wraps a finite angle into [0, 360).
func NormalizeDeg(d float64) float64 {
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	// -1e-15 + 360 rounds to 360.
	if d >= 360 {
		d = 0
	}
	return d
}

// BearingDeg returns the initial great-circle bearing from -> to in [0, 360).
// Identical points yield 0.
func BearingDeg(from, to Position) float64 {
	if from == to {
		return 0
	}
	lat1 := from.LatDeg * degToRad
	lat2 := to.LatDeg * degToRad
	dLon := (to.LonDeg - from.LonDeg) * degToRad

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	b := math.Atan2(y, x) * radToDeg
	if math.IsNaN(b) {
		return 0
	}
	return NormalizeDeg(b)
}

// centralAngle is the haversine central angle in radians.
func centralAngle(from, to Position) float64 {
	lat1 := from.LatDeg * degToRad
	lat2 := to.LatDeg * degToRad
	dLat := lat2 - lat1
	dLon := (to.LonDeg - from.LonDeg) * degToRad

	sLat := math.Sin(dLat / 2)
	sLon := math.Sin(dLon / 2)
	a := sLat*sLat + math.Cos(lat1)*math.Cos(lat2)*sLon*sLon
	// Rounding can push a slightly outside [0,1] for near-antipodal points.
	a = math.Min(1, math.Max(0, a))
	return 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Distance returns the great-circle distance between two points in u.
func Distance(from, to Position, u units.Unit) float64 {
	if from == to {
		return 0
	}
	return centralAngle(from, to) * u.EarthRadius()
}

// BearingDistance returns both values for callers that need the pair.
func BearingDistance(from, to Position, u units.Unit) (bearingDeg, dist float64) {
	return BearingDeg(from, to), Distance(from, to, u)
}

// RelativeBearing returns bearing relative to a heading in (-180, 180].
func RelativeBearing(bearingDeg, headingDeg float64) float64 {
	r := NormalizeDeg(bearingDeg - headingDeg)
	if r > 180 {
		r -= 360
	}
	return r
}
