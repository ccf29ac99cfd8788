package units

import (
	"fmt"
	"strings"
)

// Unit selects the distance/speed/altitude system used for display and for
// great-circle distance results.
type Unit string

const (
	Statute  Unit = "statute"
	Nautical Unit = "nautical"
	Metric   Unit = "metric"
)

// Earth radius per unit system (spherical approximation).
const (
	EarthRadiusNauticalMiles = 3440.0
	EarthRadiusStatuteMiles  = 3956.0
	EarthRadiusKilometers    = 6371.0
)

const (
	FeetToMeters    = 0.3048
	StatutePerNM    = 1.15078
	KilometersPerNM = 1.852
)

// Parse accepts the spellings used by config files. Empty input yields Statute.
func Parse(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "statute", "imperial", "mph":
		return Statute, nil
	case "nautical", "knots", "kt", "nm":
		return Nautical, nil
	case "metric", "kilometers", "km":
		return Metric, nil
	default:
		return "", fmt.Errorf("unknown distance units %q", s)
	}
}

func (u Unit) String() string {
	if u == "" {
		return string(Statute)
	}
	return string(u)
}

// EarthRadius returns the earth radius expressed in u.
func (u Unit) EarthRadius() float64 {
	switch u {
	case Nautical:
		return EarthRadiusNauticalMiles
	case Metric:
		return EarthRadiusKilometers
	default:
		return EarthRadiusStatuteMiles
	}
}

// FromNM converts a distance in nautical miles to u.
func (u Unit) FromNM(nm float64) float64 {
	switch u {
	case Nautical:
		return nm
	case Metric:
		return nm * KilometersPerNM
	default:
		return nm * StatutePerNM
	}
}

// ToNM converts a distance expressed in u to nautical miles.
func (u Unit) ToNM(d float64) float64 {
	switch u {
	case Nautical:
		return d
	case Metric:
		return d / KilometersPerNM
	default:
		return d / StatutePerNM
	}
}

// Speed converts knots to the speed unit paired with u (mph, kt, kph).
func (u Unit) Speed(knots float64) float64 {
	return u.FromNM(knots)
}

// Altitude converts feet to the altitude unit paired with u. Only metric
// displays use meters.
func (u Unit) Altitude(feet float64) float64 {
	if u == Metric {
		return feet * FeetToMeters
	}
	return feet
}

func (u Unit) DistanceSuffix() string {
	switch u {
	case Nautical:
		return "nm"
	case Metric:
		return "km"
	default:
		return "sm"
	}
}

func (u Unit) SpeedSuffix() string {
	switch u {
	case Nautical:
		return "kt"
	case Metric:
		return "kph"
	default:
		return "mph"
	}
}

func (u Unit) AltitudeSuffix() string {
	if u == Metric {
		return "m"
	}
	return "ft"
}
