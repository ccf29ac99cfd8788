package sim

import (
	"math"
	"time"

	"stratux-hud/internal/ahrs"
	"stratux-hud/internal/geo"
)

const (
	gravityMps2 = 9.80665
	ktToMps     = 0.514444
)

type OwnshipSim struct {
	CenterLatDeg float64
	CenterLonDeg float64
	AltFeet      int
	GroundKt     int
	RadiusNm     float64
	Period       time.Duration
}

// Kinematics returns deterministic position plus a simple vertical profile.
//
// Altitude is a sinusoid around AltFeet, and vertical speed is its derivative.
func (s OwnshipSim) Kinematics(now time.Time) (latDeg, lonDeg, trackDeg, altFeet, vvelFpm float64) {
	latDeg, lonDeg, trackDeg = s.Position(now)

	baseAlt := s.AltFeet
	if baseAlt == 0 {
		baseAlt = 3000
	}
	// Vertical period is decoupled from horizontal to avoid repetitive sync.
	vp := s.period() / 2
	if vp < 30*time.Second {
		vp = 30 * time.Second
	}
	amp := 500.0 // ft

	phase := float64(now.UnixNano()%vp.Nanoseconds()) / float64(vp.Nanoseconds())
	w := 2 * math.Pi * phase

	altFeet = float64(baseAlt) + amp*math.Sin(w)
	// d/dt (amp*sin(w)) where w = 2πt/T => amp*(2π/T)*cos(w)
	ftPerSec := amp * (2 * math.Pi / vp.Seconds()) * math.Cos(w)
	vvelFpm = ftPerSec * 60
	return latDeg, lonDeg, trackDeg, altFeet, vvelFpm
}

func (s OwnshipSim) period() time.Duration {
	if s.Period <= 0 {
		return 120 * time.Second
	}
	return s.Period
}

func (s OwnshipSim) groundKt() float64 {
	if s.GroundKt <= 0 {
		return 90
	}
	return float64(s.GroundKt)
}

// Position returns a figure-eight track around the configured center.
func (s OwnshipSim) Position(now time.Time) (latDeg, lonDeg, trackDeg float64) {
	radiusNm := s.RadiusNm
	if radiusNm <= 0 {
		radiusNm = 0.5
	}
	radiusDeg := radiusNm / 60.0
	period := s.period()

	phase := float64(now.UnixNano()%period.Nanoseconds()) / float64(period.Nanoseconds())

	//	x = cos(2πt)        east-west
	//	y = 0.5*sin(4πt)    north-south
	w := 2 * math.Pi * phase
	x := math.Cos(w)
	y := 0.5 * math.Sin(2*w)

	latDeg = s.CenterLatDeg + radiusDeg*y
	lonDeg = s.CenterLonDeg + (radiusDeg*x)/math.Cos(s.CenterLatDeg*math.Pi/180.0)

	// Track from instantaneous velocity (atan2(east, north)).
	vx := -2 * math.Pi * math.Sin(w)
	vy := 2 * math.Pi * math.Cos(2*w)
	trackDeg = geo.NormalizeDeg(math.Atan2(vx, vy) * 180 / math.Pi)
	return latDeg, lonDeg, trackDeg
}

// Snapshot produces the AHRS view of the simulated ownship: position from the
// figure-eight, bank from the turn rate, pitch from the climb gradient.
func (s OwnshipSim) Snapshot(now time.Time) ahrs.Snapshot {
	lat, lon, trk, alt, vvel := s.Kinematics(now)
	_, _, trkNext := s.Position(now.Add(time.Second))

	turnDegPerSec := geo.RelativeBearing(trkNext, trk)
	speedMps := s.groundKt() * ktToMps
	roll := math.Atan(speedMps*turnDegPerSec*math.Pi/180/gravityMps2) * 180 / math.Pi

	fwdFpm := s.groundKt() * 6076.12 / 60
	pitch := math.Atan2(vvel, fwdFpm) * 180 / math.Pi

	return ahrs.Snapshot{
		AttitudeValid: true,
		RollDeg:       roll,
		PitchDeg:      pitch,
		HeadingDeg:    trk,
		HeadingValid:  true,
		Position:      geo.Position{LatDeg: lat, LonDeg: lon},
		PositionValid: true,
		AltFeet:       alt,
		AltValid:      true,
		GroundKt:      s.groundKt(),
		UpdatedAt:     now,
	}
}
