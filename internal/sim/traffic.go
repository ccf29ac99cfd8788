package sim

import (
	"fmt"
	"math"
	"time"

	"stratux-hud/internal/geo"
	"stratux-hud/internal/traffic"
)

// TrafficSim places targets on a circular orbit around a center point. The
// output depends only on the time passed in, so tests can pin it.
type TrafficSim struct {
	CenterLatDeg float64
	CenterLonDeg float64
	BaseAltFeet  int
	GroundKt     int
	RadiusNm     float64
	Period       time.Duration
}

// Records returns count targets orbiting the configured center, stamped with
// now. IDs are stable per slot ("SIM001", "SIM002", ...).
func (s TrafficSim) Records(now time.Time, count int) []traffic.Record {
	if count <= 0 {
		return nil
	}

	period := s.Period
	if period <= 0 {
		period = 90 * time.Second
	}
	radiusNm := s.RadiusNm
	if radiusNm <= 0 {
		radiusNm = 2.0
	}
	groundKt := s.GroundKt
	if groundKt <= 0 {
		groundKt = 120
	}
	baseAlt := s.BaseAltFeet
	if baseAlt == 0 {
		baseAlt = 4500
	}

	// ~60 NM per degree of latitude.
	radiusDeg := radiusNm / 60.0
	cosLat := math.Cos(s.CenterLatDeg * math.Pi / 180.0)

	phase := float64(now.UnixNano()%period.Nanoseconds()) / float64(period.Nanoseconds())
	baseTheta := 2 * math.Pi * phase

	out := make([]traffic.Record, 0, count)
	for i := 0; i < count; i++ {
		// Spread targets around the circle and at slightly different radii so
		// Nearest has a meaningful ordering.
		offset := 2 * math.Pi * (float64(i) / float64(count))
		theta := baseTheta + offset
		r := radiusDeg * (0.5 + float64(i+1)/float64(count))

		latDeg := s.CenterLatDeg + r*math.Cos(theta)
		lonDeg := s.CenterLonDeg + r*math.Sin(theta)/cosLat
		trk := geo.NormalizeDeg(theta*180/math.Pi + 90)

		// Stagger altitude between targets and let them climb/descend gently.
		alt := float64(baseAlt + (i-count/2)*300)
		vvel := 300 * math.Cos(theta)

		out = append(out, traffic.Record{
			ID:          fmt.Sprintf("SIM%03d", i+1),
			LatDeg:      latDeg,
			LonDeg:      lonDeg,
			HasPosition: true,
			AltFeet:     alt + 100*math.Sin(theta),
			HasAlt:      true,
			HeadingDeg:  trk,
			HasHeading:  true,
			GroundKt:    float64(groundKt),
			HasGround:   true,
			VvelFpm:     math.Round(vvel),
			HasVvel:     true,
			Tail:        fmt.Sprintf("N%dSM", 100+i),
			HasTail:     true,
			Source:      traffic.SourceSimulation,
			SeenAt:      now,
		})
	}

	return out
}
