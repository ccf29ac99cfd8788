// Package hud turns manager queries and the latest AHRS state into what the
// display elements draw: display units, declination-corrected headings and
// the configured attitude sign conventions.
package hud

import (
	"fmt"
	"time"

	"stratux-hud/internal/ahrs"
	"stratux-hud/internal/config"
	"stratux-hud/internal/geo"
	"stratux-hud/internal/traffic"
	"stratux-hud/internal/units"
)

// DisplayHeading converts a true heading into the heading the display shows.
func DisplayHeading(raw, declination float64) float64 {
	return geo.NormalizeDeg(raw + declination)
}

// CountText is the target counter label.
func CountText(n int) string {
	if n <= 0 {
		return "NO TARGETS"
	}
	return fmt.Sprintf("%d TARGETS", n)
}

// Orientation is an attitude in degrees as the display should draw it.
type Orientation struct {
	RollDeg  float64
	PitchDeg float64
	YawDeg   float64
}

// Apply flips the sign of each axis whose reverse flag is set.
func (o Orientation) Apply(d config.DisplayConfig) Orientation {
	if d.ReverseRoll {
		o.RollDeg = -o.RollDeg
	}
	if d.ReversePitch {
		o.PitchDeg = -o.PitchDeg
	}
	if d.ReverseYaw {
		o.YawDeg = -o.YawDeg
	}
	return o
}

// Target is one nearby contact in display units.
type Target struct {
	ID   string
	Name string

	Distance float64
	// BearingDeg is the true bearing from ownship. RelativeBearingDeg is
	// measured from the ownship heading when one is known, else from north.
	BearingDeg         float64
	RelativeBearingDeg float64

	Altitude    float64
	HasAltitude bool
	// RelAltitude is target minus ownship altitude, positive above.
	RelAltitude    float64
	HasRelAltitude bool

	Speed    float64
	HasSpeed bool

	HeadingDeg float64
	HasHeading bool

	VvelFpm float64
	HasVvel bool
}

// Frame is everything the elements need for one render tick.
type Frame struct {
	At        time.Time
	Units     units.Unit
	Count     int
	CountText string

	OwnshipValid bool
	HeadingDeg   float64
	HeadingValid bool
	AltFeet      float64
	AltValid     bool

	AttitudeValid bool
	Attitude      Orientation

	FlipHorizontal bool
	FlipVertical   bool

	Closest []Target
}

// Tracks is the query side of traffic.Manager.
type Tracks interface {
	Count() int
	Nearest(ownship geo.Position, n int) []traffic.Contact
}

// Ownship supplies the current AHRS state.
type Ownship interface {
	Current() ahrs.Snapshot
}

type Adapter struct {
	cfg     config.Config
	tracks  Tracks
	ownship Ownship
	closest int
}

func NewAdapter(cfg config.Config, tracks Tracks, ownship Ownship) *Adapter {
	n := cfg.Render.ClosestCount
	if n <= 0 {
		n = 4
	}
	return &Adapter{cfg: cfg, tracks: tracks, ownship: ownship, closest: n}
}

// Frame builds the display state for now. It only reads; expiry is left to
// the sweeper.
func (a *Adapter) Frame(now time.Time) Frame {
	u := a.cfg.DistanceUnits
	f := Frame{
		At:             now,
		Units:          u,
		FlipHorizontal: a.cfg.Display.FlipHorizontal,
		FlipVertical:   a.cfg.Display.FlipVertical,
	}
	if a.tracks != nil {
		f.Count = a.tracks.Count()
	}
	f.CountText = CountText(f.Count)

	var own ahrs.Snapshot
	if a.ownship != nil {
		own = a.ownship.Current()
	}
	if own.AttitudeValid {
		f.AttitudeValid = true
		f.Attitude = Orientation{RollDeg: own.RollDeg, PitchDeg: own.PitchDeg, YawDeg: own.YawDeg}.Apply(a.cfg.Display)
	}
	if own.HeadingValid {
		f.HeadingDeg = DisplayHeading(own.HeadingDeg, a.cfg.Declination)
		f.HeadingValid = true
	}
	f.AltFeet, f.AltValid = own.AltFeet, own.AltValid
	f.OwnshipValid = own.PositionValid

	if !own.PositionValid || a.tracks == nil {
		return f
	}
	contacts := a.tracks.Nearest(own.Position, a.closest)
	f.Closest = make([]Target, 0, len(contacts))
	for _, c := range contacts {
		f.Closest = append(f.Closest, a.target(c, own))
	}
	return f
}

func (a *Adapter) target(c traffic.Contact, own ahrs.Snapshot) Target {
	u := a.cfg.DistanceUnits
	r := c.Record
	t := Target{
		ID:                 r.ID,
		Name:               r.DisplayName(),
		Distance:           c.Distance,
		BearingDeg:         c.BearingDeg,
		RelativeBearingDeg: geo.RelativeBearing(c.BearingDeg, 0),
	}
	if own.HeadingValid {
		// Both bearings are true, so declination cancels out.
		t.RelativeBearingDeg = geo.RelativeBearing(c.BearingDeg, own.HeadingDeg)
	}
	if alt, ok := r.Altitude(); ok {
		t.Altitude, t.HasAltitude = u.Altitude(alt), true
		if own.AltValid {
			t.RelAltitude, t.HasRelAltitude = u.Altitude(alt-own.AltFeet), true
		}
	}
	if gs, ok := r.GroundSpeed(); ok {
		t.Speed, t.HasSpeed = u.Speed(gs), true
	}
	if hdg, ok := r.Heading(); ok {
		t.HeadingDeg, t.HasHeading = DisplayHeading(hdg, a.cfg.Declination), true
	}
	t.VvelFpm, t.HasVvel = r.VerticalSpeed()
	return t
}
