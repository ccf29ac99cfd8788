package traffic

import (
	"math"
	"strings"
	"time"

	"stratux-hud/internal/geo"
)

// Record is the latest known state of one traffic target.
//
// Optional fields carry an explicit HasX flag; consumers must check it rather
// than treat zero as "unknown".
type Record struct {
	ID string

	LatDeg      float64
	LonDeg      float64
	HasPosition bool

	AltFeet float64
	HasAlt  bool

	HeadingDeg float64
	HasHeading bool

	GroundKt  float64
	HasGround bool

	VvelFpm float64
	HasVvel bool

	Tail    string
	HasTail bool

	Source Source

	// ReportedAt is the sender's own timestamp, when it supplied one. It only
	// orders updates; the sender's clock may disagree with ours, so expiry
	// never reads it.
	ReportedAt time.Time

	// SeenAt is when the record arrived, on the manager's clock unless the
	// caller stamped it. Stored records only move forward.
	SeenAt time.Time
}

func (r Record) Position() (geo.Position, bool) {
	return geo.Position{LatDeg: r.LatDeg, LonDeg: r.LonDeg}, r.HasPosition
}

func (r Record) Altitude() (float64, bool)      { return r.AltFeet, r.HasAlt }
func (r Record) Heading() (float64, bool)       { return r.HeadingDeg, r.HasHeading }
func (r Record) GroundSpeed() (float64, bool)   { return r.GroundKt, r.HasGround }
func (r Record) VerticalSpeed() (float64, bool) { return r.VvelFpm, r.HasVvel }

// DisplayName prefers the tail/callsign and falls back to the identifier.
func (r Record) DisplayName() string {
	if r.HasTail && r.Tail != "" {
		return r.Tail
	}
	return r.ID
}

// NormalizeID trims and upper-cases an identifier so "abc123" and "ABC123 "
// refer to the same target.
func NormalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// normalized returns the record as it would be stored, or false when the
// record is malformed.
func (r Record) normalized() (Record, bool) {
	r.ID = NormalizeID(r.ID)
	if r.ID == "" {
		return Record{}, false
	}
	if r.HasPosition && !geo.Valid(geo.Position{LatDeg: r.LatDeg, LonDeg: r.LonDeg}) {
		return Record{}, false
	}
	if !r.HasPosition {
		r.LatDeg, r.LonDeg = 0, 0
	}
	if r.HasAlt && !finite(r.AltFeet) {
		return Record{}, false
	}
	if r.HasHeading {
		if !finite(r.HeadingDeg) {
			return Record{}, false
		}
		r.HeadingDeg = geo.NormalizeDeg(r.HeadingDeg)
	}
	if r.HasGround && (!finite(r.GroundKt) || r.GroundKt < 0) {
		return Record{}, false
	}
	if r.HasVvel && !finite(r.VvelFpm) {
		return Record{}, false
	}
	r.Tail = strings.ToUpper(strings.TrimSpace(r.Tail))
	r.HasTail = r.HasTail && r.Tail != ""
	if !r.HasTail {
		r.Tail = ""
	}
	return r, true
}
