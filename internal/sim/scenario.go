package sim

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"stratux-hud/internal/ahrs"
	"stratux-hud/internal/geo"
	"stratux-hud/internal/traffic"
)

// Script is a keyframed flight for the simulation data source. Times are Go
// duration strings; a zero Duration is taken from the latest keyframe.
//
//	version: 1
//	duration: 60s
//	ownship:
//	  keyframes:
//	    - {t: 0s, lat_deg: 45.5, lon_deg: -122.6, alt_feet: 3000, ground_kt: 100, track_deg: 90}
//	traffic:
//	  - id: "A1B2C3"
//	    tail: "N123AB"
//	    keyframes: [...]
type Script struct {
	Version  int           `yaml:"version"`
	Duration time.Duration `yaml:"duration"`
	Ownship  Track         `yaml:"ownship"`
	Traffic  []Track       `yaml:"traffic"`
}

// Track is one aircraft timeline. ID and Tail are ignored for ownship.
type Track struct {
	ID        string     `yaml:"id"`
	Tail      string     `yaml:"tail"`
	Keyframes []Keyframe `yaml:"keyframes"`
}

type Keyframe struct {
	T        time.Duration `yaml:"t"`
	LatDeg   float64       `yaml:"lat_deg"`
	LonDeg   float64       `yaml:"lon_deg"`
	AltFeet  float64       `yaml:"alt_feet"`
	GroundKt float64       `yaml:"ground_kt"`
	TrackDeg float64       `yaml:"track_deg"`
	VvelFpm  float64       `yaml:"vvel_fpm"`
	RollDeg  float64       `yaml:"roll_deg"`
	PitchDeg float64       `yaml:"pitch_deg"`
}

// Scenario is a validated Script.
type Scenario struct {
	script   Script
	duration time.Duration
}

func LoadScript(path string) (Script, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Script{}, err
	}
	return ParseScript(b)
}

func ParseScript(b []byte) (Script, error) {
	var s Script
	dec := yaml.NewDecoder(strings.NewReader(string(b)))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return Script{}, fmt.Errorf("scenario parse: %w", err)
	}
	return s, nil
}

func NewScenario(script Script) (*Scenario, error) {
	if script.Version == 0 {
		script.Version = 1
	}
	if script.Version != 1 {
		return nil, fmt.Errorf("unsupported scenario version %d", script.Version)
	}
	if len(script.Ownship.Keyframes) == 0 {
		return nil, fmt.Errorf("ownship.keyframes is required")
	}
	if err := checkKeyframes(script.Ownship.Keyframes, "ownship"); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(script.Traffic))
	for i := range script.Traffic {
		tr := &script.Traffic[i]
		tr.ID = traffic.NormalizeID(tr.ID)
		if tr.ID == "" {
			return nil, fmt.Errorf("traffic[%d].id is required", i)
		}
		if seen[tr.ID] {
			return nil, fmt.Errorf("traffic[%d].id %q is duplicated", i, tr.ID)
		}
		seen[tr.ID] = true
		if len(tr.Keyframes) == 0 {
			return nil, fmt.Errorf("traffic[%d].keyframes is required", i)
		}
		if err := checkKeyframes(tr.Keyframes, fmt.Sprintf("traffic[%d]", i)); err != nil {
			return nil, err
		}
	}

	dur := script.Duration
	if dur <= 0 {
		dur = lastKeyframe(script)
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration is required (or derivable from keyframes)")
	}
	return &Scenario{script: script, duration: dur}, nil
}

func LoadScenario(path string) (*Scenario, error) {
	script, err := LoadScript(path)
	if err != nil {
		return nil, err
	}
	return NewScenario(script)
}

func (s *Scenario) Duration() time.Duration {
	if s == nil {
		return 0
	}
	return s.duration
}

// At samples every timeline at elapsed. With loop, elapsed wraps around the
// duration; otherwise it is clamped to [0, Duration()].
func (s *Scenario) At(elapsed time.Duration, loop bool) Keyframe {
	return sample(s.script.Ownship.Keyframes, s.clamp(elapsed, loop))
}

func (s *Scenario) clamp(elapsed time.Duration, loop bool) time.Duration {
	if elapsed < 0 {
		elapsed = 0
	}
	if loop {
		return elapsed % s.duration
	}
	if elapsed > s.duration {
		return s.duration
	}
	return elapsed
}

// Ownship returns the ownship state at elapsed, stamped with now.
func (s *Scenario) Ownship(elapsed time.Duration, now time.Time, loop bool) ahrs.Snapshot {
	kf := s.At(elapsed, loop)
	return ahrs.Snapshot{
		AttitudeValid: true,
		RollDeg:       kf.RollDeg,
		PitchDeg:      kf.PitchDeg,
		HeadingDeg:    kf.TrackDeg,
		HeadingValid:  true,
		Position:      geo.Position{LatDeg: kf.LatDeg, LonDeg: kf.LonDeg},
		PositionValid: true,
		AltFeet:       kf.AltFeet,
		AltValid:      true,
		GroundKt:      kf.GroundKt,
		UpdatedAt:     now,
	}
}

// Records returns one record per scripted target at elapsed, in script order.
func (s *Scenario) Records(elapsed time.Duration, now time.Time, loop bool) []traffic.Record {
	if s == nil || len(s.script.Traffic) == 0 {
		return nil
	}
	elapsed = s.clamp(elapsed, loop)
	out := make([]traffic.Record, 0, len(s.script.Traffic))
	for _, tr := range s.script.Traffic {
		kf := sample(tr.Keyframes, elapsed)
		out = append(out, traffic.Record{
			ID:          tr.ID,
			LatDeg:      kf.LatDeg,
			LonDeg:      kf.LonDeg,
			HasPosition: true,
			AltFeet:     kf.AltFeet,
			HasAlt:      true,
			HeadingDeg:  kf.TrackDeg,
			HasHeading:  true,
			GroundKt:    kf.GroundKt,
			HasGround:   true,
			VvelFpm:     kf.VvelFpm,
			HasVvel:     true,
			Tail:        tr.Tail,
			HasTail:     tr.Tail != "",
			Source:      traffic.SourceSimulation,
			SeenAt:      now,
		})
	}
	return out
}

func checkKeyframes(kfs []Keyframe, where string) error {
	for i := range kfs {
		if kfs[i].T < 0 {
			return fmt.Errorf("%s.keyframes[%d].t must be >= 0", where, i)
		}
		if i > 0 && kfs[i].T < kfs[i-1].T {
			return fmt.Errorf("%s.keyframes must be sorted by t (index %d)", where, i)
		}
		if !geo.Valid(geo.Position{LatDeg: kfs[i].LatDeg, LonDeg: kfs[i].LonDeg}) {
			return fmt.Errorf("%s.keyframes[%d] position out of range", where, i)
		}
	}
	return nil
}

func lastKeyframe(s Script) time.Duration {
	var last time.Duration
	for _, kf := range s.Ownship.Keyframes {
		last = max(last, kf.T)
	}
	for _, tr := range s.Traffic {
		for _, kf := range tr.Keyframes {
			last = max(last, kf.T)
		}
	}
	return last
}

func sample(kfs []Keyframe, t time.Duration) Keyframe {
	idx := sort.Search(len(kfs), func(i int) bool { return kfs[i].T > t })
	switch {
	case idx <= 0:
		return kfs[0]
	case idx >= len(kfs):
		return kfs[len(kfs)-1]
	}
	k0, k1 := kfs[idx-1], kfs[idx]
	dt := k1.T - k0.T
	if dt <= 0 {
		return k1
	}
	a := float64(t-k0.T) / float64(dt)
	return Keyframe{
		T:        t,
		LatDeg:   lerp(k0.LatDeg, k1.LatDeg, a),
		LonDeg:   lerp(k0.LonDeg, k1.LonDeg, a),
		AltFeet:  lerp(k0.AltFeet, k1.AltFeet, a),
		GroundKt: lerp(k0.GroundKt, k1.GroundKt, a),
		TrackDeg: lerpAngleDeg(k0.TrackDeg, k1.TrackDeg, a),
		VvelFpm:  lerp(k0.VvelFpm, k1.VvelFpm, a),
		RollDeg:  lerp(k0.RollDeg, k1.RollDeg, a),
		PitchDeg: lerp(k0.PitchDeg, k1.PitchDeg, a),
	}
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// lerpAngleDeg interpolates along the shorter arc.
func lerpAngleDeg(a0, a1, t float64) float64 {
	return geo.NormalizeDeg(a0 + geo.RelativeBearing(a1, a0)*t)
}
