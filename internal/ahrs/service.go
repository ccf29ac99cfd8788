package ahrs

import (
	"fmt"
	"sync"
	"time"

	"stratux-hud/internal/geo"
)

// Snapshot is the latest ownship and attitude state. Each group has its own
// validity flag because the GPS and the AHRS sensor fail independently.
type Snapshot struct {
	AttitudeValid bool
	RollDeg       float64
	PitchDeg      float64
	// YawDeg is the slip/skid deflection shown by the turn coordinator.
	YawDeg float64

	HeadingDeg   float64
	HeadingValid bool

	Position      geo.Position
	PositionValid bool
	AltFeet       float64
	AltValid      bool
	GroundKt      float64

	UpdatedAt time.Time
}

type Config struct {
	// MaxAge bounds how old a snapshot may be before Ownship and Attitude
	// report it as unavailable.
	MaxAge time.Duration
	Now    func() time.Time
}

// Provider holds the latest snapshot published by whichever source feeds it
// (Stratux situation poller or the simulator). Readers get copies.
type Provider struct {
	cfg Config

	mu   sync.RWMutex
	snap Snapshot
	have bool

	rollOffsetDeg  float64
	pitchOffsetDeg float64
}

func NewProvider(cfg Config) *Provider {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 5 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Provider{cfg: cfg}
}

// Publish replaces the current snapshot. A zero UpdatedAt is stamped with the
// provider clock.
func (p *Provider) Publish(s Snapshot) {
	if p == nil {
		return
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = p.cfg.Now()
	}
	if s.HeadingValid {
		s.HeadingDeg = geo.NormalizeDeg(s.HeadingDeg)
	}
	if s.PositionValid && !geo.Valid(s.Position) {
		s.PositionValid = false
	}
	p.mu.Lock()
	p.snap = s
	p.have = true
	p.mu.Unlock()
}

// Snapshot returns the latest published state with level offsets applied,
// regardless of age. ok is false before the first Publish.
func (p *Provider) Snapshot() (Snapshot, bool) {
	if p == nil {
		return Snapshot{}, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := p.snap
	if s.AttitudeValid {
		s.RollDeg += p.rollOffsetDeg
		s.PitchDeg += p.pitchOffsetDeg
	}
	return s, p.have
}

// Current is Snapshot with the staleness rule applied: a snapshot older than
// MaxAge has every validity flag cleared.
func (p *Provider) Current() Snapshot {
	s, ok := p.Snapshot()
	if !ok {
		return Snapshot{}
	}
	if p.cfg.Now().Sub(s.UpdatedAt) > p.cfg.MaxAge {
		s.AttitudeValid = false
		s.HeadingValid = false
		s.PositionValid = false
		s.AltValid = false
	}
	return s
}

// Ownship returns the ownship position while it is fresh.
func (p *Provider) Ownship() (geo.Position, bool) {
	s := p.Current()
	return s.Position, s.PositionValid
}

// SetLevel re-zeros roll/pitch so the current attitude reads level. The
// offset lives for the process lifetime.
func (p *Provider) SetLevel() error {
	if p == nil {
		return fmt.Errorf("ahrs: provider is nil")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.have || !p.snap.AttitudeValid {
		return fmt.Errorf("ahrs: attitude not valid")
	}
	p.rollOffsetDeg = -p.snap.RollDeg
	p.pitchOffsetDeg = -p.snap.PitchDeg
	return nil
}
