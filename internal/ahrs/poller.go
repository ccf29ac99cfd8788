package ahrs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"stratux-hud/internal/geo"
)

// Stratux reports this value for AHRS fields it has no data for.
const invalidAHRS = 3276.7

// situation is the subset of the Stratux /getSituation document we consume.
type situation struct {
	GPSFixQuality   int     `json:"GPSFixQuality"`
	GPSLatitude     float64 `json:"GPSLatitude"`
	GPSLongitude    float64 `json:"GPSLongitude"`
	GPSAltitudeMSL  float64 `json:"GPSAltitudeMSL"`
	GPSGroundSpeed  float64 `json:"GPSGroundSpeed"`
	GPSTrueCourse   float64 `json:"GPSTrueCourse"`
	AHRSPitch       float64 `json:"AHRSPitch"`
	AHRSRoll        float64 `json:"AHRSRoll"`
	AHRSGyroHeading float64 `json:"AHRSGyroHeading"`
	AHRSSlipSkid    float64 `json:"AHRSSlipSkid"`
}

func validAHRS(v float64) bool {
	return v != invalidAHRS
}

// ParseSituation converts a Stratux situation document into a Snapshot.
func ParseSituation(raw []byte, now time.Time) (Snapshot, error) {
	var s situation
	if err := json.Unmarshal(raw, &s); err != nil {
		return Snapshot{}, fmt.Errorf("situation parse: %w", err)
	}
	out := Snapshot{UpdatedAt: now}

	if validAHRS(s.AHRSRoll) && validAHRS(s.AHRSPitch) {
		out.AttitudeValid = true
		out.RollDeg = s.AHRSRoll
		out.PitchDeg = s.AHRSPitch
		if validAHRS(s.AHRSSlipSkid) {
			out.YawDeg = s.AHRSSlipSkid
		}
	}

	if s.GPSFixQuality > 0 {
		out.Position = geo.Position{LatDeg: s.GPSLatitude, LonDeg: s.GPSLongitude}
		out.PositionValid = geo.Valid(out.Position)
		out.AltFeet = s.GPSAltitudeMSL
		out.AltValid = true
		out.GroundKt = s.GPSGroundSpeed
	}

	switch {
	case validAHRS(s.AHRSGyroHeading):
		out.HeadingDeg, out.HeadingValid = s.AHRSGyroHeading, true
	case s.GPSFixQuality > 0:
		out.HeadingDeg, out.HeadingValid = s.GPSTrueCourse, true
	}
	return out, nil
}

type PollerConfig struct {
	URL      string
	Interval time.Duration
	Timeout  time.Duration
	Client   *http.Client
	Logger   *slog.Logger
}

// Poller fetches the situation document on a fixed interval and publishes it
// into a Provider. Fetch failures are logged and retried on the next tick.
type Poller struct {
	cfg      PollerConfig
	provider *Provider
	log      *slog.Logger

	mu      sync.RWMutex
	state   string
	lastErr string
	polls   uint64
}

type PollerSnapshot struct {
	URL       string `json:"url"`
	State     string `json:"state"`
	LastError string `json:"last_error,omitempty"`
	Polls     uint64 `json:"polls"`
}

func NewPoller(cfg PollerConfig, provider *Provider) (*Poller, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("situation url is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("provider is nil")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 100 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}
	lg := cfg.Logger
	if lg == nil {
		lg = slog.New(slog.DiscardHandler)
	}
	return &Poller{cfg: cfg, provider: provider, log: lg.With(slog.String("component", "ahrs")), state: "stopped"}, nil
}

func (p *Poller) Run(ctx context.Context) error {
	t := time.NewTicker(p.cfg.Interval)
	defer t.Stop()
	for {
		if err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
			p.setState("error", err.Error())
		}
		select {
		case <-ctx.Done():
			p.setState("stopped", "")
			return nil
		case <-t.C:
		}
	}
}

// PollOnce performs a single fetch and publish.
func (p *Poller) PollOnce(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.URL, nil)
	if err != nil {
		return err
	}
	resp, err := p.cfg.Client.Do(req)
	if err != nil {
		return fmt.Errorf("get situation: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get situation: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read situation: %w", err)
	}
	snap, err := ParseSituation(body, time.Now())
	if err != nil {
		return err
	}
	p.provider.Publish(snap)

	p.mu.Lock()
	if p.state != "connected" {
		p.log.Info("situation feed connected", slog.String("url", p.cfg.URL))
	}
	p.state = "connected"
	p.lastErr = ""
	p.polls++
	p.mu.Unlock()
	return nil
}

func (p *Poller) setState(state, lastErr string) {
	p.mu.Lock()
	changed := p.state != state || p.lastErr != lastErr
	p.state = state
	p.lastErr = lastErr
	p.mu.Unlock()
	if changed && lastErr != "" {
		p.log.Warn("situation poll failed", slog.String("error", lastErr))
	}
}

func (p *Poller) Snapshot() PollerSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return PollerSnapshot{URL: p.cfg.URL, State: p.state, LastError: p.lastErr, Polls: p.polls}
}
