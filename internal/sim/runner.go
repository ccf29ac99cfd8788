package sim

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"stratux-hud/internal/ahrs"
	"stratux-hud/internal/traffic"
)

type Ingester interface {
	Ingest(rec traffic.Record) traffic.IngestResult
}

type Publisher interface {
	Publish(s ahrs.Snapshot)
}

// Source produces the simulated world at a point in time.
type Source interface {
	Ownship(now time.Time) ahrs.Snapshot
	Traffic(now time.Time) []traffic.Record
}

// Orbit is the built-in source: ownship flies a figure-eight while Count
// targets circle the same center.
type Orbit struct {
	Own     OwnshipSim
	Targets TrafficSim
	Count   int
}

func (o Orbit) Ownship(now time.Time) ahrs.Snapshot    { return o.Own.Snapshot(now) }
func (o Orbit) Traffic(now time.Time) []traffic.Record { return o.Targets.Records(now, o.Count) }

// Scripted plays a Scenario, looping, from Start.
type Scripted struct {
	Scenario *Scenario
	Start    time.Time
}

func (s Scripted) Ownship(now time.Time) ahrs.Snapshot {
	return s.Scenario.Ownship(now.Sub(s.Start), now, true)
}

func (s Scripted) Traffic(now time.Time) []traffic.Record {
	return s.Scenario.Records(now.Sub(s.Start), now, true)
}

type RunnerConfig struct {
	Interval time.Duration
	// ReplayEvery re-sends the previous tick's records every Nth tick, after
	// the fresh ones, to mimic a radio delivering reports out of order.
	// Zero disables replay.
	ReplayEvery int
	Now         func() time.Time
	Logger      *slog.Logger
}

type Runner struct {
	cfg       RunnerConfig
	src       Source
	sink      Ingester
	publisher Publisher
	log       *slog.Logger

	ticks    uint64
	previous []traffic.Record
}

func NewRunner(cfg RunnerConfig, src Source, sink Ingester, pub Publisher) (*Runner, error) {
	if src == nil {
		return nil, fmt.Errorf("sim source is nil")
	}
	if sink == nil {
		return nil, fmt.Errorf("sim sink is nil")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	lg := cfg.Logger
	if lg == nil {
		lg = slog.New(slog.DiscardHandler)
	}
	return &Runner{cfg: cfg, src: src, sink: sink, publisher: pub, log: lg.With(slog.String("component", "sim"))}, nil
}

// Run steps the simulation every Interval until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info("simulation started", slog.Duration("interval", r.cfg.Interval))
	t := time.NewTicker(r.cfg.Interval)
	defer t.Stop()
	for {
		r.Step(r.cfg.Now())
		select {
		case <-ctx.Done():
			r.log.Info("simulation stopped", slog.Uint64("ticks", r.ticks))
			return nil
		case <-t.C:
		}
	}
}

// Step publishes ownship and ingests one round of traffic stamped with now.
// It returns the number of reports the sink rejected as stale.
func (r *Runner) Step(now time.Time) int {
	r.ticks++
	if r.publisher != nil {
		r.publisher.Publish(r.src.Ownship(now))
	}

	recs := r.src.Traffic(now)
	for _, rec := range recs {
		r.sink.Ingest(rec)
	}

	stale := 0
	if r.cfg.ReplayEvery > 0 && r.ticks%uint64(r.cfg.ReplayEvery) == 0 {
		for _, rec := range r.previous {
			if r.sink.Ingest(rec) == traffic.IngestStale {
				stale++
			}
		}
		if stale > 0 {
			r.log.Debug("replayed late reports", slog.Int("stale", stale))
		}
	}
	r.previous = recs
	return stale
}
