package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"stratux-hud/internal/ahrs"
	"stratux-hud/internal/config"
	"stratux-hud/internal/feed"
	"stratux-hud/internal/hud"
	"stratux-hud/internal/platform"
	"stratux-hud/internal/render"
	"stratux-hud/internal/replay"
	"stratux-hud/internal/sim"
	"stratux-hud/internal/traffic"
	"stratux-hud/internal/web"
)

type runOptions struct {
	Headless    bool
	RecordPath  string
	ReplayPath  string
	ReplaySpeed float64
}

// hudRuntime owns every long-running component for one process lifetime.
type hudRuntime struct {
	cfg  config.Config
	opts runOptions
	log  *slog.Logger

	manager  *traffic.Manager
	provider *ahrs.Provider
	adapter  *hud.Adapter

	feedClient *feed.Client
	poller     *ahrs.Poller
	simRunner  *sim.Runner
	recorder   *replay.Writer
	captured   []replay.Record
	status     *web.Status
}

func newRuntime(cfg config.Config, opts runOptions, info platform.Info, lg *slog.Logger) (*hudRuntime, error) {
	rt := &hudRuntime{cfg: cfg, opts: opts, log: lg}

	rt.manager = traffic.NewManager(traffic.ManagerConfig{
		MaxAge:     cfg.MaxAgeBeforeRemoval,
		MaxTargets: cfg.Feed.MaxTargets,
		Ownship:    cfg.Ownship,
		Units:      cfg.DistanceUnits,
		Logger:     lg,
	})
	rt.provider = ahrs.NewProvider(ahrs.Config{})
	rt.adapter = hud.NewAdapter(cfg, rt.manager, rt.provider)

	lg.Info("runtime starting",
		slog.String("data_source", cfg.DataSource),
		slog.String("units", cfg.DistanceUnits.String()),
		slog.Duration("max_age", cfg.MaxAgeBeforeRemoval),
		slog.String("os", info.OS),
		slog.String("machine", info.Machine),
		slog.Bool("raspberry_pi", info.IsRaspberryPi()),
		slog.Bool("debug_platform", info.Debug))

	if opts.ReplayPath != "" {
		recs, err := replay.ReadFile(opts.ReplayPath)
		if err != nil {
			return nil, fmt.Errorf("replay capture: %w", err)
		}
		rt.captured = recs
	}

	feedCfg := feed.Config{
		Addr:           cfg.FeedAddr(),
		ReconnectDelay: cfg.Feed.ReconnectDelay,
		Logger:         lg,
		Restamp:        rt.captured != nil,
	}
	if opts.RecordPath != "" {
		w, err := replay.CreateWriter(opts.RecordPath)
		if err != nil {
			return nil, fmt.Errorf("record capture: %w", err)
		}
		rt.recorder = w
		feedCfg.Tap = func(now time.Time, line []byte) {
			if err := w.WriteLine(now, line); err != nil {
				lg.Warn("capture write failed", slog.String("error", err.Error()))
			}
		}
	}

	switch cfg.DataSource {
	case config.DataSourceSimulation:
		runner, err := rt.newSimRunner()
		if err != nil {
			return nil, err
		}
		rt.simRunner = runner
	default:
		poller, err := ahrs.NewPoller(ahrs.PollerConfig{
			URL:      cfg.SituationURL(),
			Interval: cfg.Feed.SituationPoll,
			Logger:   lg,
		}, rt.provider)
		if err != nil {
			return nil, err
		}
		rt.poller = poller
	}

	if cfg.DataSource == config.DataSourceStratux || rt.captured != nil {
		client, err := feed.NewClient(feedCfg, rt.manager)
		if err != nil {
			return nil, err
		}
		rt.feedClient = client
	}

	rt.status = web.NewStatus(cfg.DataSource)
	rt.status.Manager = rt.manager
	rt.status.Provider = rt.provider
	if rt.feedClient != nil {
		rt.status.Feed = rt.feedClient.Snapshot
	}
	if rt.poller != nil {
		rt.status.Poller = rt.poller.Snapshot
	}
	return rt, nil
}

func (rt *hudRuntime) newSimRunner() (*sim.Runner, error) {
	sc := rt.cfg.Sim
	var src sim.Source
	if sc.Scenario != "" {
		scn, err := sim.LoadScenario(sc.Scenario)
		if err != nil {
			return nil, fmt.Errorf("sim scenario: %w", err)
		}
		src = sim.Scripted{Scenario: scn, Start: time.Now()}
	} else {
		count := sc.TrafficCount
		if rt.captured != nil {
			// Traffic comes from the capture; the sim only flies ownship.
			count = 0
		}
		src = sim.Orbit{
			Own: sim.OwnshipSim{
				CenterLatDeg: sc.CenterLatDeg,
				CenterLonDeg: sc.CenterLonDeg,
				AltFeet:      sc.AltFeet - 1000,
			},
			Targets: sim.TrafficSim{
				CenterLatDeg: sc.CenterLatDeg,
				CenterLonDeg: sc.CenterLonDeg,
				BaseAltFeet:  sc.AltFeet,
				RadiusNm:     sc.RadiusNm,
				Period:       sc.Period,
			},
			Count: count,
		}
	}
	return sim.NewRunner(sim.RunnerConfig{
		Interval:    time.Second,
		ReplayEvery: sc.ReplayEvery,
		Logger:      rt.log,
	}, src, rt.manager, rt.provider)
}

// run starts every component and blocks until ctx is done or the display
// exits. The first component error cancels the rest.
func (rt *hudRuntime) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return rt.manager.RunSweeper(ctx, rt.cfg.Feed.SweepInterval) })

	switch {
	case rt.captured != nil:
		g.Go(func() error {
			err := replay.Play(ctx, rt.captured, replay.PlayOptions{Speed: rt.opts.ReplaySpeed, Loop: true}, func(line []byte) error {
				rt.feedClient.HandleLine(line)
				return nil
			})
			if err != nil {
				return fmt.Errorf("replay: %w", err)
			}
			return nil
		})
	case rt.feedClient != nil:
		g.Go(func() error { return rt.feedClient.Run(ctx) })
	}
	if rt.poller != nil {
		g.Go(func() error { return rt.poller.Run(ctx) })
	}
	if rt.simRunner != nil {
		g.Go(func() error { return rt.simRunner.Run(ctx) })
	}
	if addr := rt.cfg.Status.Listen; addr != "" {
		rt.log.Info("status api listening", slog.String("addr", addr))
		g.Go(func() error { return web.Serve(ctx, addr, rt.status) })
	}

	g.Go(func() error {
		// The display ending (user quit) ends the process.
		defer cancel()
		opts := render.Options{
			Interval: rt.cfg.FrameInterval(),
			Logger:   rt.log,
			Level:    rt.provider.SetLevel,
			Clear:    rt.manager.Clear,
		}
		if rt.opts.Headless {
			return render.Headless(ctx, rt.adapter, opts)
		}
		return render.Program(ctx, rt.adapter, opts)
	})

	err := g.Wait()
	rt.logStats()
	return err
}

func (rt *hudRuntime) logStats() {
	st := rt.manager.Stats()
	attrs := []any{
		slog.Uint64("created", st.Created),
		slog.Uint64("updated", st.Updated),
		slog.Uint64("stale", st.Stale),
		slog.Uint64("malformed", st.Malformed),
		slog.Uint64("ownship", st.Ownship),
		slog.Uint64("expired", st.Expired),
		slog.Uint64("evicted", st.Evicted),
	}
	if rt.feedClient != nil {
		fs := rt.feedClient.Snapshot()
		attrs = append(attrs, slog.String("feed_state", fs.State), slog.Uint64("feed_lines", fs.Lines))
	}
	rt.log.Info("runtime stopped", attrs...)
}

func (rt *hudRuntime) close() error {
	if rt.recorder != nil {
		return rt.recorder.Close()
	}
	return nil
}
