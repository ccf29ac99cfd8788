package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"stratux-hud/internal/config"
	"stratux-hud/internal/logging"
	"stratux-hud/internal/platform"
)

func main() {
	var (
		configPath string
		logLevel   string
		summarize  string
		opts       runOptions
	)
	pflag.StringVarP(&configPath, "config", "c", "./config.yaml", "Path to YAML or JSON config")
	pflag.BoolVar(&opts.Headless, "headless", false, "Build frames without a terminal and log a summary")
	pflag.StringVar(&logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")
	pflag.StringVar(&opts.RecordPath, "record", "", "Record the raw traffic feed to this capture file")
	pflag.StringVar(&opts.ReplayPath, "replay", "", "Play traffic from a capture file instead of the live feed")
	pflag.Float64Var(&opts.ReplaySpeed, "replay-speed", 1.0, "Replay speed multiplier")
	pflag.StringVar(&summarize, "summarize", "", "Print a summary of a capture file and exit")
	pflag.Parse()

	if summarize != "" {
		if err := printCaptureSummary(os.Stdout, summarize); err != nil {
			log.Fatalf("summarize failed: %v", err)
		}
		return
	}

	cfg, missing, err := config.LoadOrDefault(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	lg, err := logging.New(logging.Options{Path: cfg.Log.Path, Level: cfg.Log.Level, Stderr: cfg.Log.Stderr})
	if err != nil {
		log.Fatalf("logging init failed: %v", err)
	}
	defer lg.Close()
	if missing {
		lg.Warn("config file not found, using defaults", "path", configPath)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, opts, lg); err != nil {
		lg.Error("stratux-hud stopped with error", "error", err.Error())
		fmt.Fprintf(os.Stderr, "stratux-hud: %v\n", err)
		cancel()
		lg.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, opts runOptions, lg *logging.Logger) error {
	rt, err := newRuntime(cfg, opts, platform.Detect(), lg.Slog())
	if err != nil {
		return err
	}
	runErr := rt.run(ctx)
	if err := rt.close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("close capture: %w", err)
	}
	return runErr
}
