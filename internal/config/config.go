package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"stratux-hud/internal/units"
)

const (
	DataSourceStratux    = "stratux"
	DataSourceSimulation = "simulation"

	DefaultNetworkIP = "192.168.10.1"

	DefaultRemovalMinutes = 2.0
	MaxFramerate          = 60
)

// Config is the fully resolved settings snapshot. It is produced once by Load
// (or Default) and treated as read-only afterwards.
type Config struct {
	DataSource     string
	StratuxAddress string
	// Ownship is the identifier (ICAO hex or tail) of the aircraft carrying the
	// display. Matching traffic is hidden from every query.
	Ownship             string
	DistanceUnits       units.Unit
	Declination         float64
	MaxAgeBeforeRemoval time.Duration

	Display DisplayConfig
	Feed    FeedConfig
	Render  RenderConfig
	Log     LogConfig
	Sim     SimConfig
	Status  StatusConfig
}

type DisplayConfig struct {
	FlipHorizontal bool
	FlipVertical   bool
	ReverseRoll    bool
	ReversePitch   bool
	ReverseYaw     bool
}

type FeedConfig struct {
	Port           int
	ReconnectDelay time.Duration
	SweepInterval  time.Duration
	MaxTargets     int
	SituationPoll  time.Duration
}

type RenderConfig struct {
	MaxFramerate int
	ClosestCount int
}

type LogConfig struct {
	Path   string
	Level  string
	Stderr bool
}

// StatusConfig controls the JSON status API. An empty Listen disables it.
type StatusConfig struct {
	Listen string
}

type SimConfig struct {
	CenterLatDeg float64
	CenterLonDeg float64
	TrafficCount int
	RadiusNm     float64
	Period       time.Duration
	AltFeet      int
	// Scenario is an optional keyframe script path; empty uses the orbit.
	Scenario    string
	ReplayEvery int
}

// fileConfig mirrors the on-disk document. Pointers distinguish an absent key
// from an explicit zero so each key can resolve its own default.
type fileConfig struct {
	DataSource     *string  `yaml:"data_source"`
	StratuxAddress *string  `yaml:"stratux_address"`
	Ownship        *string  `yaml:"ownship"`
	DistanceUnits  *string  `yaml:"distance_units"`
	Declination    *float64 `yaml:"declination"`
	RemovalMinutes *float64 `yaml:"traffic_report_removal_minutes"`

	Display *fileDisplay `yaml:"display"`
	Feed    fileFeed     `yaml:"feed"`
	Render  fileRender   `yaml:"render"`
	Log     fileLog      `yaml:"log"`
	Sim     fileSim      `yaml:"sim"`
	Status  fileStatus   `yaml:"status"`
}

type fileStatus struct {
	Listen string `yaml:"listen"`
}

type fileDisplay struct {
	FlipHorizontal *bool `yaml:"flip_horizontal"`
	FlipVertical   *bool `yaml:"flip_vertical"`
	ReverseRoll    *bool `yaml:"reverse_roll"`
	ReversePitch   *bool `yaml:"reverse_pitch"`
	ReverseYaw     *bool `yaml:"reverse_yaw"`
}

type fileFeed struct {
	Port           int           `yaml:"port"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	MaxTargets     int           `yaml:"max_targets"`
	SituationPoll  time.Duration `yaml:"situation_poll"`
}

type fileRender struct {
	MaxFramerate int `yaml:"max_framerate"`
	ClosestCount int `yaml:"closest_count"`
}

type fileLog struct {
	Path   string `yaml:"path"`
	Level  string `yaml:"level"`
	Stderr bool   `yaml:"stderr"`
}

type fileSim struct {
	CenterLatDeg *float64      `yaml:"center_lat_deg"`
	CenterLonDeg *float64      `yaml:"center_lon_deg"`
	TrafficCount int           `yaml:"traffic_count"`
	RadiusNm     float64       `yaml:"radius_nm"`
	Period       time.Duration `yaml:"period"`
	AltFeet      int           `yaml:"alt_feet"`
	Scenario     string        `yaml:"scenario"`
	ReplayEvery  *int          `yaml:"replay_every"`
}

// Default returns the settings used when no document is available.
func Default() Config {
	cfg, err := resolve(fileConfig{})
	if err != nil {
		// Defaults are constants; failing here is a programming error.
		panic(err)
	}
	return cfg
}

// Load reads and resolves the settings document at path. JSON documents are
// accepted as well since YAML is a superset.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// LoadOrDefault behaves like Load but treats a missing file as "all defaults".
// missing reports whether that fallback was taken.
func LoadOrDefault(path string) (cfg Config, missing bool, err error) {
	cfg, err = Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), true, nil
	}
	return cfg, false, err
}

func Parse(b []byte) (Config, error) {
	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		if strings.Contains(err.Error(), "not found in type") {
			return Config{}, fmt.Errorf("config contains unknown fields: %s", unknownFieldDetail(err))
		}
		return Config{}, fmt.Errorf("config parse: %w", err)
	}
	return resolve(fc)
}

// unknownFieldDetail strips yaml's "line N:" noise so messages are stable.
func unknownFieldDetail(err error) string {
	var te *yaml.TypeError
	if errors.As(err, &te) && len(te.Errors) > 0 {
		msg := te.Errors[0]
		if i := strings.Index(msg, ": "); i >= 0 && strings.HasPrefix(msg, "line ") {
			msg = msg[i+2:]
		}
		return msg
	}
	return err.Error()
}

func resolve(fc fileConfig) (Config, error) {
	cfg := Config{
		DataSource:          DataSourceStratux,
		StratuxAddress:      DefaultNetworkIP,
		DistanceUnits:       units.Statute,
		MaxAgeBeforeRemoval: minutes(DefaultRemovalMinutes),
	}

	if fc.DataSource != nil {
		ds := strings.ToLower(strings.TrimSpace(*fc.DataSource))
		switch ds {
		case "":
		case DataSourceStratux, DataSourceSimulation:
			cfg.DataSource = ds
		default:
			return Config{}, fmt.Errorf("data_source must be %q or %q", DataSourceStratux, DataSourceSimulation)
		}
	}
	if fc.StratuxAddress != nil && strings.TrimSpace(*fc.StratuxAddress) != "" {
		cfg.StratuxAddress = strings.TrimSpace(*fc.StratuxAddress)
	}
	if fc.Ownship != nil {
		cfg.Ownship = strings.TrimSpace(*fc.Ownship)
	}
	if fc.DistanceUnits != nil {
		u, err := units.Parse(*fc.DistanceUnits)
		if err != nil {
			return Config{}, fmt.Errorf("distance_units: %w", err)
		}
		cfg.DistanceUnits = u
	}
	if fc.Declination != nil {
		d := *fc.Declination
		if math.IsNaN(d) || math.IsInf(d, 0) {
			return Config{}, fmt.Errorf("declination must be finite")
		}
		cfg.Declination = d
	}
	if fc.RemovalMinutes != nil {
		m := *fc.RemovalMinutes
		if math.IsNaN(m) || math.IsInf(m, 0) || m < 0 {
			return Config{}, fmt.Errorf("traffic_report_removal_minutes must be >= 0")
		}
		if m > 0 {
			cfg.MaxAgeBeforeRemoval = minutes(m)
		}
	}

	// Reversal defaults apply per key, whether or not a display section exists.
	cfg.Display = DisplayConfig{ReverseRoll: true, ReversePitch: false, ReverseYaw: true}
	if d := fc.Display; d != nil {
		setBool(&cfg.Display.FlipHorizontal, d.FlipHorizontal)
		setBool(&cfg.Display.FlipVertical, d.FlipVertical)
		setBool(&cfg.Display.ReverseRoll, d.ReverseRoll)
		setBool(&cfg.Display.ReversePitch, d.ReversePitch)
		setBool(&cfg.Display.ReverseYaw, d.ReverseYaw)
	}

	cfg.Feed = FeedConfig{
		Port:           fc.Feed.Port,
		ReconnectDelay: fc.Feed.ReconnectDelay,
		SweepInterval:  fc.Feed.SweepInterval,
		MaxTargets:     fc.Feed.MaxTargets,
		SituationPoll:  fc.Feed.SituationPoll,
	}
	if cfg.Feed.Port == 0 {
		cfg.Feed.Port = 30006
	}
	if cfg.Feed.Port < 0 || cfg.Feed.Port > 65535 {
		return Config{}, fmt.Errorf("feed.port must be between 1 and 65535")
	}
	if cfg.Feed.ReconnectDelay <= 0 {
		cfg.Feed.ReconnectDelay = 2 * time.Second
	}
	if cfg.Feed.SweepInterval <= 0 {
		cfg.Feed.SweepInterval = 1 * time.Second
	}
	if cfg.Feed.MaxTargets <= 0 {
		cfg.Feed.MaxTargets = 500
	}
	if cfg.Feed.SituationPoll <= 0 {
		cfg.Feed.SituationPoll = 100 * time.Millisecond
	}

	cfg.Render = RenderConfig{MaxFramerate: fc.Render.MaxFramerate, ClosestCount: fc.Render.ClosestCount}
	if cfg.Render.MaxFramerate <= 0 || cfg.Render.MaxFramerate > MaxFramerate {
		cfg.Render.MaxFramerate = MaxFramerate
	}
	if cfg.Render.ClosestCount <= 0 {
		cfg.Render.ClosestCount = 4
	}

	cfg.Log = LogConfig{Path: strings.TrimSpace(fc.Log.Path), Level: strings.ToLower(strings.TrimSpace(fc.Log.Level)), Stderr: fc.Log.Stderr}
	if cfg.Log.Path == "" {
		cfg.Log.Path = "stratux_hud.log"
	}
	switch cfg.Log.Level {
	case "":
		cfg.Log.Level = "info"
	case "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("log.level must be one of debug, info, warn, error")
	}

	cfg.Sim = SimConfig{
		CenterLatDeg: 45.5,
		CenterLonDeg: -122.6,
		TrafficCount: fc.Sim.TrafficCount,
		RadiusNm:     fc.Sim.RadiusNm,
		Period:       fc.Sim.Period,
		AltFeet:      fc.Sim.AltFeet,
		Scenario:     strings.TrimSpace(fc.Sim.Scenario),
		ReplayEvery:  5,
	}
	if fc.Sim.ReplayEvery != nil {
		cfg.Sim.ReplayEvery = *fc.Sim.ReplayEvery
	}
	if cfg.Sim.ReplayEvery < 0 {
		return Config{}, fmt.Errorf("sim.replay_every must be >= 0")
	}
	if fc.Sim.CenterLatDeg != nil {
		cfg.Sim.CenterLatDeg = *fc.Sim.CenterLatDeg
	}
	if fc.Sim.CenterLonDeg != nil {
		cfg.Sim.CenterLonDeg = *fc.Sim.CenterLonDeg
	}
	if cfg.Sim.CenterLatDeg < -90 || cfg.Sim.CenterLatDeg > 90 || cfg.Sim.CenterLonDeg < -180 || cfg.Sim.CenterLonDeg > 180 {
		return Config{}, fmt.Errorf("sim center is out of range")
	}
	if cfg.Sim.TrafficCount <= 0 {
		cfg.Sim.TrafficCount = 5
	}
	if cfg.Sim.RadiusNm <= 0 {
		cfg.Sim.RadiusNm = 4.0
	}
	if cfg.Sim.Period <= 0 {
		cfg.Sim.Period = 90 * time.Second
	}
	if cfg.Sim.AltFeet == 0 {
		cfg.Sim.AltFeet = 4500
	}

	cfg.Status.Listen = strings.TrimSpace(fc.Status.Listen)

	return cfg, nil
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func minutes(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}

// FeedAddr is the host:port of the traffic report stream.
func (c Config) FeedAddr() string {
	return fmt.Sprintf("%s:%d", c.StratuxAddress, c.Feed.Port)
}

// SituationURL is the Stratux endpoint that reports ownship and AHRS state.
func (c Config) SituationURL() string {
	return "http://" + c.StratuxAddress + "/getSituation"
}

// FrameInterval is the render tick derived from MaxFramerate.
func (c Config) FrameInterval() time.Duration {
	fps := c.Render.MaxFramerate
	if fps <= 0 {
		fps = MaxFramerate
	}
	return time.Second / time.Duration(fps)
}
