// Package feed streams traffic reports from the sensor box into the track
// manager. The upstream device speaks newline-delimited JSON over TCP, one
// already-decoded report per line.
package feed

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"stratux-hud/internal/traffic"
)

// Ingester is the part of traffic.Manager the feed needs.
type Ingester interface {
	Ingest(rec traffic.Record) traffic.IngestResult
}

type Config struct {
	Addr string

	ReconnectDelay time.Duration
	DialTimeout    time.Duration
	MaxLineBytes   int

	// WarnEvery limits how often malformed-line warnings are logged.
	WarnEvery time.Duration

	// Tap, when set, sees every non-blank line before it is parsed.
	Tap func(now time.Time, line []byte)
	// Restamp drops report timestamps so updates are ordered by arrival.
	// Used when replaying captures, whose timestamps repeat on every loop.
	Restamp bool

	Logger *slog.Logger
}

type Client struct {
	cfg  Config
	sink Ingester
	log  *slog.Logger
	warn *rate.Limiter

	started atomic.Bool

	mu        sync.RWMutex
	state     string
	lastErr   string
	lastSeen  time.Time
	lines     uint64
	accepted  uint64
	stale     uint64
	malformed uint64
	ownship   uint64
}

type Snapshot struct {
	Addr        string `json:"addr"`
	State       string `json:"state"`
	LastError   string `json:"last_error,omitempty"`
	LastSeenUTC string `json:"last_seen_utc,omitempty"`
	Lines       uint64 `json:"lines"`
	Accepted    uint64 `json:"accepted"`
	Stale       uint64 `json:"stale"`
	Malformed   uint64 `json:"malformed"`
	Ownship     uint64 `json:"ownship"`
}

func NewClient(cfg Config, sink Ingester) (*Client, error) {
	if sink == nil {
		return nil, fmt.Errorf("feed sink is nil")
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = 64 * 1024
	}
	if cfg.WarnEvery <= 0 {
		cfg.WarnEvery = 10 * time.Second
	}
	lg := cfg.Logger
	if lg == nil {
		lg = slog.New(slog.DiscardHandler)
	}
	return &Client{
		cfg:   cfg,
		sink:  sink,
		log:   lg.With(slog.String("component", "feed"), slog.String("addr", cfg.Addr)),
		warn:  rate.NewLimiter(rate.Every(cfg.WarnEvery), 1),
		state: "stopped",
	}, nil
}

// Run connects to the feed and ingests reports until ctx is done, reconnecting
// after ReconnectDelay whenever the connection drops.
func (c *Client) Run(ctx context.Context) error {
	if c.cfg.Addr == "" {
		return fmt.Errorf("feed addr is required")
	}
	if c.started.Swap(true) {
		return fmt.Errorf("feed client already started")
	}
	dialer := &net.Dialer{Timeout: c.cfg.DialTimeout}

	for {
		if ctx.Err() != nil {
			c.setState("stopped", "")
			return nil
		}

		c.setState("connecting", "")
		conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Addr)
		if err != nil {
			if ctx.Err() == nil {
				c.setState("error", err.Error())
			}
		} else {
			c.setState("connected", "")
			c.log.Info("feed connected")
			err = c.readLoop(ctx, conn)
			if ctx.Err() == nil {
				msg := ""
				if err != nil {
					msg = err.Error()
				}
				c.setState("disconnected", msg)
				c.log.Warn("feed disconnected", slog.String("error", msg))
			}
		}

		if !sleepCtx(ctx, c.cfg.ReconnectDelay) {
			c.setState("stopped", "")
			return nil
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn net.Conn) error {
	// Unblock the read when ctx is cancelled.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 4096), c.cfg.MaxLineBytes)
	for sc.Scan() {
		c.HandleLine(sc.Bytes())
	}
	err := sc.Err()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// HandleLine parses one report and hands it to the sink. It never fails: bad
// lines are counted and (rate-limited) logged.
func (c *Client) HandleLine(line []byte) traffic.IngestResult {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return traffic.IngestMalformed
	}

	now := time.Now()
	if c.cfg.Tap != nil {
		c.cfg.Tap(now, line)
	}

	rec, err := traffic.ParseReport(line)
	res := traffic.IngestMalformed
	if err == nil {
		rec.Source = traffic.SourceStratux
		if c.cfg.Restamp {
			rec.ReportedAt = time.Time{}
		}
		res = c.sink.Ingest(rec)
	}

	c.mu.Lock()
	c.lines++
	c.lastSeen = now.UTC()
	switch {
	case res.Accepted():
		c.accepted++
	case res == traffic.IngestStale:
		c.stale++
	case res == traffic.IngestOwnship:
		c.ownship++
	default:
		c.malformed++
	}
	c.mu.Unlock()

	if res == traffic.IngestMalformed && c.warn.Allow() {
		msg := "rejected by manager"
		if err != nil {
			msg = err.Error()
		}
		c.log.Warn("dropping malformed traffic report", slog.String("error", msg))
	}
	return res
}

func (c *Client) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := Snapshot{
		Addr:      c.cfg.Addr,
		State:     c.state,
		LastError: c.lastErr,
		Lines:     c.lines,
		Accepted:  c.accepted,
		Stale:     c.stale,
		Malformed: c.malformed,
		Ownship:   c.ownship,
	}
	if !c.lastSeen.IsZero() {
		out.LastSeenUTC = c.lastSeen.Format(time.RFC3339Nano)
	}
	return out
}

func (c *Client) setState(state string, lastErr string) {
	c.mu.Lock()
	c.state = state
	if lastErr != "" {
		c.lastErr = lastErr
	} else if state == "connected" || state == "stopped" {
		c.lastErr = ""
	}
	c.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
