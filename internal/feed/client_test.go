package feed

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stratux-hud/internal/traffic"
)

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{Addr: "127.0.0.1:1"}, nil)
	require.EqualError(t, err, "feed sink is nil")

	c, err := NewClient(Config{}, traffic.NewManager(traffic.ManagerConfig{}))
	require.NoError(t, err, "an addressless client can still take lines")
	require.EqualError(t, c.Run(context.Background()), "feed addr is required")
}

func TestHandleLine_Counts(t *testing.T) {
	m := traffic.NewManager(traffic.ManagerConfig{})
	c, err := NewClient(Config{Addr: "127.0.0.1:1"}, m)
	require.NoError(t, err)

	require.Equal(t, traffic.IngestCreated, c.HandleLine([]byte(`{"id":"A1","lat":40,"lon":-75,"timestamp":100}`)))
	require.Equal(t, traffic.IngestStale, c.HandleLine([]byte(`{"id":"A1","lat":40.01,"lon":-75,"timestamp":90}`)))
	require.Equal(t, traffic.IngestMalformed, c.HandleLine([]byte(`{"lat":1}`)))
	require.Equal(t, traffic.IngestMalformed, c.HandleLine([]byte(`not json`)))
	require.Equal(t, traffic.IngestMalformed, c.HandleLine([]byte("   ")))

	snap := c.Snapshot()
	require.Equal(t, uint64(4), snap.Lines, "blank lines are not counted")
	require.Equal(t, uint64(1), snap.Accepted)
	require.Equal(t, uint64(1), snap.Stale)
	require.Equal(t, uint64(2), snap.Malformed)

	r, ok := m.Get("A1")
	require.True(t, ok)
	require.Equal(t, 40.0, r.LatDeg)
	require.Equal(t, traffic.SourceStratux, r.Source)
}

func TestHandleLine_TapAndRestamp(t *testing.T) {
	arrival := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	m := traffic.NewManager(traffic.ManagerConfig{Now: func() time.Time { return arrival }})
	var tapped []string
	c, err := NewClient(Config{
		Restamp: true,
		Tap:     func(_ time.Time, line []byte) { tapped = append(tapped, string(line)) },
	}, m)
	require.NoError(t, err)

	require.Equal(t, traffic.IngestCreated, c.HandleLine([]byte(` {"id":"A1","lat":40,"lon":-75,"timestamp":100} `)))
	require.Equal(t, traffic.IngestMalformed, c.HandleLine([]byte(`junk`)))
	require.Equal(t, []string{`{"id":"A1","lat":40,"lon":-75,"timestamp":100}`, "junk"}, tapped)

	r, ok := m.Get("A1")
	require.True(t, ok)
	require.True(t, r.SeenAt.Equal(arrival))
	require.True(t, r.ReportedAt.IsZero(), "report timestamp dropped")
}

func TestHandleLine_SkewedSenderClock(t *testing.T) {
	arrival := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	m := traffic.NewManager(traffic.ManagerConfig{
		MaxAge: 2 * time.Minute,
		Now:    func() time.Time { return arrival },
	})
	c, err := NewClient(Config{}, m)
	require.NoError(t, err)

	report := func(id string, ts time.Time) []byte {
		return []byte(fmt.Sprintf(`{"id":%q,"lat":40,"lon":-75,"timestamp":%d}`, id, ts.Unix()))
	}

	// Sender clock five minutes behind: still live right after arrival.
	require.Equal(t, traffic.IngestCreated, c.HandleLine(report("BEHIND", arrival.Add(-5*time.Minute))))
	// Sender clock an hour ahead: expires on our clock, not the sender's.
	require.Equal(t, traffic.IngestCreated, c.HandleLine(report("AHEAD", arrival.Add(time.Hour))))

	require.Zero(t, m.ExpireStale(arrival.Add(time.Second)))
	require.Equal(t, 2, m.Count())

	// Sender timestamps still order updates.
	require.Equal(t, traffic.IngestStale, c.HandleLine(report("BEHIND", arrival.Add(-6*time.Minute))))
	require.Equal(t, traffic.IngestUpdated, c.HandleLine(report("BEHIND", arrival.Add(-4*time.Minute))))

	require.Equal(t, 2, m.ExpireStale(arrival.Add(2*time.Minute+time.Second)))
	require.Zero(t, m.Count())
}

func TestHandleLine_OwnshipCounted(t *testing.T) {
	m := traffic.NewManager(traffic.ManagerConfig{Ownship: "N12345"})
	c, err := NewClient(Config{}, m)
	require.NoError(t, err)

	require.Equal(t, traffic.IngestOwnship, c.HandleLine([]byte(`{"id":"ABC123","lat":40,"lon":-75,"tail":"N12345"}`)))
	require.Zero(t, m.Count())
	snap := c.Snapshot()
	require.Equal(t, uint64(1), snap.Ownship)
	require.Zero(t, snap.Malformed)
}

func TestRun_IngestsFromTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Write([]byte(
			`{"id":"AAA111","lat":45.0,"lon":-122.0,"alt":3000}` + "\n" +
				"garbage\n" +
				`{"id":"BBB222","lat":45.1,"lon":-122.1,"speed":95}` + "\n"))
		// Hold the connection open until the client goes away.
		buf := make([]byte, 1)
		_, _ = conn.Read(buf)
	}()

	m := traffic.NewManager(traffic.ManagerConfig{})
	c, err := NewClient(Config{Addr: ln.Addr().String(), ReconnectDelay: 10 * time.Millisecond}, m)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return m.Count() == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, "connected", c.Snapshot().State)
	require.Equal(t, uint64(1), c.Snapshot().Malformed)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "client did not stop")
	}
	require.Equal(t, "stopped", c.Snapshot().State)
	require.Error(t, c.Run(context.Background()), "second Run must be rejected")
}

func TestRun_ReconnectsAfterDialFailure(t *testing.T) {
	// Reserve a port, then close it so the first dials fail.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	m := traffic.NewManager(traffic.ManagerConfig{})
	c, err := NewClient(Config{Addr: addr, ReconnectDelay: 10 * time.Millisecond}, m)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	require.Eventually(t, func() bool { return c.Snapshot().LastError != "" }, 2*time.Second, 5*time.Millisecond)

	ln2, err := net.Listen("tcp", addr)
	if err != nil {
		t.Skipf("port %s was reused before relisten: %v", addr, err)
	}
	defer ln2.Close()
	go func() {
		conn, err := ln2.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Write([]byte(`{"id":"CCC333","lat":1,"lon":1}` + "\n"))
		buf := make([]byte, 1)
		_, _ = conn.Read(buf)
	}()

	require.Eventually(t, func() bool { return m.Count() == 1 }, 2*time.Second, 5*time.Millisecond)
}
