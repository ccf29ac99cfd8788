package web

import (
	"sync/atomic"
	"time"

	"stratux-hud/internal/ahrs"
	"stratux-hud/internal/feed"
	"stratux-hud/internal/traffic"
)

// Status gathers the live counters of every component for /api/status.
// Components are registered once at startup; the getters are read per request.
type Status struct {
	startUnixNano int64
	dataSource    atomic.Value // string

	Manager  *traffic.Manager
	Provider *ahrs.Provider
	Feed     func() feed.Snapshot
	Poller   func() ahrs.PollerSnapshot
}

func NewStatus(dataSource string) *Status {
	s := &Status{startUnixNano: time.Now().UTC().UnixNano()}
	s.dataSource.Store(dataSource)
	return s
}

// AttitudeSnapshot is a UI-friendly view of AHRS output. Values are omitted
// when unknown.
type AttitudeSnapshot struct {
	Valid         bool     `json:"valid"`
	RollDeg       *float64 `json:"roll_deg,omitempty"`
	PitchDeg      *float64 `json:"pitch_deg,omitempty"`
	HeadingDeg    *float64 `json:"heading_deg,omitempty"`
	LatDeg        *float64 `json:"lat_deg,omitempty"`
	LonDeg        *float64 `json:"lon_deg,omitempty"`
	LastUpdateUTC string   `json:"last_update_utc,omitempty"`
}

type TrafficStats struct {
	Live      int    `json:"live"`
	Created   uint64 `json:"created"`
	Updated   uint64 `json:"updated"`
	Stale     uint64 `json:"stale"`
	Malformed uint64 `json:"malformed"`
	Ownship   uint64 `json:"ownship"`
	Expired   uint64 `json:"expired"`
	Evicted   uint64 `json:"evicted"`
	Cleared   uint64 `json:"cleared"`
}

type StatusSnapshot struct {
	Service    string               `json:"service"`
	NowUTC     string               `json:"now_utc"`
	UptimeSec  int64                `json:"uptime_sec"`
	DataSource string               `json:"data_source"`
	Traffic    TrafficStats         `json:"traffic"`
	Attitude   AttitudeSnapshot     `json:"attitude"`
	Feed       *feed.Snapshot       `json:"feed,omitempty"`
	Poller     *ahrs.PollerSnapshot `json:"poller,omitempty"`
}

func ptr(v float64) *float64 { return &v }

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()
	snap := StatusSnapshot{
		Service:    "stratux-hud",
		NowUTC:     nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec:  int64(nowUTC.Sub(start).Seconds()),
		DataSource: s.dataSource.Load().(string),
	}

	if s.Manager != nil {
		st := s.Manager.Stats()
		snap.Traffic = TrafficStats{
			Live:      s.Manager.Count(),
			Created:   st.Created,
			Updated:   st.Updated,
			Stale:     st.Stale,
			Malformed: st.Malformed,
			Ownship:   st.Ownship,
			Expired:   st.Expired,
			Evicted:   st.Evicted,
			Cleared:   st.Cleared,
		}
	}

	if s.Provider != nil {
		cur := s.Provider.Current()
		att := AttitudeSnapshot{Valid: cur.AttitudeValid}
		if cur.AttitudeValid {
			att.RollDeg, att.PitchDeg = ptr(cur.RollDeg), ptr(cur.PitchDeg)
		}
		if cur.HeadingValid {
			att.HeadingDeg = ptr(cur.HeadingDeg)
		}
		if cur.PositionValid {
			att.LatDeg, att.LonDeg = ptr(cur.Position.LatDeg), ptr(cur.Position.LonDeg)
		}
		if !cur.UpdatedAt.IsZero() {
			att.LastUpdateUTC = cur.UpdatedAt.UTC().Format(time.RFC3339Nano)
		}
		snap.Attitude = att
	}

	if s.Feed != nil {
		fs := s.Feed()
		snap.Feed = &fs
	}
	if s.Poller != nil {
		ps := s.Poller()
		snap.Poller = &ps
	}
	return snap
}
