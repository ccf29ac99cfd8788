package traffic

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"stratux-hud/internal/geo"
	"stratux-hud/internal/units"
)

type ManagerConfig struct {
	// MaxAge is how long a track survives without updates before ExpireStale
	// removes it.
	MaxAge time.Duration
	// MaxTargets limits memory use. When exceeded, the oldest track is evicted.
	MaxTargets int
	// Ownship is matched against ID and tail; matching reports are dropped.
	Ownship string
	// Units is the unit Nearest reports distances in.
	Units units.Unit

	Now    func() time.Time
	Logger *slog.Logger
}

// IngestResult tells the caller what Ingest did with a record.
type IngestResult int

const (
	IngestCreated IngestResult = iota
	IngestUpdated
	IngestStale
	IngestMalformed
	IngestOwnship
)

func (r IngestResult) String() string {
	switch r {
	case IngestCreated:
		return "created"
	case IngestUpdated:
		return "updated"
	case IngestStale:
		return "stale"
	case IngestMalformed:
		return "malformed"
	case IngestOwnship:
		return "ownship"
	default:
		return "unknown"
	}
}

// Accepted reports whether the record was stored.
func (r IngestResult) Accepted() bool {
	return r == IngestCreated || r == IngestUpdated
}

// Contact is a track placed relative to ownship.
type Contact struct {
	Record     Record
	Distance   float64
	BearingDeg float64
}

// Stats are cumulative counters since the manager was created.
type Stats struct {
	Created   uint64
	Updated   uint64
	Stale     uint64
	Malformed uint64
	Ownship   uint64
	Expired   uint64
	Evicted   uint64
	Cleared   uint64
}

// Manager is the concurrency-safe registry of live traffic tracks. Writers
// (Ingest, ExpireStale, Clear) hold the lock exclusively; readers hold it only
// long enough to copy what they need.
type Manager struct {
	mu sync.RWMutex

	cfg     ManagerConfig
	ownship string
	log     *slog.Logger

	tracks map[string]Record
	// ownshipIDs are IDs whose reports carried the ownship tail.
	ownshipIDs map[string]struct{}

	created   atomic.Uint64
	updated   atomic.Uint64
	stale     atomic.Uint64
	malformed atomic.Uint64
	dropped   atomic.Uint64
	expired   atomic.Uint64
	evicted   atomic.Uint64
	cleared   atomic.Uint64
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 2 * time.Minute
	}
	if cfg.MaxTargets <= 0 {
		cfg.MaxTargets = 500
	}
	if cfg.Units == "" {
		cfg.Units = units.Statute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	lg := cfg.Logger
	if lg == nil {
		lg = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		cfg:        cfg,
		ownship:    NormalizeID(cfg.Ownship),
		log:        lg.With(slog.String("component", "traffic")),
		tracks:     make(map[string]Record),
		ownshipIDs: make(map[string]struct{}),
	}
}

func (m *Manager) MaxAge() time.Duration { return m.cfg.MaxAge }
func (m *Manager) Units() units.Unit     { return m.cfg.Units }

// ownshipLocked reports whether rec describes ownship. A tail match marks the
// ID so later reports that omit the tail are recognized too, and drops any
// track already stored under it.
func (m *Manager) ownshipLocked(rec Record) bool {
	if m.ownship == "" {
		return false
	}
	if rec.ID == m.ownship {
		return true
	}
	if _, ok := m.ownshipIDs[rec.ID]; ok {
		return true
	}
	if rec.HasTail && rec.Tail == m.ownship {
		m.ownshipIDs[rec.ID] = struct{}{}
		delete(m.tracks, rec.ID)
		return true
	}
	return false
}

// olderThan orders two reports of one target by the sender's timestamps when
// both carry one, and by arrival time otherwise.
func olderThan(rec, prev Record) bool {
	if !rec.ReportedAt.IsZero() && !prev.ReportedAt.IsZero() {
		return rec.ReportedAt.Before(prev.ReportedAt)
	}
	return rec.SeenAt.Before(prev.SeenAt)
}

// Ingest inserts or updates a track by ID.
//
// Malformed records and ownship reports are dropped. A record older than the
// stored one is rejected without touching any field; equal timestamps are
// last writer wins. Position and velocity fields are replaced as a unit,
// while a previously known tail survives updates that omit it.
//
// A zero SeenAt is stamped with the manager clock, so feed reports expire on
// local arrival time whatever the sender's clock says.
func (m *Manager) Ingest(rec Record) IngestResult {
	if m == nil {
		return IngestMalformed
	}
	rec, ok := rec.normalized()
	if !ok {
		m.malformed.Add(1)
		return IngestMalformed
	}
	if rec.SeenAt.IsZero() {
		rec.SeenAt = m.cfg.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ownshipLocked(rec) {
		m.dropped.Add(1)
		return IngestOwnship
	}

	prev, exists := m.tracks[rec.ID]
	if exists {
		if olderThan(rec, prev) {
			m.stale.Add(1)
			return IngestStale
		}
		if !rec.HasTail && prev.HasTail {
			rec.Tail, rec.HasTail = prev.Tail, true
		}
		if rec.ReportedAt.IsZero() {
			rec.ReportedAt = prev.ReportedAt
		}
		if rec.SeenAt.Before(prev.SeenAt) {
			rec.SeenAt = prev.SeenAt
		}
		m.tracks[rec.ID] = rec
		m.updated.Add(1)
		return IngestUpdated
	}

	if len(m.tracks) >= m.cfg.MaxTargets {
		oldestID, oldestAt := m.oldestLocked()
		// A newcomer older than every stored track would be the first to
		// expire; keep the live one.
		if rec.SeenAt.Before(oldestAt) {
			m.stale.Add(1)
			return IngestStale
		}
		delete(m.tracks, oldestID)
		m.evicted.Add(1)
		m.log.Debug("evicted track", slog.String("id", oldestID))
	}
	m.tracks[rec.ID] = rec
	m.created.Add(1)
	return IngestCreated
}

// IngestMany ingests a batch and returns how many records were accepted.
func (m *Manager) IngestMany(recs []Record) int {
	accepted := 0
	for _, r := range recs {
		if m.Ingest(r).Accepted() {
			accepted++
		}
	}
	return accepted
}

// oldestLocked scans for the least recently seen track. It only runs when the
// registry is full.
func (m *Manager) oldestLocked() (string, time.Time) {
	var oldestID string
	var oldestAt time.Time
	for id, t := range m.tracks {
		if oldestID == "" || t.SeenAt.Before(oldestAt) {
			oldestID, oldestAt = id, t.SeenAt
		}
	}
	return oldestID, oldestAt
}

// ExpireStale removes every track with now - SeenAt > MaxAge and returns how
// many were removed. A zero now uses the manager clock.
func (m *Manager) ExpireStale(now time.Time) int {
	if m == nil {
		return 0
	}
	if now.IsZero() {
		now = m.cfg.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, t := range m.tracks {
		if now.Sub(t.SeenAt) > m.cfg.MaxAge {
			delete(m.tracks, id)
			removed++
		}
	}
	if removed > 0 {
		m.expired.Add(uint64(removed))
	}
	return removed
}

// Clear removes every track.
func (m *Manager) Clear() int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	n := len(m.tracks)
	m.tracks = make(map[string]Record)
	m.mu.Unlock()
	m.cleared.Add(uint64(n))
	return n
}

// Count is the number of live tracks.
func (m *Manager) Count() int {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tracks)
}

// Get returns the live track with the given ID.
func (m *Manager) Get(id string) (Record, bool) {
	if m == nil {
		return Record{}, false
	}
	id = NormalizeID(id)
	m.mu.RLock()
	r, ok := m.tracks[id]
	m.mu.RUnlock()
	return r, ok
}

// Snapshot returns a caller-owned copy of all live tracks sorted by ID.
func (m *Manager) Snapshot() []Record {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	out := make([]Record, 0, len(m.tracks))
	for _, t := range m.tracks {
		out = append(out, t)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// positioned copies the tracks that can be placed on a map.
func (m *Manager) positioned() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.tracks))
	for _, t := range m.tracks {
		if !t.HasPosition {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Contacts returns every positioned track within maxDistance of ownship
// (in the manager's units), sorted by ascending distance then ID. A
// non-positive maxDistance disables the range filter.
func (m *Manager) Contacts(ownship geo.Position, maxDistance float64) []Contact {
	if m == nil || !geo.Valid(ownship) {
		return nil
	}
	recs := m.positioned()
	out := make([]Contact, 0, len(recs))
	for _, r := range recs {
		pos, _ := r.Position()
		brg, dist := geo.BearingDistance(ownship, pos, m.cfg.Units)
		if maxDistance > 0 && dist > maxDistance {
			continue
		}
		out = append(out, Contact{Record: r, Distance: dist, BearingDeg: brg})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Record.ID < out[j].Record.ID
	})
	return out
}

// Nearest returns up to n contacts closest to ownship. Tracks without a
// position are skipped; n <= 0 yields an empty result.
func (m *Manager) Nearest(ownship geo.Position, n int) []Contact {
	if n <= 0 {
		return nil
	}
	out := m.Contacts(ownship, 0)
	if len(out) > n {
		out = out[:n:n]
	}
	return out
}

func (m *Manager) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		Created:   m.created.Load(),
		Updated:   m.updated.Load(),
		Stale:     m.stale.Load(),
		Malformed: m.malformed.Load(),
		Ownship:   m.dropped.Load(),
		Expired:   m.expired.Load(),
		Evicted:   m.evicted.Load(),
		Cleared:   m.cleared.Load(),
	}
}
