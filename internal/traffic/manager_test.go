package traffic

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"stratux-hud/internal/geo"
	"stratux-hud/internal/units"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(cfg ManagerConfig) *Manager {
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return t0 }
	}
	return NewManager(cfg)
}

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

func pos(id string, lat, lon float64, seen time.Time) Record {
	return Record{ID: id, LatDeg: lat, LonDeg: lon, HasPosition: true, SeenAt: seen}
}

func TestIngest_OutOfOrderScenario(t *testing.T) {
	m := newTestManager(ManagerConfig{})

	if got := m.Ingest(pos("A1", 40.0, -75.0, at(100))); got != IngestCreated {
		t.Fatalf("first ingest=%s want created", got)
	}
	if got := m.Ingest(pos("A1", 40.01, -75.0, at(90))); got != IngestStale {
		t.Fatalf("older ingest=%s want stale", got)
	}
	r, ok := m.Get("A1")
	if !ok {
		t.Fatalf("A1 missing")
	}
	if r.LatDeg != 40.0 || !r.SeenAt.Equal(at(100)) {
		t.Fatalf("stale update mutated record: lat=%v seen=%s", r.LatDeg, r.SeenAt)
	}

	if got := m.Ingest(pos("A1", 40.02, -75.0, at(110))); got != IngestUpdated {
		t.Fatalf("newer ingest=%s want updated", got)
	}
	r, _ = m.Get("A1")
	if r.LatDeg != 40.02 || !r.SeenAt.Equal(at(110)) {
		t.Fatalf("newer update not applied: lat=%v seen=%s", r.LatDeg, r.SeenAt)
	}
}

func TestIngest_StaleDoesNotTouchOptionalFields(t *testing.T) {
	m := newTestManager(ManagerConfig{})
	cur := pos("B2", 10, 10, at(50))
	cur.AltFeet, cur.HasAlt = 4500, true
	cur.HeadingDeg, cur.HasHeading = 270, true
	m.Ingest(cur)

	old := pos("B2", 11, 11, at(49))
	old.AltFeet, old.HasAlt = 100, true
	old.Tail, old.HasTail = "N1", true
	m.Ingest(old)

	got, _ := m.Get("B2")
	want, _ := cur.normalized()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("record changed by stale ingest (-want +got):\n%s", diff)
	}
}

func TestIngest_EqualTimestampLastWriterWins(t *testing.T) {
	m := newTestManager(ManagerConfig{})
	m.Ingest(pos("C3", 1, 1, at(5)))
	if got := m.Ingest(pos("C3", 2, 2, at(5))); got != IngestUpdated {
		t.Fatalf("equal timestamp ingest=%s want updated", got)
	}
	r, _ := m.Get("C3")
	if r.LatDeg != 2 {
		t.Fatalf("lat=%v want 2", r.LatDeg)
	}
}

func TestIngest_ReplacesVelocityAndCarriesTail(t *testing.T) {
	m := newTestManager(ManagerConfig{})
	first := pos("D4", 1, 1, at(1))
	first.Tail, first.HasTail = "n77777", true
	first.GroundKt, first.HasGround = 120, true
	m.Ingest(first)

	m.Ingest(pos("D4", 2, 2, at(2)))

	r, _ := m.Get("D4")
	if r.Tail != "N77777" || !r.HasTail {
		t.Fatalf("expected tail to persist, got %q", r.Tail)
	}
	if _, ok := r.GroundSpeed(); ok {
		t.Fatalf("ground speed should be replaced by the newer report, which omitted it")
	}
}

func TestIngest_Malformed(t *testing.T) {
	m := newTestManager(ManagerConfig{})
	cases := []struct {
		name string
		rec  Record
	}{
		{"MissingID", pos("  ", 1, 1, at(1))},
		{"NaNLat", pos("X", math.NaN(), 1, at(1))},
		{"InfLon", pos("X", 1, math.Inf(-1), at(1))},
		{"LatOutOfRange", pos("X", 91, 1, at(1))},
		{"NaNAlt", Record{ID: "X", AltFeet: math.NaN(), HasAlt: true}},
		{"NegativeSpeed", Record{ID: "X", GroundKt: -5, HasGround: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := m.Ingest(tc.rec); got != IngestMalformed {
				t.Fatalf("ingest=%s want malformed", got)
			}
		})
	}
	if m.Count() != 0 {
		t.Fatalf("count=%d want 0", m.Count())
	}
	if got := m.Stats().Malformed; got != uint64(len(cases)) {
		t.Fatalf("malformed=%d want %d", got, len(cases))
	}
}

func TestIngest_NormalizesIDAndStampsZeroTime(t *testing.T) {
	m := newTestManager(ManagerConfig{})
	m.Ingest(Record{ID: " abc123 ", LatDeg: 1, LonDeg: 1, HasPosition: true})
	r, ok := m.Get("ABC123")
	if !ok {
		t.Fatalf("expected normalized id lookup to succeed")
	}
	if !r.SeenAt.Equal(t0) {
		t.Fatalf("seen=%s want manager clock %s", r.SeenAt, t0)
	}
}

func TestExpireStale_Threshold(t *testing.T) {
	m := newTestManager(ManagerConfig{MaxAge: 120 * time.Second})
	m.Ingest(pos("E5", 1, 1, at(0)))

	if n := m.ExpireStale(at(119)); n != 0 {
		t.Fatalf("removed=%d at 119s want 0", n)
	}
	if n := m.ExpireStale(at(120)); n != 0 {
		t.Fatalf("removed=%d at exactly 120s want 0", n)
	}
	if m.Count() != 1 {
		t.Fatalf("record should survive within threshold")
	}
	if n := m.ExpireStale(at(121)); n != 1 {
		t.Fatalf("removed=%d at 121s want 1", n)
	}
	if _, ok := m.Get("E5"); ok {
		t.Fatalf("E5 should be gone")
	}
	if m.Stats().Expired != 1 {
		t.Fatalf("expired stat=%d want 1", m.Stats().Expired)
	}
}

func TestExpireStale_ResurrectionIsFresh(t *testing.T) {
	m := newTestManager(ManagerConfig{MaxAge: time.Minute})
	old := pos("F6", 1, 1, at(0))
	old.Tail, old.HasTail = "N1", true
	m.Ingest(old)
	m.ExpireStale(at(61))

	// Even an older report than the removed one creates a new track.
	if got := m.Ingest(pos("F6", 2, 2, at(-10))); got != IngestCreated {
		t.Fatalf("re-ingest=%s want created", got)
	}
	r, _ := m.Get("F6")
	if r.HasTail {
		t.Fatalf("tail must not carry over from a removed track")
	}
}

func TestIngest_SenderTimestampOrdersButDoesNotExpire(t *testing.T) {
	now := t0
	m := newTestManager(ManagerConfig{MaxAge: time.Minute, Now: func() time.Time { return now }})

	// Sender clock ten minutes behind ours.
	r := Record{ID: "G7", LatDeg: 1, LonDeg: 1, HasPosition: true, ReportedAt: t0.Add(-10 * time.Minute)}
	if got := m.Ingest(r); got != IngestCreated {
		t.Fatalf("ingest=%s want created", got)
	}
	if n := m.ExpireStale(now.Add(time.Second)); n != 0 {
		t.Fatalf("removed=%d want 0: expiry must use arrival time", n)
	}

	now = t0.Add(5 * time.Second)
	late := r
	late.LatDeg, late.ReportedAt = 2, r.ReportedAt.Add(-time.Second)
	if got := m.Ingest(late); got != IngestStale {
		t.Fatalf("older sender time ingest=%s want stale", got)
	}

	// A report without a sender time is ordered by arrival and keeps the
	// last sender time for later comparisons.
	bare := Record{ID: "G7", LatDeg: 3, LonDeg: 3, HasPosition: true}
	if got := m.Ingest(bare); got != IngestUpdated {
		t.Fatalf("bare ingest=%s want updated", got)
	}
	got, _ := m.Get("G7")
	if !got.SeenAt.Equal(now) || !got.ReportedAt.Equal(r.ReportedAt) {
		t.Fatalf("seen=%s reported=%s", got.SeenAt, got.ReportedAt)
	}
	if got := m.Ingest(late); got != IngestStale {
		t.Fatalf("late ingest after bare update=%s want stale", got)
	}

	if n := m.ExpireStale(now.Add(time.Minute + time.Second)); n != 1 {
		t.Fatalf("removed=%d want 1", n)
	}
}

func TestIngest_SeenAtNeverRegresses(t *testing.T) {
	m := newTestManager(ManagerConfig{})
	m.Ingest(Record{ID: "H8", ReportedAt: at(1), SeenAt: at(50)})
	if got := m.Ingest(Record{ID: "H8", ReportedAt: at(2), SeenAt: at(40)}); got != IngestUpdated {
		t.Fatalf("ingest=%s want updated", got)
	}
	r, _ := m.Get("H8")
	if !r.SeenAt.Equal(at(50)) {
		t.Fatalf("seen=%s want %s", r.SeenAt, at(50))
	}
}

func TestOwnshipDropped(t *testing.T) {
	m := newTestManager(ManagerConfig{Ownship: "n12345"})
	m.Ingest(pos("AAAAAA", 0.1, 0, at(1)))

	// Stored before its tail was known.
	m.Ingest(pos("BBBBBB", 0.01, 0, at(1)))
	own := pos("BBBBBB", 0.01, 0, at(2))
	own.Tail, own.HasTail = "N12345", true
	if got := m.Ingest(own); got != IngestOwnship {
		t.Fatalf("tail match ingest=%s want ownship", got)
	}
	if got := m.Ingest(pos("N12345", 0.02, 0, at(1))); got != IngestOwnship {
		t.Fatalf("id match ingest=%s want ownship", got)
	}
	// Tail omitted on a later report: the ID is still known to be ownship.
	if got := m.Ingest(pos("BBBBBB", 0.03, 0, at(3))); got != IngestOwnship {
		t.Fatalf("tailless ingest=%s want ownship", got)
	}

	if m.Count() != 1 {
		t.Fatalf("count=%d want 1", m.Count())
	}
	snap := m.Snapshot()
	if len(snap) != 1 || snap[0].ID != "AAAAAA" {
		t.Fatalf("snapshot=%v", snap)
	}
	near := m.Nearest(geo.Position{}, 5)
	if len(near) != 1 || near[0].Record.ID != "AAAAAA" {
		t.Fatalf("nearest=%v", near)
	}
	if _, ok := m.Get("BBBBBB"); ok {
		t.Fatalf("ownship must not be stored")
	}
	if got := m.Stats().Ownship; got != 3 {
		t.Fatalf("ownship stat=%d want 3", got)
	}
}

func TestOwnshipNeverEvicted(t *testing.T) {
	m := newTestManager(ManagerConfig{Ownship: "OWN", MaxTargets: 2})
	m.Ingest(pos("OWN", 1, 1, at(1)))
	m.Ingest(pos("A", 1, 1, at(2)))
	m.Ingest(pos("B", 1, 1, at(3)))
	if m.Count() != 2 || m.Stats().Evicted != 0 {
		t.Fatalf("count=%d evicted=%d want 2,0", m.Count(), m.Stats().Evicted)
	}
}

func TestSnapshot_IsCallerOwned(t *testing.T) {
	m := newTestManager(ManagerConfig{})
	m.Ingest(pos("B", 1, 1, at(1)))
	m.Ingest(pos("A", 2, 2, at(1)))

	snap := m.Snapshot()
	if len(snap) != 2 || snap[0].ID != "A" || snap[1].ID != "B" {
		t.Fatalf("snapshot=%v want A,B", snap)
	}

	snap[0].LatDeg = 89
	r, _ := m.Get("A")
	if r.LatDeg != 2 {
		t.Fatalf("lat=%v want 2: snapshot aliased stored record", r.LatDeg)
	}
}

func TestNearest_Ordering(t *testing.T) {
	m := newTestManager(ManagerConfig{Units: units.Nautical})
	own := geo.Position{LatDeg: 0, LonDeg: 0}
	// One degree of latitude is 60.04 nm; use minutes to get ~1/3/5 nm.
	m.Ingest(pos("FIVE", 5.0/60, 0, at(1)))
	m.Ingest(pos("ONE", 1.0/60, 0, at(1)))
	m.Ingest(pos("THREE", 3.0/60, 0, at(1)))
	m.Ingest(Record{ID: "NOPOS", AltFeet: 1000, HasAlt: true, SeenAt: at(1)})

	got := m.Nearest(own, 2)
	if len(got) != 2 || got[0].Record.ID != "ONE" || got[1].Record.ID != "THREE" {
		t.Fatalf("nearest=%v want ONE,THREE", got)
	}
	if math.Abs(got[0].Distance-1.0) > 0.01 {
		t.Fatalf("distance=%v want ~1", got[0].Distance)
	}
	if math.Abs(got[0].BearingDeg) > 1e-9 {
		t.Fatalf("bearing=%v want 0", got[0].BearingDeg)
	}

	if all := m.Nearest(own, 10); len(all) != 3 {
		t.Fatalf("len=%d want 3: tracks without position are excluded", len(all))
	}
	if m.Count() != 4 {
		t.Fatalf("count=%d want 4: tracks without position still count", m.Count())
	}
}

func TestNearest_TieBreakByID(t *testing.T) {
	m := newTestManager(ManagerConfig{})
	m.Ingest(pos("ZULU", 0, 0.1, at(1)))
	m.Ingest(pos("ALPHA", 0, -0.1, at(1)))
	got := m.Nearest(geo.Position{}, 2)
	if len(got) != 2 {
		t.Fatalf("len=%d want 2", len(got))
	}
	if got[0].Distance != got[1].Distance {
		t.Fatalf("distances %v, %v should tie", got[0].Distance, got[1].Distance)
	}
	if got[0].Record.ID != "ALPHA" || got[1].Record.ID != "ZULU" {
		t.Fatalf("order=%s,%s want ALPHA,ZULU", got[0].Record.ID, got[1].Record.ID)
	}
}

func TestNearest_Misuse(t *testing.T) {
	m := newTestManager(ManagerConfig{})
	m.Ingest(pos("A", 1, 1, at(1)))
	cases := map[string]struct {
		own geo.Position
		n   int
	}{
		"Zero":       {geo.Position{}, 0},
		"Negative":   {geo.Position{}, -3},
		"NaNOwnship": {geo.Position{LatDeg: math.NaN()}, 3},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := m.Nearest(tc.own, tc.n); len(got) != 0 {
				t.Fatalf("nearest=%v want empty", got)
			}
		})
	}
}

func TestContacts_RangeFilter(t *testing.T) {
	m := newTestManager(ManagerConfig{Units: units.Nautical})
	m.Ingest(pos("NEAR", 1.0/60, 0, at(1)))
	m.Ingest(pos("FAR", 20.0/60, 0, at(1)))
	got := m.Contacts(geo.Position{}, 10)
	if len(got) != 1 || got[0].Record.ID != "NEAR" {
		t.Fatalf("contacts=%v want NEAR", got)
	}
}

func TestEviction_OldestFirst(t *testing.T) {
	m := newTestManager(ManagerConfig{MaxTargets: 2})
	m.Ingest(pos("OLD", 1, 1, at(1)))
	m.Ingest(pos("MID", 1, 1, at(2)))
	if got := m.Ingest(pos("NEW", 1, 1, at(3))); got != IngestCreated {
		t.Fatalf("ingest=%s want created", got)
	}

	if _, ok := m.Get("OLD"); ok {
		t.Fatalf("OLD should be evicted")
	}
	if _, ok := m.Get("NEW"); !ok {
		t.Fatalf("NEW should be stored")
	}
	if m.Stats().Evicted != 1 {
		t.Fatalf("evicted=%d want 1", m.Stats().Evicted)
	}
}

func TestEviction_LateNewcomerRejected(t *testing.T) {
	m := newTestManager(ManagerConfig{MaxTargets: 2})
	m.Ingest(pos("OLD", 1, 1, at(5)))
	m.Ingest(pos("MID", 1, 1, at(6)))

	if got := m.Ingest(pos("LATE", 1, 1, at(4))); got != IngestStale {
		t.Fatalf("ingest=%s want stale", got)
	}
	if _, ok := m.Get("OLD"); !ok {
		t.Fatalf("OLD must survive a newcomer older than it")
	}
	if m.Count() != 2 || m.Stats().Evicted != 0 {
		t.Fatalf("count=%d evicted=%d want 2,0", m.Count(), m.Stats().Evicted)
	}
}

func TestClear(t *testing.T) {
	m := newTestManager(ManagerConfig{})
	m.IngestMany([]Record{pos("A", 1, 1, at(1)), pos("B", 1, 1, at(1)), {ID: ""}})
	if n := m.Clear(); n != 2 {
		t.Fatalf("cleared=%d want 2", n)
	}
	if m.Count() != 0 {
		t.Fatalf("count=%d want 0", m.Count())
	}
}

func TestNilManager(t *testing.T) {
	var m *Manager
	if got := m.Ingest(pos("A", 1, 1, at(1))); got != IngestMalformed {
		t.Fatalf("ingest=%s want malformed", got)
	}
	if m.Count() != 0 || m.Snapshot() != nil || m.Nearest(geo.Position{}, 3) != nil || m.ExpireStale(at(1)) != 0 {
		t.Fatalf("nil manager must behave as empty")
	}
}

func TestProperty_UniquenessAndMonotonicFreshness(t *testing.T) {
	m := newTestManager(ManagerConfig{MaxTargets: 1000})
	rng := rand.New(rand.NewSource(7))
	maxAccepted := map[string]time.Time{}

	for i := 0; i < 5000; i++ {
		id := fmt.Sprintf("T%02d", rng.Intn(40))
		seen := at(rng.Intn(600))
		res := m.Ingest(pos(id, rng.Float64()*10, rng.Float64()*10, seen))
		if res.Accepted() && seen.After(maxAccepted[id]) {
			maxAccepted[id] = seen
		}
	}

	snap := m.Snapshot()
	seenIDs := map[string]bool{}
	for _, r := range snap {
		if seenIDs[r.ID] {
			t.Fatalf("duplicate id %s in snapshot", r.ID)
		}
		seenIDs[r.ID] = true
		if !r.SeenAt.Equal(maxAccepted[r.ID]) {
			t.Fatalf("%s seen=%s want max accepted %s", r.ID, r.SeenAt, maxAccepted[r.ID])
		}
	}
	if len(snap) != len(maxAccepted) {
		t.Fatalf("len=%d want %d", len(snap), len(maxAccepted))
	}
}

func TestConcurrent_SnapshotIsolation(t *testing.T) {
	m := NewManager(ManagerConfig{MaxAge: time.Hour})
	const writers = 4
	const perWriter = 2000

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan error, 16)

	// Every record keeps lat and alt in lockstep, so a torn write would show
	// up as a mismatch.
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				lat := float64(i%80) + float64(w)/10
				r := pos(fmt.Sprintf("W%d", i%8), lat, 0, time.Time{})
				r.AltFeet, r.HasAlt = lat*1000, true
				m.Ingest(r)
			}
		}(w)
	}

	var readers sync.WaitGroup
	for rdr := 0; rdr < 2; rdr++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				for _, r := range m.Snapshot() {
					if r.AltFeet != r.LatDeg*1000 {
						errs <- fmt.Errorf("torn record %s: lat=%v alt=%v", r.ID, r.LatDeg, r.AltFeet)
						return
					}
				}
				for _, c := range m.Nearest(geo.Position{}, 3) {
					if c.Record.AltFeet != c.Record.LatDeg*1000 {
						errs <- fmt.Errorf("torn contact %s", c.Record.ID)
						return
					}
				}
				_ = m.Count()
				m.ExpireStale(time.Time{})
			}
		}()
	}

	wg.Wait()
	close(stop)
	readers.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
	if m.Count() != 8 {
		t.Fatalf("count=%d want 8", m.Count())
	}
}
