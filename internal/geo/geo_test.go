package geo

import (
	"math"
	"testing"

	"stratux-hud/internal/units"
)

func near(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func TestBearingDeg_Cardinal(t *testing.T) {
	origin := Position{LatDeg: 0, LonDeg: 0}
	cases := []struct {
		name string
		to   Position
		want float64
	}{
		{"North", Position{LatDeg: 1, LonDeg: 0}, 0},
		{"East", Position{LatDeg: 0, LonDeg: 1}, 90},
		{"South", Position{LatDeg: -1, LonDeg: 0}, 180},
		{"West", Position{LatDeg: 0, LonDeg: -1}, 270},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := BearingDeg(origin, tc.to)
			if !near(got, tc.want, 1e-9) {
				t.Fatalf("bearing=%v want %v", got, tc.want)
			}
		})
	}
}

func TestBearingDeg_Range(t *testing.T) {
	from := Position{LatDeg: 40, LonDeg: -75}
	for lat := -80.0; lat <= 80; lat += 20 {
		for lon := -170.0; lon <= 170; lon += 34 {
			b := BearingDeg(from, Position{LatDeg: lat, LonDeg: lon})
			if math.IsNaN(b) || b < 0 || b >= 360 {
				t.Fatalf("bearing to (%v,%v)=%v out of range", lat, lon, b)
			}
		}
	}
}

func TestDistance_OneDegreeLatitude(t *testing.T) {
	from := Position{LatDeg: 40, LonDeg: -75}
	to := Position{LatDeg: 41, LonDeg: -75}
	cases := []struct {
		u    units.Unit
		want float64
	}{
		{units.Nautical, 3440 * math.Pi / 180},
		{units.Statute, 3956 * math.Pi / 180},
		{units.Metric, 6371 * math.Pi / 180},
	}
	for _, tc := range cases {
		got := Distance(from, to, tc.u)
		if !near(got, tc.want, 1e-6) {
			t.Fatalf("%s distance=%v want %v", tc.u, got, tc.want)
		}
	}
}

func TestDegenerateInputs(t *testing.T) {
	p := Position{LatDeg: 47.5, LonDeg: -122.3}
	if d := Distance(p, p, units.Nautical); d != 0 {
		t.Fatalf("distance=%v want 0", d)
	}
	if b := BearingDeg(p, p); b != 0 {
		t.Fatalf("bearing=%v want 0", b)
	}
	// Antipodal points must not produce NaN.
	a := Position{LatDeg: 10, LonDeg: 20}
	b := Position{LatDeg: -10, LonDeg: -160}
	if d := Distance(a, b, units.Metric); math.IsNaN(d) || !near(d, math.Pi*6371, 1e-3) {
		t.Fatalf("antipodal distance=%v", d)
	}
	if br := BearingDeg(a, b); math.IsNaN(br) {
		t.Fatalf("antipodal bearing is NaN")
	}
}

func TestNormalizeDeg(t *testing.T) {
	cases := map[float64]float64{
		0:    0,
		360:  0,
		-10:  350,
		725:  5,
		-360: 0,
	}
	for in, want := range cases {
		if got := NormalizeDeg(in); !near(got, want, 1e-9) {
			t.Fatalf("NormalizeDeg(%v)=%v want %v", in, got, want)
		}
	}
}

func TestRelativeBearing(t *testing.T) {
	if got := RelativeBearing(10, 350); !near(got, 20, 1e-9) {
		t.Fatalf("got %v want 20", got)
	}
	if got := RelativeBearing(350, 10); !near(got, -20, 1e-9) {
		t.Fatalf("got %v want -20", got)
	}
	if got := RelativeBearing(180, 0); !near(got, 180, 1e-9) {
		t.Fatalf("got %v want 180", got)
	}
}

func TestValid(t *testing.T) {
	if !Valid(Position{LatDeg: 90, LonDeg: -180}) {
		t.Fatalf("expected bounds to be valid")
	}
	for _, p := range []Position{
		{LatDeg: math.NaN(), LonDeg: 0},
		{LatDeg: 0, LonDeg: math.Inf(1)},
		{LatDeg: 91, LonDeg: 0},
		{LatDeg: 0, LonDeg: 181},
	} {
		if Valid(p) {
			t.Fatalf("expected %+v to be invalid", p)
		}
	}
}
