package platform

import (
	"runtime"
	"testing"
)

func TestIsDebugOS(t *testing.T) {
	cases := map[string]bool{
		"windows": true,
		"darwin":  true,
		"linux":   false,
		"freebsd": false,
	}
	for goos, want := range cases {
		if got := IsDebugOS(goos); got != want {
			t.Fatalf("IsDebugOS(%q)=%v want %v", goos, got, want)
		}
	}
}

func TestDetect(t *testing.T) {
	info := Detect()
	if info.OS != runtime.GOOS {
		t.Fatalf("os=%q want %q", info.OS, runtime.GOOS)
	}
	if info.Machine == "" {
		t.Fatalf("machine should never be empty")
	}
	if info.Debug != IsDebugOS(runtime.GOOS) {
		t.Fatalf("debug flag mismatch")
	}
}

func TestIsRaspberryPi(t *testing.T) {
	if !(Info{Model: "Raspberry Pi 4 Model B Rev 1.4"}).IsRaspberryPi() {
		t.Fatalf("expected pi model to match")
	}
	if (Info{Model: ""}).IsRaspberryPi() {
		t.Fatalf("empty model should not match")
	}
}
