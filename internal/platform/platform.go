// Package platform tells the display whether it is running on the cockpit
// device or on a desktop used for debugging.
package platform

import (
	"os"
	"runtime"
	"strings"
)

type Info struct {
	OS      string
	Machine string
	// Model is the device-tree model string, when the board exposes one.
	Model string
	// Debug is true on desktop operating systems, where hardware-specific
	// paths are bypassed.
	Debug bool
}

// Detect gathers Info for the running process.
func Detect() Info {
	info := Info{
		OS:      runtime.GOOS,
		Machine: machine(),
		Model:   boardModel(),
	}
	info.Debug = IsDebugOS(info.OS)
	return info
}

// IsDebugOS reports whether goos is a desktop OS used for local debugging.
func IsDebugOS(goos string) bool {
	switch goos {
	case "windows", "darwin":
		return true
	default:
		return false
	}
}

// IsRaspberryPi reports whether the board model looks like a Raspberry Pi.
func (i Info) IsRaspberryPi() bool {
	return strings.Contains(i.Model, "Raspberry Pi")
}

func boardModel() string {
	for _, p := range []string{
		"/sys/firmware/devicetree/base/model",
		"/proc/device-tree/model",
	} {
		b, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		model := strings.Trim(strings.TrimSpace(string(b)), "\x00")
		if model != "" {
			return model
		}
	}
	return ""
}
