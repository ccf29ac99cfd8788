//go:build !linux && !darwin

package platform

import "runtime"

func machine() string {
	return runtime.GOARCH
}
