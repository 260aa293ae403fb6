//go:build !(linux && amd64)

package vm

import (
	"fmt"
	"runtime"
)

// NewNativeInvoker returns an invoker for the current platform.
func NewNativeInvoker() (Invoker, error) {
	return nil, fmt.Errorf("vm: native execution needs linux/amd64, this is %s/%s; use the simulator", runtime.GOOS, runtime.GOARCH)
}
