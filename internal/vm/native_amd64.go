//go:build linux

package vm

import "runtime"

// callJIT switches to stack, calls entry with rdi=ec and rsi=cfp and
// returns rax. Generated code only clobbers rax, rdi, rsi and r8-r11.
//
//go:noescape
func callJIT(entry, ec, cfp, stack uintptr) uint64

// NativeInvoker calls machine code directly.
type NativeInvoker struct{}

// NewNativeInvoker returns an invoker for the current platform.
func NewNativeInvoker() (Invoker, error) {
	return NativeInvoker{}, nil
}

func (NativeInvoker) Invoke(entry uintptr, s *Stack, cfp uint64) (uint64, error) {
	ret := callJIT(entry, uintptr(s.EC()), uintptr(cfp), s.MachineStackTop())
	runtime.KeepAlive(s)
	return ret, nil
}
