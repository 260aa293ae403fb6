package vm

import (
	"github.com/tangzhangming/novajit/internal/x64"
	"github.com/tangzhangming/novajit/internal/x64/sim"
)

// Invoker runs compiled code at entry with the execution context and frame
// registers set up from s.
type Invoker interface {
	Invoke(entry uintptr, s *Stack, cfp uint64) (uint64, error)
}

// SimInvoker runs the symbolic programs a sim.Loader recorded.
type SimInvoker struct {
	code     sim.Loader
	MaxSteps int
	Steps    int // instructions executed by the last Invoke
}

// NewSimInvoker creates an invoker for programs found in code, usually the
// sim.Recorder the compiler encoded through.
func NewSimInvoker(code sim.Loader) *SimInvoker {
	return &SimInvoker{code: code, MaxSteps: sim.DefaultMaxSteps}
}

func (si *SimInvoker) Invoke(entry uintptr, s *Stack, cfp uint64) (uint64, error) {
	m := sim.New(s.Memory(), si.code)
	m.MaxSteps = si.MaxSteps
	m.Regs[x64.RDI] = s.EC()
	m.Regs[x64.RSI] = cfp
	ret, err := m.Call(entry)
	si.Steps = m.Steps
	return ret, err
}
