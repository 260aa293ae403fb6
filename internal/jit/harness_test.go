package jit

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tangzhangming/novajit/internal/bytecode"
	"github.com/tangzhangming/novajit/internal/codebuf"
	"github.com/tangzhangming/novajit/internal/x64"
	"github.com/tangzhangming/novajit/internal/x64/sim"
)

const (
	codeBase  = 0x7f0000000000
	stackBase = 0x10000
	stackSize = 512
)

type def struct {
	name string
	argc int
	body string
}

// build parses defs as one program; the first def is the entry.
func build(t *testing.T, defs ...def) map[string]*bytecode.Method {
	t.Helper()
	var sb strings.Builder
	fmt.Fprintf(&sb, "entry = %q\n", defs[0].name)
	for _, d := range defs {
		fmt.Fprintf(&sb, "[[method]]\nname = %q\nargc = %d\nbody = %q\n", d.name, d.argc, d.body)
	}
	p, err := bytecode.ParseProgram([]byte(sb.String()), bytecode.DirectCoding{})
	require.NoError(t, err)
	out := make(map[string]*bytecode.Method, len(p.Methods))
	for _, m := range p.Methods {
		out[m.Name] = m
	}
	return out
}

// harness is a compiler writing into a soft region through a recording
// encoder, plus a minimal host that runs the result on the simulator.
type harness struct {
	t      *testing.T
	c      *Compiler
	rec    *sim.Recorder
	region *codebuf.SoftRegion
	logs   *observer.ObservedLogs
	diag   bytes.Buffer
	exits  []int
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	h := &harness{
		t:      t,
		rec:    sim.NewRecorder(nil),
		region: codebuf.NewSoftRegion(codeBase, int(cfg.BufferSize)),
		logs:   logs,
	}
	base := []Option{
		WithEncoder(h.rec),
		WithRegion(h.region),
		WithLogger(zap.New(core)),
		WithDiagnostics(&h.diag),
		WithExitFunc(func(code int) { h.exits = append(h.exits, code) }),
	}
	c, err := New(cfg, append(base, opts...)...)
	require.NoError(t, err)
	h.c = c
	return h
}

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.BufferSize = 1 << 16
	return cfg
}

// call runs m's native entry the way a host would: a root frame at the top
// of a word arena, the callee frame below it and the arguments at the root
// frame's stack top. It returns the result and the number of instructions
// executed.
func (h *harness) call(m *bytecode.Method, self bytecode.Value, args ...bytecode.Value) (bytecode.Value, int) {
	t := h.t
	t.Helper()
	entry, ok := m.NativeEntry()
	require.True(t, ok, "%s is not compiled", m)

	l := h.c.Layout()
	mem := sim.NewWords(stackBase, stackSize)
	addr := func(i int) uint64 { return stackBase + 8*uint64(i) }
	word := func(frame int, off int32) *uint64 { return &mem.Data[frame+int(off/8)] }

	valueBase := 8
	root := stackSize - l.Slots()
	callee := root - l.Slots()
	*word(root, l.SPOffset) = addr(valueBase)
	for i, a := range args {
		mem.Data[valueBase+i] = uint64(a)
	}
	sp := addr(valueBase + len(args) + int(l.EnvHeaderSlots))
	*word(callee, l.SPOffset) = sp
	*word(callee, l.EPOffset) = sp - 8
	*word(callee, l.SelfOffset) = uint64(self)

	vm := sim.New(mem, h.rec)
	vm.Regs[x64.RDI] = addr(0)
	vm.Regs[x64.RSI] = addr(callee)
	ret, err := vm.Call(entry)
	require.NoError(t, err)
	assert.Equal(t, addr(root), *word(0, l.ECCFPOffset), "leave stores the caller frame")
	assert.Equal(t, addr(root), vm.Regs[x64.RSI])
	assert.Zero(t, vm.StackDepth())
	return bytecode.Value(ret), vm.Steps
}

// program returns the symbolic instructions recorded for m.
func (h *harness) program(m *bytecode.Method) []string {
	h.t.Helper()
	entry, ok := m.NativeEntry()
	require.True(h.t, ok)
	insts, ok := h.rec.Program(entry)
	require.True(h.t, ok)
	out := make([]string, len(insts))
	for i, in := range insts {
		out[i] = in.String()
	}
	return out
}
