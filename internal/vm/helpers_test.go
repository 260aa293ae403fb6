package vm

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tangzhangming/novajit/internal/bytecode"
	"github.com/tangzhangming/novajit/internal/codebuf"
	"github.com/tangzhangming/novajit/internal/jit"
	"github.com/tangzhangming/novajit/internal/x64/sim"
)

const codeBase = 0x7f0000000000

type def struct {
	name string
	argc int
	body string
}

func program(t *testing.T, defs ...def) *bytecode.Program {
	t.Helper()
	var sb strings.Builder
	fmt.Fprintf(&sb, "entry = %q\n", defs[0].name)
	for _, d := range defs {
		fmt.Fprintf(&sb, "[[method]]\nname = %q\nargc = %d\nbody = %q\n", d.name, d.argc, d.body)
	}
	p, err := bytecode.ParseProgram([]byte(sb.String()), bytecode.DirectCoding{})
	require.NoError(t, err)
	return p
}

func method(t *testing.T, p *bytecode.Program, name string) *bytecode.Method {
	t.Helper()
	m, ok := p.Method(name)
	require.True(t, ok, name)
	return m
}

// simMachine is a Machine whose compiler encodes through a recorder into a
// soft region and whose native calls run on the simulator.
type simMachine struct {
	*Machine
	rec   *sim.Recorder
	inv   *SimInvoker
	logs  *observer.ObservedLogs
	diag  bytes.Buffer
	exits []int
}

func newSimMachine(t *testing.T, threshold int64) *simMachine {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	sm := &simMachine{rec: sim.NewRecorder(nil), logs: logs}
	sm.inv = NewSimInvoker(sm.rec)

	cfg := DefaultConfig()
	cfg.CallThreshold = threshold
	jitCfg := jit.DefaultConfig()
	jitCfg.BufferSize = 1 << 16
	mc, err := NewMachine(cfg, jitCfg,
		WithLogger(zap.New(core)),
		WithInvoker(sm.inv),
		WithCompilerOptions(
			jit.WithEncoder(sm.rec),
			jit.WithRegion(codebuf.NewSoftRegion(codeBase, int(jitCfg.BufferSize))),
			jit.WithDiagnostics(&sm.diag),
			jit.WithExitFunc(func(code int) { sm.exits = append(sm.exits, code) }),
		),
	)
	require.NoError(t, err)
	sm.Machine = mc
	return sm
}
