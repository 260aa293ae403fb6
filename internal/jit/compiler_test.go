package jit

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tangzhangming/novajit/internal/bytecode"
	"github.com/tangzhangming/novajit/internal/codebuf"
	jiterr "github.com/tangzhangming/novajit/internal/errors"
	"github.com/tangzhangming/novajit/internal/x64"
)

func TestCompileAddsConstants(t *testing.T) {
	h := newHarness(t, smallConfig())
	ms := build(t, def{"main", 0, "putobject 1\nputobject 2\nopt_plus\nleave"})
	m := ms["main"]

	require.NoError(t, h.c.Compile(m))
	entry, ok := m.NativeEntry()
	require.True(t, ok)
	assert.Equal(t, uintptr(codeBase), entry)
	assert.Equal(t, bytecode.StateCompiled, m.State())

	got, _ := h.call(m, bytecode.Qnil)
	assert.Equal(t, bytecode.Fixnum(3), got)

	assert.Equal(t, []string{
		"mov r8, 0x3",
		"mov r9, 0x5",
		"add r8, r9",
		"sub r8, 0x1",
		"add rsi, 0x38",
		"mov qword ptr [rdi+0x10], rsi",
		"mov rax, r8",
		"ret",
	}, h.program(m))
}

func TestCompileSendCompilesCalleeFirst(t *testing.T) {
	h := newHarness(t, smallConfig())
	ms := build(t,
		def{"main", 0, "putself\nopt_send_without_block one 0\nleave"},
		def{"one", 0, "putobject_INT2FIX_1_\nleave"},
	)
	main, one := ms["main"], ms["one"]

	require.NoError(t, h.c.Compile(main))
	oneEntry, ok := one.NativeEntry()
	require.True(t, ok, "callee compiled by the caller")
	mainEntry, _ := main.NativeEntry()
	assert.Less(t, oneEntry, mainEntry, "callee written first")

	var order []string
	for _, e := range h.logs.FilterMessage("method compiled").All() {
		order = append(order, e.ContextMap()["method"].(string))
	}
	assert.Equal(t, []string{"one/0", "main/0"}, order)

	got, _ := h.call(main, bytecode.Fixnum(100))
	assert.Equal(t, bytecode.Fixnum(1), got)
}

func TestSendTemplate(t *testing.T) {
	h := newHarness(t, smallConfig())
	ms := build(t,
		def{"main", 0, "putself\nputobject 5\nopt_send_without_block id 1\nleave"},
		def{"id", 1, "getlocal_WC_0 $0\nleave"},
	)
	require.NoError(t, h.c.Compile(ms["main"]))
	idEntry, _ := ms["id"].NativeEntry()

	assert.Equal(t, []string{
		"mov r8, qword ptr [rsi+0x18]",
		"mov r9, 0xb",
		"mov rax, qword ptr [rsi+0x8]",
		"mov qword ptr [rax], r9",
		"sub rsi, 0x38",
		"add rax, 0x20",
		"mov qword ptr [rsi+0x8], rax",
		"sub rax, 0x8",
		"mov qword ptr [rsi+0x20], rax",
		"mov qword ptr [rsi+0x18], r8",
		"push r8",
		"push r9",
		"push r10",
		"push r11",
		fmt.Sprintf("call %#x", idEntry),
		"pop r11",
		"pop r10",
		"pop r9",
		"pop r8",
		"mov r8, rax",
		"add rsi, 0x38",
		"mov qword ptr [rdi+0x10], rsi",
		"mov rax, r8",
		"ret",
	}, h.program(ms["main"]))

	got, _ := h.call(ms["main"], bytecode.Qnil)
	assert.Equal(t, bytecode.Fixnum(5), got)
}

func TestCompileUnsupportedOpcode(t *testing.T) {
	h := newHarness(t, smallConfig())
	m := build(t, def{"main", 0, "putobject 1\nputobject 2\nopt_mult\nleave"})["main"]

	err := h.c.Compile(m)
	require.Error(t, err)
	je, ok := jiterr.AsJITError(err)
	require.True(t, ok)
	assert.Equal(t, jiterr.J0100, je.Code)
	assert.Equal(t, "main", je.Method)
	assert.Equal(t, 4, je.Position)
	assert.Equal(t, "opt_mult", je.Opcode)

	_, ok = m.NativeEntry()
	assert.False(t, ok)
	assert.Equal(t, bytecode.StateUncompiled, m.State())
	assert.Zero(t, h.c.Buffer().Used())
	assert.Zero(t, h.rec.Calls(), "nothing reaches the encoder")
	assert.Equal(t, int64(1), h.c.Stats().Failures)
}

func TestEveryOpcodeTranslates(t *testing.T) {
	cases := map[bytecode.OpCode]struct {
		defs []def
		self bytecode.Value
		args []bytecode.Value
		want bytecode.Value
	}{
		bytecode.OpNop:               {defs: []def{{"m", 0, "putnil\nnop\nleave"}}, want: bytecode.Qnil},
		bytecode.OpPutNil:            {defs: []def{{"m", 0, "putnil\nleave"}}, want: bytecode.Qnil},
		bytecode.OpPutObject:         {defs: []def{{"m", 0, "putobject -42\nleave"}}, want: bytecode.Fixnum(-42)},
		bytecode.OpPutObjectInt2Fix0: {defs: []def{{"m", 0, "putobject_INT2FIX_0_\nleave"}}, want: bytecode.Fixnum(0)},
		bytecode.OpPutObjectInt2Fix1: {defs: []def{{"m", 0, "putobject_INT2FIX_1_\nleave"}}, want: bytecode.Fixnum(1)},
		bytecode.OpPutSelf:           {defs: []def{{"m", 0, "putself\nleave"}}, self: bytecode.Fixnum(7), want: bytecode.Fixnum(7)},
		bytecode.OpGetLocalWC0: {
			defs: []def{{"m", 2, "getlocal_WC_0 $1\nleave"}},
			args: []bytecode.Value{bytecode.Fixnum(10), bytecode.Fixnum(20)},
			want: bytecode.Fixnum(20),
		},
		bytecode.OpLeave:    {defs: []def{{"m", 0, "putobject true\nleave"}}, want: bytecode.Qtrue},
		bytecode.OpOptLt:    {defs: []def{{"m", 0, "putobject 1\nputobject 2\nopt_lt\nleave"}}, want: bytecode.Qtrue},
		bytecode.OpOptMinus: {defs: []def{{"m", 0, "putobject 5\nputobject 7\nopt_minus\nleave"}}, want: bytecode.Fixnum(-2)},
		bytecode.OpOptPlus:  {defs: []def{{"m", 0, "putobject 5\nputobject 7\nopt_plus\nleave"}}, want: bytecode.Fixnum(12)},
		bytecode.OpOptSendWithoutBlock: {
			defs: []def{
				{"m", 0, "putself\nputobject 9\nputobject 4\nopt_send_without_block sub 2\nleave"},
				{"sub", 2, "getlocal_WC_0 $0\ngetlocal_WC_0 $1\nopt_minus\nleave"},
			},
			want: bytecode.Fixnum(5),
		},
	}

	supportedOps := SupportedOpcodes()
	require.Len(t, cases, len(supportedOps))
	for _, op := range supportedOps {
		tc, ok := cases[op]
		require.True(t, ok, "no case for %s", op)
		t.Run(op.String(), func(t *testing.T) {
			h := newHarness(t, smallConfig())
			m := build(t, tc.defs...)["m"]
			require.NoError(t, h.c.Compile(m))
			got, _ := h.call(m, tc.self, tc.args...)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestUnsupportedOpcodesFail(t *testing.T) {
	supportedOps := make(map[bytecode.OpCode]bool)
	for _, op := range SupportedOpcodes() {
		supportedOps[op] = true
	}
	for _, op := range bytecode.AllOpCodes() {
		if supportedOps[op] {
			continue
		}
		// two values below op so stack-consuming opcodes pass the depth check
		putnil := bytecode.DirectCoding{}.EncodeOp(bytecode.OpPutNil)
		m := bytecode.NewMethod("m", 0, make([]uint64, 2+op.Len()))
		m.Encoded[0], m.Encoded[1] = putnil, putnil
		m.Encoded[2] = bytecode.DirectCoding{}.EncodeOp(op)
		h := newHarness(t, smallConfig())
		err := h.c.Compile(m)
		require.ErrorIs(t, err, jiterr.ErrUnsupported, "%s", op)
		je, _ := jiterr.AsJITError(err)
		assert.Equal(t, 2, je.Position, "%s", op)
		assert.Equal(t, op.String(), je.Opcode)
		assert.False(t, m.Compiled())
	}
}

var boundary = []int64{
	0, 1, -1, 2, -2, 7, -13, 1000, -4096,
	bytecode.FixnumMax / 2, bytecode.FixnumMin / 2,
}

func TestTagCorrection(t *testing.T) {
	h := newHarness(t, smallConfig())
	ms := build(t,
		def{"add", 2, "getlocal_WC_0 $0\ngetlocal_WC_0 $1\nopt_plus\nleave"},
		def{"sub", 2, "getlocal_WC_0 $0\ngetlocal_WC_0 $1\nopt_minus\nleave"},
	)
	require.NoError(t, h.c.Compile(ms["add"]))
	require.NoError(t, h.c.Compile(ms["sub"]))

	for _, a := range boundary {
		for _, b := range boundary {
			sum, _ := h.call(ms["add"], bytecode.Qnil, bytecode.Fixnum(a), bytecode.Fixnum(b))
			assert.Equal(t, bytecode.Fixnum(a+b), sum, "%d + %d", a, b)
			assert.True(t, sum.IsFixnum())

			diff, _ := h.call(ms["sub"], bytecode.Qnil, bytecode.Fixnum(a), bytecode.Fixnum(b))
			assert.Equal(t, bytecode.Fixnum(a-b), diff, "%d - %d", a, b)
			assert.True(t, diff.IsFixnum())
		}
	}
}

func TestLessThanIsBranchless(t *testing.T) {
	h := newHarness(t, smallConfig())
	m := build(t, def{"lt", 2, "getlocal_WC_0 $0\ngetlocal_WC_0 $1\nopt_lt\nleave"})["lt"]
	require.NoError(t, h.c.Compile(m))

	entry, _ := m.NativeEntry()
	insts, _ := h.rec.Program(entry)
	cmovs := 0
	for _, in := range insts {
		assert.NotEqual(t, x64.CALL, in.Op)
		if in.Op == x64.CMOVL {
			cmovs++
		}
	}
	assert.Equal(t, 1, cmovs)

	steps := -1
	values := append([]int64{bytecode.FixnumMax, bytecode.FixnumMin}, boundary...)
	for _, a := range values {
		for _, b := range values {
			got, n := h.call(m, bytecode.Qnil, bytecode.Fixnum(a), bytecode.Fixnum(b))
			assert.Equal(t, bytecode.Bool(a < b), got, "%d < %d", a, b)
			if steps < 0 {
				steps = n
			}
			assert.Equal(t, steps, n, "same path for every input")
		}
	}
}

func TestCalleeCompiledOnce(t *testing.T) {
	h := newHarness(t, smallConfig())
	ms := build(t,
		def{"a", 0, "putself\nopt_send_without_block c 0\nleave"},
		def{"b", 0, "putobject_INT2FIX_1_\nputself\nopt_send_without_block c 0\nopt_plus\nleave"},
		def{"c", 0, "putobject 41\nleave"},
	)
	require.NoError(t, h.c.Compile(ms["a"]))
	assert.Equal(t, 2, h.rec.Calls())
	require.NoError(t, h.c.Compile(ms["b"]))
	assert.Equal(t, 3, h.rec.Calls(), "c is not compiled again")
	require.NoError(t, h.c.Compile(ms["c"]))
	assert.Equal(t, 3, h.rec.Calls())

	cEntry, _ := ms["c"].NativeEntry()
	for _, name := range []string{"a", "b"} {
		assert.Contains(t, h.program(ms[name]), fmt.Sprintf("call %#x", cEntry), name)
	}
	got, _ := h.call(ms["a"], bytecode.Qnil)
	assert.Equal(t, bytecode.Fixnum(41), got)
	// 1 + self.c
	got, _ = h.call(ms["b"], bytecode.Qnil)
	assert.Equal(t, bytecode.Fixnum(42), got)

	s := h.c.Stats()
	assert.Equal(t, int64(3), s.Methods)
	assert.Equal(t, int64(2), s.Links)
	assert.Equal(t, int64(3), s.EncoderCalls)
	assert.Equal(t, 3, h.c.CodeMap().Len())
}

func TestStackDepthLimit(t *testing.T) {
	h := newHarness(t, smallConfig())
	ms := build(t,
		def{"four", 0, "putobject 1\nputobject 2\nputobject 3\nputobject 4\nopt_plus\nopt_plus\nopt_plus\nleave"},
		def{"five", 0, "putobject 1\nputobject 2\nputobject 3\nputobject 4\nputobject 5\nleave"},
		def{"under", 0, "putobject 1\nopt_plus\nleave"},
	)
	require.NoError(t, h.c.Compile(ms["four"]))
	got, _ := h.call(ms["four"], bytecode.Qnil)
	assert.Equal(t, bytecode.Fixnum(10), got)

	err := h.c.Compile(ms["five"])
	assert.ErrorIs(t, err, jiterr.ErrStackDepth)
	je, _ := jiterr.AsJITError(err)
	assert.Equal(t, 8, je.Position)
	assert.False(t, ms["five"].Compiled())

	err = h.c.Compile(ms["under"])
	assert.ErrorIs(t, err, jiterr.ErrStackDepth)
	assert.False(t, ms["under"].Compiled())
}

func TestStackModelFaultIsRecovered(t *testing.T) {
	h := newHarness(t, smallConfig())
	m := build(t, def{"m", 0, "putobject 1\nopt_plus\nleave"})["m"]

	// skip the static check to reach the stack model directly
	g := newCodegen(h.c, m)
	err := g.run(bytecode.DirectCoding{})
	je, ok := jiterr.AsJITError(err)
	require.True(t, ok)
	assert.Equal(t, jiterr.J0101, je.Code)
	assert.Equal(t, 2, je.Position)
	assert.Equal(t, "opt_plus", je.Opcode)
}

func TestEvalStack(t *testing.T) {
	var s evalStack
	assert.Equal(t, x64.R8, s.push())
	assert.Equal(t, x64.R9, s.push())
	assert.Equal(t, x64.R10, s.push())
	assert.Equal(t, []x64.Reg{x64.R9, x64.R10}, s.top(2))
	assert.Empty(t, s.top(0))
	assert.Equal(t, x64.R11, s.push())
	assert.Panics(t, func() { s.push() })
	s.pop(4)
	assert.Zero(t, s.depth)
	assert.PanicsWithError(t, "J0101: pop 1 at depth 0", func() { s.pop(1) })
	assert.Panics(t, func() { s.top(1) })
}

func TestCallCycle(t *testing.T) {
	h := newHarness(t, smallConfig())
	ms := build(t,
		def{"a", 0, "putself\nopt_send_without_block b 0\nleave"},
		def{"b", 0, "putself\nopt_send_without_block a 0\nleave"},
		def{"self", 0, "putself\nopt_send_without_block self 0\nleave"},
	)
	err := h.c.Compile(ms["a"])
	require.ErrorIs(t, err, jiterr.ErrCycle)
	je, _ := jiterr.AsJITError(err)
	assert.Equal(t, []string{"a", "b"}, je.Chain)
	assert.Equal(t, "b", je.Method)
	assert.Equal(t, 1, je.Position)
	assert.Equal(t, bytecode.StateUncompiled, ms["a"].State())
	assert.Equal(t, bytecode.StateUncompiled, ms["b"].State())

	assert.ErrorIs(t, h.c.Compile(ms["self"]), jiterr.ErrCycle)
	assert.Zero(t, h.c.Buffer().Used())
}

func TestCalleeFailurePropagates(t *testing.T) {
	h := newHarness(t, smallConfig())
	ms := build(t,
		def{"a", 0, "putself\nopt_send_without_block b 0\nleave"},
		def{"b", 0, "putself\nopt_send_without_block c 0\nleave"},
		def{"c", 0, "putobject 2\nputobject 3\nopt_mult\nleave"},
	)
	err := h.c.Compile(ms["a"])
	require.ErrorIs(t, err, jiterr.ErrUnsupported)
	je, _ := jiterr.AsJITError(err)
	assert.Equal(t, "c", je.Method)
	assert.Equal(t, []string{"a", "b", "c"}, je.Chain)
	for _, m := range ms {
		assert.False(t, m.Compiled(), m.Name)
	}
	assert.Contains(t, jiterr.Format(err), "a -> b -> c")
}

func TestUnresolvedCallee(t *testing.T) {
	h := newHarness(t, smallConfig())
	op := bytecode.DirectCoding{}.EncodeOp
	m := bytecode.NewMethod("m", 0, []uint64{
		op(bytecode.OpPutSelf),
		op(bytecode.OpOptSendWithoutBlock), 0,
		op(bytecode.OpLeave),
	})
	m.CallData = []bytecode.CallData{{Argc: 0}}
	err := h.c.Compile(m)
	assert.ErrorIs(t, err, jiterr.ErrUnresolved)
	assert.False(t, m.Compiled())
}

func TestBufferExhausted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferSize = 32
	h := newHarness(t, cfg)
	ms := build(t,
		def{"small", 0, "putnil\nleave"},
		def{"big", 0, "putobject 1\nputobject 2\nopt_plus\nleave"},
	)
	err := h.c.Compile(ms["big"])
	assert.ErrorIs(t, err, jiterr.ErrBufferExhausted)
	je, _ := jiterr.AsJITError(err)
	assert.Equal(t, "big", je.Method)
	assert.False(t, ms["big"].Compiled())

	require.NoError(t, h.c.Compile(ms["small"]), "space is still available for smaller code")
}

func TestCompileOrExit(t *testing.T) {
	h := newHarness(t, smallConfig())
	ms := build(t,
		def{"ok", 0, "putnil\nleave"},
		def{"bad", 0, "putobject 1\nputobject 2\nopt_div\nleave"},
	)
	h.c.CompileOrExit(ms["ok"])
	assert.Empty(t, h.exits)
	assert.True(t, ms["ok"].Compiled())

	h.c.CompileOrExit(ms["bad"])
	assert.Equal(t, []int{1}, h.exits)
	assert.Contains(t, h.diag.String(), "error[J0100]")
	assert.Contains(t, h.diag.String(), "bad@4 (opt_div)")

	failed := h.logs.FilterMessage("compilation failed").FilterField(zap.String("code", jiterr.J0100)).All()
	require.Len(t, failed, 1)
	assert.Equal(t, zap.ErrorLevel, failed[0].Level)
}

func TestCompileIsIdempotent(t *testing.T) {
	h := newHarness(t, smallConfig())
	m := build(t, def{"m", 0, "putnil\nleave"})["m"]
	require.NoError(t, h.c.Compile(m))
	entry, _ := m.NativeEntry()
	require.NoError(t, h.c.Compile(m))
	again, _ := m.NativeEntry()
	assert.Equal(t, entry, again)
	assert.Equal(t, 1, h.rec.Calls())
}

func TestDumpDisasm(t *testing.T) {
	var out strings.Builder
	cfg := smallConfig()
	cfg.DumpDisasm = true
	h := newHarness(t, cfg, WithDisasmOutput(&out))
	ms := build(t,
		def{"main", 0, "putself\nopt_send_without_block one 0\nleave"},
		def{"one", 0, "putobject_INT2FIX_1_\nleave"},
	)
	require.NoError(t, h.c.Compile(ms["main"]))
	text := out.String()
	assert.True(t, strings.HasPrefix(text, "  0x7f0000000000: mov r8, 0x3\n"), text)
	assert.Contains(t, text, ": call one\n")
	assert.Contains(t, text, "ret\n\n")
}

func TestNewRejectsBadLayout(t *testing.T) {
	cfg := smallConfig()
	cfg.Layout.ValueSize = 4
	_, err := New(cfg, WithRegion(codebuf.NewSoftRegion(codeBase, 64)))
	assert.ErrorIs(t, err, jiterr.ErrLayout)
}

func TestCompilerLogsWithID(t *testing.T) {
	h := newHarness(t, smallConfig())
	m := build(t, def{"m", 0, "putnil\nleave"})["m"]
	require.NoError(t, h.c.Compile(m))
	entries := h.logs.FilterMessage("method compiled").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "jit", entries[0].LoggerName)
	assert.Equal(t, h.c.ID.String(), entries[0].ContextMap()["compiler"])
	assert.Equal(t, fmt.Sprintf("%#x", codeBase), entries[0].ContextMap()["entry"])
}

func TestReachFollowsTheDeepestCallPath(t *testing.T) {
	h := newHarness(t, smallConfig())
	ms := build(t,
		def{"main", 1, "putself\ngetlocal_WC_0 $0\nopt_send_without_block mid 1\nputself\nopt_send_without_block leaf 0\nopt_plus\nleave"},
		def{"mid", 1, "putself\nputobject 1\nputobject 2\nopt_send_without_block pair 2\nleave"},
		def{"pair", 2, "getlocal_WC_0 $0\ngetlocal_WC_0 $1\nopt_plus\nleave"},
		def{"leaf", 0, "putobject 5\nleave"},
	)
	require.NoError(t, h.c.Compile(ms["main"]))

	cases := map[string]Reach{
		"leaf": {},
		"pair": {},
		"mid":  {Depth: 1, FrameBytes: 56, ValueBytes: 40, MachineBytes: 40},
		"main": {Depth: 2, FrameBytes: 112, ValueBytes: 72, MachineBytes: 80},
	}
	for name, want := range cases {
		got, ok := h.c.Reach(ms[name])
		require.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}

	entry, _ := ms["main"].NativeEntry()
	e, ok := h.c.CodeMap().Find(entry)
	require.True(t, ok)
	assert.Equal(t, 2, e.Reach.Depth)

	got, _ := h.call(ms["main"], bytecode.Qnil, bytecode.Fixnum(1))
	assert.Equal(t, bytecode.Fixnum(8), got)
}

func TestLinkRejectsCodeFromAnotherBuffer(t *testing.T) {
	ms := build(t,
		def{"main", 0, "putself\nopt_send_without_block one 0\nleave"},
		def{"one", 0, "putobject_INT2FIX_1_\nleave"},
	)
	other := newHarness(t, smallConfig())
	require.NoError(t, other.c.Compile(ms["one"]))

	h := newHarness(t, smallConfig())
	_, ok := h.c.Reach(ms["one"])
	assert.False(t, ok)

	err := h.c.Compile(ms["main"])
	je, ok := jiterr.AsJITError(err)
	require.True(t, ok)
	assert.Equal(t, jiterr.J0402, je.Code)
	assert.Equal(t, "main", je.Method)
	assert.Equal(t, "opt_send_without_block", je.Opcode)
	assert.False(t, ms["main"].Compiled())
}
