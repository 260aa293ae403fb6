package jit

import (
	"github.com/tangzhangming/novajit/internal/bytecode"
	jiterr "github.com/tangzhangming/novajit/internal/errors"
	"github.com/tangzhangming/novajit/internal/x64"
)

// ============================================================================
// Call linker
// ============================================================================

// send links an opt_send_without_block call site. The callee is compiled
// first if it has no native entry yet; its frame is then built below the
// current one and the evaluation stack registers are saved across the call.
func (g *codegen) send(insn bytecode.Instruction, pos int) error {
	op := insn.Op.String()
	word, err := g.operand(insn, pos)
	if err != nil {
		return err
	}
	cd, err := g.m.ResolveCall(word)
	if err != nil {
		return jiterr.Wrap(jiterr.J0400, err, "cannot resolve call site").At(g.m.Name, pos, op)
	}
	entry, calleeReach, err := g.c.link(cd.Callee)
	if err != nil {
		je, ok := jiterr.AsJITError(err)
		switch {
		case !ok:
			return jiterr.Wrap(jiterr.J0400, err, "cannot link %s", cd.Callee.Name).At(g.m.Name, pos, op)
		case je.Method == "":
			return je.At(g.m.Name, pos, op)
		default:
			return je.Caller(g.m.Name)
		}
	}

	argc := cd.Argc
	l := g.layout
	g.reach.addCall(l, argc, calleeReach)
	vs := l.ValueSize
	operands := g.stack.top(argc + 1)
	recv, args := operands[0], operands[1:]
	a := g.asm

	// arguments go to the caller's stack top
	a.Mov(x64.R(regRet), x64.M(regCFP, l.SPOffset))
	for i, r := range args {
		a.Mov(x64.M(regRet, int32(i)*vs), x64.R(r))
	}

	// callee frame
	a.Sub(x64.R(regCFP), x64.Imm(int64(l.FrameSize)))
	a.Add(x64.R(regRet), x64.Imm(int64(int32(argc)+l.EnvHeaderSlots)*int64(vs)))
	a.Mov(x64.M(regCFP, l.SPOffset), x64.R(regRet))
	a.Sub(x64.R(regRet), x64.Imm(int64(vs)))
	a.Mov(x64.M(regCFP, l.EPOffset), x64.R(regRet))
	a.Mov(x64.M(regCFP, l.SelfOffset), x64.R(recv))

	for _, r := range stackRegs {
		a.Push(r)
	}
	a.Call(entry)
	for i := len(stackRegs) - 1; i >= 0; i-- {
		a.Pop(stackRegs[i])
	}

	g.stack.pop(argc + 1)
	dst := g.stack.push()
	a.Mov(x64.R(dst), x64.R(regRet))
	return nil
}

// link returns the native entry and reach of callee, compiling it when
// needed. Only code from this compiler's buffer can be linked.
func (c *Compiler) link(callee *bytecode.Method) (uintptr, Reach, error) {
	switch callee.State() {
	case bytecode.StateCompiling:
		return 0, Reach{}, jiterr.New(jiterr.J0401, "%s is still being compiled", callee.Name)
	case bytecode.StateUncompiled:
		c.log.Debug("compiling callee", zapMethod(callee))
		if err := c.compile(callee); err != nil {
			return 0, Reach{}, err
		}
	}
	entry, ok := callee.NativeEntry()
	if !ok {
		return 0, Reach{}, jiterr.New(jiterr.J0402, "%s has no native entry", callee.Name)
	}
	reach, ok := c.Reach(callee)
	if !ok {
		return 0, Reach{}, jiterr.New(jiterr.J0402, "%s was compiled into another code buffer", callee.Name)
	}
	c.stats.Links.Inc()
	return entry, reach, nil
}
