package jit

import (
	"github.com/tangzhangming/novajit/internal/bytecode"
	jiterr "github.com/tangzhangming/novajit/internal/errors"
	"github.com/tangzhangming/novajit/internal/x64"
)

// Fixed registers of generated code.
const (
	regEC  = x64.RDI // execution context
	regCFP = x64.RSI // current control frame
	regRet = x64.RAX // return value and scratch
)

// maxLocalIndex keeps ep-relative displacements inside 32 bits.
const maxLocalIndex = 1 << 20

var supported = []bytecode.OpCode{
	bytecode.OpNop,
	bytecode.OpPutNil,
	bytecode.OpPutObject,
	bytecode.OpPutObjectInt2Fix0,
	bytecode.OpPutObjectInt2Fix1,
	bytecode.OpPutSelf,
	bytecode.OpGetLocalWC0,
	bytecode.OpLeave,
	bytecode.OpOptLt,
	bytecode.OpOptMinus,
	bytecode.OpOptPlus,
	bytecode.OpOptSendWithoutBlock,
}

// SupportedOpcodes returns the instructions the compiler translates. Any
// other opcode fails compilation with J0100.
func SupportedOpcodes() []bytecode.OpCode {
	return append([]bytecode.OpCode(nil), supported...)
}

// codegen translates one method. It lives for a single compile call.
type codegen struct {
	c      *Compiler
	m      *bytecode.Method
	layout Layout
	asm    *x64.Assembler
	stack  evalStack
	reach  Reach
}

func newCodegen(c *Compiler, m *bytecode.Method) *codegen {
	return &codegen{c: c, m: m, layout: c.layout, asm: x64.NewAssembler()}
}

// emit appends the template of insn at word position pos.
func (g *codegen) emit(insn bytecode.Instruction, pos int) error {
	a := g.asm
	switch insn.Op {
	case bytecode.OpNop:

	case bytecode.OpPutNil:
		g.putValue(bytecode.Qnil)

	case bytecode.OpPutObjectInt2Fix0:
		g.putValue(bytecode.Fixnum(0))

	case bytecode.OpPutObjectInt2Fix1:
		g.putValue(bytecode.Fixnum(1))

	case bytecode.OpPutObject:
		word, err := g.operand(insn, pos)
		if err != nil {
			return err
		}
		g.putValue(bytecode.Value(word))

	case bytecode.OpPutSelf:
		dst := g.stack.push()
		a.Mov(x64.R(dst), x64.M(regCFP, g.layout.SelfOffset))

	case bytecode.OpGetLocalWC0:
		idx, err := g.operand(insn, pos)
		if err != nil {
			return err
		}
		if idx > maxLocalIndex {
			return jiterr.New(jiterr.J0100, "local index %d out of range", idx).At(g.m.Name, pos, insn.Op.String())
		}
		dst := g.stack.push()
		a.Mov(x64.R(regRet), x64.M(regCFP, g.layout.EPOffset))
		a.Mov(x64.R(dst), x64.M(regRet, -int32(idx)*g.layout.ValueSize))

	case bytecode.OpLeave:
		top := g.stack.top(1)[0]
		g.stack.pop(1)
		a.Add(x64.R(regCFP), x64.Imm(int64(g.layout.FrameSize)))
		a.Mov(x64.M(regEC, g.layout.ECCFPOffset), x64.R(regCFP))
		a.Mov(x64.R(regRet), x64.R(top))
		a.Ret()

	case bytecode.OpOptPlus:
		// (a<<1|1) + (b<<1|1) carries two tag bits
		l, r := g.binary()
		a.Add(x64.R(l), x64.R(r))
		a.Sub(x64.R(l), x64.Imm(1))

	case bytecode.OpOptMinus:
		// (a<<1|1) - (b<<1|1) loses the tag bit
		l, r := g.binary()
		a.Sub(x64.R(l), x64.R(r))
		a.Add(x64.R(l), x64.Imm(1))

	case bytecode.OpOptLt:
		l, r := g.binary()
		a.Cmp(x64.R(l), x64.R(r))
		a.Mov(x64.R(l), x64.Imm(int64(bytecode.Qfalse)))
		a.Mov(x64.R(regRet), x64.Imm(int64(bytecode.Qtrue)))
		a.Cmovl(x64.R(l), x64.R(regRet))

	case bytecode.OpOptSendWithoutBlock:
		return g.send(insn, pos)

	default:
		return jiterr.New(jiterr.J0100, "%s cannot be compiled", insn.Op).At(g.m.Name, pos, insn.Op.String())
	}
	return nil
}

func (g *codegen) putValue(v bytecode.Value) {
	dst := g.stack.push()
	g.asm.Mov(x64.R(dst), x64.Imm(int64(v)))
}

// binary pops the right operand and leaves the left one in place as the
// result slot. It returns both registers.
func (g *codegen) binary() (x64.Reg, x64.Reg) {
	regs := g.stack.top(2)
	l, r := regs[0], regs[1]
	g.stack.pop(1)
	return l, r
}

// operand reads the word following the instruction at pos.
func (g *codegen) operand(insn bytecode.Instruction, pos int) (uint64, error) {
	word, ok := g.m.Operand(pos + 1)
	if !ok {
		return 0, jiterr.New(jiterr.J0100, "truncated operand").At(g.m.Name, pos, insn.Op.String())
	}
	return word, nil
}
