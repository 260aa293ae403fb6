package bytecode

import (
	jiterr "github.com/tangzhangming/novajit/internal/errors"
)

// ============================================================================
// Static evaluation-stack depth check
// ============================================================================

// StackEffect is how many slots an instruction pops and then pushes.
type StackEffect struct {
	Pop  int
	Push int
}

var fixedEffects = map[OpCode]StackEffect{
	OpNop:               {0, 0},
	OpPutNil:            {0, 1},
	OpPutSelf:           {0, 1},
	OpPutObject:         {0, 1},
	OpPutString:         {0, 1},
	OpPutObjectInt2Fix0: {0, 1},
	OpPutObjectInt2Fix1: {0, 1},
	OpGetLocalWC0:       {0, 1},
	OpGetLocal:          {0, 1},
	OpSetLocalWC0:       {1, 0},
	OpSetLocal:          {1, 0},
	OpPop:               {1, 0},
	OpDup:               {1, 2},
	OpSwap:              {2, 2},
	OpLeave:             {1, 0},
	OpOptPlus:           {2, 1},
	OpOptMinus:          {2, 1},
	OpOptMult:           {2, 1},
	OpOptDiv:            {2, 1},
	OpOptEq:             {2, 1},
	OpOptLt:             {2, 1},
	OpOptLe:             {2, 1},
	OpOptGt:             {2, 1},
	OpOptGe:             {2, 1},
}

// Effect returns the stack effect of the instruction at pos. Sends depend on
// their call data; control flow and unknown words have no static effect.
func (m *Method) Effect(insn Instruction, pos int) (StackEffect, error) {
	if insn.Op == OpOptSendWithoutBlock {
		word, ok := m.Operand(pos + 1)
		if !ok {
			return StackEffect{}, jiterr.New(jiterr.J0400, "missing call data operand").At(m.Name, pos, insn.Op.String())
		}
		cd, err := m.ResolveCall(word)
		if err != nil {
			return StackEffect{}, jiterr.Wrap(jiterr.J0400, err, "cannot resolve call site").At(m.Name, pos, insn.Op.String())
		}
		return StackEffect{Pop: cd.Argc + 1, Push: 1}, nil
	}
	eff, ok := fixedEffects[insn.Op]
	if !ok {
		return StackEffect{}, jiterr.New(jiterr.J0100, "%s has no static stack effect", insn.Op).At(m.Name, pos, insn.Op.String())
	}
	return eff, nil
}

// CheckStack walks m once and verifies the operand stack depth stays within
// [0, limit] at every instruction. The supported instruction set has no
// branches, so one linear pass sees every reachable depth.
//
// It returns the deepest depth reached.
func CheckStack(m *Method, dec Decoder, limit int) (int, error) {
	depth, maxDepth := 0, 0
	for insn, pos := range Walk(m, dec) {
		eff, err := m.Effect(insn, pos)
		if err != nil {
			return maxDepth, err
		}
		if depth < eff.Pop {
			return maxDepth, jiterr.New(jiterr.J0101,
				"pops %d with only %d on the stack", eff.Pop, depth).At(m.Name, pos, insn.Op.String())
		}
		depth += eff.Push - eff.Pop
		if depth > limit {
			return maxDepth, jiterr.New(jiterr.J0101,
				"depth %d exceeds the %d available registers", depth, limit).At(m.Name, pos, insn.Op.String())
		}
		maxDepth = max(maxDepth, depth)
	}
	return maxDepth, nil
}
