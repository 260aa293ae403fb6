package jit

import (
	jiterr "github.com/tangzhangming/novajit/internal/errors"
	"github.com/tangzhangming/novajit/internal/x64"
)

// stackRegs holds the evaluation stack: slot i lives in stackRegs[i].
var stackRegs = [...]x64.Reg{x64.R8, x64.R9, x64.R10, x64.R11}

// MaxDepth is the deepest evaluation stack a method may use.
const MaxDepth = len(stackRegs)

// evalStack maps the interpreter's operand stack onto stackRegs. Leaving
// [0, MaxDepth] panics with a J0101 *JITError; Compile recovers it.
type evalStack struct {
	depth int
}

// push claims the next slot and returns its register.
func (s *evalStack) push() x64.Reg {
	if s.depth >= MaxDepth {
		panic(jiterr.New(jiterr.J0101, "push at depth %d", s.depth))
	}
	r := stackRegs[s.depth]
	s.depth++
	return r
}

// top returns the registers of the top k slots, deepest first.
func (s *evalStack) top(k int) []x64.Reg {
	if k < 0 || k > s.depth {
		panic(jiterr.New(jiterr.J0101, "top %d at depth %d", k, s.depth))
	}
	return stackRegs[s.depth-k : s.depth]
}

// pop drops k slots.
func (s *evalStack) pop(k int) {
	if k < 0 || k > s.depth {
		panic(jiterr.New(jiterr.J0101, "pop %d at depth %d", k, s.depth))
	}
	s.depth -= k
}
