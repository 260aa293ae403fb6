// Package sim executes symbolic x64 instruction lists. It is the portable
// way to run JIT output: programs are looked up by the address they were
// assembled at, and memory operands go through a Memory.
package sim

import (
	"errors"
	"fmt"

	"github.com/tangzhangming/novajit/internal/x64"
)

// Memory is the 64-bit word memory seen by mov.
type Memory interface {
	Load(addr uint64) (uint64, error)
	Store(addr uint64, v uint64) error
}

// Loader finds the program assembled at addr.
type Loader interface {
	Program(addr uintptr) ([]x64.Inst, bool)
}

// DefaultMaxSteps bounds a single Call.
const DefaultMaxSteps = 1 << 22

// ErrStepLimit is returned when a call executes more than MaxSteps
// instructions.
var ErrStepLimit = errors.New("sim: step limit reached")

// Machine is a register file plus a hardware stack. The hardware stack is
// kept apart from Memory: only push, pop, call and ret use it.
type Machine struct {
	Regs     [x64.NumRegs]uint64
	MaxSteps int
	Steps    int

	less  bool // SF != OF after the last flag-setting instruction
	mem   Memory
	code  Loader
	stack []uint64
}

// New creates a machine.
func New(mem Memory, code Loader) *Machine {
	return &Machine{MaxSteps: DefaultMaxSteps, mem: mem, code: code}
}

type frame struct {
	entry uintptr
	insts []x64.Inst
	pc    int
	sp    int // hardware stack depth on entry
}

// Fault is an execution error with the instruction that raised it.
type Fault struct {
	Entry uintptr
	PC    int
	Inst  x64.Inst
	Err   error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("sim: %#x+%d (%s): %v", f.Entry, f.PC, f.Inst, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// Call runs the program at entry until its ret and returns rax. The caller
// sets up argument registers in Regs beforehand.
func (m *Machine) Call(entry uintptr) (uint64, error) {
	prog, ok := m.code.Program(entry)
	if !ok {
		return 0, fmt.Errorf("sim: no program at %#x", entry)
	}
	m.Steps = 0
	m.stack = m.stack[:0]
	calls := []frame{{entry: entry, insts: prog}}
	for len(calls) > 0 {
		f := &calls[len(calls)-1]
		if f.pc >= len(f.insts) {
			return 0, &Fault{Entry: f.entry, PC: f.pc, Err: errors.New("ran past the last instruction")}
		}
		if m.Steps >= m.MaxSteps {
			return 0, ErrStepLimit
		}
		m.Steps++
		in := f.insts[f.pc]
		pc := f.pc
		f.pc++

		switch in.Op {
		case x64.CALL:
			target, err := m.read(in.Dst)
			if err != nil {
				return 0, &Fault{Entry: f.entry, PC: pc, Inst: in, Err: err}
			}
			callee, ok := m.code.Program(uintptr(target))
			if !ok {
				return 0, &Fault{Entry: f.entry, PC: pc, Inst: in, Err: fmt.Errorf("no program at %#x", target)}
			}
			// return address slot
			m.stack = append(m.stack, uint64(f.entry)+uint64(f.pc))
			calls = append(calls, frame{entry: uintptr(target), insts: callee, sp: len(m.stack)})
		case x64.RET:
			if len(m.stack) != f.sp {
				return 0, &Fault{Entry: f.entry, PC: pc, Inst: in,
					Err: fmt.Errorf("ret with %d unbalanced stack words", len(m.stack)-f.sp)}
			}
			if len(calls) > 1 {
				m.stack = m.stack[:len(m.stack)-1]
			}
			calls = calls[:len(calls)-1]
		default:
			if err := m.step(in); err != nil {
				return 0, &Fault{Entry: f.entry, PC: pc, Inst: in, Err: err}
			}
		}
	}
	return m.Regs[x64.RAX], nil
}

// step executes one non-control-flow instruction.
func (m *Machine) step(in x64.Inst) error {
	switch in.Op {
	case x64.MOV:
		v, err := m.read(in.Src)
		if err != nil {
			return err
		}
		return m.write(in.Dst, v)

	case x64.ADD, x64.SUB:
		a, err := m.read(in.Dst)
		if err != nil {
			return err
		}
		b, err := m.read(in.Src)
		if err != nil {
			return err
		}
		var r uint64
		if in.Op == x64.ADD {
			r = a + b
			m.less = addLess(a, b, r)
		} else {
			r = a - b
			m.less = int64(a) < int64(b)
		}
		return m.write(in.Dst, r)

	case x64.CMP:
		a, err := m.read(in.Dst)
		if err != nil {
			return err
		}
		b, err := m.read(in.Src)
		if err != nil {
			return err
		}
		m.less = int64(a) < int64(b)
		return nil

	case x64.CMOVL:
		if in.Dst.Kind != x64.KindReg {
			return errors.New("cmovl destination must be a register")
		}
		v, err := m.read(in.Src)
		if err != nil {
			return err
		}
		if m.less {
			m.Regs[in.Dst.Reg] = v
		}
		return nil

	case x64.PUSH:
		v, err := m.read(in.Dst)
		if err != nil {
			return err
		}
		m.stack = append(m.stack, v)
		return nil

	case x64.POP:
		if len(m.stack) == 0 {
			return errors.New("pop with empty stack")
		}
		v := m.stack[len(m.stack)-1]
		m.stack = m.stack[:len(m.stack)-1]
		return m.write(in.Dst, v)
	}
	return fmt.Errorf("unknown instruction %s", in.Op)
}

// addLess is SF != OF after a + b = r.
func addLess(a, b, r uint64) bool {
	sa, sb, sr := int64(a) < 0, int64(b) < 0, int64(r) < 0
	overflow := sa == sb && sr != sa
	return sr != overflow
}

func (m *Machine) read(o x64.Operand) (uint64, error) {
	switch o.Kind {
	case x64.KindReg:
		if !o.Reg.Valid() {
			return 0, fmt.Errorf("bad register %d", o.Reg)
		}
		return m.Regs[o.Reg], nil
	case x64.KindMem:
		if !o.Reg.Valid() {
			return 0, fmt.Errorf("bad base register %d", o.Reg)
		}
		return m.mem.Load(m.addr(o))
	case x64.KindImm:
		return uint64(o.Imm), nil
	}
	return 0, errors.New("missing operand")
}

func (m *Machine) write(o x64.Operand, v uint64) error {
	switch o.Kind {
	case x64.KindReg:
		if !o.Reg.Valid() {
			return fmt.Errorf("bad register %d", o.Reg)
		}
		m.Regs[o.Reg] = v
		return nil
	case x64.KindMem:
		if !o.Reg.Valid() {
			return fmt.Errorf("bad base register %d", o.Reg)
		}
		return m.mem.Store(m.addr(o), v)
	}
	return fmt.Errorf("cannot write to %v", o)
}

func (m *Machine) addr(o x64.Operand) uint64 {
	return m.Regs[o.Reg] + uint64(int64(o.Disp))
}

// StackDepth returns the number of words on the hardware stack.
func (m *Machine) StackDepth() int {
	return len(m.stack)
}
