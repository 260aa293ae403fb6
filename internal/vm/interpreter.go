package vm

import (
	"fmt"
	"math/bits"

	"github.com/tangzhangming/novajit/internal/bytecode"
)

// ============================================================================
// Interpreter
// ============================================================================

// MaxCallDepth bounds interpreted recursion.
const MaxCallDepth = 10000

// CallFunc dispatches a send. The host uses it to route calls through the
// tiering policy.
type CallFunc func(m *bytecode.Method, self bytecode.Value, args []bytecode.Value) (bytecode.Value, error)

// RuntimeError is a fault while interpreting an instruction.
type RuntimeError struct {
	Method string
	Pos    int
	Op     bytecode.OpCode
	Msg    string
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s@%d (%s): %s", e.Method, e.Pos, e.Op, e.Msg)
}

// Interpreter executes straight-line method bodies on boxed values. It runs
// every instruction the compiler supports plus the stack shuffles, local
// stores and the remaining opt_* arithmetic.
type Interpreter struct {
	dec   bytecode.Decoder
	call  CallFunc
	depth int
}

// NewInterpreter creates an interpreter. A nil call makes sends recurse into
// the interpreter itself.
func NewInterpreter(dec bytecode.Decoder, call CallFunc) *Interpreter {
	in := &Interpreter{dec: dec, call: call}
	if in.call == nil {
		in.call = in.Run
	}
	return in
}

// Run executes m on self with args and returns the value left by leave.
func (in *Interpreter) Run(m *bytecode.Method, self bytecode.Value, args []bytecode.Value) (bytecode.Value, error) {
	if len(args) != m.Argc {
		return bytecode.Qnil, fmt.Errorf("%s: wrong number of arguments (given %d, expected %d)", m.Name, len(args), m.Argc)
	}
	if in.depth >= MaxCallDepth {
		return bytecode.Qnil, fmt.Errorf("%s: stack level too deep", m.Name)
	}
	in.depth++
	defer func() { in.depth-- }()

	// env[ep-idx] is local idx; arguments come first, then the header.
	env := make([]bytecode.Value, m.Argc+bytecode.EnvHeaderSlots)
	copy(env, args)
	for i := m.Argc; i < len(env); i++ {
		env[i] = bytecode.Qnil
	}
	ep := len(env) - 1

	var stack []bytecode.Value
	for insn, pos := range bytecode.Walk(m, in.dec) {
		fail := func(format string, args ...any) (bytecode.Value, error) {
			return bytecode.Qnil, &RuntimeError{Method: m.Name, Pos: pos, Op: insn.Op, Msg: fmt.Sprintf(format, args...)}
		}
		need := func(n int) bool { return len(stack) >= n }
		operand := func() (uint64, bool) { return m.Operand(pos + 1) }

		switch insn.Op {
		case bytecode.OpNop:

		case bytecode.OpPutNil:
			stack = append(stack, bytecode.Qnil)
		case bytecode.OpPutSelf:
			stack = append(stack, self)
		case bytecode.OpPutObjectInt2Fix0:
			stack = append(stack, bytecode.Fixnum(0))
		case bytecode.OpPutObjectInt2Fix1:
			stack = append(stack, bytecode.Fixnum(1))
		case bytecode.OpPutObject:
			w, ok := operand()
			if !ok {
				return fail("truncated operand")
			}
			stack = append(stack, bytecode.Value(w))

		case bytecode.OpGetLocalWC0, bytecode.OpSetLocalWC0:
			w, ok := operand()
			if !ok || w > uint64(ep) {
				return fail("local index out of range")
			}
			slot := ep - int(w)
			if insn.Op == bytecode.OpGetLocalWC0 {
				stack = append(stack, env[slot])
				break
			}
			if !need(1) {
				return fail("stack underflow")
			}
			env[slot] = stack[len(stack)-1]
			stack = stack[:len(stack)-1]

		case bytecode.OpPop:
			if !need(1) {
				return fail("stack underflow")
			}
			stack = stack[:len(stack)-1]
		case bytecode.OpDup:
			if !need(1) {
				return fail("stack underflow")
			}
			stack = append(stack, stack[len(stack)-1])
		case bytecode.OpSwap:
			if !need(2) {
				return fail("stack underflow")
			}
			n := len(stack)
			stack[n-1], stack[n-2] = stack[n-2], stack[n-1]

		case bytecode.OpLeave:
			if !need(1) {
				return fail("stack underflow")
			}
			return stack[len(stack)-1], nil

		case bytecode.OpOptPlus, bytecode.OpOptMinus, bytecode.OpOptMult, bytecode.OpOptDiv,
			bytecode.OpOptEq, bytecode.OpOptLt, bytecode.OpOptLe, bytecode.OpOptGt, bytecode.OpOptGe:
			if !need(2) {
				return fail("stack underflow")
			}
			n := len(stack)
			v, err := binaryOp(insn.Op, stack[n-2], stack[n-1])
			if err != nil {
				return fail("%v", err)
			}
			stack = append(stack[:n-2], v)

		case bytecode.OpOptSendWithoutBlock:
			w, ok := operand()
			if !ok {
				return fail("truncated operand")
			}
			cd, err := m.ResolveCall(w)
			if err != nil {
				return fail("%v", err)
			}
			if !need(cd.Argc + 1) {
				return fail("stack underflow")
			}
			n := len(stack)
			recv := stack[n-cd.Argc-1]
			callArgs := append([]bytecode.Value(nil), stack[n-cd.Argc:]...)
			v, err := in.call(cd.Callee, recv, callArgs)
			if err != nil {
				return bytecode.Qnil, fmt.Errorf("from %s@%d: %w", m.Name, pos, err)
			}
			stack = append(stack[:n-cd.Argc-1], v)

		default:
			return fail("cannot interpret %s", insn.Op)
		}
	}
	return bytecode.Qnil, fmt.Errorf("%s: fell off the end without leave", m.Name)
}

// binaryOp applies an opt_* instruction to two fixnums.
func binaryOp(op bytecode.OpCode, a, b bytecode.Value) (bytecode.Value, error) {
	x, ok1 := a.Int()
	y, ok2 := b.Int()
	if !ok1 || !ok2 {
		return bytecode.Qnil, fmt.Errorf("%s needs two integers, got %s and %s", op, a, b)
	}
	var r int64
	switch op {
	case bytecode.OpOptPlus:
		r = x + y
	case bytecode.OpOptMinus:
		r = x - y
	case bytecode.OpOptMult:
		hi, lo := bits.Mul64(uint64(abs(x)), uint64(abs(y)))
		if hi != 0 || lo > uint64(bytecode.FixnumMax) {
			return bytecode.Qnil, fmt.Errorf("%d * %d overflows a fixnum", x, y)
		}
		r = x * y
	case bytecode.OpOptDiv:
		if y == 0 {
			return bytecode.Qnil, fmt.Errorf("divided by 0")
		}
		r = floorDiv(x, y)
	case bytecode.OpOptEq:
		return bytecode.Bool(x == y), nil
	case bytecode.OpOptLt:
		return bytecode.Bool(x < y), nil
	case bytecode.OpOptLe:
		return bytecode.Bool(x <= y), nil
	case bytecode.OpOptGt:
		return bytecode.Bool(x > y), nil
	case bytecode.OpOptGe:
		return bytecode.Bool(x >= y), nil
	}
	if r > bytecode.FixnumMax || r < bytecode.FixnumMin {
		return bytecode.Qnil, fmt.Errorf("%s result %d overflows a fixnum", op, r)
	}
	return bytecode.Fixnum(r), nil
}

func abs(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}

// floorDiv rounds toward negative infinity like Integer#/.
func floorDiv(x, y int64) int64 {
	q := x / y
	if (x%y != 0) && ((x < 0) != (y < 0)) {
		q--
	}
	return q
}
