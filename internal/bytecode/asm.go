// asm.go - text form of method bodies
//
// One instruction per line, operands separated by blanks, '#' starts a
// comment:
//
//	putself
//	getlocal_WC_0 $0              # argument 0, or a raw env index
//	putobject 1                   # integer, nil, true or false
//	opt_send_without_block fib 1  # callee name, argc
//	opt_lt                        # call data operand is optional
//	leave

package bytecode

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/multierr"
)

// EnvHeaderSlots is the number of env header words between the last local
// and the env pointer.
const EnvHeaderSlots = 3

// LocalIndex converts an argument number of a method with argc parameters to
// the env index getlocal_WC_0 expects: the slot lives at ep[-index].
func LocalIndex(argc, arg int) int {
	return argc + EnvHeaderSlots - 1 - arg
}

// AsmError is a syntax or resolution error on one line of assembler input.
type AsmError struct {
	Method string
	Line   int
	Msg    string
}

func (e *AsmError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.Method, e.Line, e.Msg)
}

// Assemble translates src into m's instruction words and call data, using enc
// for the opcode words. Callees named by sends are looked up in callees.
// Every bad line is reported; the method is left untouched on error.
func Assemble(m *Method, src string, enc OpEncoder, callees map[string]*Method) error {
	a := assembler{m: m, enc: enc, callees: callees}
	sc := bufio.NewScanner(strings.NewReader(src))
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}
		fields := strings.Fields(text)
		if len(fields) == 0 {
			continue
		}
		if err := a.instruction(fields); err != nil {
			a.errs = multierr.Append(a.errs, &AsmError{Method: m.Name, Line: line, Msg: err.Error()})
		}
	}
	if err := sc.Err(); err != nil {
		a.errs = multierr.Append(a.errs, err)
	}
	if a.errs != nil {
		return a.errs
	}
	m.Encoded = a.words
	m.CallData = a.calls
	return nil
}

type assembler struct {
	m       *Method
	enc     OpEncoder
	callees map[string]*Method

	words []uint64
	calls []CallData
	errs  error
}

func (a *assembler) instruction(fields []string) error {
	op, ok := LookupOpCode(fields[0])
	if !ok {
		return fmt.Errorf("unknown instruction %q", fields[0])
	}
	operands, err := a.operands(op, fields[1:])
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	a.words = append(a.words, a.enc.EncodeOp(op))
	a.words = append(a.words, operands...)
	return nil
}

// operands returns exactly op.Len()-1 operand words.
func (a *assembler) operands(op OpCode, args []string) ([]uint64, error) {
	want := op.Len() - 1
	switch op {
	case OpPutObject:
		if len(args) != 1 {
			return nil, fmt.Errorf("want 1 literal, got %d operands", len(args))
		}
		v, err := ParseValue(args[0])
		if err != nil {
			return nil, err
		}
		return []uint64{uint64(v)}, nil

	case OpGetLocalWC0, OpSetLocalWC0:
		if len(args) != 1 {
			return nil, fmt.Errorf("want 1 local index, got %d operands", len(args))
		}
		idx, err := a.localIndex(args[0])
		if err != nil {
			return nil, err
		}
		return []uint64{idx}, nil

	case OpOptSendWithoutBlock, OpSend:
		if len(args) != 2 {
			return nil, fmt.Errorf("want callee and argc, got %d operands", len(args))
		}
		callee, ok := a.callees[args[0]]
		if !ok {
			return nil, fmt.Errorf("undefined method %q", args[0])
		}
		argc, err := strconv.Atoi(args[1])
		if err != nil || argc < 0 {
			return nil, fmt.Errorf("bad argc %q", args[1])
		}
		a.calls = append(a.calls, CallData{Callee: callee, Argc: argc})
		words := make([]uint64, want)
		words[0] = uint64(len(a.calls) - 1)
		return words, nil

	case OpOptPlus, OpOptMinus, OpOptMult, OpOptDiv,
		OpOptEq, OpOptLt, OpOptLe, OpOptGt, OpOptGe:
		if len(args) == 0 {
			return []uint64{0}, nil
		}
	}

	if len(args) != want {
		return nil, fmt.Errorf("want %d operands, got %d", want, len(args))
	}
	words := make([]uint64, want)
	for i, s := range args {
		n, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("bad operand %q", s)
		}
		words[i] = n
	}
	return words, nil
}

// localIndex accepts "$i" (argument i) or a raw env index.
func (a *assembler) localIndex(s string) (uint64, error) {
	if arg, ok := strings.CutPrefix(s, "$"); ok {
		i, err := strconv.Atoi(arg)
		if err != nil || i < 0 || i >= a.m.Argc {
			return 0, fmt.Errorf("%s is not an argument of %s", s, a.m)
		}
		return uint64(LocalIndex(a.m.Argc, i)), nil
	}
	idx, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("bad local index %q", s)
	}
	return idx, nil
}

// Disassemble renders m's body in assembler syntax, one instruction per line
// prefixed with its word position.
func (m *Method) Disassemble(dec Decoder) string {
	var sb strings.Builder
	for insn, pos := range Walk(m, dec) {
		fmt.Fprintf(&sb, "%04d %s", pos, insn.Op)
		for _, s := range m.operandText(insn, pos) {
			sb.WriteByte(' ')
			sb.WriteString(s)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func (m *Method) operandText(insn Instruction, pos int) []string {
	var out []string
	for i := 1; i < insn.Len; i++ {
		w, ok := m.Operand(pos + i)
		if !ok {
			out = append(out, "<truncated>")
			break
		}
		switch {
		case insn.Op == OpPutObject:
			out = append(out, Value(w).String())
		case (insn.Op == OpOptSendWithoutBlock || insn.Op == OpSend) && i == 1:
			cd, err := m.ResolveCall(w)
			if err != nil {
				out = append(out, fmt.Sprintf("<cd %d>", w), "?")
				continue
			}
			out = append(out, cd.Callee.Name, strconv.Itoa(cd.Argc))
		case insn.Op == OpSend && i == 2:
			// block iseq, always 0 here
		default:
			out = append(out, strconv.FormatUint(w, 10))
		}
	}
	return out
}
