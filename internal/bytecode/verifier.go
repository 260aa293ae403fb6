package bytecode

import (
	"fmt"

	"go.uber.org/multierr"
)

// VerificationError is a structural fault in a method body.
type VerificationError struct {
	Method string
	Offset int
	Op     OpCode
	Msg    string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("%s@%d (%s): %s", e.Method, e.Offset, e.Op, e.Msg)
}

// Verify checks that m's instructions are well formed: no instruction runs
// past the end of the words, every send references existing call data with
// a callee, and every local read stays inside the method's locals. It does
// not check opcode support or stack depth.
//
// All faults are returned, combined with multierr.
func Verify(m *Method, dec Decoder) error {
	var errs error
	fail := func(pos int, op OpCode, format string, args ...any) {
		errs = multierr.Append(errs, &VerificationError{
			Method: m.Name, Offset: pos, Op: op, Msg: fmt.Sprintf(format, args...),
		})
	}

	for insn, pos := range Walk(m, dec) {
		if pos+insn.Len > len(m.Encoded) {
			fail(pos, insn.Op, "needs %d words, %d left", insn.Len, len(m.Encoded)-pos)
			continue
		}
		switch insn.Op {
		case OpOptSendWithoutBlock, OpSend:
			if _, err := m.ResolveCall(m.Encoded[pos+1]); err != nil {
				fail(pos, insn.Op, "%v", err)
			}
		case OpGetLocalWC0, OpSetLocalWC0:
			idx := m.Encoded[pos+1]
			lo, hi := uint64(EnvHeaderSlots), uint64(LocalIndex(m.Argc, 0))
			if m.Argc == 0 || idx < lo || idx > hi {
				fail(pos, insn.Op, "local index %d outside [%d, %d]", idx, lo, hi)
			}
		}
	}
	return errs
}
