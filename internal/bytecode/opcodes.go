// opcodes.go - instruction set of the host VM
//
// The opcode numbering and the instruction names follow the CRuby YARV
// instruction set for the subset this VM understands. Only a closed part of
// it can be compiled to native code; the rest still decodes (so the walker
// can step over it) and is rejected by the compiler.

package bytecode

// OpCode is a decoded instruction opcode.
type OpCode uint16

const (
	OpNop OpCode = iota
	OpGetLocal
	OpSetLocal
	OpGetLocalWC0
	OpSetLocalWC0
	OpPutNil
	OpPutSelf
	OpPutObject
	OpPutString
	OpPutObjectInt2Fix0
	OpPutObjectInt2Fix1
	OpPop
	OpDup
	OpSwap
	OpLeave
	OpJump
	OpBranchIf
	OpBranchUnless
	OpSend
	OpOptSendWithoutBlock
	OpOptPlus
	OpOptMinus
	OpOptMult
	OpOptDiv
	OpOptEq
	OpOptLt
	OpOptLe
	OpOptGt
	OpOptGe

	// OpUnknown is produced by decoders for words that name no opcode.
	OpUnknown

	numOpcodes = int(OpUnknown)
)

// opInfo holds the static properties of an opcode.
type opInfo struct {
	name string
	len  int // words, including operands
}

var opTable = [...]opInfo{
	OpNop:                 {"nop", 1},
	OpGetLocal:            {"getlocal", 3},
	OpSetLocal:            {"setlocal", 3},
	OpGetLocalWC0:         {"getlocal_WC_0", 2},
	OpSetLocalWC0:         {"setlocal_WC_0", 2},
	OpPutNil:              {"putnil", 1},
	OpPutSelf:             {"putself", 1},
	OpPutObject:           {"putobject", 2},
	OpPutString:           {"putstring", 2},
	OpPutObjectInt2Fix0:   {"putobject_INT2FIX_0_", 1},
	OpPutObjectInt2Fix1:   {"putobject_INT2FIX_1_", 1},
	OpPop:                 {"pop", 1},
	OpDup:                 {"dup", 1},
	OpSwap:                {"swap", 1},
	OpLeave:               {"leave", 1},
	OpJump:                {"jump", 2},
	OpBranchIf:            {"branchif", 2},
	OpBranchUnless:        {"branchunless", 2},
	OpSend:                {"send", 3},
	OpOptSendWithoutBlock: {"opt_send_without_block", 2},
	OpOptPlus:             {"opt_plus", 2},
	OpOptMinus:            {"opt_minus", 2},
	OpOptMult:             {"opt_mult", 2},
	OpOptDiv:              {"opt_div", 2},
	OpOptEq:               {"opt_eq", 2},
	OpOptLt:               {"opt_lt", 2},
	OpOptLe:               {"opt_le", 2},
	OpOptGt:               {"opt_gt", 2},
	OpOptGe:               {"opt_ge", 2},
	OpUnknown:             {"<unknown>", 1},
}

var opByName = func() map[string]OpCode {
	m := make(map[string]OpCode, numOpcodes)
	for op := OpCode(0); int(op) < numOpcodes; op++ {
		m[opTable[op].name] = op
	}
	return m
}()

// String returns the instruction name.
func (op OpCode) String() string {
	if int(op) < len(opTable) {
		return opTable[op].name
	}
	return opTable[OpUnknown].name
}

// Len returns the instruction length in words, operands included.
func (op OpCode) Len() int {
	if int(op) < len(opTable) {
		return opTable[op].len
	}
	return 1
}

// Valid reports whether op names a real instruction.
func (op OpCode) Valid() bool {
	return int(op) < numOpcodes
}

// LookupOpCode resolves an instruction name.
func LookupOpCode(name string) (OpCode, bool) {
	op, ok := opByName[name]
	return op, ok
}

// AllOpCodes returns every valid opcode in numeric order.
func AllOpCodes() []OpCode {
	ops := make([]OpCode, numOpcodes)
	for i := range ops {
		ops[i] = OpCode(i)
	}
	return ops
}
