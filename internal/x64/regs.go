// Package x64 models the x86-64 instructions the JIT emits: registers,
// symbolic instructions, a byte encoder and a disassembler for traces.
//
// x86-64 instruction layout:
// [prefixes] [REX] [opcode] [ModR/M] [SIB] [displacement] [immediate]
//
// REX extends operand size and register numbers:
//   - REX.W: 64-bit operand
//   - REX.R: extends ModR/M.reg
//   - REX.X: extends SIB.index
//   - REX.B: extends ModR/M.r/m or SIB.base
package x64

// ============================================================================
// Registers
// ============================================================================

// Reg is a 64-bit general purpose register.
type Reg int

const (
	RAX Reg = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15

	RegNone Reg = -1
)

// NumRegs is the number of general purpose registers.
const NumRegs = 16

var regNames = [NumRegs]string{
	"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
}

func (r Reg) String() string {
	if r.Valid() {
		return regNames[r]
	}
	return "???"
}

// Valid reports whether r names a register.
func (r Reg) Valid() bool {
	return r >= 0 && r < NumRegs
}

// IsExtended reports whether r needs a REX bit (r8-r15).
func (r Reg) IsExtended() bool {
	return r >= R8 && r <= R15
}

// LowBits returns the low 3 bits of the register number.
func (r Reg) LowBits() byte {
	return byte(r) & 0x7
}
