package x64

import (
	"fmt"
	"strings"
)

// ============================================================================
// Symbolic instructions
// ============================================================================

// Op is an instruction mnemonic.
type Op int

const (
	MOV Op = iota
	ADD
	SUB
	CMP
	CMOVL
	PUSH
	POP
	CALL
	RET
)

var opNames = [...]string{
	MOV:   "mov",
	ADD:   "add",
	SUB:   "sub",
	CMP:   "cmp",
	CMOVL: "cmovl",
	PUSH:  "push",
	POP:   "pop",
	CALL:  "call",
	RET:   "ret",
}

func (op Op) String() string {
	if op >= 0 && int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("Op(%d)", int(op))
}

// OperandKind tells which fields of an Operand are meaningful.
type OperandKind int

const (
	KindNone OperandKind = iota
	KindReg
	KindMem
	KindImm
)

// Operand is a register, a [base+disp] memory reference or an immediate.
// All memory operands are 64 bits wide.
type Operand struct {
	Kind OperandKind
	Reg  Reg   // KindReg, and the base of KindMem
	Disp int32 // KindMem
	Imm  int64 // KindImm
}

// R is a register operand.
func R(r Reg) Operand {
	return Operand{Kind: KindReg, Reg: r}
}

// M is a 64-bit memory operand at [base+disp].
func M(base Reg, disp int32) Operand {
	return Operand{Kind: KindMem, Reg: base, Disp: disp}
}

// Imm is an immediate operand.
func Imm(v int64) Operand {
	return Operand{Kind: KindImm, Imm: v}
}

// Addr is an immediate holding an absolute address.
func Addr(a uintptr) Operand {
	return Operand{Kind: KindImm, Imm: int64(a)}
}

func (o Operand) String() string {
	switch o.Kind {
	case KindReg:
		return o.Reg.String()
	case KindMem:
		switch {
		case o.Disp > 0:
			return fmt.Sprintf("qword ptr [%s+%#x]", o.Reg, o.Disp)
		case o.Disp < 0:
			return fmt.Sprintf("qword ptr [%s-%#x]", o.Reg, -int64(o.Disp))
		default:
			return fmt.Sprintf("qword ptr [%s]", o.Reg)
		}
	case KindImm:
		if o.Imm < 0 {
			return fmt.Sprintf("-%#x", -o.Imm)
		}
		return fmt.Sprintf("%#x", o.Imm)
	default:
		return ""
	}
}

// Inst is one symbolic instruction. One-operand instructions use Dst only.
type Inst struct {
	Op  Op
	Dst Operand
	Src Operand
}

// String renders the instruction in Intel syntax.
func (i Inst) String() string {
	var ops []string
	if i.Dst.Kind != KindNone {
		ops = append(ops, i.Dst.String())
	}
	if i.Src.Kind != KindNone {
		ops = append(ops, i.Src.String())
	}
	if len(ops) == 0 {
		return i.Op.String()
	}
	return i.Op.String() + " " + strings.Join(ops, ", ")
}

// ============================================================================
// Assembler
// ============================================================================

// Assembler collects symbolic instructions. Nothing is encoded until the list
// is handed to an Encoder, which is when the load address becomes known.
type Assembler struct {
	insts []Inst
}

// NewAssembler creates an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{insts: make([]Inst, 0, 64)}
}

func (a *Assembler) emit(op Op, dst, src Operand) {
	a.insts = append(a.insts, Inst{Op: op, Dst: dst, Src: src})
}

// Mov emits mov dst, src.
func (a *Assembler) Mov(dst, src Operand) { a.emit(MOV, dst, src) }

// Add emits add dst, src.
func (a *Assembler) Add(dst, src Operand) { a.emit(ADD, dst, src) }

// Sub emits sub dst, src.
func (a *Assembler) Sub(dst, src Operand) { a.emit(SUB, dst, src) }

// Cmp emits cmp left, right.
func (a *Assembler) Cmp(left, right Operand) { a.emit(CMP, left, right) }

// Cmovl emits cmovl dst, src: dst = src if the last cmp found left < right
// (signed).
func (a *Assembler) Cmovl(dst, src Operand) { a.emit(CMOVL, dst, src) }

// Push emits push reg.
func (a *Assembler) Push(r Reg) { a.emit(PUSH, R(r), Operand{}) }

// Pop emits pop reg.
func (a *Assembler) Pop(r Reg) { a.emit(POP, R(r), Operand{}) }

// Call emits a call to an absolute address.
func (a *Assembler) Call(target uintptr) { a.emit(CALL, Addr(target), Operand{}) }

// Ret emits ret.
func (a *Assembler) Ret() { a.emit(RET, Operand{}, Operand{}) }

// Insts returns the collected instructions.
func (a *Assembler) Insts() []Inst {
	return a.insts
}

// Len returns the number of collected instructions.
func (a *Assembler) Len() int {
	return len(a.insts)
}

// Reset clears the instruction list.
func (a *Assembler) Reset() {
	a.insts = a.insts[:0]
}
