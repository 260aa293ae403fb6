// encoder.go - x86-64 机器码编码器
//
// 把符号指令编码为机器码，写入调用方提供的缓冲区。

package x64

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrNoSpace 目标缓冲区放不下编码结果
var ErrNoSpace = errors.New("x64: destination too small")

// EncodeError 无法编码的指令
type EncodeError struct {
	Index int
	Inst  Inst
	Msg   string
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("x64: instruction %d (%s): %s", e.Index, e.Inst, e.Msg)
}

// Encoder x86-64 指令编码器
type Encoder struct{}

// Assemble 按加载地址 addr 编码指令并复制到 dst
// 只有全部指令编码成功且放得下时才写入 dst。
func (Encoder) Assemble(insts []Inst, addr uintptr, dst []byte) (int, error) {
	code, err := Encode(insts, addr)
	if err != nil {
		return 0, err
	}
	if len(code) > len(dst) {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrNoSpace, len(code), len(dst))
	}
	return copy(dst, code), nil
}

// Encode 按加载地址 addr 编码指令（只有 call 目标依赖 addr）
func Encode(insts []Inst, addr uintptr) ([]byte, error) {
	e := encoder{base: addr, code: make([]byte, 0, 8*len(insts))}
	for i, in := range insts {
		if msg := e.inst(in); msg != "" {
			return nil, &EncodeError{Index: i, Inst: in, Msg: msg}
		}
	}
	return e.code, nil
}

// ============================================================================
// 底层编码
// ============================================================================

type encoder struct {
	base uintptr
	code []byte
}

func (e *encoder) emit(b ...byte) {
	e.code = append(e.code, b...)
}

func (e *encoder) emitU32(v uint32) {
	e.code = binary.LittleEndian.AppendUint32(e.code, v)
}

func (e *encoder) emitU64(v uint64) {
	e.code = binary.LittleEndian.AppendUint64(e.code, v)
}

// rex 生成 REX 前缀
func rex(w, r, x, b bool) byte {
	var v byte = 0x40
	if w {
		v |= 0x08
	}
	if r {
		v |= 0x04
	}
	if x {
		v |= 0x02
	}
	if b {
		v |= 0x01
	}
	return v
}

func modrm(mod, reg, rm byte) byte {
	return (mod << 6) | ((reg & 0x7) << 3) | (rm & 0x7)
}

// rm 生成 REX.W、操作码以及操作数 o 的 ModR/M 编码，reg 放在 ModR/M.reg 字段
func (e *encoder) rm(opcode []byte, reg Reg, o Operand) {
	e.rmExt(opcode, reg.LowBits(), reg.IsExtended(), o)
}

// rmExt 与 rm 相同，但 reg 字段是操作码扩展 (/digit)
func (e *encoder) rmExt(opcode []byte, reg byte, regExt bool, o Operand) {
	e.emit(rex(true, regExt, false, o.Reg.IsExtended()))
	e.emit(opcode...)
	if o.Kind == KindReg {
		e.emit(modrm(3, reg, o.Reg.LowBits()))
		return
	}
	e.mem(reg, o.Reg, o.Disp)
}

// mem 生成 [base+disp] 的 ModR/M、SIB 和偏移
// rsp/r12 需要 SIB 字节，rbp/r13 没有无偏移的形式。
func (e *encoder) mem(reg byte, base Reg, disp int32) {
	rmBits := base.LowBits()
	needSIB := rmBits == 4
	var mod byte
	switch {
	case disp == 0 && rmBits != 5:
		mod = 0
	case disp >= math.MinInt8 && disp <= math.MaxInt8:
		mod = 1
	default:
		mod = 2
	}
	e.emit(modrm(mod, reg, rmBits))
	if needSIB {
		e.emit(0x24)
	}
	switch mod {
	case 1:
		e.emit(byte(int8(disp)))
	case 2:
		e.emitU32(uint32(disp))
	}
}

// ============================================================================
// 指令选择
// ============================================================================

type aluForm struct {
	rmReg byte // op r/m64, r64
	regRm byte // op r64, r/m64
	ext   byte // /digit of the 81 and 83 immediate forms
}

var aluForms = map[Op]aluForm{
	ADD: {0x01, 0x03, 0},
	SUB: {0x29, 0x2B, 5},
	CMP: {0x39, 0x3B, 7},
}

func fitsInt8(v int64) bool  { return v >= math.MinInt8 && v <= math.MaxInt8 }
func fitsInt32(v int64) bool { return v >= math.MinInt32 && v <= math.MaxInt32 }

func validOperand(o Operand) bool {
	switch o.Kind {
	case KindReg, KindMem:
		return o.Reg.Valid()
	case KindImm:
		return true
	}
	return false
}

// inst 编码单条指令，无法编码时返回非空的错误信息
func (e *encoder) inst(in Inst) string {
	d, s := in.Dst, in.Src
	switch in.Op {
	case MOV:
		if !validOperand(d) || !validOperand(s) {
			return "bad operand"
		}
		switch {
		case d.Kind == KindReg && s.Kind == KindReg, d.Kind == KindMem && s.Kind == KindReg:
			e.rm([]byte{0x89}, s.Reg, d)
		case d.Kind == KindReg && s.Kind == KindMem:
			e.rm([]byte{0x8B}, d.Reg, s)
		case d.Kind == KindReg && s.Kind == KindImm:
			if fitsInt32(s.Imm) {
				e.rmExt([]byte{0xC7}, 0, false, d)
				e.emitU32(uint32(int32(s.Imm)))
			} else {
				e.emit(rex(true, false, false, d.Reg.IsExtended()), 0xB8+d.Reg.LowBits())
				e.emitU64(uint64(s.Imm))
			}
		case d.Kind == KindMem && s.Kind == KindImm:
			if !fitsInt32(s.Imm) {
				return "64-bit immediate cannot be stored to memory"
			}
			e.rmExt([]byte{0xC7}, 0, false, d)
			e.emitU32(uint32(int32(s.Imm)))
		default:
			return "unsupported operand combination"
		}

	case ADD, SUB, CMP:
		if !validOperand(d) || !validOperand(s) {
			return "bad operand"
		}
		f := aluForms[in.Op]
		switch {
		case (d.Kind == KindReg || d.Kind == KindMem) && s.Kind == KindReg:
			e.rm([]byte{f.rmReg}, s.Reg, d)
		case d.Kind == KindReg && s.Kind == KindMem:
			e.rm([]byte{f.regRm}, d.Reg, s)
		case (d.Kind == KindReg || d.Kind == KindMem) && s.Kind == KindImm:
			switch {
			case fitsInt8(s.Imm):
				e.rmExt([]byte{0x83}, f.ext, false, d)
				e.emit(byte(int8(s.Imm)))
			case fitsInt32(s.Imm):
				e.rmExt([]byte{0x81}, f.ext, false, d)
				e.emitU32(uint32(int32(s.Imm)))
			default:
				return "immediate does not fit 32 bits"
			}
		default:
			return "unsupported operand combination"
		}

	case CMOVL:
		if d.Kind != KindReg || !d.Reg.Valid() || (s.Kind != KindReg && s.Kind != KindMem) || !s.Reg.Valid() {
			return "cmovl needs a register destination and a register or memory source"
		}
		e.rm([]byte{0x0F, 0x4C}, d.Reg, s)

	case PUSH, POP:
		if d.Kind != KindReg || !d.Reg.Valid() {
			return "push/pop take a register"
		}
		if d.Reg.IsExtended() {
			e.emit(rex(false, false, false, true))
		}
		op := byte(0x50)
		if in.Op == POP {
			op = 0x58
		}
		e.emit(op + d.Reg.LowBits())

	case CALL:
		switch {
		case d.Kind == KindImm:
			next := int64(e.base) + int64(len(e.code)) + 5
			rel := d.Imm - next
			if fitsInt32(rel) {
				e.emit(0xE8)
				e.emitU32(uint32(int32(rel)))
				break
			}
			// 超出 rel32 范围: mov rax, imm64; call rax
			e.emit(rex(true, false, false, false), 0xB8+RAX.LowBits())
			e.emitU64(uint64(d.Imm))
			e.emit(0xFF, modrm(3, 2, RAX.LowBits()))
		case d.Kind == KindReg && d.Reg.Valid():
			if d.Reg.IsExtended() {
				e.emit(rex(false, false, false, true))
			}
			e.emit(0xFF, modrm(3, 2, d.Reg.LowBits()))
		default:
			return "call takes an address or a register"
		}

	case RET:
		e.emit(0xC3)

	default:
		return "unknown mnemonic"
	}
	return ""
}
