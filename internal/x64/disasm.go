package x64

import (
	"iter"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// SymLookup names an address: it returns the symbol containing addr and the
// symbol's start, or "" when nothing matches.
type SymLookup func(addr uint64) (name string, base uint64)

// Line is one disassembled instruction.
type Line struct {
	Addr     uintptr
	Bytes    []byte
	Mnemonic string
	Operands string
}

// Disassemble decodes code loaded at pc in 64-bit mode. Undecodable bytes
// come out one at a time as "(bad)".
func Disassemble(code []byte, pc uintptr, syms SymLookup) iter.Seq[Line] {
	var lookup x86asm.SymLookup
	if syms != nil {
		lookup = x86asm.SymLookup(syms)
	}
	return func(yield func(Line) bool) {
		off := 0
		for off < len(code) {
			addr := pc + uintptr(off)
			inst, err := x86asm.Decode(code[off:], 64)
			if err != nil || inst.Len == 0 {
				if !yield(Line{Addr: addr, Bytes: code[off : off+1], Mnemonic: "(bad)"}) {
					return
				}
				off++
				continue
			}
			text := x86asm.IntelSyntax(inst, uint64(addr), lookup)
			mnemonic, operands, _ := strings.Cut(text, " ")
			if !yield(Line{Addr: addr, Bytes: code[off : off+inst.Len], Mnemonic: mnemonic, Operands: operands}) {
				return
			}
			off += inst.Len
		}
	}
}
