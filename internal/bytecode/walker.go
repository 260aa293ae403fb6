package bytecode

import "iter"

// Walk decodes the instruction stream of m lazily, yielding each instruction
// together with its word position. It starts at position 0 and advances by
// each instruction's length until the end of the encoded words.
func Walk(m *Method, dec Decoder) iter.Seq2[Instruction, int] {
	return func(yield func(Instruction, int) bool) {
		pos := 0
		for pos < len(m.Encoded) {
			insn := dec.Decode(m.Encoded[pos])
			if !yield(insn, pos) {
				return
			}
			if insn.Len <= 0 {
				// a zero-length decode would never advance
				insn.Len = 1
			}
			pos += insn.Len
		}
	}
}
