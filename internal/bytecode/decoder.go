package bytecode

import "fmt"

// Instruction is one decoded instruction: its opcode and how many encoded
// words it occupies, operands included.
type Instruction struct {
	Op  OpCode
	Len int
}

func (i Instruction) String() string {
	return fmt.Sprintf("%s/%d", i.Op, i.Len)
}

// Decoder turns one encoded instruction word into an Instruction.
//
// Decoders are total: a word that names no instruction decodes to OpUnknown
// with length 1, leaving the rejection to the consumer.
type Decoder interface {
	Decode(word uint64) Instruction
}

// OpEncoder produces the encoded word for an opcode. It is the inverse of a
// Decoder and is used by the text assembler.
type OpEncoder interface {
	EncodeOp(op OpCode) uint64
}

// Coding both decodes and encodes instruction words.
type Coding interface {
	Decoder
	OpEncoder
}

// DirectCoding stores the opcode number itself in the instruction word.
type DirectCoding struct{}

// Decode implements Decoder.
func (DirectCoding) Decode(word uint64) Instruction {
	op := OpCode(word)
	if word >= uint64(numOpcodes) {
		op = OpUnknown
	}
	return Instruction{Op: op, Len: op.Len()}
}

// EncodeOp implements OpEncoder.
func (DirectCoding) EncodeOp(op OpCode) uint64 {
	return uint64(op)
}

// TableDecoder decodes threaded code, where each instruction word is the
// address of the interpreter handler for that instruction.
type TableDecoder struct {
	byWord map[uint64]OpCode
	byOp   map[OpCode]uint64
}

// NewTableDecoder builds a decoder from the handler address of every opcode.
// Two opcodes sharing one address is a host setup error.
func NewTableDecoder(handlers map[OpCode]uint64) (*TableDecoder, error) {
	d := &TableDecoder{
		byWord: make(map[uint64]OpCode, len(handlers)),
		byOp:   make(map[OpCode]uint64, len(handlers)),
	}
	for op, addr := range handlers {
		if !op.Valid() {
			return nil, fmt.Errorf("bytecode: handler for invalid opcode %d", op)
		}
		if prev, dup := d.byWord[addr]; dup {
			return nil, fmt.Errorf("bytecode: %s and %s share handler 0x%x", prev, op, addr)
		}
		d.byWord[addr] = op
		d.byOp[op] = addr
	}
	return d, nil
}

// Decode implements Decoder.
func (d *TableDecoder) Decode(word uint64) Instruction {
	op, ok := d.byWord[word]
	if !ok {
		op = OpUnknown
	}
	return Instruction{Op: op, Len: op.Len()}
}

// EncodeOp implements OpEncoder. Opcodes without a handler encode to a word
// that decodes as OpUnknown.
func (d *TableDecoder) EncodeOp(op OpCode) uint64 {
	if addr, ok := d.byOp[op]; ok {
		return addr
	}
	return ^uint64(0)
}
