package sim

import (
	"github.com/tangzhangming/novajit/internal/x64"
)

// Encoder is the encoder interface the code buffer drives.
type Encoder interface {
	Assemble(insts []x64.Inst, addr uintptr, dst []byte) (int, error)
}

// Recorder wraps an Encoder and remembers every instruction list it encoded
// successfully, keyed by load address. It is the Loader for code produced
// through it.
type Recorder struct {
	enc      Encoder
	programs map[uintptr][]x64.Inst
	calls    int
}

// NewRecorder wraps enc. A nil enc means x64.Encoder.
func NewRecorder(enc Encoder) *Recorder {
	if enc == nil {
		enc = x64.Encoder{}
	}
	return &Recorder{enc: enc, programs: make(map[uintptr][]x64.Inst)}
}

// Assemble implements Encoder.
func (r *Recorder) Assemble(insts []x64.Inst, addr uintptr, dst []byte) (int, error) {
	r.calls++
	n, err := r.enc.Assemble(insts, addr, dst)
	if err != nil {
		return n, err
	}
	r.programs[addr] = append([]x64.Inst(nil), insts...)
	return n, nil
}

// Program implements Loader.
func (r *Recorder) Program(addr uintptr) ([]x64.Inst, bool) {
	p, ok := r.programs[addr]
	return p, ok
}

// Calls returns how many times Assemble was invoked, failures included.
func (r *Recorder) Calls() int {
	return r.calls
}

// Programs returns the number of recorded programs.
func (r *Recorder) Programs() int {
	return len(r.programs)
}
