package bytecode

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// ============================================================================
// Compile state
// ============================================================================

// CompileState tracks where a method is in its native compilation.
type CompileState int32

const (
	StateUncompiled CompileState = iota
	StateCompiling
	StateCompiled
)

func (s CompileState) String() string {
	switch s {
	case StateUncompiled:
		return "uncompiled"
	case StateCompiling:
		return "compiling"
	case StateCompiled:
		return "compiled"
	default:
		return fmt.Sprintf("CompileState(%d)", int32(s))
	}
}

// ============================================================================
// Method
// ============================================================================

// CallData describes one call site: the method it targets and how many
// arguments the caller passes (the receiver is not counted).
type CallData struct {
	Callee *Method
	Argc   int
}

// Method is the bytecode body of one interpreted method plus the native entry
// point installed by the JIT.
//
// The compiler only reads Encoded and CallData. The entry point is written
// once, through SetNativeEntry, after a successful compilation.
type Method struct {
	Name     string
	Argc     int        // declared parameter count
	Encoded  []uint64   // instruction words
	CallData []CallData // call sites, indexed by the send operand word

	state CompileState
	entry uintptr
}

// NewMethod creates an uncompiled method.
func NewMethod(name string, argc int, encoded []uint64) *Method {
	return &Method{Name: name, Argc: argc, Encoded: encoded}
}

// State returns the compile state.
func (m *Method) State() CompileState {
	return m.state
}

// Compiled reports whether a native entry point is installed.
func (m *Method) Compiled() bool {
	return m.state == StateCompiled
}

// NativeEntry returns the installed entry point. ok is false when the method
// has not been compiled; a zero address is never used as a marker.
func (m *Method) NativeEntry() (addr uintptr, ok bool) {
	if m.state != StateCompiled {
		return 0, false
	}
	return m.entry, true
}

// BeginCompile moves an uncompiled method into the compiling state. It fails
// when the method is already compiled or is being compiled further up the
// call chain.
func (m *Method) BeginCompile() error {
	if m.state != StateUncompiled {
		return fmt.Errorf("bytecode: method %s is %s", m.Name, m.state)
	}
	m.state = StateCompiling
	return nil
}

// AbortCompile returns a compiling method to the uncompiled state.
func (m *Method) AbortCompile() {
	if m.state == StateCompiling {
		m.state = StateUncompiled
	}
}

// SetNativeEntry installs the native entry point. It may be called exactly
// once, while the method is compiling.
func (m *Method) SetNativeEntry(addr uintptr) error {
	if m.state != StateCompiling {
		return fmt.Errorf("bytecode: cannot install entry for %s: method is %s", m.Name, m.state)
	}
	m.entry = addr
	m.state = StateCompiled
	return nil
}

// Operand returns the word at pos, or false when pos is past the end.
func (m *Method) Operand(pos int) (uint64, bool) {
	if pos < 0 || pos >= len(m.Encoded) {
		return 0, false
	}
	return m.Encoded[pos], true
}

// ResolveCall resolves the call data referenced by a send operand word.
func (m *Method) ResolveCall(word uint64) (*CallData, error) {
	if word >= uint64(len(m.CallData)) {
		return nil, fmt.Errorf("bytecode: call data %d out of range (%s has %d)", word, m.Name, len(m.CallData))
	}
	cd := &m.CallData[word]
	if cd.Callee == nil {
		return nil, fmt.Errorf("bytecode: call data %d of %s has no callee", word, m.Name)
	}
	return cd, nil
}

// Fingerprint hashes the instruction words and the call site shapes. Two
// methods with the same fingerprint compile to the same code modulo callee
// addresses.
func (m *Method) Fingerprint() [32]byte {
	buf := make([]byte, 0, 8*(len(m.Encoded)+2*len(m.CallData)))
	for _, w := range m.Encoded {
		buf = binary.LittleEndian.AppendUint64(buf, w)
	}
	for _, cd := range m.CallData {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(cd.Argc))
		if cd.Callee != nil {
			buf = append(buf, cd.Callee.Name...)
		}
	}
	return blake2b.Sum256(buf)
}

func (m *Method) String() string {
	return fmt.Sprintf("%s/%d", m.Name, m.Argc)
}
