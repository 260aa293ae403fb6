package vm

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/tangzhangming/novajit/internal/bytecode"
	"github.com/tangzhangming/novajit/internal/jit"
	"github.com/tangzhangming/novajit/internal/x64/sim"
)

// ============================================================================
// Frame arena
// ============================================================================

const (
	// minECWords is the smallest execution context record.
	minECWords = 8
	// machineWords is the size of the hardware stack native code runs on.
	machineWords = 4096
)

// ErrStackOverflow is returned when a native call could run past the frame
// arena or the machine stack.
var ErrStackOverflow = errors.New("vm: stack overflow")

// Stack is the memory native code sees: an execution context record, a value
// stack growing up from just past it, and control frames growing down from
// the end. Native code also gets its own hardware stack so nested calls
// never touch the goroutine stack.
//
//	[ ec | value stack -> ...          ... <- frames | root frame ]
type Stack struct {
	layout    jit.Layout
	words     []uint64
	machine   []uint64
	ecWords   int
	valueBase int // word index of the first value stack slot
	root      int // word index of the root frame
}

// NewStack allocates an arena of n words for layout.
func NewStack(layout jit.Layout, n int) (*Stack, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	fs := layout.Slots()
	ec := max(minECWords, int(layout.ECCFPOffset/layout.ValueSize)+1)
	if n < ec+2*fs+int(layout.EnvHeaderSlots) {
		return nil, fmt.Errorf("vm: %d stack words cannot hold two frames", n)
	}
	return &Stack{
		layout:    layout,
		words:     make([]uint64, n),
		machine:   make([]uint64, machineWords),
		ecWords:   ec,
		valueBase: ec,
		root:      n - fs,
	}, nil
}

func (s *Stack) addr(i int) uint64 {
	return uint64(uintptr(unsafe.Pointer(&s.words[0]))) + 8*uint64(i)
}

func (s *Stack) field(frame int, off int32) *uint64 {
	return &s.words[frame+int(off/s.layout.ValueSize)]
}

// Base is the address of the arena.
func (s *Stack) Base() uint64 { return s.addr(0) }

// EC is the address of the execution context record.
func (s *Stack) EC() uint64 { return s.addr(0) }

// RootFrame is the address of the frame native calls return to.
func (s *Stack) RootFrame() uint64 { return s.addr(s.root) }

// CFP returns the frame pointer stored in the execution context.
func (s *Stack) CFP() uint64 {
	return s.words[s.layout.ECCFPOffset/s.layout.ValueSize]
}

// Memory exposes the arena to the simulator at its real address.
func (s *Stack) Memory() *sim.Words {
	return &sim.Words{Base: s.Base(), Data: s.words}
}

// MachineStackTop returns a 16-byte aligned address at the top of the
// native hardware stack.
func (s *Stack) MachineStackTop() uintptr {
	top := uintptr(unsafe.Pointer(&s.machine[len(s.machine)-1]))
	return top &^ 15
}

// machineRoom is the number of hardware stack bytes below the return
// address the trampoline pushes.
func (s *Stack) machineRoom() int64 {
	base := uintptr(unsafe.Pointer(&s.machine[0]))
	return int64(s.MachineStackTop()-base) - 8
}

// Enter lays out the root frame and, below it, the frame of a method called
// on self with args, the way the call linker does for compiled call sites.
// It returns the callee frame address, which is also stored in the
// execution context. reach is what the callee may touch from there; the
// call is refused with ErrStackOverflow if the arena cannot hold it.
func (s *Stack) Enter(self bytecode.Value, args []bytecode.Value, reach jit.Reach) (uint64, error) {
	l := s.layout
	callee := s.root - l.Slots()
	need := len(args) + int(l.EnvHeaderSlots)
	if s.valueBase+need > callee {
		return 0, fmt.Errorf("vm: %d arguments overflow the value stack", len(args))
	}
	lowest := callee - int((reach.FrameBytes+7)/8)
	top := s.valueBase + need + int((reach.ValueBytes+7)/8)
	if top > lowest {
		return 0, fmt.Errorf("%w: %d nested calls need %d more words than the %d word arena has",
			ErrStackOverflow, reach.Depth, top-lowest, len(s.words))
	}
	if reach.MachineBytes > s.machineRoom() {
		return 0, fmt.Errorf("%w: %d nested calls need %d machine stack bytes, %d available",
			ErrStackOverflow, reach.Depth, reach.MachineBytes, s.machineRoom())
	}

	*s.field(s.root, l.SPOffset) = s.addr(s.valueBase)
	*s.field(s.root, l.EPOffset) = 0
	*s.field(s.root, l.SelfOffset) = uint64(bytecode.Qnil)

	for i, a := range args {
		s.words[s.valueBase+i] = uint64(a)
	}
	sp := s.addr(s.valueBase + need)
	*s.field(callee, l.SPOffset) = sp
	*s.field(callee, l.EPOffset) = sp - uint64(l.ValueSize)
	*s.field(callee, l.SelfOffset) = uint64(self)

	cfp := s.addr(callee)
	s.words[l.ECCFPOffset/l.ValueSize] = cfp
	return cfp, nil
}

// Leave checks that the callee popped its frame back to the root.
func (s *Stack) Leave() error {
	if got, want := s.CFP(), s.RootFrame(); got != want {
		return fmt.Errorf("vm: native code left cfp at %#x, want %#x", got, want)
	}
	return nil
}
