// region.go - executable memory regions
//
// A Region is one contiguous block of memory that flips between a writable
// and an executable state. It is never both at once.

package codebuf

import (
	"errors"
	"fmt"
)

// Protection is the current access mode of a region.
type Protection int

const (
	ProtNone Protection = iota
	ProtWrite
	ProtExec
)

func (p Protection) String() string {
	switch p {
	case ProtWrite:
		return "rw-"
	case ProtExec:
		return "r-x"
	}
	return "---"
}

// Region is the OS-level memory behind a Buffer.
type Region interface {
	// Base is the address of the first byte.
	Base() uintptr
	// Bytes is the region's memory. It may only be written while the region
	// is writable.
	Bytes() []byte
	MakeWritable() error
	MakeExecutable() error
	Release() error
}

// ErrReleased is returned by operations on a released region.
var ErrReleased = errors.New("codebuf: region released")

// pageAlign rounds size up to a multiple of page.
func pageAlign(size, page int) int {
	return (size + page - 1) &^ (page - 1)
}

// ============================================================================
// SoftRegion
// ============================================================================

// SoftRegion is a heap-backed region with a caller-chosen base address. It
// tracks protection changes without touching the OS, so code written into it
// can only be executed by the simulator.
type SoftRegion struct {
	base     uintptr
	mem      []byte
	prot     Protection
	released bool
	flips    int
}

// NewSoftRegion allocates size bytes that claim to live at base.
func NewSoftRegion(base uintptr, size int) *SoftRegion {
	return &SoftRegion{base: base, mem: make([]byte, size)}
}

func (r *SoftRegion) Base() uintptr { return r.base }

func (r *SoftRegion) Bytes() []byte { return r.mem }

// Protection returns the current mode.
func (r *SoftRegion) Protection() Protection { return r.prot }

// Flips returns how many protection changes were made.
func (r *SoftRegion) Flips() int { return r.flips }

func (r *SoftRegion) MakeWritable() error {
	return r.set(ProtWrite)
}

func (r *SoftRegion) MakeExecutable() error {
	return r.set(ProtExec)
}

func (r *SoftRegion) set(p Protection) error {
	if r.released {
		return ErrReleased
	}
	r.prot = p
	r.flips++
	return nil
}

func (r *SoftRegion) Release() error {
	if r.released {
		return ErrReleased
	}
	r.released = true
	r.prot = ProtNone
	r.mem = nil
	return nil
}

// ============================================================================
// MapRegion
// ============================================================================

// MapRegion is page-aligned anonymous memory from the OS (mmap on unix,
// VirtualAlloc on windows). It starts writable.
type MapRegion struct {
	mem  []byte
	prot Protection
}

// Map allocates at least size bytes of anonymous memory.
func Map(size int) (*MapRegion, error) {
	if size <= 0 {
		return nil, fmt.Errorf("codebuf: bad region size %d", size)
	}
	mem, err := mapMemory(size)
	if err != nil {
		return nil, fmt.Errorf("codebuf: map %d bytes: %w", size, err)
	}
	return &MapRegion{mem: mem, prot: ProtWrite}, nil
}

func (r *MapRegion) Base() uintptr {
	if len(r.mem) == 0 {
		return 0
	}
	return baseOf(r.mem)
}

func (r *MapRegion) Bytes() []byte { return r.mem }

// Protection returns the current mode.
func (r *MapRegion) Protection() Protection { return r.prot }

func (r *MapRegion) MakeWritable() error {
	if r.mem == nil {
		return ErrReleased
	}
	if err := protect(r.mem, ProtWrite); err != nil {
		return err
	}
	r.prot = ProtWrite
	return nil
}

func (r *MapRegion) MakeExecutable() error {
	if r.mem == nil {
		return ErrReleased
	}
	if err := protect(r.mem, ProtExec); err != nil {
		return err
	}
	r.prot = ProtExec
	return nil
}

func (r *MapRegion) Release() error {
	if r.mem == nil {
		return ErrReleased
	}
	err := unmapMemory(r.mem)
	r.mem = nil
	r.prot = ProtNone
	return err
}
