package jit

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/google/btree"

	"github.com/tangzhangming/novajit/internal/bytecode"
)

// CodeEntry is one compiled method in the code buffer.
type CodeEntry struct {
	Addr        uintptr
	Size        int
	Method      *bytecode.Method
	Fingerprint [32]byte
	Reach       Reach
}

// Contains reports whether addr falls inside the entry's code.
func (e CodeEntry) Contains(addr uintptr) bool {
	return addr >= e.Addr && addr < e.Addr+uintptr(e.Size)
}

// CodeMap indexes compiled methods by start address.
type CodeMap struct {
	tree *btree.BTreeG[CodeEntry]
}

// NewCodeMap creates an empty map.
func NewCodeMap() *CodeMap {
	return &CodeMap{tree: btree.NewG(8, func(a, b CodeEntry) bool {
		return a.Addr < b.Addr
	})}
}

// Insert adds or replaces the entry starting at e.Addr.
func (cm *CodeMap) Insert(e CodeEntry) {
	cm.tree.ReplaceOrInsert(e)
}

// Find returns the entry whose code contains addr.
func (cm *CodeMap) Find(addr uintptr) (CodeEntry, bool) {
	var found CodeEntry
	ok := false
	cm.tree.DescendLessOrEqual(CodeEntry{Addr: addr}, func(e CodeEntry) bool {
		found, ok = e, e.Contains(addr)
		return false
	})
	return found, ok
}

// Lookup names addr for the disassembler.
func (cm *CodeMap) Lookup(addr uint64) (string, uint64) {
	e, ok := cm.Find(uintptr(addr))
	if !ok {
		return "", 0
	}
	return e.Method.Name, uint64(e.Addr)
}

// Len returns the number of entries.
func (cm *CodeMap) Len() int {
	return cm.tree.Len()
}

// Entries returns all entries in address order.
func (cm *CodeMap) Entries() []CodeEntry {
	out := make([]CodeEntry, 0, cm.tree.Len())
	cm.tree.Ascend(func(e CodeEntry) bool {
		out = append(out, e)
		return true
	})
	return out
}

// WriteTo prints one line per entry: address, size, method and the first
// bytes of its fingerprint.
func (cm *CodeMap) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, e := range cm.Entries() {
		n, err := fmt.Fprintf(w, "%#014x %6d  %-24s %s\n",
			e.Addr, e.Size, e.Method, hex.EncodeToString(e.Fingerprint[:6]))
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
