package sim

import "fmt"

// Words maps the address range [Base, Base+8*len(Data)) onto Data. Accesses
// must be 8-byte aligned.
type Words struct {
	Base uint64
	Data []uint64
}

// NewWords allocates n zeroed words at base.
func NewWords(base uint64, n int) *Words {
	return &Words{Base: base, Data: make([]uint64, n)}
}

func (w *Words) index(addr uint64) (int, error) {
	if addr < w.Base || (addr-w.Base)%8 != 0 {
		return 0, fmt.Errorf("sim: bad access at %#x", addr)
	}
	i := (addr - w.Base) / 8
	if i >= uint64(len(w.Data)) {
		return 0, fmt.Errorf("sim: access at %#x past %#x", addr, w.Base+8*uint64(len(w.Data)))
	}
	return int(i), nil
}

// Load implements Memory.
func (w *Words) Load(addr uint64) (uint64, error) {
	i, err := w.index(addr)
	if err != nil {
		return 0, err
	}
	return w.Data[i], nil
}

// Store implements Memory.
func (w *Words) Store(addr uint64, v uint64) error {
	i, err := w.index(addr)
	if err != nil {
		return err
	}
	w.Data[i] = v
	return nil
}
