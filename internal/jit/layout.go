package jit

import (
	"github.com/tangzhangming/novajit/internal/bytecode"
	jiterr "github.com/tangzhangming/novajit/internal/errors"
)

// Layout is the host ABI: the shape of a control frame and of the execution
// context record. Offsets are in bytes.
type Layout struct {
	FrameSize      int32 `toml:"frame_size"`
	SPOffset       int32 `toml:"sp_offset"`
	SelfOffset     int32 `toml:"self_offset"`
	EPOffset       int32 `toml:"ep_offset"`
	ECCFPOffset    int32 `toml:"ec_cfp_offset"`
	ValueSize      int32 `toml:"value_size"`
	EnvHeaderSlots int32 `toml:"env_header_slots"`
}

// DefaultLayout is the CRuby 3.x control frame: pc, sp, iseq, self, ep,
// block_code, jit_return.
func DefaultLayout() Layout {
	return Layout{
		FrameSize:      56,
		SPOffset:       8,
		SelfOffset:     24,
		EPOffset:       32,
		ECCFPOffset:    16,
		ValueSize:      8,
		EnvHeaderSlots: bytecode.EnvHeaderSlots,
	}
}

// Validate reports a J0200 error when the layout cannot be used with this
// compiler's code templates.
func (l Layout) Validate() error {
	bad := func(format string, args ...any) error {
		return jiterr.New(jiterr.J0200, format, args...)
	}
	if l.ValueSize != 8 {
		return bad("value_size is %d, generated code moves 8-byte values", l.ValueSize)
	}
	if l.EnvHeaderSlots != bytecode.EnvHeaderSlots {
		return bad("env_header_slots is %d, bytecode local indexes assume %d", l.EnvHeaderSlots, bytecode.EnvHeaderSlots)
	}
	if l.FrameSize <= 0 || l.FrameSize%l.ValueSize != 0 {
		return bad("frame_size %d is not a positive multiple of %d", l.FrameSize, l.ValueSize)
	}
	fields := []struct {
		name string
		off  int32
	}{
		{"sp_offset", l.SPOffset},
		{"self_offset", l.SelfOffset},
		{"ep_offset", l.EPOffset},
	}
	seen := make(map[int32]string, len(fields))
	for _, f := range fields {
		if f.off < 0 || f.off+l.ValueSize > l.FrameSize || f.off%l.ValueSize != 0 {
			return bad("%s %d is outside the %d byte frame or unaligned", f.name, f.off, l.FrameSize)
		}
		if other, dup := seen[f.off]; dup {
			return bad("%s and %s share offset %d", other, f.name, f.off)
		}
		seen[f.off] = f.name
	}
	if l.ECCFPOffset < 0 || l.ECCFPOffset%l.ValueSize != 0 {
		return bad("ec_cfp_offset %d is negative or unaligned", l.ECCFPOffset)
	}
	return nil
}

// Slots returns the frame size in words.
func (l Layout) Slots() int {
	return int(l.FrameSize / l.ValueSize)
}
