// Package codebuf manages the executable memory JIT output is written to.
// A Buffer owns one Region and appends code to it; space is never reused.
package codebuf

import (
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	jiterr "github.com/tangzhangming/novajit/internal/errors"
	"github.com/tangzhangming/novajit/internal/x64"
)

// DefaultSize is the region size a compiler allocates unless configured.
const DefaultSize = 1 << 20

// Encoder turns a symbolic instruction list into bytes for address addr,
// writing at most len(dst) bytes.
type Encoder interface {
	Assemble(insts []x64.Inst, addr uintptr, dst []byte) (int, error)
}

// Buffer appends encoded code to a Region. It is not safe for concurrent use.
type Buffer struct {
	region Region
	enc    Encoder
	offset int

	log   *zap.Logger
	trace io.Writer
	syms  x64.SymLookup
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithLogger sets the logger. The buffer logs under the name "codebuf".
func WithLogger(l *zap.Logger) Option {
	return func(b *Buffer) {
		if l != nil {
			b.log = l.Named("codebuf")
		}
	}
}

// WithTrace makes every Write print a disassembly of the new code to w.
func WithTrace(w io.Writer) Option {
	return func(b *Buffer) { b.trace = w }
}

// WithSymbols names call targets in the trace.
func WithSymbols(syms x64.SymLookup) Option {
	return func(b *Buffer) { b.syms = syms }
}

// New creates a buffer over region. The region is switched to executable
// right away so it is never left writable between writes.
func New(region Region, enc Encoder, opts ...Option) (*Buffer, error) {
	b := &Buffer{region: region, enc: enc, log: zap.NewNop()}
	for _, opt := range opts {
		opt(b)
	}
	if err := region.MakeExecutable(); err != nil {
		return nil, jiterr.Wrap(jiterr.J0302, err, "cannot protect code region")
	}
	b.log.Debug("code buffer ready",
		zap.String("base", fmt.Sprintf("%#x", region.Base())),
		zap.Int("size", len(region.Bytes())))
	return b, nil
}

// Write encodes insts at the current end of the buffer and returns the
// address of the first byte and the number of bytes written. On failure the
// offset does not move.
func (b *Buffer) Write(insts []x64.Inst) (uintptr, int, error) {
	mem := b.region.Bytes()
	if mem == nil {
		return 0, 0, jiterr.Wrap(jiterr.J0302, ErrReleased, "write to released buffer")
	}
	target := b.region.Base() + uintptr(b.offset)

	if err := b.region.MakeWritable(); err != nil {
		return 0, 0, jiterr.Wrap(jiterr.J0302, err, "cannot make code region writable")
	}
	n, encErr := b.enc.Assemble(insts, target, mem[b.offset:])
	if err := b.region.MakeExecutable(); err != nil {
		return 0, 0, jiterr.Wrap(jiterr.J0302, err, "cannot make code region executable")
	}
	if encErr != nil {
		if errors.Is(encErr, x64.ErrNoSpace) {
			return 0, 0, jiterr.Wrap(jiterr.J0301, encErr,
				"%d instructions do not fit in %d free bytes", len(insts), b.Free())
		}
		return 0, 0, jiterr.Wrap(jiterr.J0300, encErr, "cannot encode %d instructions", len(insts))
	}

	if b.trace != nil {
		b.dump(target, mem[b.offset:b.offset+n])
	}
	b.offset += n
	b.log.Debug("code written",
		zap.String("addr", fmt.Sprintf("%#x", target)),
		zap.Int("bytes", n),
		zap.Int("used", b.offset))
	return target, n, nil
}

func (b *Buffer) dump(addr uintptr, code []byte) {
	for line := range x64.Disassemble(code, addr, b.syms) {
		if line.Operands == "" {
			fmt.Fprintf(b.trace, "  0x%x: %s\n", line.Addr, line.Mnemonic)
			continue
		}
		fmt.Fprintf(b.trace, "  0x%x: %s %s\n", line.Addr, line.Mnemonic, line.Operands)
	}
	fmt.Fprintln(b.trace)
}

// Code returns the n bytes written at addr, or nil if that range was never
// written.
func (b *Buffer) Code(addr uintptr, n int) []byte {
	base := b.region.Base()
	if addr < base || n < 0 {
		return nil
	}
	off := int(addr - base)
	if off+n > b.offset {
		return nil
	}
	return b.region.Bytes()[off : off+n]
}

// Base returns the address of the first byte.
func (b *Buffer) Base() uintptr { return b.region.Base() }

// Used returns the number of bytes written so far.
func (b *Buffer) Used() int { return b.offset }

// Cap returns the region size.
func (b *Buffer) Cap() int { return len(b.region.Bytes()) }

// Free returns the number of bytes still available.
func (b *Buffer) Free() int { return b.Cap() - b.offset }

// Release returns the region to the OS. Code in it must not run afterwards.
func (b *Buffer) Release() error {
	b.log.Debug("code buffer released", zap.Int("used", b.offset))
	return b.region.Release()
}
