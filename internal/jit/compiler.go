package jit

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tangzhangming/novajit/internal/bytecode"
	"github.com/tangzhangming/novajit/internal/codebuf"
	jiterr "github.com/tangzhangming/novajit/internal/errors"
	"github.com/tangzhangming/novajit/internal/x64"
)

// ============================================================================
// Compiler
// ============================================================================

// Compiler translates bytecode methods into x86-64 code in its own buffer.
// A Compiler is not safe for concurrent use; the host drives it from one
// goroutine.
type Compiler struct {
	ID uuid.UUID

	cfg    Config
	layout Layout
	dec    bytecode.Decoder
	enc    codebuf.Encoder
	region codebuf.Region
	buf    *codebuf.Buffer
	code   *CodeMap
	stats  *Stats

	log    *zap.Logger
	disasm io.Writer
	diag   io.Writer
	exit   func(int)
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithDecoder sets the bytecode decoder. The default is bytecode.DirectCoding.
func WithDecoder(dec bytecode.Decoder) Option {
	return func(c *Compiler) { c.dec = dec }
}

// WithEncoder sets the machine code encoder. The default is x64.Encoder.
func WithEncoder(enc codebuf.Encoder) Option {
	return func(c *Compiler) { c.enc = enc }
}

// WithRegion makes the compiler write into region instead of mapping its own.
func WithRegion(r codebuf.Region) Option {
	return func(c *Compiler) { c.region = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Compiler) {
		if l != nil {
			c.log = l
		}
	}
}

// WithDisasmOutput sets where DumpDisasm traces go. The default is stderr.
func WithDisasmOutput(w io.Writer) Option {
	return func(c *Compiler) { c.disasm = w }
}

// WithDiagnostics sets where CompileOrExit prints the failure report.
func WithDiagnostics(w io.Writer) Option {
	return func(c *Compiler) { c.diag = w }
}

// WithExitFunc replaces os.Exit in CompileOrExit.
func WithExitFunc(exit func(int)) Option {
	return func(c *Compiler) { c.exit = exit }
}

// New creates a compiler and allocates its code buffer.
func New(cfg Config, opts ...Option) (*Compiler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Compiler{
		ID:     uuid.New(),
		cfg:    cfg,
		layout: cfg.Layout,
		dec:    bytecode.DirectCoding{},
		enc:    x64.Encoder{},
		code:   NewCodeMap(),
		stats:  &Stats{},
		log:    zap.NewNop(),
		disasm: os.Stderr,
		diag:   os.Stderr,
		exit:   os.Exit,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named("jit").With(zap.String("compiler", c.ID.String()))

	if c.region == nil {
		r, err := codebuf.Map(int(cfg.BufferSize))
		if err != nil {
			return nil, jiterr.Wrap(jiterr.J0302, err, "cannot allocate %s code buffer", cfg.BufferSize)
		}
		c.region = r
	}
	bufOpts := []codebuf.Option{
		codebuf.WithLogger(c.log),
		codebuf.WithSymbols(c.code.Lookup),
	}
	if cfg.DumpDisasm {
		bufOpts = append(bufOpts, codebuf.WithTrace(c.disasm))
	}
	buf, err := codebuf.New(c.region, countingEncoder{c.enc, c.stats}, bufOpts...)
	if err != nil {
		return nil, err
	}
	c.buf = buf
	c.log.Debug("compiler ready", zap.Stringer("buffer", cfg.BufferSize))
	return c, nil
}

// Compile translates m and installs its native entry, compiling callees
// first as call sites are discovered. A method that is already compiled is
// left alone. On failure m keeps no entry; the error is a *errors.JITError
// naming the failing method, instruction and call chain.
func (c *Compiler) Compile(m *bytecode.Method) error {
	if m.Compiled() {
		return nil
	}
	start := time.Now()
	err := c.compile(m)
	c.stats.CompileTime.Add(time.Since(start))
	if err != nil {
		c.stats.Failures.Inc()
		c.log.Debug("compilation failed", zapMethod(m), zap.Error(err))
		return err
	}
	return nil
}

// CompileOrExit compiles m and treats any failure as fatal: the diagnostic
// is logged and printed, then the exit function runs with status 1.
func (c *Compiler) CompileOrExit(m *bytecode.Method) {
	err := c.Compile(m)
	if err == nil {
		return
	}
	c.log.Error("compilation failed",
		zapMethod(m),
		zap.String("code", jiterr.CodeOf(err)),
		zap.Error(err))
	fmt.Fprint(c.diag, jiterr.Format(err))
	c.exit(1)
}

func (c *Compiler) compile(m *bytecode.Method) error {
	if err := m.BeginCompile(); err != nil {
		return jiterr.Wrap(jiterr.J0401, err, "cannot start compilation").InMethod(m.Name)
	}
	installed := false
	defer func() {
		if !installed {
			m.AbortCompile()
		}
	}()

	if _, err := bytecode.CheckStack(m, c.dec, MaxDepth); err != nil {
		return inMethod(err, m.Name)
	}
	g := newCodegen(c, m)
	if err := g.run(c.dec); err != nil {
		return err
	}

	addr, n, err := c.buf.Write(g.asm.Insts())
	if err != nil {
		return inMethod(err, m.Name)
	}
	if err := m.SetNativeEntry(addr); err != nil {
		return jiterr.Wrap(jiterr.J0402, err, "cannot install entry").InMethod(m.Name)
	}
	installed = true

	c.code.Insert(CodeEntry{Addr: addr, Size: n, Method: m, Fingerprint: m.Fingerprint(), Reach: g.reach})
	c.stats.Methods.Inc()
	c.stats.Bytes.Add(int64(n))
	c.log.Info("method compiled",
		zapMethod(m),
		zap.String("entry", fmt.Sprintf("%#x", addr)),
		zap.Int("bytes", n),
		zap.Int("insts", g.asm.Len()),
		zap.Int("call_depth", g.reach.Depth))
	return nil
}

// run walks the method and emits every instruction. Stack model faults
// surface as panics and are turned into errors here.
func (g *codegen) run(dec bytecode.Decoder) (err error) {
	var cur bytecode.Instruction
	pos := jiterr.NoPosition
	defer func() {
		if r := recover(); r != nil {
			je, ok := r.(*jiterr.JITError)
			if !ok {
				panic(r)
			}
			err = je.At(g.m.Name, pos, cur.Op.String())
		}
	}()
	for insn, p := range bytecode.Walk(g.m, dec) {
		cur, pos = insn, p
		if err := g.emit(insn, p); err != nil {
			return err
		}
	}
	return nil
}

func inMethod(err error, method string) error {
	je, ok := jiterr.AsJITError(err)
	if !ok {
		return jiterr.Wrap(jiterr.J0300, err, "compilation failed").InMethod(method)
	}
	if je.Method == "" {
		je.InMethod(method)
	}
	return je
}

func zapMethod(m *bytecode.Method) zap.Field {
	return zap.Stringer("method", m)
}

// Reach returns the host memory a native call to m may touch. ok is false
// unless m was compiled by c.
func (c *Compiler) Reach(m *bytecode.Method) (Reach, bool) {
	entry, ok := m.NativeEntry()
	if !ok {
		return Reach{}, false
	}
	e, ok := c.code.Find(entry)
	if !ok || e.Method != m || e.Addr != entry {
		return Reach{}, false
	}
	return e.Reach, true
}

// Layout returns the frame layout code is generated for.
func (c *Compiler) Layout() Layout { return c.layout }

// Decoder returns the bytecode decoder.
func (c *Compiler) Decoder() bytecode.Decoder { return c.dec }

// Buffer returns the code buffer.
func (c *Compiler) Buffer() *codebuf.Buffer { return c.buf }

// CodeMap returns the compiled methods by address.
func (c *Compiler) CodeMap() *CodeMap { return c.code }

// Stats returns a snapshot of the counters.
func (c *Compiler) Stats() StatsSnapshot {
	s := c.stats.Snapshot()
	s.BufferUsed = c.buf.Used()
	s.BufferSize = c.buf.Cap()
	return s
}

// Release frees the code buffer. Compiled methods must not run afterwards.
func (c *Compiler) Release() error {
	return c.buf.Release()
}

// countingEncoder counts Assemble calls into Stats.
type countingEncoder struct {
	enc   codebuf.Encoder
	stats *Stats
}

func (e countingEncoder) Assemble(insts []x64.Inst, addr uintptr, dst []byte) (int, error) {
	e.stats.EncoderCalls.Inc()
	return e.enc.Assemble(insts, addr, dst)
}
