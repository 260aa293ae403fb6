// Package vm is a small host for the JIT: it interprets methods, counts
// their calls and switches them to native code once they are hot.
package vm

import (
	"errors"
	"fmt"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/tangzhangming/novajit/internal/bytecode"
	"github.com/tangzhangming/novajit/internal/jit"
)

// ErrClosed is returned by Invoke once the machine has been closed.
var ErrClosed = errors.New("vm: machine is closed")

// Machine runs methods, interpreting them until they reach the call
// threshold and calling their native entry afterwards. The compiler is
// created on the first hot method. A Machine is not safe for concurrent use.
type Machine struct {
	cfg     Config
	jitCfg  jit.Config
	jitOpts []jit.Option

	dec      bytecode.Decoder
	compiler *jit.Compiler
	stack    *Stack
	invoker  Invoker
	hot      *HotspotDetector
	interp   *Interpreter
	baseLog  *zap.Logger
	log      *zap.Logger

	nativeCalls atomic.Int64
	interpCalls atomic.Int64
	closed      bool
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithLogger sets the logger. It is also handed to the compiler.
func WithLogger(l *zap.Logger) MachineOption {
	return func(mc *Machine) {
		if l != nil {
			mc.log = l
		}
	}
}

// WithInvoker sets how native code is run. The default calls machine code
// directly, which needs linux/amd64.
func WithInvoker(inv Invoker) MachineOption {
	return func(mc *Machine) { mc.invoker = inv }
}

// WithDecoder sets the bytecode decoder for both tiers.
func WithDecoder(dec bytecode.Decoder) MachineOption {
	return func(mc *Machine) { mc.dec = dec }
}

// WithCompilerOptions passes options to the compiler when it is created.
func WithCompilerOptions(opts ...jit.Option) MachineOption {
	return func(mc *Machine) { mc.jitOpts = append(mc.jitOpts, opts...) }
}

// NewMachine creates a host.
func NewMachine(cfg Config, jitCfg jit.Config, opts ...MachineOption) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mc := &Machine{
		cfg:    cfg,
		jitCfg: jitCfg,
		dec:    bytecode.DirectCoding{},
		hot:    NewHotspotDetector(cfg.CallThreshold),
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(mc)
	}
	stack, err := NewStack(jitCfg.Layout, cfg.StackWords)
	if err != nil {
		return nil, err
	}
	mc.stack = stack
	if mc.invoker == nil && cfg.CallThreshold > 0 {
		inv, err := NewNativeInvoker()
		if err != nil {
			return nil, err
		}
		mc.invoker = inv
	}
	mc.interp = NewInterpreter(mc.dec, mc.Invoke)
	mc.hot.OnHot(func(p *MethodProfile) {
		mc.log.Info("method is hot", zap.Stringer("method", p.Method), zap.Int64("calls", p.CallCount.Load()))
	})
	mc.baseLog = mc.log
	mc.log = mc.log.Named("vm")
	return mc, nil
}

// Invoke calls m on self with args through the tiering policy.
func (mc *Machine) Invoke(m *bytecode.Method, self bytecode.Value, args []bytecode.Value) (bytecode.Value, error) {
	if mc.closed {
		return bytecode.Qnil, ErrClosed
	}
	if entry, ok := m.NativeEntry(); ok && mc.invoker != nil {
		return mc.callNative(m, entry, self, args)
	}
	if mc.hot.RecordCall(m) {
		c, err := mc.Compiler()
		if err != nil {
			return bytecode.Qnil, err
		}
		c.CompileOrExit(m)
		if entry, ok := m.NativeEntry(); ok {
			mc.markCompiled(c)
			return mc.callNative(m, entry, self, args)
		}
	}
	mc.interpCalls.Inc()
	return mc.interp.Run(m, self, args)
}

// markCompiled moves every method the compiler installed, callees
// included, to the compiled state.
func (mc *Machine) markCompiled(c *jit.Compiler) {
	for _, e := range c.CodeMap().Entries() {
		mc.hot.MarkCompiled(e.Method)
	}
}

func (mc *Machine) callNative(m *bytecode.Method, entry uintptr, self bytecode.Value, args []bytecode.Value) (bytecode.Value, error) {
	if len(args) != m.Argc {
		return bytecode.Qnil, fmt.Errorf("%s: wrong number of arguments (given %d, expected %d)", m.Name, len(args), m.Argc)
	}
	var reach jit.Reach
	ok := false
	if mc.compiler != nil {
		reach, ok = mc.compiler.Reach(m)
	}
	if !ok {
		return bytecode.Qnil, fmt.Errorf("%s: native entry %#x is not in this machine's code buffer", m.Name, entry)
	}
	cfp, err := mc.stack.Enter(self, args, reach)
	if err != nil {
		return bytecode.Qnil, fmt.Errorf("%s: %w", m.Name, err)
	}
	ret, err := mc.invoker.Invoke(entry, mc.stack, cfp)
	if err != nil {
		return bytecode.Qnil, fmt.Errorf("%s: native call failed: %w", m.Name, err)
	}
	if err := mc.stack.Leave(); err != nil {
		return bytecode.Qnil, fmt.Errorf("%s: %w", m.Name, err)
	}
	mc.nativeCalls.Inc()
	return bytecode.Value(ret), nil
}

// Compiler returns the machine's compiler, creating it on first use.
func (mc *Machine) Compiler() (*jit.Compiler, error) {
	if mc.compiler != nil {
		return mc.compiler, nil
	}
	opts := append([]jit.Option{jit.WithLogger(mc.baseLog), jit.WithDecoder(mc.dec)}, mc.jitOpts...)
	c, err := jit.New(mc.jitCfg, opts...)
	if err != nil {
		return nil, err
	}
	mc.compiler = c
	mc.log.Debug("compiler created", zap.Stringer("id", c.ID))
	return c, nil
}

// Hotspots returns the detector.
func (mc *Machine) Hotspots() *HotspotDetector { return mc.hot }

// Stack returns the frame arena.
func (mc *Machine) Stack() *Stack { return mc.stack }

// MachineStats counts calls by tier.
type MachineStats struct {
	NativeCalls      int64        `json:"native_calls"`
	InterpretedCalls int64        `json:"interpreted_calls"`
	Hotspots         HotspotStats `json:"hotspots"`
}

// Stats returns the call counters.
func (mc *Machine) Stats() MachineStats {
	return MachineStats{
		NativeCalls:      mc.nativeCalls.Load(),
		InterpretedCalls: mc.interpCalls.Load(),
		Hotspots:         mc.hot.Stats(),
	}
}

// Close releases the compiler's code buffer, if one was created. The native
// entries of compiled methods point into that buffer, so the machine refuses
// further calls with ErrClosed.
func (mc *Machine) Close() error {
	mc.closed = true
	if mc.compiler == nil {
		return nil
	}
	err := mc.compiler.Release()
	mc.compiler = nil
	return err
}

// CurrentCompiler returns the compiler if one was created.
func (mc *Machine) CurrentCompiler() (*jit.Compiler, bool) {
	return mc.compiler, mc.compiler != nil
}
