// novajit - runs bytecode programs, compiling hot methods to x86-64
//
// Usage:
//   novajit [options] program.toml [args...]    # run the entry method
//   novajit -o image.cbor program.toml          # write a program image
//
// Arguments are literals: integers, nil, true or false.

package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dc0d/onexit"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tangzhangming/novajit/internal/bytecode"
	"github.com/tangzhangming/novajit/internal/codebuf"
	jiterr "github.com/tangzhangming/novajit/internal/errors"
	"github.com/tangzhangming/novajit/internal/jit"
	"github.com/tangzhangming/novajit/internal/vm"
	"github.com/tangzhangming/novajit/internal/x64/sim"
)

const (
	Version = "0.1.0"
	Name    = "novajit"
)

// simBase is where simulated code claims to live.
const simBase = 0x7f0000000000

var (
	configFlag  = flag.String("config", "", "config file (default: ./"+ConfigFileName+" if present)")
	entryFlag   = flag.String("entry", "", "method to call (default: the program's entry)")
	callsFlag   = flag.Int("n", 1, "number of calls")
	simFlag     = flag.Bool("sim", false, "run compiled code on the simulator")
	dumpFlag    = flag.Bool("dump-disasm", false, "print the disassembly of compiled methods")
	mapFlag     = flag.Bool("map", false, "print the code map after the run")
	statsFlag   = flag.Bool("stats", false, "print statistics as JSON after the run")
	outFlag     = flag.String("o", "", "write a CBOR program image and exit")
	levelFlag   = flag.String("log-level", "warn", "log level: debug, info, warn, error")
	versionFlag = flag.Bool("version", false, "print the version")
)

// options is one invocation.
type options struct {
	program    string
	args       []string
	configPath string
	entry      string
	calls      int
	sim        bool
	dumpDisasm bool
	codeMap    bool
	stats      bool
	output     string
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *versionFlag {
		fmt.Printf("%s version %s\n", Name, Version)
		os.Exit(0)
	}
	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	log, err := newLogger(*levelFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", Name, err)
		os.Exit(2)
	}
	defer log.Sync()

	opts := options{
		program:    flag.Arg(0),
		args:       flag.Args()[1:],
		configPath: *configFlag,
		entry:      *entryFlag,
		calls:      *callsFlag,
		sim:        *simFlag,
		dumpDisasm: *dumpFlag,
		codeMap:    *mapFlag,
		stats:      *statsFlag,
		output:     *outFlag,
	}
	if err := run(opts, log, os.Stdout); err != nil {
		fmt.Fprint(os.Stderr, jiterr.Format(err))
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options] program.{toml,cbor} [args...]\n\nOptions:\n", Name)
	flag.PrintDefaults()
}

// newLogger builds a console logger for terminals and a JSON logger
// otherwise. Logs go to stderr.
func newLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("bad log level %q", level)
	}
	var cfg zap.Config
	if jiterr.IsTerminal(os.Stderr) {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func run(opts options, log *zap.Logger, stdout io.Writer) error {
	cfg, cfgPath, err := findConfig(opts.configPath)
	if err != nil {
		return err
	}
	if cfgPath != "" {
		log.Debug("config loaded", zap.String("path", cfgPath))
	}
	if opts.dumpDisasm {
		cfg.JIT.DumpDisasm = true
	}

	p, err := loadProgram(opts.program)
	if err != nil {
		return err
	}
	if opts.output != "" {
		return writeImage(p, opts.output, log)
	}

	name := opts.entry
	if name == "" {
		name = p.Entry
	}
	m, ok := p.Method(name)
	if !ok {
		return fmt.Errorf("%s: no method %q", opts.program, name)
	}
	args := make([]bytecode.Value, len(opts.args))
	for i, s := range opts.args {
		if args[i], err = bytecode.ParseValue(s); err != nil {
			return fmt.Errorf("argument %d: %w", i+1, err)
		}
	}

	mopts := []vm.MachineOption{vm.WithLogger(log)}
	if opts.sim {
		rec := sim.NewRecorder(nil)
		mopts = append(mopts,
			vm.WithInvoker(vm.NewSimInvoker(rec)),
			vm.WithCompilerOptions(
				jit.WithEncoder(rec),
				jit.WithRegion(codebuf.NewSoftRegion(simBase, int(cfg.JIT.BufferSize))),
				jit.WithDisasmOutput(stdout),
			))
	} else {
		mopts = append(mopts, vm.WithCompilerOptions(jit.WithDisasmOutput(stdout)))
	}
	mc, err := vm.NewMachine(cfg.VM, cfg.JIT, mopts...)
	if err != nil {
		return err
	}
	onexit.Register(func() { _ = mc.Close() })
	defer mc.Close()

	var result bytecode.Value
	for i := 0; i < max(opts.calls, 1); i++ {
		if result, err = mc.Invoke(m, bytecode.Qnil, args); err != nil {
			return err
		}
	}
	fmt.Fprintln(stdout, result)

	c, compiled := mc.CurrentCompiler()
	if opts.codeMap && compiled {
		if _, err := c.CodeMap().WriteTo(stdout); err != nil {
			return err
		}
	}
	if opts.stats {
		report := struct {
			JIT *jit.StatsSnapshot `json:"jit,omitempty"`
			VM  vm.MachineStats    `json:"vm"`
		}{VM: mc.Stats()}
		if compiled {
			s := c.Stats()
			report.JIT = &s
			log.Info("jit statistics", zap.Stringer("stats", s))
		}
		data, err := json.Marshal(report)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, string(data))
	}
	return nil
}

// loadProgram reads a TOML program or a CBOR image, by extension.
func loadProgram(path string) (*bytecode.Program, error) {
	if strings.EqualFold(filepath.Ext(path), ".cbor") {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		p, err := bytecode.UnmarshalProgram(data, bytecode.DirectCoding{})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return p, nil
	}
	return bytecode.LoadProgram(path, bytecode.DirectCoding{})
}

func writeImage(p *bytecode.Program, path string, log *zap.Logger) error {
	data, err := bytecode.MarshalProgram(p, bytecode.DirectCoding{})
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}
	log.Info("image written", zap.String("path", path), zap.Int("methods", len(p.Methods)), zap.Int("bytes", len(data)))
	return nil
}
