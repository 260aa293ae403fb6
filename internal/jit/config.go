package jit

import (
	"fmt"

	units "github.com/docker/go-units"

	"github.com/tangzhangming/novajit/internal/codebuf"
)

// ============================================================================
// Configuration
// ============================================================================

// Config controls a Compiler. It is the [jit] table of a config file.
type Config struct {
	// BufferSize is the size of the executable region, e.g. "1MiB".
	BufferSize ByteSize `toml:"buffer_size"`
	// DumpDisasm prints a disassembly of every method as it is written.
	DumpDisasm bool `toml:"dump_disasm"`
	// Layout describes the host's frame records.
	Layout Layout `toml:"layout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		BufferSize: codebuf.DefaultSize,
		Layout:     DefaultLayout(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.BufferSize <= 0 {
		return fmt.Errorf("jit: buffer_size must be positive, got %d", c.BufferSize)
	}
	return c.Layout.Validate()
}

// ByteSize is a size in bytes written in TOML as a string like "1MiB" or
// "512k" (binary units).
type ByteSize int64

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ByteSize) UnmarshalText(text []byte) error {
	n, err := units.RAMInBytes(string(text))
	if err != nil {
		return fmt.Errorf("bad size %q: %w", text, err)
	}
	*s = ByteSize(n)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (s ByteSize) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s ByteSize) String() string {
	return units.BytesSize(float64(s))
}
