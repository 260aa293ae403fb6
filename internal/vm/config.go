package vm

import "fmt"

// Config is the [vm] table of a config file.
type Config struct {
	// CallThreshold is the number of interpreted calls after which a method
	// is compiled. Zero disables compilation.
	CallThreshold int64 `toml:"call_threshold"`
	// StackWords is the size of the frame arena in 8-byte words.
	StackWords int `toml:"stack_words"`
}

// DefaultConfig returns the default host configuration.
func DefaultConfig() Config {
	return Config{CallThreshold: 10, StackWords: 4096}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.CallThreshold < 0 {
		return fmt.Errorf("vm: call_threshold must not be negative, got %d", c.CallThreshold)
	}
	if c.StackWords <= 0 {
		return fmt.Errorf("vm: stack_words must be positive, got %d", c.StackWords)
	}
	return nil
}
