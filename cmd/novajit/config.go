package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"go.uber.org/multierr"

	"github.com/tangzhangming/novajit/internal/jit"
	"github.com/tangzhangming/novajit/internal/vm"
)

// ConfigFileName is picked up from the working directory when -config is
// not given.
const ConfigFileName = "novajit.toml"

// Config is a whole config file.
type Config struct {
	JIT jit.Config `toml:"jit"`
	VM  vm.Config  `toml:"vm"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{JIT: jit.DefaultConfig(), VM: vm.DefaultConfig()}
}

// LoadConfig reads path over the defaults. Unknown keys are errors.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks both tables and reports every problem.
func (c Config) Validate() error {
	return multierr.Combine(c.JIT.Validate(), c.VM.Validate())
}

// Save writes the configuration as TOML.
func (c Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// findConfig returns the config to use: the explicit path, else
// ConfigFileName if it exists, else the defaults.
func findConfig(path string) (Config, string, error) {
	if path == "" {
		if _, err := os.Stat(ConfigFileName); err != nil {
			return DefaultConfig(), "", nil
		}
		path = ConfigFileName
	}
	cfg, err := LoadConfig(path)
	return cfg, path, err
}
