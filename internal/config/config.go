// Package config handles minivm.toml configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the configuration file looked up by FindAndLoad.
const FileName = "minivm.toml"

// Config represents a minivm.toml file.
type Config struct {
	Log         Log         `toml:"log"`
	VM          VM          `toml:"vm"`
	Fingerprint Fingerprint `toml:"fingerprint"`
	Trace       Trace       `toml:"trace"`
	Coredump    Coredump    `toml:"coredump"`

	// Path is the file the configuration was read from (set at load time).
	Path string `toml:"-"`
}

// Log configures the module-gated logger.
type Log struct {
	Level   string `toml:"level"`
	Modules string `toml:"modules"`
}

// VM configures execution limits.
type VM struct {
	MaxSteps      int64         `toml:"max_steps"`
	StrictOpcodes bool          `toml:"strict_opcodes"`
	Timeout       time.Duration `toml:"timeout"`
}

// Fingerprint selects how images are digested. An empty Command digests
// in-process. Timeout bounds each run of Command; zero means none.
type Fingerprint struct {
	Command []string      `toml:"command"`
	Timeout time.Duration `toml:"timeout"`
}

// Trace configures per-step trace export.
type Trace struct {
	Output string `toml:"output"`
	Limit  int    `toml:"limit"`
}

// Coredump configures the snapshot written when a run faults.
type Coredump struct {
	Path string `toml:"path"`
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	return &Config{
		Log: Log{Level: "warn"},
	}
}

// Load parses the file at path on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	if _, err := toml.Decode(string(data), c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if c.VM.MaxSteps < 0 {
		return nil, fmt.Errorf("%s: vm.max_steps must not be negative", path)
	}
	if c.VM.Timeout < 0 {
		return nil, fmt.Errorf("%s: vm.timeout must not be negative", path)
	}
	if c.Fingerprint.Timeout < 0 {
		return nil, fmt.Errorf("%s: fingerprint.timeout must not be negative", path)
	}

	c.Path = path
	return c, nil
}

// FindAndLoad walks up from startDir to find a minivm.toml file, then
// loads it. Without a file the defaults are returned.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return Default(), nil
		}
		dir = parent
	}
}
