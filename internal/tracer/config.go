package tracer

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the bpftracer tool.
type Config struct {
	// LogLevel sets the logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// Program describes the bytecode to load.
	Program ProgramConfig `yaml:"program"`

	// Maps are created before the program is loaded and resolve its
	// relocations by name.
	Maps []MapConfig `yaml:"maps"`

	// Probes are the hooks the program is attached to.
	Probes []ProbeConfig `yaml:"probes"`

	// PollInterval is how often map contents are dumped. Defaults to 1s.
	PollInterval time.Duration `yaml:"poll_interval"`

	// DumpMap is the name of the map to dump each interval. Empty
	// disables dumping.
	DumpMap string `yaml:"dump_map"`
}

// ProgramConfig describes a compiled program on disk.
type ProgramConfig struct {
	// Bytecode is the path to a file of raw instructions, as produced by
	// an external compiler.
	Bytecode string `yaml:"bytecode"`

	// Type is one of kprobe, tracepoint or raw_tracepoint.
	Type string `yaml:"type"`

	// License of the program. Defaults to GPL.
	License string `yaml:"license"`

	// Relocations name the instruction slots that take a map fd.
	Relocations []RelocationConfig `yaml:"relocations"`
}

type RelocationConfig struct {
	Insn int    `yaml:"insn"`
	Map  string `yaml:"map"`
}

// MapConfig describes a map to create.
type MapConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	KeySize    uint32 `yaml:"key_size"`
	ValueSize  uint32 `yaml:"value_size"`
	MaxEntries uint32 `yaml:"max_entries"`
}

// ProbeConfig describes a hook to attach to.
type ProbeConfig struct {
	// Kind is one of kprobe, kretprobe, uprobe, uretprobe, tracepoint or
	// raw_tracepoint.
	Kind string `yaml:"kind"`

	// Symbol for kprobes and uprobes.
	Symbol string `yaml:"symbol"`

	// Offset into the symbol.
	Offset uint64 `yaml:"offset"`

	// Path of the binary, uprobes only.
	Path string `yaml:"path"`

	// Group and Name of the trace event, tracepoints only. Name is also
	// used for raw tracepoints.
	Group string `yaml:"group"`
	Name  string `yaml:"name"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:     "info",
		PollInterval: time.Second,
	}
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the parts of the config that can be rejected without
// talking to the kernel.
func (c *Config) Validate() error {
	if c.Program.Bytecode == "" {
		return fmt.Errorf("program.bytecode is required")
	}
	if c.Program.Type == "" {
		return fmt.Errorf("program.type is required")
	}
	if len(c.Probes) == 0 {
		return fmt.Errorf("at least one probe is required")
	}

	names := make(map[string]bool, len(c.Maps))
	for _, m := range c.Maps {
		if m.Name == "" {
			return fmt.Errorf("maps: name is required")
		}
		if names[m.Name] {
			return fmt.Errorf("maps: duplicate name %q", m.Name)
		}
		names[m.Name] = true
	}

	for _, r := range c.Program.Relocations {
		if !names[r.Map] {
			return fmt.Errorf("program.relocations: unknown map %q", r.Map)
		}
	}

	if c.DumpMap != "" && !names[c.DumpMap] {
		return fmt.Errorf("dump_map: unknown map %q", c.DumpMap)
	}

	return nil
}
