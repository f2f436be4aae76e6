// Package config handles marrow.toml runtime configuration.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/chazu/marrow/gc"
	"github.com/chazu/marrow/vm"
)

// FileName is the name of the configuration file.
const FileName = "marrow.toml"

// Config represents a marrow.toml configuration.
type Config struct {
	Heap        Heap        `toml:"heap"`
	Marker      Marker      `toml:"marker"`
	Incremental Incremental `toml:"incremental"`
	Stack       Stack       `toml:"stack"`
	Log         Log         `toml:"log"`
	Stats       Stats       `toml:"stats"`

	// Dir is the directory containing the marrow.toml file (set at load time).
	Dir string `toml:"-"`
}

// Heap bounds the arena pool.
type Heap struct {
	MaxArenas int `toml:"max-arenas"`
}

// Marker sizes the mark stack, in words.
type Marker struct {
	InitialStack int `toml:"initial-stack"`
	StackLimit   int `toml:"stack-limit"`
}

// Incremental configures incremental collection.
type Incremental struct {
	Enabled    bool  `toml:"enabled"`
	SliceSteps int64 `toml:"slice-steps"`
	SliceMs    int64 `toml:"slice-ms"`
}

// Stack sizes the execution stack, in values.
type Stack struct {
	Capacity int `toml:"capacity"`
}

// Log configures the log backend.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	Path      string `toml:"path"`
}

// Stats configures the collection statistics database.
type Stats struct {
	Database string `toml:"database"`
}

// Default returns the configuration used when no marrow.toml exists.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Marker.InitialStack == 0 {
		c.Marker.InitialStack = gc.DefaultMarkStackInitial
	}
	if c.Marker.StackLimit == 0 {
		c.Marker.StackLimit = gc.DefaultMarkStackLimit
	}
	if c.Incremental.SliceSteps == 0 && c.Incremental.SliceMs == 0 {
		c.Incremental.SliceSteps = 10000
	}
	if c.Stack.Capacity == 0 {
		c.Stack.Capacity = vm.DefaultCapacity
	}
}

// Validate reports settings the runtime cannot honor.
func (c *Config) Validate() error {
	switch {
	case c.Heap.MaxArenas < 0:
		return fmt.Errorf("heap.max-arenas must not be negative, got %d", c.Heap.MaxArenas)
	case c.Marker.InitialStack < 0 || c.Marker.StackLimit < 0:
		return fmt.Errorf("marker stack sizes must not be negative")
	case c.Marker.InitialStack > c.Marker.StackLimit:
		return fmt.Errorf("marker.initial-stack %d exceeds marker.stack-limit %d", c.Marker.InitialStack, c.Marker.StackLimit)
	case c.Incremental.SliceSteps < 0 || c.Incremental.SliceMs < 0:
		return fmt.Errorf("incremental slice budgets must not be negative")
	case c.Stack.Capacity < 0:
		return fmt.Errorf("stack.capacity must not be negative, got %d", c.Stack.Capacity)
	}
	return nil
}

// Load parses a marrow.toml file from the given directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return c, nil
}

// Parse decodes a configuration and applies defaults to unset fields.
func Parse(data []byte) (*Config, error) {
	var c Config
	md, err := toml.Decode(string(data), &c)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %s", undecoded[0])
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// FindAndLoad walks up from startDir to find a marrow.toml file,
// then loads and returns the configuration. Returns nil if none is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// Write encodes c as TOML into path.
func Write(path string, c *Config) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// GCOptions converts the heap, marker and incremental settings.
func (c *Config) GCOptions() gc.Options {
	return gc.Options{
		MaxArenas:        c.Heap.MaxArenas,
		MarkStackInitial: c.Marker.InitialStack,
		MarkStackLimit:   c.Marker.StackLimit,
		Incremental:      c.Incremental.Enabled,
		SliceSteps:       c.Incremental.SliceSteps,
		SliceTime:        time.Duration(c.Incremental.SliceMs) * time.Millisecond,
	}
}

// LogPath returns the log file path, or nil for standard error.
func (c *Config) LogPath() *string {
	if c.Log.Path == "" {
		return nil
	}
	p := c.Log.Path
	if !filepath.IsAbs(p) && c.Dir != "" {
		p = filepath.Join(c.Dir, p)
	}
	return &p
}

// StatsPath returns the statistics database path, or "" when statistics
// are not recorded.
func (c *Config) StatsPath() string {
	p := c.Stats.Database
	if p == "" || p == ":memory:" || filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}
