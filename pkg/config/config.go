// Package config loads the evaluator's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is looked up in the working directory when no path is given.
const FileName = "sim4d.yaml"

// Geometry kernels selectable with engine.kernel.
const (
	KernelSdfx     = "sdfx"
	KernelManifold = "manifold"
)

// Config is the top-level configuration.
type Config struct {
	Engine EngineConfig `yaml:"engine"`
	Cache  CacheConfig  `yaml:"cache"`
	Script ScriptConfig `yaml:"script"`
	Log    LogConfig    `yaml:"log"`
}

// EngineConfig tunes the execution coordinator.
type EngineConfig struct {
	Kernel         string        `yaml:"kernel,omitempty"`          // sdfx or manifold (default: sdfx)
	Workers        int           `yaml:"workers,omitempty"`         // concurrent kernel calls (default: NumCPU)
	KernelTimeout  time.Duration `yaml:"kernel_timeout,omitempty"`  // per attempt (default: 30s)
	MaxAttempts    int           `yaml:"max_attempts,omitempty"`    // including the first (default: 3)
	InitialBackoff time.Duration `yaml:"initial_backoff,omitempty"` // default: 50ms
	MaxBackoff     time.Duration `yaml:"max_backoff,omitempty"`     // default: 2s
	EventBuffer    int           `yaml:"event_buffer,omitempty"`    // per subscriber (default: 256)
}

// CacheConfig bounds the evaluation cache.
type CacheConfig struct {
	MaxEntries int   `yaml:"max_entries,omitempty"`
	MaxBytes   int64 `yaml:"max_bytes,omitempty"`
}

// ScriptConfig tunes the script front end.
type ScriptConfig struct {
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`  // debug, info, warn, error
	Format string `yaml:"format,omitempty"` // text or json
}

// Default returns the configuration used when no file exists.
func Default() Config {
	var c Config
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Engine.Kernel == "" {
		c.Engine.Kernel = KernelSdfx
	}
	if c.Engine.Workers == 0 {
		c.Engine.Workers = runtime.NumCPU()
	}
	if c.Engine.KernelTimeout == 0 {
		c.Engine.KernelTimeout = 30 * time.Second
	}
	if c.Engine.MaxAttempts == 0 {
		c.Engine.MaxAttempts = 3
	}
	if c.Engine.InitialBackoff == 0 {
		c.Engine.InitialBackoff = 50 * time.Millisecond
	}
	if c.Engine.MaxBackoff == 0 {
		c.Engine.MaxBackoff = 2 * time.Second
	}
	if c.Engine.EventBuffer == 0 {
		c.Engine.EventBuffer = 256
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = 4096
	}
	if c.Cache.MaxBytes == 0 {
		c.Cache.MaxBytes = 256 << 20
	}
	if c.Script.Timeout == 0 {
		c.Script.Timeout = 5 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate rejects values the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.Engine.Kernel {
	case "", KernelSdfx, KernelManifold:
	default:
		errs = append(errs, fmt.Errorf("engine.kernel must be %s or %s, got %q", KernelSdfx, KernelManifold, c.Engine.Kernel))
	}
	if c.Engine.Workers < 0 {
		errs = append(errs, fmt.Errorf("engine.workers must be positive, got %d", c.Engine.Workers))
	}
	if c.Engine.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("engine.max_attempts must be positive, got %d", c.Engine.MaxAttempts))
	}
	if c.Engine.KernelTimeout < 0 || c.Engine.InitialBackoff < 0 || c.Engine.MaxBackoff < 0 {
		errs = append(errs, errors.New("engine durations must not be negative"))
	}
	if c.Engine.MaxBackoff > 0 && c.Engine.InitialBackoff > c.Engine.MaxBackoff {
		errs = append(errs, fmt.Errorf("engine.initial_backoff %s exceeds max_backoff %s",
			c.Engine.InitialBackoff, c.Engine.MaxBackoff))
	}
	if c.Engine.EventBuffer < 0 {
		errs = append(errs, fmt.Errorf("engine.event_buffer must not be negative, got %d", c.Engine.EventBuffer))
	}
	if c.Cache.MaxEntries < 0 || c.Cache.MaxBytes < 0 {
		errs = append(errs, errors.New("cache limits must not be negative"))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Load reads path, applies defaults and validates. A missing file yields
// the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(data []byte) (Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return c, nil
}
