// Package config provides configuration management for the stencil
// pipeline using Viper for flexible loading from files and environment
// variables.
//
// Configuration is read from .stencil.yml with STENCIL_ environment
// variable overrides. The pipeline core never reads configuration
// directly: the loaded Config object is passed explicitly at construction
// time.
package config

import (
	goerrors "errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	stencilerrors "github.com/stencilkit/stencil/internal/errors"
)

type Config struct {
	Generator GeneratorConfig `mapstructure:"generator" yaml:"generator"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	Monitor   MonitorConfig   `mapstructure:"monitor" yaml:"monitor"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

type GeneratorConfig struct {
	// MaxConcurrency bounds the worker pool. Zero means one worker per
	// CPU core.
	MaxConcurrency int `mapstructure:"max_concurrency" yaml:"max_concurrency"`
	// StrictMode propagates a dependency failure to all transitive
	// dependents instead of isolating it.
	StrictMode bool `mapstructure:"strict_mode" yaml:"strict_mode"`
	// Timeout is the overall deadline for one generation run. Zero
	// disables the deadline.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// RenderTimeout bounds a single template render. Zero disables it.
	RenderTimeout time.Duration `mapstructure:"render_timeout" yaml:"render_timeout"`
	// OutputRoot is the default output root for generated artifacts.
	OutputRoot string `mapstructure:"output_root" yaml:"output_root"`
}

type CacheConfig struct {
	// MaxSizeBytes bounds the cache; LRU entries are evicted beyond it.
	MaxSizeBytes int64 `mapstructure:"max_size_bytes" yaml:"max_size_bytes"`
	// TTL is the default entry time-to-live. Zero means no expiry.
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`
	// SnapshotPath, when set, enables cache persistence across runs.
	SnapshotPath string `mapstructure:"snapshot_path" yaml:"snapshot_path"`
	// WatchSources enables filesystem-watch invalidation of entries
	// keyed to template source files.
	WatchSources bool `mapstructure:"watch_sources" yaml:"watch_sources"`
}

type MonitorConfig struct {
	// SampleInterval is the resource sampling period.
	SampleInterval time.Duration `mapstructure:"sample_interval" yaml:"sample_interval"`
	// MemoryPressureRatio is the free/total memory ratio below which
	// the monitor recommends reduced parallelism.
	MemoryPressureRatio float64 `mapstructure:"memory_pressure_ratio" yaml:"memory_pressure_ratio"`
	// LargeInputBytes is the input size beyond which streaming mode is
	// recommended regardless of memory pressure.
	LargeInputBytes int64 `mapstructure:"large_input_bytes" yaml:"large_input_bytes"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Default returns a Config with production defaults applied.
func Default() *Config {
	return &Config{
		Generator: GeneratorConfig{
			MaxConcurrency: runtime.NumCPU(),
			StrictMode:     false,
			Timeout:        5 * time.Minute,
			RenderTimeout:  30 * time.Second,
			OutputRoot:     "./generated",
		},
		Cache: CacheConfig{
			MaxSizeBytes: 100 * 1024 * 1024,
			TTL:          time.Hour,
			WatchSources: true,
		},
		Monitor: MonitorConfig{
			SampleInterval:      5 * time.Second,
			MemoryPressureRatio: 0.15,
			LargeInputBytes:     50 * 1024 * 1024,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from the config file and environment into a
// validated Config.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName(".stencil")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvPrefix("STENCIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env apply.
		var notFound viper.ConfigFileNotFoundError
		if !goerrors.As(err, &notFound) {
			return nil, stencilerrors.NewConfigError(
				stencilerrors.ErrCodeConfigInvalid, "failed to read config file", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, stencilerrors.NewConfigError(
			stencilerrors.ErrCodeConfigInvalid, "failed to parse configuration", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("generator.max_concurrency", d.Generator.MaxConcurrency)
	v.SetDefault("generator.strict_mode", d.Generator.StrictMode)
	v.SetDefault("generator.timeout", d.Generator.Timeout)
	v.SetDefault("generator.render_timeout", d.Generator.RenderTimeout)
	v.SetDefault("generator.output_root", d.Generator.OutputRoot)
	v.SetDefault("cache.max_size_bytes", d.Cache.MaxSizeBytes)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.watch_sources", d.Cache.WatchSources)
	v.SetDefault("monitor.sample_interval", d.Monitor.SampleInterval)
	v.SetDefault("monitor.memory_pressure_ratio", d.Monitor.MemoryPressureRatio)
	v.SetDefault("monitor.large_input_bytes", d.Monitor.LargeInputBytes)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Generator.MaxConcurrency < 0 {
		return configError("generator.max_concurrency must not be negative")
	}
	if c.Generator.Timeout < 0 || c.Generator.RenderTimeout < 0 {
		return configError("generator timeouts must not be negative")
	}
	if c.Cache.MaxSizeBytes <= 0 {
		return configError("cache.max_size_bytes must be positive")
	}
	if c.Cache.TTL < 0 {
		return configError("cache.ttl must not be negative")
	}
	if c.Monitor.MemoryPressureRatio < 0 || c.Monitor.MemoryPressureRatio >= 1 {
		return configError("monitor.memory_pressure_ratio must be in [0, 1)")
	}
	return nil
}

// EffectiveConcurrency resolves the configured concurrency, falling back
// to the CPU count when unset.
func (c *Config) EffectiveConcurrency() int {
	if c.Generator.MaxConcurrency > 0 {
		return c.Generator.MaxConcurrency
	}
	return runtime.NumCPU()
}

func configError(msg string) error {
	return stencilerrors.NewConfigError(stencilerrors.ErrCodeConfigInvalid, msg, nil)
}

// String renders a short summary for diagnostics.
func (c *Config) String() string {
	return fmt.Sprintf("generator{workers=%d strict=%t} cache{max=%d ttl=%s}",
		c.Generator.MaxConcurrency, c.Generator.StrictMode,
		c.Cache.MaxSizeBytes, c.Cache.TTL)
}
