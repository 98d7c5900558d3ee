package config

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, runtime.NumCPU(), cfg.Generator.MaxConcurrency)
	assert.False(t, cfg.Generator.StrictMode)
	assert.Positive(t, cfg.Cache.MaxSizeBytes)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults are valid", func(c *Config) {}, true},
		{"zero concurrency falls back to cpu count", func(c *Config) { c.Generator.MaxConcurrency = 0 }, true},
		{"negative concurrency", func(c *Config) { c.Generator.MaxConcurrency = -1 }, false},
		{"negative timeout", func(c *Config) { c.Generator.Timeout = -time.Second }, false},
		{"negative render timeout", func(c *Config) { c.Generator.RenderTimeout = -time.Second }, false},
		{"zero cache size", func(c *Config) { c.Cache.MaxSizeBytes = 0 }, false},
		{"negative cache ttl", func(c *Config) { c.Cache.TTL = -time.Minute }, false},
		{"pressure ratio of one", func(c *Config) { c.Monitor.MemoryPressureRatio = 1 }, false},
		{"negative pressure ratio", func(c *Config) { c.Monitor.MemoryPressureRatio = -0.1 }, false},
		{"zero pressure ratio disables the check", func(c *Config) { c.Monitor.MemoryPressureRatio = 0 }, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestEffectiveConcurrency(t *testing.T) {
	cfg := Default()
	cfg.Generator.MaxConcurrency = 3
	assert.Equal(t, 3, cfg.EffectiveConcurrency())

	cfg.Generator.MaxConcurrency = 0
	assert.Equal(t, runtime.NumCPU(), cfg.EffectiveConcurrency())
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("STENCIL_GENERATOR_MAX_CONCURRENCY", "2")
	t.Setenv("STENCIL_GENERATOR_STRICT_MODE", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Generator.MaxConcurrency)
	assert.True(t, cfg.Generator.StrictMode)
}

func TestString(t *testing.T) {
	cfg := Default()
	cfg.Generator.MaxConcurrency = 4
	s := cfg.String()
	assert.Contains(t, s, "workers=4")
	assert.Contains(t, s, "strict=false")
}
