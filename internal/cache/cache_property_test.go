//go:build property

package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/stencilkit/stencil/internal/types"
)

// TestCacheProperties validates structural invariants of the cache over
// randomized operation sequences.
func TestCacheProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1234) // For reproducible results
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	// Property: the size bound holds after any sequence of sets, and the
	// byte accounting matches the live entries exactly.
	properties.Property("size never exceeds the bound", prop.ForAll(
		func(maxSize int, ops []int) bool {
			if maxSize < 16 || maxSize > 4096 {
				return true
			}
			c := New(int64(maxSize), 0)
			for i, op := range ops {
				key := fmt.Sprintf("k%d", op%32)
				value := make([]byte, (op*7+i)%64)
				c.Set(key, value)
			}
			if c.Size() > int64(maxSize) {
				return false
			}
			var want int64
			c.mu.Lock()
			for _, e := range c.entries {
				want += e.size
			}
			c.mu.Unlock()
			return c.Size() == want
		},
		gen.IntRange(16, 4096),
		gen.SliceOf(gen.IntRange(0, 1000)),
	))

	// Property: a value just stored is returned verbatim while it fits
	// the cache on its own.
	properties.Property("set then get round-trips", prop.ForAll(
		func(key string, value []byte) bool {
			if len(key) == 0 || len(key)+len(value) > 1024 {
				return true
			}
			c := New(1024, 0)
			c.Set(key, value)
			got, ok := c.Get(key)
			return ok && string(got) == string(value)
		},
		gen.AlphaString(),
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}

// TestKeyStrategyProperties validates the no-false-hit requirement: any
// difference in a semantic input must change the derived key.
func TestKeyStrategyProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1234)
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	base := func() (*types.Template, *types.GeneratorContext) {
		return &types.Template{ID: "tmpl", Source: []byte("body")},
			&types.GeneratorContext{Project: types.ProjectMeta{
				Name: "proj", Version: "1.0.0", OutputRoot: "out",
			}}
	}

	properties.Property("distinct ids never collide", prop.ForAll(
		func(id string) bool {
			if id == "tmpl" {
				return true
			}
			tmpl, gctx := base()
			baseline := DefaultKeyStrategy(tmpl, gctx)
			tmpl.ID = id
			return DefaultKeyStrategy(tmpl, gctx) != baseline
		},
		gen.AlphaString(),
	))

	properties.Property("distinct sources never collide", prop.ForAll(
		func(source []byte) bool {
			if string(source) == "body" {
				return true
			}
			tmpl, gctx := base()
			baseline := DefaultKeyStrategy(tmpl, gctx)
			tmpl.Source = source
			return DefaultKeyStrategy(tmpl, gctx) != baseline
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.Property("distinct versions never collide", prop.ForAll(
		func(version string) bool {
			if version == "1.0.0" {
				return true
			}
			tmpl, gctx := base()
			baseline := DefaultKeyStrategy(tmpl, gctx)
			gctx.Project.Version = version
			return DefaultKeyStrategy(tmpl, gctx) != baseline
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
