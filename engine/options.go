package engine

import "github.com/crystal-tensor/svdb/tinyptr"

const (
	// DefaultRebuildFraction triggers a rebuild once pending inserts reach 5%
	// of the base key count.
	DefaultRebuildFraction = 0.05
)

// Options configures a Coordinator.
type Options struct {
	// LoadFactor is passed through to index construction.
	LoadFactor float64

	// Seed drives index construction. Fixed seeds give reproducible builds.
	Seed uint64

	// Minimal builds indexes without free slots. Every insert then forces an
	// immediate rebuild, so it suits read-mostly workloads.
	Minimal bool

	// RebuildFraction is the pending-delta share of the base key count that
	// triggers a batched rebuild. The base count is fixed at the last
	// explicit Build, not at intermediate rebuilds.
	RebuildFraction float64
}

func defaultOptions() Options {
	return Options{
		LoadFactor:      tinyptr.DefaultLoadFactor,
		RebuildFraction: DefaultRebuildFraction,
	}
}

// WithLoadFactor sets the index load factor.
func WithLoadFactor(lf float64) func(*Options) {
	return func(o *Options) { o.LoadFactor = lf }
}

// WithSeed fixes the build seed.
func WithSeed(seed uint64) func(*Options) {
	return func(o *Options) { o.Seed = seed }
}

// WithMinimal enables minimal indexes.
func WithMinimal(minimal bool) func(*Options) {
	return func(o *Options) { o.Minimal = minimal }
}

// WithRebuildFraction sets the pending-delta rebuild trigger.
func WithRebuildFraction(f float64) func(*Options) {
	return func(o *Options) { o.RebuildFraction = f }
}
