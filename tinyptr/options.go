package tinyptr

const (
	// DefaultLoadFactor leaves 20% slack in the slot range, which keeps pilot
	// search fast for typical key sets.
	DefaultLoadFactor = 0.8

	// DefaultPilotMax is the initial pilot search domain per bucket.
	DefaultPilotMax = 65536

	// pilotGrowthFactor scales the pilot domain after a failed search.
	pilotGrowthFactor = 4

	// maxPilotExpansions bounds how often the domain may grow before Build
	// gives up on a bucket.
	maxPilotExpansions = 4

	// avgBucketSize controls the key-to-bucket ratio.
	avgBucketSize = 4
)

// Options configures index construction.
type Options struct {
	// LoadFactor is the ratio of keys to slots, in (0, 1]. Default 0.8.
	LoadFactor float64

	// Seed drives bucket assignment and displacement. Builds with the same
	// keys and seed produce bit-identical indexes.
	Seed uint64

	// Minimal remaps the slot range down to exactly the key count. A minimal
	// index has no free slots, so it cannot absorb in-place insertions.
	Minimal bool

	// PilotMax overrides the initial pilot search domain. Zero means
	// DefaultPilotMax.
	PilotMax uint64
}

// WithLoadFactor sets the key-to-slot ratio.
func WithLoadFactor(lf float64) func(*Options) {
	return func(o *Options) { o.LoadFactor = lf }
}

// WithSeed fixes the build seed.
func WithSeed(seed uint64) func(*Options) {
	return func(o *Options) { o.Seed = seed }
}

// WithMinimal enables minimal slot remapping.
func WithMinimal(minimal bool) func(*Options) {
	return func(o *Options) { o.Minimal = minimal }
}

// WithPilotMax overrides the initial pilot search domain.
func WithPilotMax(max uint64) func(*Options) {
	return func(o *Options) { o.PilotMax = max }
}
