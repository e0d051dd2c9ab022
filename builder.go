// This file implements the fluent builder API for creating and configuring
// DB instances. The builder is immutable: each method returns a copy with
// the updated configuration, so partially-applied builders can be shared
// safely.
package svdb

import (
	"time"

	"github.com/crystal-tensor/svdb/backend"
	"github.com/crystal-tensor/svdb/changelog"
	"github.com/crystal-tensor/svdb/distance"
	"github.com/crystal-tensor/svdb/engine"
	"github.com/crystal-tensor/svdb/searcher"
	"github.com/crystal-tensor/svdb/tinyptr"
)

// New creates a builder for a database holding vectors of the given
// dimension.
//
// Example:
//
//	db, err := svdb.New(128).
//	    Cosine().
//	    Simulated().
//	    Seed(42).
//	    Build()
func New(dimension int) Builder {
	return Builder{
		dimension:       dimension,
		metric:          distance.MetricCosine,
		mode:            backend.ModeClassical,
		loadFactor:      tinyptr.DefaultLoadFactor,
		rebuildFraction: engine.DefaultRebuildFraction,
	}
}

// Builder is an immutable fluent builder for DB instances.
type Builder struct {
	dimension       int
	metric          distance.Metric
	mode            backend.Mode
	seed            uint64
	client          backend.Client
	maxInflight     int
	evalsPerSec     float64
	evalBurst       int
	loadFactor      float64
	minimal         bool
	rebuildFraction float64
	searchTimeout   time.Duration
	logger          *Logger
	metrics         MetricsCollector
	notifier        changelog.Notifier
	changeLogPath   string
}

// Cosine sets the similarity metric to cosine similarity.
func (b Builder) Cosine() Builder {
	b.metric = distance.MetricCosine
	return b
}

// DotProduct sets the similarity metric to inner product.
func (b Builder) DotProduct() Builder {
	b.metric = distance.MetricDot
	return b
}

// Classical selects the deterministic scan backend.
func (b Builder) Classical() Builder {
	b.mode = backend.ModeClassical
	return b
}

// Simulated selects the in-process amplitude-amplification simulation.
func (b Builder) Simulated() Builder {
	b.mode = backend.ModeSimulated
	return b
}

// Accelerated routes amplification through the given client. A nil or
// unreachable client degrades transparently to the classical fallback.
func (b Builder) Accelerated(client backend.Client) Builder {
	b.mode = backend.ModeAccelerated
	b.client = client
	return b
}

// MaxInflight bounds concurrent amplification calls on an accelerated
// backend. Zero (the default) disables the limit.
func (b Builder) MaxInflight(n int) Builder {
	b.maxInflight = n
	return b
}

// EvalRate limits oracle evaluations per second on an accelerated backend.
func (b Builder) EvalRate(perSec float64, burst int) Builder {
	b.evalsPerSec = perSec
	b.evalBurst = burst
	return b
}

// Seed fixes the seed for index construction and backend probing.
// Builds with identical inputs and seed are bit-identical.
func (b Builder) Seed(seed uint64) Builder {
	b.seed = seed
	return b
}

// LoadFactor sets the key-to-slot ratio of the index, in (0, 1].
// Default: 0.8.
func (b Builder) LoadFactor(lf float64) Builder {
	b.loadFactor = lf
	return b
}

// Minimal builds indexes whose slot range equals the key count exactly.
// Minimal indexes have no free slots, so every insert forces a rebuild.
func (b Builder) Minimal() Builder {
	b.minimal = true
	return b
}

// RebuildFraction sets the pending-insert share of the key set that
// triggers a batched rebuild. Default: 0.05.
func (b Builder) RebuildFraction(f float64) Builder {
	b.rebuildFraction = f
	return b
}

// SearchTimeout bounds each amplified search call. A call exceeding the
// budget is retried on the classical path, logged, and counted as a
// degradation; the configured backend stays in place for later calls.
func (b Builder) SearchTimeout(d time.Duration) Builder {
	b.searchTimeout = d
	return b
}

// WithLogger sets the structured logger. Default: no logging.
func (b Builder) WithLogger(logger *Logger) Builder {
	b.logger = logger
	return b
}

// WithMetrics sets the metrics collector. Default: none.
func (b Builder) WithMetrics(metrics MetricsCollector) Builder {
	b.metrics = metrics
	return b
}

// ChangeLog streams mutation records to the given notifier.
func (b Builder) ChangeLog(n changelog.Notifier) Builder {
	b.notifier = n
	return b
}

// ChangeLogFile appends mutation records to a journal file at path.
func (b Builder) ChangeLogFile(path string) Builder {
	b.changeLogPath = path
	return b
}

// Build constructs the DB.
func (b Builder) Build() (*DB, error) {
	be, logger, metrics, err := b.newBackend()
	if err != nil {
		return nil, err
	}
	coord, err := engine.NewCoordinator(be, b.dimension,
		engine.WithLoadFactor(b.loadFactor),
		engine.WithSeed(b.seed),
		engine.WithMinimal(b.minimal),
		engine.WithRebuildFraction(b.rebuildFraction),
	)
	if err != nil {
		return nil, err
	}
	return assemble(b, coord, logger, metrics)
}

// newBackend resolves the logger and metrics defaults and constructs the
// configured backend with degradation reporting wired in.
func (b Builder) newBackend() (backend.Backend, *Logger, MetricsCollector, error) {
	logger := b.logger
	if logger == nil {
		logger = NoopLogger()
	}
	metrics := b.metrics
	if metrics == nil {
		metrics = NoopMetricsCollector{}
	}

	be, err := backend.New(func(o *backend.Options) {
		o.Mode = b.mode
		o.Seed = b.seed
		o.Client = b.client
		o.MaxInflight = b.maxInflight
		o.EvalsPerSec = b.evalsPerSec
		o.EvalBurst = b.evalBurst
		o.OnDegrade = func(err error) {
			logger.Warn("accelerated backend degraded to classical fallback", "error", err)
			metrics.RecordDegraded()
		}
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return be, logger, metrics, nil
}

// MustBuild is Build, panicking on error. Intended for static
// configurations in main or tests.
func (b Builder) MustBuild() *DB {
	db, err := b.Build()
	if err != nil {
		panic(err)
	}
	return db
}

// assemble wires a DB around a ready coordinator.
func assemble(b Builder, coord *engine.Coordinator, logger *Logger, metrics MetricsCollector) (*DB, error) {
	searchBackend := coord.Backend()
	if b.searchTimeout > 0 {
		searchBackend = backend.WithTimeout(searchBackend, b.searchTimeout, func(err error) {
			logger.Warn("amplified call exceeded budget, retried on classical fallback", "error", err)
			metrics.RecordDegraded()
		})
	}
	search, err := searcher.New(searchBackend, b.metric)
	if err != nil {
		return nil, err
	}

	notifier := b.notifier
	if notifier == nil && b.changeLogPath != "" {
		notifier, err = changelog.OpenFileLog(b.changeLogPath)
		if err != nil {
			return nil, err
		}
	}
	if notifier == nil {
		notifier = changelog.NopNotifier{}
	}

	return &DB{
		coord:    coord,
		search:   search,
		metric:   b.metric,
		builder:  b,
		logger:   logger,
		metrics:  metrics,
		notifier: notifier,
	}, nil
}
