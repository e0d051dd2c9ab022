// Package svdb provides an embedded vector database with constant-time key
// lookup and amplitude-amplification search.
//
// Vectors are addressed by fixed-size content keys. A minimal-perfect-hash
// index maps every key to a storage slot without storing the keys, so point
// lookups cost one hash and one slot read. Similarity search runs either on
// an amplitude-amplification backend (simulated in-process, or delegated to
// external hardware) or on a deterministic classical fallback; both paths
// return identical result sets.
//
// # Quick Start
//
// Build a database with the fluent builder:
//
//	ctx := context.Background()
//	db, err := svdb.New(128).     // 128-dimensional vectors
//	    Cosine().                 // Similarity metric
//	    Simulated().              // Amplification backend
//	    Seed(42).                 // Reproducible builds
//	    Build()
//	if err != nil {
//	    panic(err)
//	}
//	defer db.Close()
//
//	err = db.BuildIndex(ctx, items) // items: []svdb.KeyVector
//
// Point lookup and search:
//
//	vec, err := db.Get(ctx, key)
//
//	matches, err := db.Search(query).
//	    Threshold(0.8).
//	    K(10).
//	    Execute(ctx)
//
// Incremental updates park new entries in free slots and batch them into a
// rebuild once the pending delta grows past a configurable fraction of the
// key set:
//
//	err = db.Insert(ctx, key, vec)
//	err = db.Delete(ctx, key)
//	err = db.Compact(ctx) // reclaim deleted space
//
// Snapshots persist the full database state:
//
//	err = db.SaveToFile("products.svdb")
//	db, err = svdb.New(128).Cosine().Simulated().LoadFile("products.svdb")
package svdb
