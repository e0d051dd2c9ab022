// Package distance provides the similarity kernels used by the search
// engine's membership oracle.
//
// Scores are oriented so that higher means more similar, matching the
// threshold semantics of Search: a slot qualifies when
// similarity(query, vector) >= threshold.
package distance
