// Package backend abstracts the oracle-search primitive behind index
// construction and approximate search.
//
// Every higher layer talks to the Backend interface and never to a concrete
// implementation. A backend supplies two primitives:
//
//   - Evaluate: a single oracle (predicate) evaluation.
//   - Amplify: locate one element of a domain that satisfies the oracle,
//     using a sublinear expected number of oracle evaluations when an
//     amplitude-amplification backend is present, or a deterministic linear
//     scan on the classical fallback.
//
// The three modes are a tagged variant, not a subclass hierarchy: classical
// fallback, seeded in-process simulation, and accelerated (external
// hardware/service). When an accelerated backend is unavailable at runtime
// the implementation switches to the classical fallback transparently and
// reports it through the Degraded capability flag — correctness is never
// silently traded away.
package backend
