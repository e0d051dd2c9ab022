// Package tinyptr builds minimal-perfect-hash indexes that map a fixed key
// set onto a compact slot range without storing the keys themselves.
//
// Keys are grouped into buckets; each bucket stores a single pilot value that
// displaces all of its keys into distinct free slots. Pilot values are found
// by amplitude-amplification search over the pilot domain, falling back to a
// deterministic scan on classical backends. Lookup is O(1) and allocation
// free: hash the key, read the bucket pilot, compute the slot.
//
// An index answers lookups for any key, including keys outside the build
// set (they map to an arbitrary slot). Callers verify membership against
// their own storage.
package tinyptr
