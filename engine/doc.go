// Package engine coordinates the index and the vector store behind a
// copy-on-rebuild snapshot model.
//
// Readers load an immutable snapshot pointer and never block on writers.
// Inserts park new entries in the current store's free slots and record them
// as a pending delta; once the delta reaches a fraction of the base key
// count, the whole key set is rebuilt into a fresh snapshot and swapped in
// atomically. Deletes tombstone in place and are reclaimed by compaction.
package engine
