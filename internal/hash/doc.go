// Package hash provides the hashing primitives behind index construction and
// on-disk integrity checks.
//
// Two hash families live here:
//
//   - xxHash (64-bit) derives bucket assignments and displacement positions for
//     the tiny-pointer index. All derivations are seeded so that a build is
//     exactly reproducible from (key set, seed).
//   - CRC32-Castagnoli frames snapshot sections and change-log entries. Go's
//     crc32 package uses hardware instructions where available (SSE4.2 on x86,
//     the CRC extension on ARM).
//
// The displacement function must be cheap: it runs once per key per pilot
// candidate during construction, which dominates build time.
package hash
