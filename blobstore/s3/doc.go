// Package s3 implements blobstore.Store on Amazon S3, with an optional
// DynamoDB-backed version pointer for coordinating multiple writers.
//
// Snapshot archives are immutable, so plain S3 puts are safe for a single
// writer. When several processes may publish snapshots of the same dataset,
// S3 offers no compare-and-swap; the VersionStore adds one through DynamoDB
// conditional writes.
package s3
