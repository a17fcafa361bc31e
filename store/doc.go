// Package store provides a single-table DynamoDB access layer for the
// judge-helper data model: coding problems with child test cases, per-user
// search-history timelines, per-user daily usage buckets, and async job
// records.
//
// All entity families share one table addressed by a composite primary key.
// A parent problem's metadata lives at the reserved sort key "META"; its test
// cases live in the same partition under fixed-width, timestamp-ordered sort
// keys, so one range query returns the parent followed by its children in
// creation order.
//
// # Key Schema
//
//	Problem      pk=PROB#<platform>#<problemID>        sk=META
//	TestCase     pk=PROB#<platform>#<problemID>        sk=TC#<ts20>#<n>
//	SearchEntry  pk=HIST#<userID>                      sk=ENTRY#<ts20>#<id>
//	Job          pk=JOB#<jobID>                        sk=META
//	UsageBucket  pk=USAGE#<subject>#<action>#<period>  sk=META
//
// where <ts20> is a zero-padded 20-digit UnixNano timestamp, making
// lexicographic order equal chronological order.
//
// # Secondary Indexes
//
// Two overloaded, sparse GSIs back the listing access patterns. Index keys
// are attached at write time only when the owning item should appear in that
// listing, and removed on the write that invalidates membership:
//
//   - GSI1 carries public problems under time-sharded PUBLIC#<bucket>
//     partitions and jobs under JOBSTATUS#<status> partitions.
//   - GSI2 carries the manual-review queue under hash-sharded REVIEW#<nn>
//     partitions.
//
// # Pagination
//
// Every list operation returns an opaque continuation cursor alongside its
// items. Cursors are scoped to the query shape that produced them; replaying
// a cursor against a different query fails with [ErrInvalidCursor]. Cursors
// expose nothing beyond the key attributes of the last item read, and they
// are not an access-control boundary.
//
// # Lifecycle
//
// High-volume families (search entries, usage buckets, jobs) receive an
// expires_at attribute at creation per [RetentionPolicy]. DynamoDB purges
// expired items asynchronously, so reads that need strict correctness check
// the attribute themselves; Get and the query paths already do.
//
// # Errors
//
// Operations return package sentinels matched with errors.Is:
//
//   - [ErrNotFound] - no item at the key, or the item is past expiry
//   - [ErrAlreadyExists] - conditional create lost the race
//   - [ErrConflict] - optimistic version check failed; re-read and retry
//   - [ErrInvalidCursor] - malformed or cross-query pagination token
//   - [ErrThrottled] - capacity exhaustion persisted through retries
//   - [ErrMalformedKey] - key construction or decoding bug, never retried
package store
