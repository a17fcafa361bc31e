// Package shard provides shard key helpers for spreading low-cardinality
// partition keys across the DynamoDB key space.
package shard

import (
	"fmt"
	"hash/fnv"
	"time"
)

// TimeBucket returns the fixed-width label of the bucket containing t.
// Labels are zero-padded Unix timestamps of the bucket start, so they sort
// chronologically. Buckets are aligned in UTC.
func TimeBucket(t time.Time, width time.Duration) string {
	if width <= 0 {
		width = 24 * time.Hour
	}
	start := t.UTC().Truncate(width)
	return fmt.Sprintf("%011d", start.Unix())
}

// Hash returns the shard number for value in [0, numShards).
// With numShards <= 1 everything lands on shard 0.
func Hash(value string, numShards int) int {
	if numShards <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(value))
	return int(h.Sum32() % uint32(numShards))
}

// Label formats a shard number as the two-digit hex suffix used in shard
// partition keys.
func Label(n int) string {
	return fmt.Sprintf("%02x", n)
}

// DailyPeriod returns the UTC day label used by per-day counter buckets.
func DailyPeriod(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
