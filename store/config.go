package store

import (
	"log/slog"
	"time"
)

// Config holds configuration for the Store.
type Config struct {
	// TableName is the DynamoDB table holding all entity families.
	// Default: "judge_core"
	TableName string

	// PublicShardWidth is the width of the time buckets sharding the
	// public-problems index partition key. All public problems created
	// within one bucket share an index partition, so the width bounds
	// per-partition write volume for that listing.
	// Default: 24h
	PublicShardWidth time.Duration

	// ReviewShards is the number of hash shards for the review-queue index.
	// Higher values spread review-queue writes across more partitions but
	// require querying each shard.
	// Default: 1 (no sharding)
	// Max: 256
	ReviewShards int

	// DefaultPageSize is the page size used when a query specifies none.
	// Default: 50
	DefaultPageSize int32

	// MaxPageSize caps the page size of any single query.
	// Default: 1000
	MaxPageSize int32

	// MaxRetries is the number of retries for throttled requests.
	// Default: 3
	MaxRetries int

	// RetryBaseDelay is the initial backoff delay for throttled requests.
	// Each retry doubles it and adds jitter.
	// Default: 50ms
	RetryBaseDelay time.Duration

	// Retention maps entity kinds to retention windows.
	// Default: DefaultRetention()
	Retention RetentionPolicy

	// Clock supplies the current time for timestamps, expiry, and index
	// bucket computation. Default: time.Now
	Clock func() time.Time

	// Logger receives data-integrity warnings. Default: slog.Default()
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults for moderate traffic.
func DefaultConfig() Config {
	return Config{
		TableName:        "judge_core",
		PublicShardWidth: 24 * time.Hour,
		ReviewShards:     1,
		DefaultPageSize:  50,
		MaxPageSize:      1000,
		MaxRetries:       3,
		RetryBaseDelay:   50 * time.Millisecond,
		Retention:        DefaultRetention(),
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.TableName == "" {
		c.TableName = "judge_core"
	}
	if c.PublicShardWidth <= 0 {
		c.PublicShardWidth = 24 * time.Hour
	}
	if c.ReviewShards < 1 {
		c.ReviewShards = 1
	}
	if c.ReviewShards > 256 {
		c.ReviewShards = 256
	}
	if c.DefaultPageSize <= 0 {
		c.DefaultPageSize = 50
	}
	if c.MaxPageSize <= 0 {
		c.MaxPageSize = 1000
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 50 * time.Millisecond
	}
	if c.Retention == nil {
		c.Retention = DefaultRetention()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
