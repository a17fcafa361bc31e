// Package quota enforces per-subject, per-action daily usage limits backed by
// DynamoDB atomic counters.
//
// Each (subject, action, day) triple owns one counter bucket item. Checking a
// limit is a single upsert-increment: the bucket is created with count=1 on
// its first increment of the period, so there is no existence-check race, and
// correctness under concurrent callers rests entirely on DynamoDB's atomic
// ADD, never on client-side locking.
//
// Counters are append-only. An increment that lands over the limit stays
// counted - the bucket never gives a count back, matching the audit framing
// of the usage records. A denial is a normal result, not an error: the
// operation succeeded and the answer is no.
package quota

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/GwonsooLee/argoitny-sub002/internal/shard"
	"github.com/GwonsooLee/argoitny-sub002/store"
)

// Unlimited is the limit sentinel disabling enforcement for a call. It
// short-circuits before any store access.
const Unlimited = -1

const (
	attrCount       = "cnt"
	attrPeriodStart = "period_start"
	attrExpiresAt   = "expires_at"
)

// Config holds configuration for the Limiter.
type Config struct {
	// TableName is the DynamoDB table holding counter buckets.
	// Default: "judge_core"
	TableName string

	// Retention is how long a bucket outlives its period start before the
	// table purges it. Default: 48h
	Retention time.Duration

	// Clock supplies the current time for period labels. Default: time.Now
	Clock func() time.Time

	// Unrestricted reports subjects exempt from limiting. Exempt subjects
	// bypass the counter entirely and are never persisted.
	Unrestricted func(subject string) bool
}

func (c *Config) validate() {
	if c.TableName == "" {
		c.TableName = "judge_core"
	}
	if c.Retention <= 0 {
		c.Retention = 48 * time.Hour
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// Decision is the outcome of a limit check. Denial is a successfully
// computed answer, not a failure.
type Decision struct {
	// Allowed is false when the increment landed over the limit. The
	// increment has still been applied; denied attempts are not retryable.
	Allowed bool

	// Count is the bucket's count after this increment. Zero when the call
	// short-circuited without touching the store.
	Count int64

	// Period is the bucket's day label.
	Period string
}

// Limiter enforces daily usage limits.
type Limiter struct {
	client store.DynamoDBAPI
	config Config
}

// New creates a Limiter on top of an injected DynamoDB client.
func New(client store.DynamoDBAPI, config Config) *Limiter {
	config.validate()
	return &Limiter{client: client, config: config}
}

// CheckAndIncrement counts one attempt of action by subject against limit
// for the current day. The increment and the read of the new count are one
// atomic store call; no count is ever lost or double-counted under
// concurrency. limit < 0 means unlimited and skips the store entirely, as do
// unrestricted subjects.
func (l *Limiter) CheckAndIncrement(ctx context.Context, subject, action string, limit int) (Decision, error) {
	now := l.config.Clock()
	period := shard.DailyPeriod(now)

	if limit < 0 {
		return Decision{Allowed: true, Period: period}, nil
	}
	if l.config.Unrestricted != nil && l.config.Unrestricted(subject) {
		return Decision{Allowed: true, Period: period}, nil
	}

	pk, sk, err := store.EncodeKey(store.KindUsageBucket, subject, action, period)
	if err != nil {
		return Decision{}, err
	}

	periodStart, _ := time.ParseInLocation("2006-01-02", period, time.UTC)

	out, err := l.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(l.config.TableName),
		Key:       bucketKey(pk, sk),
		UpdateExpression: aws.String(
			"SET #period_start = if_not_exists(#period_start, :start)," +
				" #expires_at = if_not_exists(#expires_at, :expires)" +
				" ADD #cnt :one"),
		ExpressionAttributeNames: map[string]string{
			"#cnt":          attrCount,
			"#period_start": attrPeriodStart,
			"#expires_at":   attrExpiresAt,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one":     &types.AttributeValueMemberN{Value: "1"},
			":start":   &types.AttributeValueMemberN{Value: strconv.FormatInt(periodStart.Unix(), 10)},
			":expires": &types.AttributeValueMemberN{Value: strconv.FormatInt(periodStart.Add(l.config.Retention).Unix(), 10)},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("increment usage bucket: %w", err)
	}

	count, err := countOf(out.Attributes)
	if err != nil {
		return Decision{}, err
	}

	return Decision{
		Allowed: count <= int64(limit),
		Count:   count,
		Period:  period,
	}, nil
}

// Peek returns the current count of today's bucket without incrementing.
// A missing bucket reads as zero.
func (l *Limiter) Peek(ctx context.Context, subject, action string) (int64, error) {
	period := shard.DailyPeriod(l.config.Clock())
	pk, sk, err := store.EncodeKey(store.KindUsageBucket, subject, action, period)
	if err != nil {
		return 0, err
	}

	out, err := l.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(l.config.TableName),
		Key:       bucketKey(pk, sk),
	})
	if err != nil {
		return 0, fmt.Errorf("read usage bucket: %w", err)
	}
	if out.Item == nil {
		return 0, nil
	}
	return countOf(out.Item)
}

// Reset deletes today's bucket for a subject and action. Administrative
// escape hatch; normal operation never decrements.
func (l *Limiter) Reset(ctx context.Context, subject, action string) error {
	period := shard.DailyPeriod(l.config.Clock())
	pk, sk, err := store.EncodeKey(store.KindUsageBucket, subject, action, period)
	if err != nil {
		return err
	}

	_, err = l.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(l.config.TableName),
		Key:       bucketKey(pk, sk),
	})
	return err
}

func bucketKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: pk},
		"sk": &types.AttributeValueMemberS{Value: sk},
	}
}

func countOf(item map[string]types.AttributeValue) (int64, error) {
	n, ok := item[attrCount].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("usage bucket has no %s attribute", attrCount)
	}
	count, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse usage count %q: %w", n.Value, err)
	}
	return count, nil
}
