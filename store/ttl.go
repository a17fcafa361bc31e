package store

import (
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// RetentionPolicy maps entity kinds to retention windows. Kinds without an
// entry never expire. Expiry is computed once at creation and is immutable
// afterwards; changing the policy only affects newly created items.
type RetentionPolicy map[Kind]time.Duration

// DefaultRetention returns the retention windows for high-volume families.
// Problems and test cases are user-authored content and never expire.
func DefaultRetention() RetentionPolicy {
	return RetentionPolicy{
		KindSearchEntry: 90 * 24 * time.Hour,
		KindJob:         30 * 24 * time.Hour,
		KindUsageBucket: 48 * time.Hour,
	}
}

// ExpiryFor computes the expiry timestamp for an entity of the given kind
// created at creationTime. The second return is false when the kind has no
// retention window.
func (p RetentionPolicy) ExpiryFor(kind Kind, creationTime time.Time) (int64, bool) {
	window, ok := p[kind]
	if !ok || window <= 0 {
		return 0, false
	}
	return creationTime.Add(window).Unix(), true
}

// IsExpired checks whether a raw item is past its expiry timestamp. DynamoDB
// purges expired items on a best-effort, eventually-consistent schedule, so
// strict read paths re-check the attribute instead of trusting presence in
// the table.
func IsExpired(item map[string]types.AttributeValue, now time.Time) bool {
	expAttr, exists := item[attrExpiresAt]
	if !exists {
		return false // no expiry = permanent
	}
	expNum, ok := expAttr.(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	exp, err := strconv.ParseInt(expNum.Value, 10, 64)
	if err != nil {
		return false
	}
	return exp <= now.Unix()
}

// NotExpiredFilterExpr returns the filter expression excluding items that are
// logically expired but not yet purged. Use with NotExpiredFilterNames and
// NotExpiredFilterValues when building custom queries.
func NotExpiredFilterExpr() string {
	return "attribute_not_exists(#expires_at) OR #expires_at > :now"
}

// NotExpiredFilterNames returns expression attribute names for the expiry
// filter.
func NotExpiredFilterNames() map[string]string {
	return map[string]string{"#expires_at": attrExpiresAt}
}

// NotExpiredFilterValues returns expression attribute values for the expiry
// filter at the given time.
func NotExpiredFilterValues(now time.Time) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		":now": &types.AttributeValueMemberN{
			Value: strconv.FormatInt(now.Unix(), 10),
		},
	}
}
