package store_test

import (
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/GwonsooLee/argoitny-sub002/store"
)

func TestExpiryFor(t *testing.T) {
	policy := store.RetentionPolicy{
		store.KindJob:         30 * 24 * time.Hour,
		store.KindUsageBucket: 0,
	}
	created := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	exp, ok := policy.ExpiryFor(store.KindJob, created)
	if !ok {
		t.Fatal("expected an expiry for jobs")
	}
	if want := created.Add(30 * 24 * time.Hour).Unix(); exp != want {
		t.Errorf("expiry = %d, want %d", exp, want)
	}

	if _, ok := policy.ExpiryFor(store.KindProblem, created); ok {
		t.Error("kinds without a window must not expire")
	}
	if _, ok := policy.ExpiryFor(store.KindUsageBucket, created); ok {
		t.Error("a zero window must not expire")
	}
}

// Retention is anchored to creation time, so the gap between two expiries
// equals the gap between the creations.
func TestExpiryForAnchoredToCreation(t *testing.T) {
	policy := store.DefaultRetention()
	first := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	second := first.Add(7 * time.Hour)

	expFirst, _ := policy.ExpiryFor(store.KindSearchEntry, first)
	expSecond, _ := policy.ExpiryFor(store.KindSearchEntry, second)

	if got := expSecond - expFirst; got != int64((7*time.Hour).Seconds()) {
		t.Errorf("expiry gap = %ds, want %ds", got, int64((7*time.Hour).Seconds()))
	}
}

func TestIsExpired(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	withExpiry := func(unix int64) map[string]types.AttributeValue {
		return map[string]types.AttributeValue{
			"expires_at": &types.AttributeValueMemberN{Value: strconv.FormatInt(unix, 10)},
		}
	}

	tests := []struct {
		name string
		item map[string]types.AttributeValue
		want bool
	}{
		{"no expiry attribute", map[string]types.AttributeValue{}, false},
		{"future expiry", withExpiry(now.Unix() + 60), false},
		{"past expiry", withExpiry(now.Unix() - 60), true},
		{"expires exactly now", withExpiry(now.Unix()), true},
		{"wrong attribute type", map[string]types.AttributeValue{
			"expires_at": &types.AttributeValueMemberS{Value: "soon"},
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := store.IsExpired(tt.item, now); got != tt.want {
				t.Errorf("IsExpired = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNotExpiredFilterValues(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	values := store.NotExpiredFilterValues(now)
	n, ok := values[":now"].(*types.AttributeValueMemberN)
	if !ok {
		t.Fatalf(":now missing or wrong type: %#v", values[":now"])
	}
	if n.Value != strconv.FormatInt(now.Unix(), 10) {
		t.Errorf(":now = %q, want %d", n.Value, now.Unix())
	}
	if names := store.NotExpiredFilterNames(); names["#expires_at"] != "expires_at" {
		t.Errorf("filter names = %v", names)
	}
}
