package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/GwonsooLee/argoitny-sub002/internal/shard"
)

// Secondary index names. Both indexes are overloaded: unrelated listings
// coexist under distinct partition-key prefixes, and membership is sparse -
// index key attributes exist only on items that should appear in a listing.
const (
	// IndexGSI1 carries public problems (PUBLIC#<bucket>) and jobs by
	// status (JOBSTATUS#<status>).
	IndexGSI1 = "GSI1"

	// IndexGSI2 carries the manual-review queue (REVIEW#<nn>).
	IndexGSI2 = "GSI2"
)

// Index partition-key prefixes.
const (
	publicIndexPrefix = "PUBLIC"
	statusIndexPrefix = "JOBSTATUS"
	reviewIndexPrefix = "REVIEW"
)

// Projection is a secondary index key pair attached to an item.
type Projection struct {
	Index string
	PK    string
	SK    string
}

// PublicIndexPK returns the GSI1 partition key for public problems created
// in the time bucket containing t. The bucket width is Config.PublicShardWidth;
// listing a window means querying each bucket it spans.
func (s *Store) PublicIndexPK(t time.Time) string {
	return join(publicIndexPrefix, shard.TimeBucket(t, s.config.PublicShardWidth))
}

// ReviewIndexPK returns the GSI2 partition key for review-queue shard n.
// Callers listing the whole queue iterate shards 0..Config.ReviewShards-1.
func (s *Store) ReviewIndexPK(n int) string {
	return join(reviewIndexPrefix, shard.Label(n))
}

// JobStatusIndexPK returns the GSI1 partition key for jobs in the given
// status.
func JobStatusIndexPK(status string) string {
	return join(statusIndexPrefix, status)
}

// projectionsFor computes the sparse index projections an entity should
// carry, as a pure function of its attributes and creation time. Projections
// are recomputed on every mutating write; an index whose predicate no longer
// holds is explicitly removed by the update path.
func (s *Store) projectionsFor(e Entity, createdAt time.Time) []Projection {
	var projections []Projection
	orderKey := PaddedTime(createdAt)

	switch v := e.(type) {
	case *Problem:
		if v.IsPublic {
			projections = append(projections, Projection{
				Index: IndexGSI1,
				PK:    s.PublicIndexPK(createdAt),
				SK:    orderKey,
			})
		}
		if v.NeedsReview {
			n := shard.Hash(join(v.Platform, v.ProblemID), s.config.ReviewShards)
			projections = append(projections, Projection{
				Index: IndexGSI2,
				PK:    s.ReviewIndexPK(n),
				SK:    orderKey,
			})
		}

	case *Job:
		if v.Status != "" {
			projections = append(projections, Projection{
				Index: IndexGSI1,
				PK:    JobStatusIndexPK(v.Status),
				SK:    orderKey,
			})
		}
	}

	return projections
}

// indexKeyAttrs maps an index name to its (pk, sk) attribute names.
func indexKeyAttrs(index string) (string, string) {
	if index == IndexGSI2 {
		return attrGSI2PK, attrGSI2SK
	}
	return attrGSI1PK, attrGSI1SK
}

// QueryByIndex reads one page of an index partition, time-ordered by the
// index sort key. It issues a single query bounded by the page size and
// returns a continuation cursor scoped to the index. Soft-deleted items never
// appear because their index attributes are removed at write time; logically
// expired items are filtered defensively.
func (s *Store) QueryByIndex(ctx context.Context, index, indexPK string, page Page) ([]*Item, string, error) {
	if index != IndexGSI1 && index != IndexGSI2 {
		return nil, "", fmt.Errorf("%w: unknown index %q", ErrMalformedKey, index)
	}

	startKey, err := decodeCursor(index, page.Cursor)
	if err != nil {
		return nil, "", err
	}

	pkAttr, _ := indexKeyAttrs(index)
	now := s.config.Clock()

	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.config.TableName),
		IndexName:              aws.String(index),
		KeyConditionExpression: aws.String("#ipk = :ipk"),
		FilterExpression:       aws.String(NotExpiredFilterExpr()),
		ExpressionAttributeNames: map[string]string{
			"#ipk":        pkAttr,
			"#expires_at": attrExpiresAt,
		},
		ExpressionAttributeValues: mergeExprValues(
			map[string]types.AttributeValue{
				":ipk": &types.AttributeValueMemberS{Value: indexPK},
			},
			NotExpiredFilterValues(now),
		),
		Limit:             aws.Int32(s.pageLimit(page)),
		ScanIndexForward:  aws.Bool(!page.Descending),
		ExclusiveStartKey: startKey,
	}

	var out *dynamodb.QueryOutput
	err = s.withRetry(ctx, func(ctx context.Context) error {
		var qerr error
		out, qerr = s.client.Query(ctx, input)
		return qerr
	})
	if err != nil {
		return nil, "", err
	}

	items := make([]*Item, 0, len(out.Items))
	for _, raw := range out.Items {
		items = append(items, unmarshalItem(raw))
	}

	return items, encodeCursor(index, out.LastEvaluatedKey), nil
}
