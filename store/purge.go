package store

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// PurgeChildren hard-deletes every child record left in a partition after its
// parent metadata item is gone, walking the full range regardless of expiry
// or soft-delete state. The parent sort key is skipped if still present.
// Idempotent: purging an empty partition deletes nothing.
func (s *Store) PurgeChildren(ctx context.Context, pk string) (int, error) {
	purged := 0

	var startKey map[string]types.AttributeValue
	for {
		input := &dynamodb.QueryInput{
			TableName:                aws.String(s.config.TableName),
			KeyConditionExpression:   aws.String("#pk = :pk"),
			ProjectionExpression:     aws.String("#pk, #sk"),
			ExpressionAttributeNames: map[string]string{"#pk": attrPK, "#sk": attrSK},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: pk},
			},
			ExclusiveStartKey: startKey,
		}

		var out *dynamodb.QueryOutput
		err := s.withRetry(ctx, func(ctx context.Context) error {
			var qerr error
			out, qerr = s.client.Query(ctx, input)
			return qerr
		})
		if err != nil {
			return purged, err
		}

		var deletes []types.WriteRequest
		for _, raw := range out.Items {
			item := unmarshalItem(raw)
			if item.SK == skMeta {
				continue
			}
			deletes = append(deletes, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: primaryKey(item.PK, item.SK)},
			})
		}

		for start := 0; start < len(deletes); start += batchWriteLimit {
			end := start + batchWriteLimit
			if end > len(deletes) {
				end = len(deletes)
			}
			unprocessed, err := s.writeChunk(ctx, deletes[start:end])
			if err != nil {
				return purged, err
			}
			purged += (end - start) - len(unprocessed)
		}

		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	return purged, nil
}
