package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Store provides single-table DynamoDB operations for all entity families.
type Store struct {
	client DynamoDBAPI
	config Config
	logger *slog.Logger
}

// New creates a new Store instance on top of an injected DynamoDB client.
func New(client DynamoDBAPI, config Config) *Store {
	config.validate()
	return &Store{
		client: client,
		config: config,
		logger: config.Logger,
	}
}

// Config returns the store's normalized configuration.
func (s *Store) Config() Config {
	return s.config
}

// Page bounds a list operation. A zero Page means the first page at the
// default size in ascending order.
type Page struct {
	// Limit is the maximum number of items to evaluate (0 = default).
	Limit int32

	// Cursor resumes a previous query of the same shape.
	Cursor string

	// Descending reverses traversal to newest-first.
	Descending bool
}

// pageLimit normalizes a page size against configured bounds.
func (s *Store) pageLimit(p Page) int32 {
	if p.Limit <= 0 {
		return s.config.DefaultPageSize
	}
	if p.Limit > s.config.MaxPageSize {
		return s.config.MaxPageSize
	}
	return p.Limit
}

// newItem builds the raw DynamoDB item for an entity: attributes, composite
// key, managed fields, expiry, and sparse index projections.
func (s *Store) newItem(e Entity, now time.Time) (map[string]types.AttributeValue, error) {
	pk, sk, err := EncodeKey(e.Kind(), e.KeyIDs()...)
	if err != nil {
		return nil, err
	}

	raw, err := attributevalue.MarshalMap(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", e.Kind(), err)
	}
	for name := range managedAttrs {
		delete(raw, name)
	}

	nowISO := now.UTC().Format(time.RFC3339Nano)
	raw[attrPK] = &types.AttributeValueMemberS{Value: pk}
	raw[attrSK] = &types.AttributeValueMemberS{Value: sk}
	raw[attrVersion] = &types.AttributeValueMemberN{Value: "1"}
	raw[attrCreatedAt] = &types.AttributeValueMemberS{Value: nowISO}
	raw[attrUpdatedAt] = &types.AttributeValueMemberS{Value: nowISO}

	if exp, ok := s.config.Retention.ExpiryFor(e.Kind(), now); ok {
		raw[attrExpiresAt] = &types.AttributeValueMemberN{Value: strconv.FormatInt(exp, 10)}
	}

	for _, p := range s.projectionsFor(e, now) {
		pkAttr, skAttr := indexKeyAttrs(p.Index)
		raw[pkAttr] = &types.AttributeValueMemberS{Value: p.PK}
		raw[skAttr] = &types.AttributeValueMemberS{Value: p.SK}
	}

	return raw, nil
}

// Create stores a new entity, failing with ErrAlreadyExists if an item with
// the same key is already present.
func (s *Store) Create(ctx context.Context, e Entity) (*Item, error) {
	return s.create(ctx, e, true)
}

// CreateIdempotent stores an entity unconditionally, overwriting any item
// with the same key. Use for writes that may be re-submitted, such as child
// batches with derivable sort keys.
func (s *Store) CreateIdempotent(ctx context.Context, e Entity) (*Item, error) {
	return s.create(ctx, e, false)
}

func (s *Store) create(ctx context.Context, e Entity, conditional bool) (*Item, error) {
	raw, err := s.newItem(e, s.config.Clock())
	if err != nil {
		return nil, err
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(s.config.TableName),
		Item:      raw,
	}
	if conditional {
		input.ConditionExpression = aws.String("attribute_not_exists(#pk)")
		input.ExpressionAttributeNames = map[string]string{"#pk": attrPK}
	}

	err = s.withRetry(ctx, func(ctx context.Context) error {
		_, perr := s.client.PutItem(ctx, input)
		return perr
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return nil, ErrAlreadyExists
		}
		return nil, err
	}

	return unmarshalItem(raw), nil
}

// Get retrieves an item by its natural identifiers. Soft-deleted items are
// returned (they stay addressable by primary key for audit); logically
// expired items are not.
func (s *Store) Get(ctx context.Context, kind Kind, ids ...string) (*Item, error) {
	pk, sk, err := EncodeKey(kind, ids...)
	if err != nil {
		return nil, err
	}

	var out *dynamodb.GetItemOutput
	err = s.withRetry(ctx, func(ctx context.Context) error {
		var gerr error
		out, gerr = s.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: aws.String(s.config.TableName),
			Key:       primaryKey(pk, sk),
		})
		return gerr
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	if IsExpired(out.Item, s.config.Clock()) {
		return nil, ErrNotFound
	}

	return unmarshalItem(out.Item), nil
}

// GetWithChildren retrieves a parent and one page of its children with a
// single range query over the partition, in creation order. The parent is
// only populated on the first page; continuation pages return children alone.
// A partition holding children but no parent metadata is a data-integrity
// problem: it is logged and reported as ErrNotFound.
func (s *Store) GetWithChildren(ctx context.Context, kind Kind, ids []string, page Page) (*Item, []*Item, string, error) {
	pk, _, err := EncodeKey(kind, ids...)
	if err != nil {
		return nil, nil, "", err
	}

	page.Descending = false // children are always served in creation order
	items, next, err := s.queryPartition(ctx, pk, "", page)
	if err != nil {
		return nil, nil, "", err
	}

	if page.Cursor != "" {
		return nil, items, next, nil
	}

	if len(items) == 0 {
		return nil, nil, "", ErrNotFound
	}
	if items[0].SK != skMeta {
		s.logger.Warn("partition has children but no parent metadata",
			"pk", pk,
			"firstSK", items[0].SK,
		)
		return nil, nil, "", ErrNotFound
	}

	return items[0], items[1:], next, nil
}

// queryPartition reads one page of a partition's primary range, optionally
// restricted to a sort-key prefix. Cursors are scoped to the primary query
// shape.
func (s *Store) queryPartition(ctx context.Context, pk, skPrefix string, page Page) ([]*Item, string, error) {
	startKey, err := decodeCursor(shapePrimary, page.Cursor)
	if err != nil {
		return nil, "", err
	}

	keyCond := "#pk = :pk"
	exprNames := map[string]string{"#pk": attrPK, "#expires_at": attrExpiresAt}
	exprValues := mergeExprValues(
		map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk},
		},
		NotExpiredFilterValues(s.config.Clock()),
	)
	if skPrefix != "" {
		keyCond += " AND begins_with(#sk, :skp)"
		exprNames["#sk"] = attrSK
		exprValues[":skp"] = &types.AttributeValueMemberS{Value: skPrefix}
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.config.TableName),
		KeyConditionExpression:    aws.String(keyCond),
		FilterExpression:          aws.String(NotExpiredFilterExpr()),
		ExpressionAttributeNames:  exprNames,
		ExpressionAttributeValues: exprValues,
		Limit:                     aws.Int32(s.pageLimit(page)),
		ScanIndexForward:          aws.Bool(!page.Descending),
		ExclusiveStartKey:         startKey,
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

	return items, encodeCursor(shapePrimary, out.LastEvaluatedKey), nil
}

// Update overwrites an entity's attributes under an optimistic version check
// and recomputes its index projections in the same write. The new state is
// authoritative: stored attributes it omits are removed, as are projections
// whose membership predicate became false. A version mismatch or a
// soft-deleted target returns ErrConflict; the caller re-reads and retries.
func (s *Store) Update(ctx context.Context, e Entity, expectedVersion int64) (*Item, error) {
	current, err := s.Get(ctx, e.Kind(), e.KeyIDs()...)
	if err != nil {
		return nil, err
	}
	createdAt, err := current.CreatedTime()
	if err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", current.CreatedAt, err)
	}

	raw, err := attributevalue.MarshalMap(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", e.Kind(), err)
	}

	now := s.config.Clock()
	exprNames := map[string]string{
		"#updated_at": attrUpdatedAt,
		"#version":    attrVersion,
		"#deleted_at": attrDeletedAt,
	}
	exprValues := map[string]types.AttributeValue{
		":updated_at":       &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339Nano)},
		":one":              &types.AttributeValueMemberN{Value: "1"},
		":expected_version": &types.AttributeValueMemberN{Value: strconv.FormatInt(expectedVersion, 10)},
	}

	var setClauses []string
	for i, name := range sortedAttrNames(raw) {
		if managedAttrs[name] {
			continue
		}
		nameKey := fmt.Sprintf("#attr%d", i)
		valueKey := fmt.Sprintf(":val%d", i)
		exprNames[nameKey] = name
		exprValues[valueKey] = raw[name]
		setClauses = append(setClauses, fmt.Sprintf("%s = %s", nameKey, valueKey))
	}
	setClauses = append(setClauses, "#updated_at = :updated_at", "#version = #version + :one")

	// Attributes the stored item carries but the new state omits (cleared
	// omitempty fields) are removed in the same write, never left stale.
	var removeClauses []string
	for i, name := range sortedAttrNames(current.Raw) {
		if managedAttrs[name] {
			continue
		}
		if _, ok := raw[name]; ok {
			continue
		}
		nameKey := fmt.Sprintf("#old%d", i)
		exprNames[nameKey] = name
		removeClauses = append(removeClauses, nameKey)
	}

	// Recompute sparse projections from the new attribute values. SET the
	// memberships that hold, REMOVE the ones that no longer do.
	present := map[string]Projection{}
	for _, p := range s.projectionsFor(e, createdAt) {
		present[p.Index] = p
	}
	for _, index := range []string{IndexGSI1, IndexGSI2} {
		pkAttr, skAttr := indexKeyAttrs(index)
		pkName, skName := "#"+pkAttr, "#"+skAttr
		exprNames[pkName] = pkAttr
		exprNames[skName] = skAttr
		if p, ok := present[index]; ok {
			exprValues[":"+pkAttr] = &types.AttributeValueMemberS{Value: p.PK}
			exprValues[":"+skAttr] = &types.AttributeValueMemberS{Value: p.SK}
			setClauses = append(setClauses,
				fmt.Sprintf("%s = :%s", pkName, pkAttr),
				fmt.Sprintf("%s = :%s", skName, skAttr),
			)
		} else {
			removeClauses = append(removeClauses, pkName, skName)
		}
	}

	updateExpr := "SET " + strings.Join(setClauses, ", ")
	if len(removeClauses) > 0 {
		updateExpr += " REMOVE " + strings.Join(removeClauses, ", ")
	}

	pk, sk, err := EncodeKey(e.Kind(), e.KeyIDs()...)
	if err != nil {
		return nil, err
	}

	var out *dynamodb.UpdateItemOutput
	err = s.withRetry(ctx, func(ctx context.Context) error {
		var uerr error
		out, uerr = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 aws.String(s.config.TableName),
			Key:                       primaryKey(pk, sk),
			UpdateExpression:          aws.String(updateExpr),
			ConditionExpression:       aws.String("#version = :expected_version AND attribute_not_exists(#deleted_at)"),
			ExpressionAttributeNames:  exprNames,
			ExpressionAttributeValues: exprValues,
			ReturnValues:              types.ReturnValueAllNew,
		})
		return uerr
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return nil, ErrConflict
		}
		return nil, err
	}

	return unmarshalItem(out.Attributes), nil
}

// BatchResult reports the outcome of a batched write. Failed holds the
// entities the store could not persist after bounded retries; callers retry
// only those.
type BatchResult struct {
	Written int
	Failed  []Entity
}

// batchWriteLimit is DynamoDB's per-call item ceiling for BatchWriteItem.
const batchWriteLimit = 25

// BatchCreateChildren persists a batch of child entities in chunks within the
// store's per-call item limit. Batch writes are unconditional puts, so child
// sort keys must be derivable from the entities themselves; re-submitting the
// same batch overwrites rather than duplicates. Partial failures are returned
// in BatchResult.Failed, never silently dropped. On cancellation mid-batch,
// completed chunks are not rolled back.
func (s *Store) BatchCreateChildren(ctx context.Context, children []Entity) (*BatchResult, error) {
	result := &BatchResult{}
	if len(children) == 0 {
		return result, nil
	}

	now := s.config.Clock()
	byKey := make(map[string]Entity, len(children))

	var requests []types.WriteRequest
	for _, child := range children {
		raw, err := s.newItem(child, now)
		if err != nil {
			return nil, err
		}
		pk := raw[attrPK].(*types.AttributeValueMemberS).Value
		sk := raw[attrSK].(*types.AttributeValueMemberS).Value
		byKey[pk+"\x00"+sk] = child
		requests = append(requests, types.WriteRequest{
			PutRequest: &types.PutRequest{Item: raw},
		})
	}

	for start := 0; start < len(requests); start += batchWriteLimit {
		end := start + batchWriteLimit
		if end > len(requests) {
			end = len(requests)
		}
		chunk := requests[start:end]

		unprocessed, err := s.writeChunk(ctx, chunk)
		if err != nil {
			return nil, err
		}
		result.Written += len(chunk) - len(unprocessed)
		for _, wr := range unprocessed {
			pk := wr.PutRequest.Item[attrPK].(*types.AttributeValueMemberS).Value
			sk := wr.PutRequest.Item[attrSK].(*types.AttributeValueMemberS).Value
			if child, ok := byKey[pk+"\x00"+sk]; ok {
				result.Failed = append(result.Failed, child)
			}
		}
	}

	return result, nil
}

// writeChunk submits one BatchWriteItem call and re-drives unprocessed items
// a bounded number of times before reporting them back.
func (s *Store) writeChunk(ctx context.Context, chunk []types.WriteRequest) ([]types.WriteRequest, error) {
	pending := chunk
	for attempt := 0; len(pending) > 0 && attempt <= s.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := s.backoff(ctx, attempt); err != nil {
				return pending, err
			}
		}

		var out *dynamodb.BatchWriteItemOutput
		err := s.withRetry(ctx, func(ctx context.Context) error {
			var berr error
			out, berr = s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: map[string][]types.WriteRequest{
					s.config.TableName: pending,
				},
			})
			return berr
		})
		if err != nil {
			return pending, err
		}
		pending = out.UnprocessedItems[s.config.TableName]
	}
	return pending, nil
}

// Delete removes an item permanently.
func (s *Store) Delete(ctx context.Context, kind Kind, ids ...string) error {
	pk, sk, err := EncodeKey(kind, ids...)
	if err != nil {
		return err
	}

	return s.withRetry(ctx, func(ctx context.Context) error {
		_, derr := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.config.TableName),
			Key:       primaryKey(pk, sk),
		})
		return derr
	})
}

// SoftDelete marks an item deleted and clears its index projections in one
// write, so it vanishes from listings while staying readable by primary key.
// Soft-deleting a missing or already-deleted item is a no-op.
func (s *Store) SoftDelete(ctx context.Context, kind Kind, ids ...string) error {
	pk, sk, err := EncodeKey(kind, ids...)
	if err != nil {
		return err
	}
	nowISO := s.config.Clock().UTC().Format(time.RFC3339Nano)

	err = s.withRetry(ctx, func(ctx context.Context) error {
		_, uerr := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName: aws.String(s.config.TableName),
			Key:       primaryKey(pk, sk),
			UpdateExpression: aws.String(
				"SET #deleted_at = :now, #updated_at = :now, #version = #version + :one" +
					" REMOVE #gsi1pk, #gsi1sk, #gsi2pk, #gsi2sk"),
			ConditionExpression: aws.String("attribute_exists(#pk) AND attribute_not_exists(#deleted_at)"),
			ExpressionAttributeNames: map[string]string{
				"#pk":         attrPK,
				"#deleted_at": attrDeletedAt,
				"#updated_at": attrUpdatedAt,
				"#version":    attrVersion,
				"#gsi1pk":     attrGSI1PK,
				"#gsi1sk":     attrGSI1SK,
				"#gsi2pk":     attrGSI2PK,
				"#gsi2sk":     attrGSI2SK,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":now": &types.AttributeValueMemberS{Value: nowISO},
				":one": &types.AttributeValueMemberN{Value: "1"},
			},
		})
		return uerr
	})

	// Ignore condition failure - missing or already soft-deleted.
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return nil
	}
	return err
}

// withRetry runs op, retrying throttle errors with capped, jittered
// exponential backoff. Logical errors pass through untouched; exhausted
// retries surface as ErrThrottled.
func (s *Store) withRetry(ctx context.Context, op func(context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = op(ctx)
		if err == nil || !isThrottle(err) {
			return err
		}
		if attempt >= s.config.MaxRetries {
			return fmt.Errorf("%w: %v", ErrThrottled, err)
		}
		if berr := s.backoff(ctx, attempt+1); berr != nil {
			return berr
		}
	}
}

// backoff sleeps for the jittered delay of the given attempt, or returns
// early on context cancellation.
func (s *Store) backoff(ctx context.Context, attempt int) error {
	delay := s.config.RetryBaseDelay << (attempt - 1)
	delay += time.Duration(rand.Int64N(int64(delay) + 1))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// isThrottle reports whether err signals table capacity exhaustion.
func isThrottle(err error) bool {
	var provErr *types.ProvisionedThroughputExceededException
	if errors.As(err, &provErr) {
		return true
	}
	var limitErr *types.RequestLimitExceeded
	return errors.As(err, &limitErr)
}

// primaryKey builds the composite key attribute map.
func primaryKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: pk},
		attrSK: &types.AttributeValueMemberS{Value: sk},
	}
}

// sortedAttrNames returns the attribute names of a raw item in stable order,
// so generated update expressions are deterministic.
func sortedAttrNames(raw map[string]types.AttributeValue) []string {
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// mergeExprValues merges multiple expression attribute value maps.
func mergeExprValues(maps ...map[string]types.AttributeValue) map[string]types.AttributeValue {
	result := make(map[string]types.AttributeValue)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}
