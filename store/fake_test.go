package store_test

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/GwonsooLee/argoitny-sub002/store"
)

// fakeClient is an in-memory DynamoDB substitute understanding the expression
// subset the store generates: conditional puts, SET/REMOVE/ADD updates with
// version arithmetic, partition and GSI queries with begins_with, limits,
// exclusive start keys, and the expiry filter.
type fakeClient struct {
	mu sync.Mutex

	// items maps pk -> sk -> attributes.
	items map[string]map[string]map[string]types.AttributeValue

	// throttleNext makes the next n calls fail with a throughput error.
	throttleNext int

	// unprocessedSKs marks sort keys BatchWriteItem always reports back as
	// unprocessed.
	unprocessedSKs map[string]bool

	calls int
}

var _ store.DynamoDBAPI = (*fakeClient)(nil)

func newFakeClient() *fakeClient {
	return &fakeClient{
		items:          make(map[string]map[string]map[string]types.AttributeValue),
		unprocessedSKs: make(map[string]bool),
	}
}

func (f *fakeClient) throttled() error {
	if f.throttleNext > 0 {
		f.throttleNext--
		return &types.ProvisionedThroughputExceededException{}
	}
	return nil
}

func strAttr(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func numAttr(item map[string]types.AttributeValue, name string) (int64, bool) {
	if v, ok := item[name].(*types.AttributeValueMemberN); ok {
		n, err := strconv.ParseInt(v.Value, 10, 64)
		return n, err == nil
	}
	return 0, false
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func (f *fakeClient) get(pk, sk string) map[string]types.AttributeValue {
	if part, ok := f.items[pk]; ok {
		return part[sk]
	}
	return nil
}

func (f *fakeClient) put(item map[string]types.AttributeValue) {
	pk, sk := strAttr(item, "pk"), strAttr(item, "sk")
	if f.items[pk] == nil {
		f.items[pk] = make(map[string]map[string]types.AttributeValue)
	}
	f.items[pk][sk] = copyItem(item)
}

// resolveName maps an expression name placeholder to an attribute name.
func resolveName(token string, names map[string]string) string {
	if strings.HasPrefix(token, "#") {
		if name, ok := names[token]; ok {
			return name
		}
	}
	return token
}

// checkCondition evaluates the AND-joined condition terms the store emits.
func checkCondition(expr string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) bool {
	for _, term := range strings.Split(expr, " AND ") {
		term = strings.TrimSpace(term)
		switch {
		case strings.HasPrefix(term, "attribute_not_exists("):
			attr := resolveName(strings.TrimSuffix(strings.TrimPrefix(term, "attribute_not_exists("), ")"), names)
			if item != nil {
				if _, ok := item[attr]; ok {
					return false
				}
			}
		case strings.HasPrefix(term, "attribute_exists("):
			attr := resolveName(strings.TrimSuffix(strings.TrimPrefix(term, "attribute_exists("), ")"), names)
			if item == nil {
				return false
			}
			if _, ok := item[attr]; !ok {
				return false
			}
		case strings.Contains(term, " = "):
			parts := strings.SplitN(term, " = ", 2)
			left := item[resolveName(strings.TrimSpace(parts[0]), names)]
			right := values[strings.TrimSpace(parts[1])]
			if !attrEqual(left, right) {
				return false
			}
		default:
			panic("fake: unsupported condition term " + term)
		}
	}
	return true
}

func attrEqual(a, b types.AttributeValue) bool {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		return ok && av.Value == bv.Value
	}
	return false
}

// applyUpdate interprets the SET/REMOVE/ADD grammar the store and quota
// packages generate.
func applyUpdate(expr string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) {
	rest := expr

	var setPart, removePart, addPart string
	if i := strings.Index(rest, " REMOVE "); i >= 0 {
		removePart = rest[i+len(" REMOVE "):]
		rest = rest[:i]
	}
	if i := strings.Index(rest, " ADD "); i >= 0 {
		addPart = rest[i+len(" ADD "):]
		rest = rest[:i]
	}
	if strings.HasPrefix(rest, "SET ") {
		setPart = strings.TrimPrefix(rest, "SET ")
	}

	for _, clause := range splitClauses(setPart) {
		parts := strings.SplitN(clause, " = ", 2)
		target := resolveName(strings.TrimSpace(parts[0]), names)
		rhs := strings.TrimSpace(parts[1])
		switch {
		case strings.HasPrefix(rhs, "if_not_exists("):
			inner := strings.TrimSuffix(strings.TrimPrefix(rhs, "if_not_exists("), ")")
			args := strings.SplitN(inner, ",", 2)
			if _, ok := item[resolveName(strings.TrimSpace(args[0]), names)]; !ok {
				item[target] = values[strings.TrimSpace(args[1])]
			}
		case strings.Contains(rhs, " + "):
			args := strings.SplitN(rhs, " + ", 2)
			base, _ := numAttr(item, resolveName(strings.TrimSpace(args[0]), names))
			delta := int64(0)
			if v, ok := values[strings.TrimSpace(args[1])].(*types.AttributeValueMemberN); ok {
				delta, _ = strconv.ParseInt(v.Value, 10, 64)
			}
			item[target] = &types.AttributeValueMemberN{Value: strconv.FormatInt(base+delta, 10)}
		default:
			item[target] = values[rhs]
		}
	}

	for _, name := range splitClauses(removePart) {
		delete(item, resolveName(strings.TrimSpace(name), names))
	}

	for _, clause := range splitClauses(addPart) {
		parts := strings.Fields(clause)
		target := resolveName(parts[0], names)
		base, _ := numAttr(item, target)
		delta := int64(0)
		if v, ok := values[parts[1]].(*types.AttributeValueMemberN); ok {
			delta, _ = strconv.ParseInt(v.Value, 10, 64)
		}
		item[target] = &types.AttributeValueMemberN{Value: strconv.FormatInt(base+delta, 10)}
	}
}

// splitClauses splits comma-separated clauses, ignoring commas inside
// function calls like if_not_exists(a, b).
func splitClauses(s string) []string {
	var out []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				if c := strings.TrimSpace(s[start:i]); c != "" {
					out = append(out, c)
				}
				start = i + 1
			}
		}
	}
	if c := strings.TrimSpace(s[start:]); c != "" {
		out = append(out, c)
	}
	return out
}

// --- DynamoDBAPI ---

func (f *fakeClient) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.throttled(); err != nil {
		return nil, err
	}

	item := f.get(strAttr(params.Key, "pk"), strAttr(params.Key, "sk"))
	return &dynamodb.GetItemOutput{Item: copyItem(item)}, nil
}

func (f *fakeClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.throttled(); err != nil {
		return nil, err
	}

	if params.ConditionExpression != nil {
		existing := f.get(strAttr(params.Item, "pk"), strAttr(params.Item, "sk"))
		if !checkCondition(*params.ConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues, existing) {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	f.put(params.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeClient) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.throttled(); err != nil {
		return nil, err
	}

	pk, sk := strAttr(params.Key, "pk"), strAttr(params.Key, "sk")
	item := f.get(pk, sk)

	if params.ConditionExpression != nil {
		if !checkCondition(*params.ConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues, item) {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}

	// UpdateItem upserts when no condition rejects the missing item.
	if item == nil {
		item = map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: pk},
			"sk": &types.AttributeValueMemberS{Value: sk},
		}
	} else {
		item = copyItem(item)
	}

	applyUpdate(*params.UpdateExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues, item)
	f.put(item)

	out := &dynamodb.UpdateItemOutput{}
	if params.ReturnValues == types.ReturnValueAllNew {
		out.Attributes = copyItem(item)
	}
	return out, nil
}

func (f *fakeClient) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.throttled(); err != nil {
		return nil, err
	}

	pk, sk := strAttr(params.Key, "pk"), strAttr(params.Key, "sk")
	if part, ok := f.items[pk]; ok {
		delete(part, sk)
	}
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeClient) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.throttled(); err != nil {
		return nil, err
	}

	names := params.ExpressionAttributeNames
	values := params.ExpressionAttributeValues

	var pkAttr, skAttr, skPrefix string
	cond := *params.KeyConditionExpression
	terms := strings.Split(cond, " AND ")
	eq := strings.SplitN(terms[0], " = ", 2)
	pkAttr = resolveName(strings.TrimSpace(eq[0]), names)
	pkVal := strAttr(values, strings.TrimSpace(eq[1]))
	if len(terms) > 1 {
		inner := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(terms[1]), "begins_with("), ")")
		args := strings.SplitN(inner, ",", 2)
		skPrefix = strAttr(values, strings.TrimSpace(args[1]))
	}

	indexed := params.IndexName != nil
	if indexed {
		skAttr = strings.ToLower(*params.IndexName) + "sk"
	} else {
		skAttr = "sk"
	}

	// Collect and sort matching items.
	var matches []map[string]types.AttributeValue
	if indexed {
		for _, part := range f.items {
			for _, item := range part {
				if strAttr(item, pkAttr) == pkVal {
					matches = append(matches, item)
				}
			}
		}
	} else {
		for sk, item := range f.items[pkVal] {
			if skPrefix == "" || strings.HasPrefix(sk, skPrefix) {
				matches = append(matches, item)
			}
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		a := strAttr(matches[i], skAttr) + strAttr(matches[i], "pk") + strAttr(matches[i], "sk")
		b := strAttr(matches[j], skAttr) + strAttr(matches[j], "pk") + strAttr(matches[j], "sk")
		return a < b
	})
	if params.ScanIndexForward != nil && !*params.ScanIndexForward {
		for i, j := 0, len(matches)-1; i < j; i, j = i+1, j-1 {
			matches[i], matches[j] = matches[j], matches[i]
		}
	}

	// Resume after the exclusive start key.
	start := 0
	if params.ExclusiveStartKey != nil {
		spk, ssk := strAttr(params.ExclusiveStartKey, "pk"), strAttr(params.ExclusiveStartKey, "sk")
		for i, item := range matches {
			if strAttr(item, "pk") == spk && strAttr(item, "sk") == ssk {
				start = i + 1
				break
			}
		}
	}

	limit := len(matches)
	if params.Limit != nil {
		limit = int(*params.Limit)
	}
	end := start + limit
	if end > len(matches) {
		end = len(matches)
	}
	page := matches[start:end]

	out := &dynamodb.QueryOutput{}
	if end < len(matches) && len(page) > 0 {
		last := page[len(page)-1]
		lek := map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: strAttr(last, "pk")},
			"sk": &types.AttributeValueMemberS{Value: strAttr(last, "sk")},
		}
		if indexed {
			ipk := strings.ToLower(*params.IndexName) + "pk"
			lek[ipk] = &types.AttributeValueMemberS{Value: strAttr(last, ipk)}
			lek[skAttr] = &types.AttributeValueMemberS{Value: strAttr(last, skAttr)}
		}
		out.LastEvaluatedKey = lek
	}

	// The expiry filter runs after the page is cut, as DynamoDB does.
	for _, item := range page {
		if params.FilterExpression != nil {
			if exp, ok := numAttr(item, "expires_at"); ok {
				if now, ok2 := numAttr(values, ":now"); ok2 && exp <= now {
					continue
				}
			}
		}
		out.Items = append(out.Items, copyItem(item))
	}

	return out, nil
}

func (f *fakeClient) BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.throttled(); err != nil {
		return nil, err
	}

	out := &dynamodb.BatchWriteItemOutput{UnprocessedItems: map[string][]types.WriteRequest{}}
	for table, requests := range params.RequestItems {
		if len(requests) > 25 {
			panic("fake: batch exceeds 25 items")
		}
		for _, wr := range requests {
			switch {
			case wr.PutRequest != nil:
				if f.unprocessedSKs[strAttr(wr.PutRequest.Item, "sk")] {
					out.UnprocessedItems[table] = append(out.UnprocessedItems[table], wr)
					continue
				}
				f.put(wr.PutRequest.Item)
			case wr.DeleteRequest != nil:
				pk, sk := strAttr(wr.DeleteRequest.Key, "pk"), strAttr(wr.DeleteRequest.Key, "sk")
				if part, ok := f.items[pk]; ok {
					delete(part, sk)
				}
			}
		}
	}
	return out, nil
}
