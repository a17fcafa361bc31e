package store

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Query shape tokens embedded in cursors. A cursor only resumes the query
// shape that issued it.
const (
	shapePrimary = "primary"
	shapeGSI1    = IndexGSI1
	shapeGSI2    = IndexGSI2
)

// cursorPayload is the serialized form of a continuation cursor: the query
// shape plus the key attributes of the last evaluated item. All key
// attributes in the schema are strings.
type cursorPayload struct {
	Shape string            `json:"s"`
	Keys  map[string]string `json:"k"`
}

// encodeCursor packs DynamoDB's LastEvaluatedKey into an opaque token tied to
// one query shape. Returns "" when there are no further pages.
func encodeCursor(shape string, lastKey map[string]types.AttributeValue) string {
	if len(lastKey) == 0 {
		return ""
	}

	payload := cursorPayload{Shape: shape, Keys: make(map[string]string, len(lastKey))}
	for name, av := range lastKey {
		if s, ok := av.(*types.AttributeValueMemberS); ok {
			payload.Keys[name] = s.Value
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return base64.URLEncoding.EncodeToString(data)
}

// decodeCursor unpacks a cursor into an ExclusiveStartKey, verifying it was
// issued by the given query shape. An empty cursor means "start from the
// beginning" and decodes to nil.
func decodeCursor(shape, cursor string) (map[string]types.AttributeValue, error) {
	if cursor == "" {
		return nil, nil
	}

	data, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	var payload cursorPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if payload.Shape != shape {
		return nil, fmt.Errorf("%w: cursor for %q replayed against %q", ErrInvalidCursor, payload.Shape, shape)
	}
	if len(payload.Keys) == 0 {
		return nil, fmt.Errorf("%w: empty key set", ErrInvalidCursor)
	}

	key := make(map[string]types.AttributeValue, len(payload.Keys))
	for name, value := range payload.Keys {
		key[name] = &types.AttributeValueMemberS{Value: value}
	}
	return key, nil
}
