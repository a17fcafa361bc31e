package store

import (
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Managed attribute names. These are owned by the store and stripped from
// caller-supplied attributes on every write.
const (
	attrPK        = "pk"
	attrSK        = "sk"
	attrVersion   = "version"
	attrCreatedAt = "created_at"
	attrUpdatedAt = "updated_at"
	attrExpiresAt = "expires_at"
	attrDeletedAt = "deleted_at"

	attrGSI1PK = "gsi1pk"
	attrGSI1SK = "gsi1sk"
	attrGSI2PK = "gsi2pk"
	attrGSI2SK = "gsi2sk"
)

// Entity is the base interface for all storable types. Implementations carry
// a closed attribute schema (dynamodbav tags); the store attaches keys,
// managed fields, and index projections around it.
type Entity interface {
	// Kind returns the entity family.
	Kind() Kind

	// KeyIDs returns the natural identifiers fed to the key codec, in the
	// order EncodeKey expects for this kind.
	KeyIDs() []string
}

// Item represents a stored item with its managed fields decoded.
type Item struct {
	// Raw is the raw DynamoDB item, including entity attributes.
	Raw map[string]types.AttributeValue

	// PK and SK are the composite primary key.
	PK string
	SK string

	// Version is the optimistic lock version.
	Version int64

	// CreatedAt and UpdatedAt are ISO 8601 timestamps.
	CreatedAt string
	UpdatedAt string

	// ExpiresAt is the Unix expiry timestamp, 0 when the item never expires.
	ExpiresAt int64

	// DeletedAt is the ISO 8601 soft-delete marker, empty for active items.
	DeletedAt string
}

// Unmarshal decodes the item's attributes into an entity struct.
func (it *Item) Unmarshal(out any) error {
	return attributevalue.UnmarshalMap(it.Raw, out)
}

// Deleted reports whether the item carries a soft-delete marker.
func (it *Item) Deleted() bool {
	return it.DeletedAt != ""
}

// Expired reports whether the item is past its expiry timestamp. Expired
// items may still be readable until DynamoDB purges them.
func (it *Item) Expired(now time.Time) bool {
	return it.ExpiresAt != 0 && it.ExpiresAt <= now.Unix()
}

// CreatedTime parses the item's creation timestamp.
func (it *Item) CreatedTime() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, it.CreatedAt)
}

// unmarshalItem converts a raw DynamoDB item to an Item struct.
func unmarshalItem(raw map[string]types.AttributeValue) *Item {
	item := &Item{Raw: raw}

	if v, ok := raw[attrPK].(*types.AttributeValueMemberS); ok {
		item.PK = v.Value
	}
	if v, ok := raw[attrSK].(*types.AttributeValueMemberS); ok {
		item.SK = v.Value
	}
	if v, ok := raw[attrVersion].(*types.AttributeValueMemberN); ok {
		item.Version, _ = strconv.ParseInt(v.Value, 10, 64)
	}
	if v, ok := raw[attrCreatedAt].(*types.AttributeValueMemberS); ok {
		item.CreatedAt = v.Value
	}
	if v, ok := raw[attrUpdatedAt].(*types.AttributeValueMemberS); ok {
		item.UpdatedAt = v.Value
	}
	if v, ok := raw[attrExpiresAt].(*types.AttributeValueMemberN); ok {
		item.ExpiresAt, _ = strconv.ParseInt(v.Value, 10, 64)
	}
	if v, ok := raw[attrDeletedAt].(*types.AttributeValueMemberS); ok {
		item.DeletedAt = v.Value
	}

	return item
}

// managedAttrs lists every attribute the store owns. Caller-supplied values
// for these are discarded on write.
var managedAttrs = map[string]bool{
	attrPK:        true,
	attrSK:        true,
	attrVersion:   true,
	attrCreatedAt: true,
	attrUpdatedAt: true,
	attrExpiresAt: true,
	attrDeletedAt: true,
	attrGSI1PK:    true,
	attrGSI1SK:    true,
	attrGSI2PK:    true,
	attrGSI2SK:    true,
}
