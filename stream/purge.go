// Package stream provides DynamoDB Streams handlers that keep entity-group
// partitions consistent after parent items disappear.
//
// When a problem's metadata item is removed - by a hard delete or by the
// table's TTL sweeper - its test cases are still co-located in the partition.
// The handler watches the stream for parent removals and purges the leftover
// children, so no orphaned records linger.
package stream

import (
	"context"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/GwonsooLee/argoitny-sub002/store"
)

// Purger deletes the remaining children of a partition. *store.Store
// satisfies it.
type Purger interface {
	PurgeChildren(ctx context.Context, pk string) (int, error)
}

var _ Purger = (*store.Store)(nil)

// Handler processes DynamoDB stream events for orphan cleanup.
type Handler struct {
	purger Purger
	logger *slog.Logger
}

// NewHandler creates a new stream handler.
func NewHandler(p Purger, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		purger: p,
		logger: logger,
	}
}

// HandleParentRemoval processes DynamoDB stream events, purging the children
// of every removed parent metadata item. This function is designed to be
// used as an AWS Lambda handler.
func (h *Handler) HandleParentRemoval(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

// processRecord purges children for a single removed parent. Removals of
// child records, counter buckets, and other families are ignored; the purge
// itself is idempotent, so replayed records are harmless.
func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	if record.EventName != "REMOVE" {
		return nil
	}

	pk := getStringAttr(record.Change.Keys, "pk")
	sk := getStringAttr(record.Change.Keys, "sk")

	kind, ids, err := store.DecodeKey(pk, sk)
	if err != nil {
		// Not a key the codec knows; nothing of ours to clean up.
		return nil
	}
	if kind != store.KindProblem {
		return nil
	}

	h.logger.Info("purging children of removed parent",
		"pk", pk,
		"ids", ids,
	)

	purged, err := h.purger.PurgeChildren(ctx, pk)
	if err != nil {
		return err
	}

	h.logger.Info("purge completed",
		"pk", pk,
		"childrenPurged", purged,
	)
	return nil
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}
