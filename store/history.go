package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SearchEntry is one record in a user's search-history timeline. Entries are
// append-only and age out per the retention policy.
type SearchEntry struct {
	UserID    string `dynamodbav:"user_id"`
	EntryID   string `dynamodbav:"entry_id"`
	Query     string `dynamodbav:"query"`
	Platform  string `dynamodbav:"platform,omitempty"`
	ProblemID string `dynamodbav:"problem_id,omitempty"`
	Language  string `dynamodbav:"language,omitempty"`

	// Hit records whether the search resolved to a stored problem.
	Hit bool `dynamodbav:"hit"`

	// At orders the entry within the timeline; Append stamps it when zero.
	// Not stored as an attribute - it lives in the sort key.
	At time.Time `dynamodbav:"-"`
}

func (e *SearchEntry) Kind() Kind { return KindSearchEntry }
func (e *SearchEntry) KeyIDs() []string {
	return []string{e.UserID, PaddedTime(e.At), e.EntryID}
}

// Histories is the typed client for per-user search-history timelines.
type Histories struct {
	store *Store
}

// Histories returns the typed search-history client.
func (s *Store) Histories() *Histories {
	return &Histories{store: s}
}

// Append records a new timeline entry. EntryID and At are filled from uuid
// and the clock when unset. The timestamp-plus-id sort key makes collisions
// within a user's timeline practically impossible, so the write is
// unconditional.
func (h *Histories) Append(ctx context.Context, e *SearchEntry) (*Item, error) {
	if e.EntryID == "" {
		e.EntryID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = h.store.config.Clock()
	}
	return h.store.CreateIdempotent(ctx, e)
}

// List reads one page of a user's timeline in creation order, or
// newest-first when page.Descending is set.
func (h *Histories) List(ctx context.Context, userID string, page Page) ([]SearchEntry, string, error) {
	if userID == "" || strings.Contains(userID, keySep) {
		return nil, "", fmt.Errorf("%w: bad user id %q", ErrMalformedKey, userID)
	}

	items, next, err := h.store.queryPartition(ctx, join(typeHistory, userID), EntrySKPrefix, page)
	if err != nil {
		return nil, "", err
	}

	entries := make([]SearchEntry, 0, len(items))
	for _, item := range items {
		var e SearchEntry
		if err := item.Unmarshal(&e); err != nil {
			return nil, "", err
		}
		entries = append(entries, e)
	}
	return entries, next, nil
}
