package store

import (
	"context"
	"strconv"
	"time"
)

// Problem is the parent metadata record for a coding problem.
type Problem struct {
	Platform    string   `dynamodbav:"platform"`
	ProblemID   string   `dynamodbav:"problem_id"`
	Title       string   `dynamodbav:"title"`
	URL         string   `dynamodbav:"url,omitempty"`
	Language    string   `dynamodbav:"language,omitempty"`
	Tags        []string `dynamodbav:"tags,omitempty"`
	Constraints string   `dynamodbav:"constraints,omitempty"`

	// IsPublic places the problem in the public listing index.
	IsPublic bool `dynamodbav:"is_public"`

	// NeedsReview places the problem in the manual-review queue index.
	NeedsReview bool `dynamodbav:"needs_review"`
}

func (p *Problem) Kind() Kind       { return KindProblem }
func (p *Problem) KeyIDs() []string { return []string{p.Platform, p.ProblemID} }

// TestCase is a child record of a problem. Its sort key derives from the
// batch creation time plus the case number, so re-submitting a batch
// overwrites instead of duplicating.
type TestCase struct {
	Platform  string `dynamodbav:"platform"`
	ProblemID string `dynamodbav:"problem_id"`
	Number    int    `dynamodbav:"number"`
	Input     string `dynamodbav:"input"`
	Output    string `dynamodbav:"output"`

	// BatchTime orders the case within the partition; AddTestCases stamps
	// it when zero. Not stored as an attribute - it lives in the sort key.
	BatchTime time.Time `dynamodbav:"-"`
}

func (t *TestCase) Kind() Kind { return KindTestCase }
func (t *TestCase) KeyIDs() []string {
	return []string{t.Platform, t.ProblemID, PaddedTime(t.BatchTime), strconv.Itoa(t.Number)}
}

// Problems is the typed client for the problem entity family.
type Problems struct {
	store *Store
}

// Problems returns the typed problem client.
func (s *Store) Problems() *Problems {
	return &Problems{store: s}
}

// Create stores a new problem, failing with ErrAlreadyExists when the
// (platform, problemID) pair is taken.
func (c *Problems) Create(ctx context.Context, p *Problem) (*Item, error) {
	return c.store.Create(ctx, p)
}

// Get retrieves a problem's metadata by its natural identifiers.
func (c *Problems) Get(ctx context.Context, platform, problemID string) (*Problem, *Item, error) {
	item, err := c.store.Get(ctx, KindProblem, platform, problemID)
	if err != nil {
		return nil, nil, err
	}
	var p Problem
	if err := item.Unmarshal(&p); err != nil {
		return nil, nil, err
	}
	return &p, item, nil
}

// GetWithTestCases retrieves a problem and one page of its test cases in
// creation order with a single range query. The problem is only populated on
// the first page.
func (c *Problems) GetWithTestCases(ctx context.Context, platform, problemID string, page Page) (*Problem, []TestCase, string, error) {
	parent, children, next, err := c.store.GetWithChildren(ctx, KindProblem, []string{platform, problemID}, page)
	if err != nil {
		return nil, nil, "", err
	}

	var p *Problem
	if parent != nil {
		p = new(Problem)
		if err := parent.Unmarshal(p); err != nil {
			return nil, nil, "", err
		}
	}

	cases := make([]TestCase, 0, len(children))
	for _, child := range children {
		var tc TestCase
		if err := child.Unmarshal(&tc); err != nil {
			return nil, nil, "", err
		}
		cases = append(cases, tc)
	}

	return p, cases, next, nil
}

// AddTestCases writes a batch of test cases under the problem's partition.
// The cases are stamped in place with the platform, problem id, and one
// shared batch time (from the clock when unset) before anything is written,
// so the caller's structs keep the sort-key inputs. Re-submitting the same
// stamped batch - after a lost response or an error partway through -
// overwrites instead of duplicating. Cases the store could not persist come
// back in BatchResult.Failed.
func (c *Problems) AddTestCases(ctx context.Context, platform, problemID string, cases []*TestCase) (*BatchResult, error) {
	batchTime := c.store.config.Clock()

	children := make([]Entity, len(cases))
	for i, tc := range cases {
		tc.Platform = platform
		tc.ProblemID = problemID
		if tc.BatchTime.IsZero() {
			tc.BatchTime = batchTime
		}
		children[i] = tc
	}

	return c.store.BatchCreateChildren(ctx, children)
}

// Update overwrites a problem's attributes under an optimistic version
// check, recomputing index membership. ErrConflict means re-read and retry.
func (c *Problems) Update(ctx context.Context, p *Problem, expectedVersion int64) (*Item, error) {
	return c.store.Update(ctx, p, expectedVersion)
}

// SoftDelete hides a problem from every listing while keeping it readable by
// primary key.
func (c *Problems) SoftDelete(ctx context.Context, platform, problemID string) error {
	return c.store.SoftDelete(ctx, KindProblem, platform, problemID)
}

// Delete removes a problem's metadata permanently. Its test cases are left
// for the stream purge handler.
func (c *Problems) Delete(ctx context.Context, platform, problemID string) error {
	return c.store.Delete(ctx, KindProblem, platform, problemID)
}

// ListPublic reads one page of public problems created in the time bucket
// containing at. Listing a longer window means walking adjacent buckets.
func (c *Problems) ListPublic(ctx context.Context, at time.Time, page Page) ([]Problem, string, error) {
	items, next, err := c.store.QueryByIndex(ctx, IndexGSI1, c.store.PublicIndexPK(at), page)
	if err != nil {
		return nil, "", err
	}
	problems, err := unmarshalProblems(items)
	return problems, next, err
}

// ListReviewQueue reads one page of the manual-review queue from the given
// hash shard. Callers cover the queue by iterating shards
// 0..Config.ReviewShards-1.
func (c *Problems) ListReviewQueue(ctx context.Context, shardNum int, page Page) ([]Problem, string, error) {
	items, next, err := c.store.QueryByIndex(ctx, IndexGSI2, c.store.ReviewIndexPK(shardNum), page)
	if err != nil {
		return nil, "", err
	}
	problems, err := unmarshalProblems(items)
	return problems, next, err
}

func unmarshalProblems(items []*Item) ([]Problem, error) {
	problems := make([]Problem, 0, len(items))
	for _, item := range items {
		var p Problem
		if err := item.Unmarshal(&p); err != nil {
			return nil, err
		}
		problems = append(problems, p)
	}
	return problems, nil
}
