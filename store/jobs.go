package store

import (
	"context"

	"github.com/google/uuid"
)

// Job status values. Status changes move the job between partitions of the
// status index.
const (
	JobPending   = "PENDING"
	JobRunning   = "RUNNING"
	JobCompleted = "COMPLETED"
	JobFailed    = "FAILED"
)

// Job types.
const (
	JobScriptGeneration  = "script_generation"
	JobProblemExtraction = "problem_extraction"
)

// Job is an async work record. Jobs age out per the retention policy.
type Job struct {
	JobID    string `dynamodbav:"job_id"`
	Type     string `dynamodbav:"type"`
	Status   string `dynamodbav:"status"`
	Payload  string `dynamodbav:"payload,omitempty"`
	Result   string `dynamodbav:"result,omitempty"`
	ErrorMsg string `dynamodbav:"error_msg,omitempty"`
	Attempts int    `dynamodbav:"attempts"`
}

func (j *Job) Kind() Kind       { return KindJob }
func (j *Job) KeyIDs() []string { return []string{j.JobID} }

// Jobs is the typed client for async job records.
type Jobs struct {
	store *Store
}

// Jobs returns the typed job client.
func (s *Store) Jobs() *Jobs {
	return &Jobs{store: s}
}

// Create stores a new job, generating a JobID when unset and defaulting the
// status to PENDING. Fails with ErrAlreadyExists if the JobID is taken.
func (c *Jobs) Create(ctx context.Context, j *Job) (*Item, error) {
	c.prepare(j)
	return c.store.Create(ctx, j)
}

// CreateIdempotent stores a job unconditionally. Use when the caller derives
// JobID from the work itself and re-submission must not fail.
func (c *Jobs) CreateIdempotent(ctx context.Context, j *Job) (*Item, error) {
	c.prepare(j)
	return c.store.CreateIdempotent(ctx, j)
}

func (c *Jobs) prepare(j *Job) {
	if j.JobID == "" {
		j.JobID = uuid.NewString()
	}
	if j.Status == "" {
		j.Status = JobPending
	}
}

// Get retrieves a job by ID.
func (c *Jobs) Get(ctx context.Context, jobID string) (*Job, *Item, error) {
	item, err := c.store.Get(ctx, KindJob, jobID)
	if err != nil {
		return nil, nil, err
	}
	var j Job
	if err := item.Unmarshal(&j); err != nil {
		return nil, nil, err
	}
	return &j, item, nil
}

// Update overwrites a job under an optimistic version check. A status change
// re-homes the job in the status index within the same write.
func (c *Jobs) Update(ctx context.Context, j *Job, expectedVersion int64) (*Item, error) {
	return c.store.Update(ctx, j, expectedVersion)
}

// ListByStatus reads one page of jobs in the given status, time-ordered.
func (c *Jobs) ListByStatus(ctx context.Context, status string, page Page) ([]Job, string, error) {
	items, next, err := c.store.QueryByIndex(ctx, IndexGSI1, JobStatusIndexPK(status), page)
	if err != nil {
		return nil, "", err
	}

	jobs := make([]Job, 0, len(items))
	for _, item := range items {
		var j Job
		if err := item.Unmarshal(&j); err != nil {
			return nil, "", err
		}
		jobs = append(jobs, j)
	}
	return jobs, next, nil
}
