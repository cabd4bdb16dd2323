package store

import (
	"context"
	"time"

	"github.com/homeside-repairs/estimate-worker/internal/model"
)

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status model.JobStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the estimate pipeline. The job
// table is the sole coordination mechanism between overlapping worker
// invocations; every lifecycle transition goes through these methods.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, job model.Job) (*model.Job, error)
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)

	// Claiming. ClaimNext returns (nil, nil) when no work is available.
	// Queued jobs are preferred oldest-first; in-progress jobs whose
	// progress timestamp is older than staleAfter are reclaimed next.
	ClaimNext(ctx context.Context, staleAfter time.Duration) (*model.Job, error)

	// Lifecycle transitions. All writes use canonical status spellings.
	MarkAIStarted(ctx context.Context, jobID string) error
	CompleteJob(ctx context.Context, jobID string, outcome CompletedJob) error
	FailJob(ctx context.Context, jobID string, errMsg string, diags Diagnostics) error
	RecordEmailSent(ctx context.Context, jobID string, sentAt time.Time) error
	RecordEmailError(ctx context.Context, jobID string, emailErr string) error

	// Configuration snapshots
	LoadSnapshot(ctx context.Context) (*model.Snapshot, error)
	SaveSnapshot(ctx context.Context, snap *model.Snapshot, activate bool) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Diagnostics carries the audit fields persisted with every terminal write,
// success or failure.
type Diagnostics struct {
	ValidationErrors []string
	UnmappedItems    []model.UnmappedItem
}

// CompletedJob is the terminal success payload.
type CompletedJob struct {
	Estimate        *model.Estimate
	ConfigVersionID string
	Diagnostics     Diagnostics
}
