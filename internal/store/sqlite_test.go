package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homeside-repairs/estimate-worker/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func submitJob(t *testing.T, s *SQLiteStore, name string, submittedAt time.Time) *model.Job {
	t.Helper()
	job, err := s.CreateJob(context.Background(), model.Job{
		CustomerName: name,
		Email:        "customer@example.com",
		DocumentURLs: []string{"https://docs.example.com/report.pdf"},
		SubmittedAt:  submittedAt,
	})
	require.NoError(t, err)
	return job
}

func TestSQLiteStore_JobRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	created := submitJob(t, s, "Dana Whitfield", time.Now().UTC())

	got, err := s.GetJob(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Dana Whitfield", got.CustomerName)
	assert.Equal(t, model.JobStatusQueued, got.Status)
	assert.Equal(t, []string{"https://docs.example.com/report.pdf"}, got.DocumentURLs)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.Estimate)
}

func TestSQLiteStore_GetJob_NotFound(t *testing.T) {
	s := newTestSQLiteStore(t)

	_, err := s.GetJob(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job not found")
}

func TestSQLiteStore_ClaimNext_OldestQueuedFirst(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	newer := submitJob(t, s, "Newer", base.Add(30*time.Minute))
	older := submitJob(t, s, "Older", base)

	claimed, err := s.ClaimNext(ctx, 20*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, older.ID, claimed.ID)
	assert.Equal(t, model.JobStatusProcessing, claimed.Status)
	require.NotNil(t, claimed.StartedAt)

	second, err := s.ClaimNext(ctx, 20*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, newer.ID, second.ID)
}

func TestSQLiteStore_ClaimNext_NoWork(t *testing.T) {
	s := newTestSQLiteStore(t)

	job, err := s.ClaimNext(context.Background(), 20*time.Minute)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestSQLiteStore_ClaimNext_FreshInProgressNotReclaimed(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	submitJob(t, s, "Dana", time.Now().UTC())
	claimed, err := s.ClaimNext(ctx, 20*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// Still fresh: a second invocation sees no claimable work.
	again, err := s.ClaimNext(ctx, 20*time.Minute)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestSQLiteStore_ClaimNext_StaleJobReclaimed(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	job := submitJob(t, s, "Dana", time.Now().UTC())
	claimed, err := s.ClaimNext(ctx, 20*time.Minute)
	require.NoError(t, err)
	require.Equal(t, job.ID, claimed.ID)

	// Simulate a crashed worker: backdate the progress timestamp past the
	// staleness horizon and leave an error from the dead attempt behind.
	stale := fmtTime(time.Now().UTC().Add(-45 * time.Minute))
	_, err = s.db.Exec(
		`UPDATE jobs SET started_at = ?, updated_at = ?, error = 'context deadline exceeded' WHERE id = ?`,
		stale, stale, job.ID,
	)
	require.NoError(t, err)

	reclaimed, err := s.ClaimNext(ctx, 20*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	assert.Equal(t, job.ID, reclaimed.ID)
	assert.Equal(t, model.JobStatusProcessing, reclaimed.Status)
	assert.Empty(t, reclaimed.Error, "claim clears the previous attempt's error")
}

func TestSQLiteStore_ClaimNext_DriftedStatusReclaimed(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	job := submitJob(t, s, "Dana", time.Now().UTC())
	stale := fmtTime(time.Now().UTC().Add(-45 * time.Minute))
	// Hand-edited status spelling still counts as in-progress.
	_, err := s.db.Exec(
		`UPDATE jobs SET status = 'In Progress', started_at = ?, updated_at = ? WHERE id = ?`,
		stale, stale, job.ID,
	)
	require.NoError(t, err)

	reclaimed, err := s.ClaimNext(ctx, 20*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	assert.Equal(t, job.ID, reclaimed.ID)
}

func TestSQLiteStore_CompleteJob(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	job := submitJob(t, s, "Dana", time.Now().UTC())
	_, err := s.ClaimNext(ctx, 20*time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.MarkAIStarted(ctx, job.ID))

	est := &model.Estimate{
		Summary:  "Water heater replacement",
		Subtotal: decimal.RequireFromString("375.00"),
		Total:    decimal.RequireFromString("405.94"),
	}
	err = s.CompleteJob(ctx, job.ID, CompletedJob{
		Estimate:        est,
		ConfigVersionID: "snap-7",
		Diagnostics: Diagnostics{
			UnmappedItems: []model.UnmappedItem{{Phrase: "mystery noise", Reason: "no catalog match"}},
		},
	})
	require.NoError(t, err)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusComplete, got.Status)
	assert.Equal(t, "snap-7", got.ConfigVersionID)
	require.NotNil(t, got.Estimate)
	assert.True(t, got.Estimate.Total.Equal(decimal.RequireFromString("405.94")))
	require.Len(t, got.UnmappedItems, 1)
	assert.Equal(t, "mystery noise", got.UnmappedItems[0].Phrase)
	require.NotNil(t, got.AICompletedAt)
	require.NotNil(t, got.CompletedAt)
}

func TestSQLiteStore_FailJob(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	job := submitJob(t, s, "Dana", time.Now().UTC())
	err := s.FailJob(ctx, job.ID, "fetch document: status 404", Diagnostics{
		ValidationErrors: []string{"document 1 unreachable"},
	})
	require.NoError(t, err)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, "fetch document: status 404", got.Error)
	assert.Equal(t, []string{"document 1 unreachable"}, got.ValidationErrors)
}

func TestSQLiteStore_EmailDelivery(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	job := submitJob(t, s, "Dana", time.Now().UTC())

	require.NoError(t, s.RecordEmailError(ctx, job.ID, "delivery api: status 503"))
	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "delivery api: status 503", got.EmailError)
	assert.Nil(t, got.EmailSentAt)

	sentAt := time.Now().UTC()
	require.NoError(t, s.RecordEmailSent(ctx, job.ID, sentAt))
	got, err = s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.EmailSentAt)
	assert.Empty(t, got.EmailError, "success clears the recorded delivery error")
}

func TestSQLiteStore_ListJobs_FilterAndOrder(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	a := submitJob(t, s, "A", base)
	b := submitJob(t, s, "B", base.Add(10*time.Minute))
	require.NoError(t, s.FailJob(ctx, a.ID, "boom", Diagnostics{}))

	all, err := s.ListJobs(ctx, JobFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, b.ID, all[0].ID, "newest first")

	failed, err := s.ListJobs(ctx, JobFilter{Status: model.JobStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, a.ID, failed[0].ID)
}

func TestSQLiteStore_SnapshotRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := s.LoadSnapshot(ctx)
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr, "no active snapshot is a configuration error")

	snap := &model.Snapshot{
		Catalog: []model.CatalogEntry{
			{Code: "WH40", Name: "Water heater, 40 gal", Unit: "each",
				UnitPrice: decimal.RequireFromString("1250.00"), MinQuantity: decimal.NewFromInt(1)},
			{Code: "TRIPFEE", Name: "Service trip fee", Unit: "each",
				UnitPrice: decimal.RequireFromString("85.00")},
		},
		Aliases: []model.AliasEntry{{Phrase: "water heater", Code: "WH40"}},
		Rules:   []model.RuleEntry{{Key: "tax_rate", Value: "8.25%", Priority: 10}},
		TripFee: &model.TripFeePolicy{Label: "standard", BaseFee: decimal.RequireFromString("85.00")},
		Template: &model.EmailTemplate{
			Subject: "Your repair estimate",
			Body:    "Hi {{.CustomerName}},",
		},
	}
	require.NoError(t, s.SaveSnapshot(ctx, snap, true))

	loaded, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap.ID, loaded.ID)
	assert.Equal(t, 1, loaded.Version)
	require.Len(t, loaded.Catalog, 2)

	entry, ok := loaded.Entry("WH40")
	require.True(t, ok)
	assert.True(t, entry.UnitPrice.Equal(decimal.RequireFromString("1250.00")))

	code, ok := loaded.AliasMatch("Replace the Water Heater in the garage")
	require.True(t, ok)
	assert.Equal(t, "WH40", code)

	rate := loaded.TaxRate(decimal.RequireFromString("0.0825"))
	assert.True(t, rate.Equal(decimal.RequireFromString("0.0825")))

	require.NotNil(t, loaded.TripFee)
	require.NotNil(t, loaded.Template)
}

func TestSQLiteStore_SaveSnapshot_ActivationFlips(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	first := &model.Snapshot{Catalog: []model.CatalogEntry{{Code: "X1", Name: "One", UnitPrice: decimal.NewFromInt(10)}}}
	require.NoError(t, s.SaveSnapshot(ctx, first, true))

	second := &model.Snapshot{Catalog: []model.CatalogEntry{{Code: "X2", Name: "Two", UnitPrice: decimal.NewFromInt(20)}}}
	require.NoError(t, s.SaveSnapshot(ctx, second, true))

	loaded, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, loaded.ID)
	assert.Equal(t, 2, loaded.Version)
	_, ok := loaded.Entry("X2")
	assert.True(t, ok)

	// Saving without activation leaves the active snapshot alone.
	third := &model.Snapshot{Catalog: []model.CatalogEntry{{Code: "X3", Name: "Three", UnitPrice: decimal.NewFromInt(30)}}}
	require.NoError(t, s.SaveSnapshot(ctx, third, false))
	loaded, err = s.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, loaded.ID)
}
