package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/homeside-repairs/estimate-worker/internal/model"
)

// SQLiteStore implements Store on an embedded database for local development
// and single-operator setups. Timestamps are stored as RFC 3339 text; status
// normalization happens Go-side since SQLite lacks regexp_replace.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (and creates if needed) a SQLite database at path.
// Use ":memory:" for an ephemeral store in tests.
func NewSQLite(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// modernc.org/sqlite serializes access; a single connection avoids
	// SQLITE_BUSY under concurrent writers.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{db: sqlDB}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id                TEXT PRIMARY KEY,
	customer_name     TEXT NOT NULL,
	email             TEXT NOT NULL,
	phone             TEXT,
	notes             TEXT,
	document_urls     TEXT NOT NULL DEFAULT '[]',
	submitted_at      TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'queued',
	started_at        TEXT,
	ai_started_at     TEXT,
	ai_completed_at   TEXT,
	completed_at      TEXT,
	email_sent_at     TEXT,
	error             TEXT,
	email_error       TEXT,
	config_version_id TEXT,
	estimate          TEXT,
	validation_errors TEXT,
	unmapped_items    TEXT,
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_submitted_at ON jobs(submitted_at);

CREATE TABLE IF NOT EXISTS config_snapshots (
	id         TEXT PRIMARY KEY,
	version    INTEGER NOT NULL,
	active     INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS catalog_entries (
	id           TEXT PRIMARY KEY,
	snapshot_id  TEXT NOT NULL REFERENCES config_snapshots(id),
	code         TEXT NOT NULL,
	name         TEXT NOT NULL,
	unit         TEXT,
	unit_price   TEXT NOT NULL,
	min_quantity TEXT,
	notes        TEXT,
	active       INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS alias_entries (
	id          TEXT PRIMARY KEY,
	snapshot_id TEXT NOT NULL REFERENCES config_snapshots(id),
	phrase      TEXT NOT NULL,
	code        TEXT NOT NULL,
	active      INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS rule_entries (
	id          TEXT PRIMARY KEY,
	snapshot_id TEXT NOT NULL REFERENCES config_snapshots(id),
	key         TEXT NOT NULL,
	value       TEXT NOT NULL,
	priority    INTEGER NOT NULL DEFAULT 100,
	active      INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS trip_fee_policies (
	id              TEXT PRIMARY KEY,
	snapshot_id     TEXT NOT NULL REFERENCES config_snapshots(id),
	label           TEXT NOT NULL,
	base_fee        TEXT NOT NULL,
	per_mile        TEXT,
	after_hours_fee TEXT,
	active          INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS email_templates (
	id          TEXT PRIMARY KEY,
	snapshot_id TEXT NOT NULL REFERENCES config_snapshots(id),
	subject     TEXT NOT NULL,
	body        TEXT NOT NULL,
	active      INTEGER NOT NULL DEFAULT 1
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return eris.Wrap(s.db.Close(), "sqlite: close")
}

const sqliteJobColumns = `id, customer_name, email, phone, notes, document_urls, submitted_at,
	status, started_at, ai_started_at, ai_completed_at, completed_at, email_sent_at,
	error, email_error, config_version_id, estimate, validation_errors, unmapped_items,
	created_at, updated_at`

func (s *SQLiteStore) CreateJob(ctx context.Context, job model.Job) (*model.Job, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = now
	}
	if job.Status == "" {
		job.Status = model.JobStatusQueued
	}
	job.CreatedAt = now
	job.UpdatedAt = now

	urlsJSON, err := json.Marshal(job.DocumentURLs)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal document urls")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, customer_name, email, phone, notes, document_urls, submitted_at, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.CustomerName, job.Email, job.Phone, job.Notes, string(urlsJSON),
		fmtTime(job.SubmittedAt), string(job.Status), fmtTime(now), fmtTime(now),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert job")
	}
	return &job, nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteJobColumns+` FROM jobs WHERE id = ?`, jobID)
	job, err := scanSQLiteJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Errorf("job not found: %s", jobID)
		}
		return nil, eris.Wrapf(err, "sqlite: get job %s", jobID)
	}
	return job, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	jobs, err := s.allJobs(ctx)
	if err != nil {
		return nil, err
	}

	if filter.Status != "" {
		filtered := jobs[:0]
		for _, j := range jobs {
			if model.NormalizeStatus(string(j.Status)) == model.NormalizeStatus(string(filter.Status)) {
				filtered = append(filtered, j)
			}
		}
		jobs = filtered
	}

	sort.SliceStable(jobs, func(i, k int) bool {
		return jobs[i].SubmittedAt.After(jobs[k].SubmittedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(jobs) {
			return nil, nil
		}
		jobs = jobs[filter.Offset:]
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *SQLiteStore) allJobs(ctx context.Context) ([]model.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteJobColumns+` FROM jobs`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		job, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: iterate jobs")
}

// ClaimNext mirrors the Postgres claim logic with status normalization done
// in Go: oldest queued first, then the oldest stale in-progress job.
func (s *SQLiteStore) ClaimNext(ctx context.Context, staleAfter time.Duration) (*model.Job, error) {
	jobs, err := s.allJobs(ctx)
	if err != nil {
		return nil, err
	}

	var queued []model.Job
	var inProgress []model.Job
	for _, j := range jobs {
		switch model.NormalizeStatus(string(j.Status)) {
		case model.NormalizeStatus(string(model.JobStatusQueued)):
			queued = append(queued, j)
		case model.NormalizeStatus(string(model.JobStatusProcessing)),
			model.NormalizeStatus(string(model.JobStatusAIStarted)):
			inProgress = append(inProgress, j)
		}
	}

	var pick *model.Job
	if len(queued) > 0 {
		sort.SliceStable(queued, func(i, k int) bool {
			return queued[i].SubmittedAt.Before(queued[k].SubmittedAt)
		})
		pick = &queued[0]
	} else {
		cutoff := time.Now().UTC().Add(-staleAfter)
		var stale []model.Job
		for _, j := range inProgress {
			if ts := progressTimestamp(j); ts != nil && ts.Before(cutoff) {
				stale = append(stale, j)
			}
		}
		if len(stale) == 0 {
			return nil, nil
		}
		sort.SliceStable(stale, func(i, k int) bool {
			return progressTimestamp(stale[i]).Before(*progressTimestamp(stale[k]))
		})
		pick = &stale[0]
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, started_at = ?, ai_started_at = NULL,
		 ai_completed_at = NULL, error = NULL, email_error = NULL, updated_at = ? WHERE id = ?`,
		string(model.JobStatusProcessing), fmtTime(now), fmtTime(now), pick.ID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: claim job %s", pick.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, eris.Errorf("job not found: %s", pick.ID)
	}

	pick.Status = model.JobStatusProcessing
	pick.StartedAt = &now
	pick.AIStartedAt = nil
	pick.AICompletedAt = nil
	pick.Error = ""
	pick.EmailError = ""
	pick.UpdatedAt = now
	return pick, nil
}

// progressTimestamp is the freshest evidence a claimed job is still moving.
func progressTimestamp(j model.Job) *time.Time {
	if j.AIStartedAt != nil {
		return j.AIStartedAt
	}
	if j.StartedAt != nil {
		return j.StartedAt
	}
	ts := j.UpdatedAt
	return &ts
}

func (s *SQLiteStore) MarkAIStarted(ctx context.Context, jobID string) error {
	now := fmtTime(time.Now().UTC())
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, ai_started_at = ?, updated_at = ? WHERE id = ?`,
		string(model.JobStatusAIStarted), now, now, jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark ai started %s", jobID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("job not found: %s", jobID)
	}
	return nil
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, jobID string, outcome CompletedJob) error {
	estimateJSON, err := json.Marshal(outcome.Estimate)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal estimate")
	}
	validationJSON, unmappedJSON, err := marshalDiagnostics(outcome.Diagnostics)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal diagnostics")
	}

	now := fmtTime(time.Now().UTC())
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, estimate = ?, config_version_id = ?,
		 validation_errors = ?, unmapped_items = ?,
		 ai_completed_at = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		string(model.JobStatusComplete), string(estimateJSON), outcome.ConfigVersionID,
		string(validationJSON), string(unmappedJSON), now, now, now, jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete job %s", jobID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("job not found: %s", jobID)
	}
	return nil
}

func (s *SQLiteStore) FailJob(ctx context.Context, jobID string, errMsg string, diags Diagnostics) error {
	validationJSON, unmappedJSON, err := marshalDiagnostics(diags)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal diagnostics")
	}

	now := fmtTime(time.Now().UTC())
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = ?, validation_errors = ?,
		 unmapped_items = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		string(model.JobStatusFailed), errMsg, string(validationJSON), string(unmappedJSON), now, now, jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail job %s", jobID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("job not found: %s", jobID)
	}
	return nil
}

func (s *SQLiteStore) RecordEmailSent(ctx context.Context, jobID string, sentAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET email_sent_at = ?, email_error = NULL, updated_at = ? WHERE id = ?`,
		fmtTime(sentAt), fmtTime(time.Now().UTC()), jobID,
	)
	return eris.Wrapf(err, "sqlite: record email sent %s", jobID)
}

func (s *SQLiteStore) RecordEmailError(ctx context.Context, jobID string, emailErr string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET email_error = ?, updated_at = ? WHERE id = ?`,
		emailErr, fmtTime(time.Now().UTC()), jobID,
	)
	return eris.Wrapf(err, "sqlite: record email error %s", jobID)
}

func (s *SQLiteStore) LoadSnapshot(ctx context.Context) (*model.Snapshot, error) {
	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM config_snapshots WHERE active = 1`,
	).Scan(&count); err != nil {
		return nil, eris.Wrap(err, "sqlite: count active snapshots")
	}
	if count != 1 {
		return nil, &ConfigurationError{
			Reason: fmt.Sprintf("expected exactly 1 active snapshot, found %d", count),
		}
	}

	snap := &model.Snapshot{}
	var createdAt string
	if err := s.db.QueryRowContext(ctx,
		`SELECT id, version, created_at FROM config_snapshots WHERE active = 1`,
	).Scan(&snap.ID, &snap.Version, &createdAt); err != nil {
		return nil, eris.Wrap(err, "sqlite: load active snapshot")
	}
	var err error
	if snap.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse snapshot created_at")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT code, name, COALESCE(unit, ''), unit_price, COALESCE(min_quantity, '0'), COALESCE(notes, '')
		 FROM catalog_entries WHERE snapshot_id = ? AND active = 1 ORDER BY code`, snap.ID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load catalog")
	}
	defer rows.Close()
	for rows.Next() {
		var e model.CatalogEntry
		var priceStr, minQtyStr string
		if err := rows.Scan(&e.Code, &e.Name, &e.Unit, &priceStr, &minQtyStr, &e.Notes); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan catalog entry")
		}
		if e.UnitPrice, err = decimal.NewFromString(priceStr); err != nil {
			return nil, eris.Wrapf(err, "sqlite: catalog entry %s unit_price", e.Code)
		}
		if e.MinQuantity, err = decimal.NewFromString(minQtyStr); err != nil {
			return nil, eris.Wrapf(err, "sqlite: catalog entry %s min_quantity", e.Code)
		}
		snap.Catalog = append(snap.Catalog, e)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate catalog")
	}

	aliasRows, err := s.db.QueryContext(ctx,
		`SELECT phrase, code FROM alias_entries WHERE snapshot_id = ? AND active = 1`, snap.ID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load aliases")
	}
	defer aliasRows.Close()
	for aliasRows.Next() {
		var a model.AliasEntry
		if err := aliasRows.Scan(&a.Phrase, &a.Code); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan alias")
		}
		snap.Aliases = append(snap.Aliases, a)
	}
	if err := aliasRows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate aliases")
	}

	ruleRows, err := s.db.QueryContext(ctx,
		`SELECT key, value, priority FROM rule_entries WHERE snapshot_id = ? AND active = 1
		 ORDER BY priority, key`, snap.ID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load rules")
	}
	defer ruleRows.Close()
	for ruleRows.Next() {
		var r model.RuleEntry
		if err := ruleRows.Scan(&r.Key, &r.Value, &r.Priority); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan rule")
		}
		snap.Rules = append(snap.Rules, r)
	}
	if err := ruleRows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate rules")
	}

	var p model.TripFeePolicy
	var baseStr, perMileStr, afterHoursStr string
	err = s.db.QueryRowContext(ctx,
		`SELECT label, base_fee, COALESCE(per_mile, '0'), COALESCE(after_hours_fee, '0')
		 FROM trip_fee_policies WHERE snapshot_id = ? AND active = 1 LIMIT 1`, snap.ID,
	).Scan(&p.Label, &baseStr, &perMileStr, &afterHoursStr)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, eris.Wrap(err, "sqlite: load trip fee policy")
	default:
		if p.BaseFee, err = decimal.NewFromString(baseStr); err != nil {
			return nil, eris.Wrap(err, "sqlite: trip fee base_fee")
		}
		if p.PerMile, err = decimal.NewFromString(perMileStr); err != nil {
			return nil, eris.Wrap(err, "sqlite: trip fee per_mile")
		}
		if p.AfterHoursFee, err = decimal.NewFromString(afterHoursStr); err != nil {
			return nil, eris.Wrap(err, "sqlite: trip fee after_hours_fee")
		}
		snap.TripFee = &p
	}

	var t model.EmailTemplate
	err = s.db.QueryRowContext(ctx,
		`SELECT subject, body FROM email_templates WHERE snapshot_id = ? AND active = 1 LIMIT 1`, snap.ID,
	).Scan(&t.Subject, &t.Body)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, eris.Wrap(err, "sqlite: load email template")
	default:
		snap.Template = &t
	}

	snap.BuildIndexes()
	return snap, nil
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *model.Snapshot, activate bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin snapshot tx")
	}
	defer tx.Rollback()

	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	if snap.Version == 0 {
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(max(version), 0) + 1 FROM config_snapshots`,
		).Scan(&snap.Version); err != nil {
			return eris.Wrap(err, "sqlite: next snapshot version")
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO config_snapshots (id, version, active, created_at) VALUES (?, ?, 0, ?)`,
		snap.ID, snap.Version, fmtTime(snap.CreatedAt),
	); err != nil {
		return eris.Wrap(err, "sqlite: insert snapshot")
	}

	for _, e := range snap.Catalog {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO catalog_entries (id, snapshot_id, code, name, unit, unit_price, min_quantity, notes)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), snap.ID, e.Code, e.Name, e.Unit,
			e.UnitPrice.String(), e.MinQuantity.String(), e.Notes,
		); err != nil {
			return eris.Wrap(err, "sqlite: insert catalog entry")
		}
	}
	for _, a := range snap.Aliases {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO alias_entries (id, snapshot_id, phrase, code) VALUES (?, ?, ?, ?)`,
			uuid.New().String(), snap.ID, a.Phrase, a.Code,
		); err != nil {
			return eris.Wrap(err, "sqlite: insert alias")
		}
	}
	for _, r := range snap.Rules {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO rule_entries (id, snapshot_id, key, value, priority) VALUES (?, ?, ?, ?, ?)`,
			uuid.New().String(), snap.ID, r.Key, r.Value, r.Priority,
		); err != nil {
			return eris.Wrap(err, "sqlite: insert rule")
		}
	}
	if snap.TripFee != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO trip_fee_policies (id, snapshot_id, label, base_fee, per_mile, after_hours_fee)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), snap.ID, snap.TripFee.Label,
			snap.TripFee.BaseFee.String(), snap.TripFee.PerMile.String(), snap.TripFee.AfterHoursFee.String(),
		); err != nil {
			return eris.Wrap(err, "sqlite: insert trip fee policy")
		}
	}
	if snap.Template != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO email_templates (id, snapshot_id, subject, body) VALUES (?, ?, ?, ?)`,
			uuid.New().String(), snap.ID, snap.Template.Subject, snap.Template.Body,
		); err != nil {
			return eris.Wrap(err, "sqlite: insert email template")
		}
	}

	if activate {
		if _, err := tx.ExecContext(ctx, `UPDATE config_snapshots SET active = 0 WHERE active = 1`); err != nil {
			return eris.Wrap(err, "sqlite: deactivate snapshots")
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE config_snapshots SET active = 1 WHERE id = ?`, snap.ID,
		); err != nil {
			return eris.Wrap(err, "sqlite: activate snapshot")
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit snapshot tx")
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanSQLiteJob(row rowScanner) (*model.Job, error) {
	var j model.Job
	var phone, notes, errMsg, emailErr, configVersion sql.NullString
	var urlsJSON, estimateJSON, validationJSON, unmappedJSON sql.NullString
	var rawStatus, submittedAt, createdAt, updatedAt string
	var startedAt, aiStartedAt, aiCompletedAt, completedAt, emailSentAt sql.NullString

	if err := row.Scan(
		&j.ID, &j.CustomerName, &j.Email, &phone, &notes, &urlsJSON, &submittedAt,
		&rawStatus, &startedAt, &aiStartedAt, &aiCompletedAt, &completedAt,
		&emailSentAt, &errMsg, &emailErr, &configVersion,
		&estimateJSON, &validationJSON, &unmappedJSON,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	j.Phone = phone.String
	j.Notes = notes.String
	j.Error = errMsg.String
	j.EmailError = emailErr.String
	j.ConfigVersionID = configVersion.String

	if canonical, ok := model.MatchStatus(rawStatus); ok {
		j.Status = canonical
	} else {
		j.Status = model.JobStatus(rawStatus)
	}

	var err error
	if j.SubmittedAt, err = time.Parse(time.RFC3339Nano, submittedAt); err != nil {
		return nil, eris.Wrap(err, "parse submitted_at")
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, eris.Wrap(err, "parse created_at")
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, eris.Wrap(err, "parse updated_at")
	}
	for _, f := range []struct {
		src  sql.NullString
		dst  **time.Time
		name string
	}{
		{startedAt, &j.StartedAt, "started_at"},
		{aiStartedAt, &j.AIStartedAt, "ai_started_at"},
		{aiCompletedAt, &j.AICompletedAt, "ai_completed_at"},
		{completedAt, &j.CompletedAt, "completed_at"},
		{emailSentAt, &j.EmailSentAt, "email_sent_at"},
	} {
		t, err := parseNullTime(f.src)
		if err != nil {
			return nil, eris.Wrapf(err, "parse %s", f.name)
		}
		*f.dst = t
	}

	if urlsJSON.Valid && urlsJSON.String != "" {
		if err := json.Unmarshal([]byte(urlsJSON.String), &j.DocumentURLs); err != nil {
			return nil, eris.Wrap(err, "unmarshal document urls")
		}
	}
	if estimateJSON.Valid && estimateJSON.String != "" {
		j.Estimate = &model.Estimate{}
		if err := json.Unmarshal([]byte(estimateJSON.String), j.Estimate); err != nil {
			return nil, eris.Wrap(err, "unmarshal estimate")
		}
	}
	if validationJSON.Valid && validationJSON.String != "" {
		if err := json.Unmarshal([]byte(validationJSON.String), &j.ValidationErrors); err != nil {
			return nil, eris.Wrap(err, "unmarshal validation errors")
		}
	}
	if unmappedJSON.Valid && unmappedJSON.String != "" {
		if err := json.Unmarshal([]byte(unmappedJSON.String), &j.UnmappedItems); err != nil {
			return nil, eris.Wrap(err, "unmarshal unmapped items")
		}
	}
	return &j, nil
}
