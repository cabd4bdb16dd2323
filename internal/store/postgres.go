package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/homeside-repairs/estimate-worker/internal/db"
	"github.com/homeside-repairs/estimate-worker/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

// normStatus is the SQL expression matching Go-side model.NormalizeStatus:
// lowercase letters only, so historical case/punctuation drift in stored
// status strings still matches the canonical variant sets.
const normStatus = `lower(regexp_replace(status, '[^A-Za-z]', '', 'g'))`

// jobColumns is the select list shared by every job read.
const jobColumns = `id, customer_name, email, phone, notes, document_urls, submitted_at,
	status, started_at, ai_started_at, ai_completed_at, completed_at, email_sent_at,
	error, email_error, config_version_id, estimate, validation_errors, unmapped_items,
	created_at, updated_at`

// NewPostgres creates a PostgresStore with a connection pool. Statement
// preparation is left to pgx's per-connection statement cache.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems needing direct
// query access (e.g., snapshot seeding via COPY).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	customer_name     TEXT NOT NULL,
	email             TEXT NOT NULL,
	phone             TEXT,
	notes             TEXT,
	document_urls     JSONB NOT NULL DEFAULT '[]',
	submitted_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	status            TEXT NOT NULL DEFAULT 'queued',
	started_at        TIMESTAMPTZ,
	ai_started_at     TIMESTAMPTZ,
	ai_completed_at   TIMESTAMPTZ,
	completed_at      TIMESTAMPTZ,
	email_sent_at     TIMESTAMPTZ,
	error             TEXT,
	email_error       TEXT,
	config_version_id TEXT,
	estimate          JSONB,
	validation_errors JSONB,
	unmapped_items    JSONB,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_submitted_at ON jobs(submitted_at);

CREATE TABLE IF NOT EXISTS config_snapshots (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	version    INTEGER NOT NULL,
	active     BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS catalog_entries (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	snapshot_id  TEXT NOT NULL REFERENCES config_snapshots(id),
	code         TEXT NOT NULL,
	name         TEXT NOT NULL,
	unit         TEXT,
	unit_price   NUMERIC(12,2) NOT NULL,
	min_quantity NUMERIC(12,2),
	notes        TEXT,
	active       BOOLEAN NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS alias_entries (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	snapshot_id TEXT NOT NULL REFERENCES config_snapshots(id),
	phrase      TEXT NOT NULL,
	code        TEXT NOT NULL,
	active      BOOLEAN NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS rule_entries (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	snapshot_id TEXT NOT NULL REFERENCES config_snapshots(id),
	key         TEXT NOT NULL,
	value       TEXT NOT NULL,
	priority    INTEGER NOT NULL DEFAULT 100,
	active      BOOLEAN NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS trip_fee_policies (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	snapshot_id     TEXT NOT NULL REFERENCES config_snapshots(id),
	label           TEXT NOT NULL,
	base_fee        NUMERIC(12,2) NOT NULL,
	per_mile        NUMERIC(12,2),
	after_hours_fee NUMERIC(12,2),
	active          BOOLEAN NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS email_templates (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	snapshot_id TEXT NOT NULL REFERENCES config_snapshots(id),
	subject     TEXT NOT NULL,
	body        TEXT NOT NULL,
	active      BOOLEAN NOT NULL DEFAULT true
);

CREATE INDEX IF NOT EXISTS idx_catalog_entries_snapshot ON catalog_entries(snapshot_id);
CREATE INDEX IF NOT EXISTS idx_alias_entries_snapshot ON alias_entries(snapshot_id);
CREATE INDEX IF NOT EXISTS idx_rule_entries_snapshot ON rule_entries(snapshot_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job model.Job) (*model.Job, error) {
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
		return nil, eris.Wrap(err, "postgres: marshal document urls")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (id, customer_name, email, phone, notes, document_urls, submitted_at, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.CustomerName, job.Email, job.Phone, job.Notes, urlsJSON,
		job.SubmittedAt, string(job.Status), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert job")
	}
	return &job, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", jobID)
	}
	return job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := []any{}

	if filter.Status != "" {
		query += ` WHERE ` + normStatus + ` = ANY($1)`
		args = append(args, model.StatusVariants(filter.Status))
	}
	query += ` ORDER BY submitted_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

// ClaimNext selects the next unit of work: the oldest queued job, or failing
// that the oldest in-progress job whose progress timestamp has gone stale.
// The claim write is optimistic; two invocations racing within the same
// instant can both claim, which downstream idempotence tolerates.
func (s *PostgresStore) ClaimNext(ctx context.Context, staleAfter time.Duration) (*model.Job, error) {
	job, err := s.nextQueued(ctx)
	if err != nil {
		return nil, err
	}
	if job == nil {
		job, err = s.nextStale(ctx, staleAfter)
		if err != nil {
			return nil, err
		}
	}
	if job == nil {
		return nil, nil
	}

	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, started_at = $2, ai_started_at = NULL,
		 ai_completed_at = NULL, error = NULL, email_error = NULL, updated_at = $2 WHERE id = $3`,
		string(model.JobStatusProcessing), now, job.ID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: claim job %s", job.ID)
	}
	if tag.RowsAffected() == 0 {
		return nil, eris.Errorf("job not found: %s", job.ID)
	}

	job.Status = model.JobStatusProcessing
	job.StartedAt = &now
	job.AIStartedAt = nil
	job.AICompletedAt = nil
	job.Error = ""
	job.EmailError = ""
	job.UpdatedAt = now
	return job, nil
}

func (s *PostgresStore) nextQueued(ctx context.Context) (*model.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE `+normStatus+` = ANY($1)
		 ORDER BY submitted_at ASC LIMIT 1`,
		model.StatusVariants(model.JobStatusQueued),
	)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: select queued job")
	}
	return job, nil
}

func (s *PostgresStore) nextStale(ctx context.Context, staleAfter time.Duration) (*model.Job, error) {
	variants := append(
		model.StatusVariants(model.JobStatusProcessing),
		model.StatusVariants(model.JobStatusAIStarted)...,
	)
	cutoff := time.Now().UTC().Add(-staleAfter)

	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE `+normStatus+` = ANY($1)
		 AND COALESCE(ai_started_at, started_at, updated_at) < $2
		 ORDER BY COALESCE(ai_started_at, started_at, updated_at) ASC LIMIT 1`,
		variants, cutoff,
	)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: select stale job")
	}
	return job, nil
}

func (s *PostgresStore) MarkAIStarted(ctx context.Context, jobID string) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, ai_started_at = $2, updated_at = $2 WHERE id = $3`,
		string(model.JobStatusAIStarted), now, jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark ai started %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("job not found: %s", jobID)
	}
	return nil
}

func (s *PostgresStore) CompleteJob(ctx context.Context, jobID string, outcome CompletedJob) error {
	estimateJSON, err := json.Marshal(outcome.Estimate)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal estimate")
	}
	validationJSON, unmappedJSON, err := marshalDiagnostics(outcome.Diagnostics)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal diagnostics")
	}

	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, estimate = $2, config_version_id = $3,
		 validation_errors = $4, unmapped_items = $5,
		 ai_completed_at = $6, completed_at = $6, updated_at = $6 WHERE id = $7`,
		string(model.JobStatusComplete), estimateJSON, outcome.ConfigVersionID,
		validationJSON, unmappedJSON, now, jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("job not found: %s", jobID)
	}
	return nil
}

func (s *PostgresStore) FailJob(ctx context.Context, jobID string, errMsg string, diags Diagnostics) error {
	validationJSON, unmappedJSON, err := marshalDiagnostics(diags)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal diagnostics")
	}

	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, error = $2, validation_errors = $3,
		 unmapped_items = $4, completed_at = $5, updated_at = $5 WHERE id = $6`,
		string(model.JobStatusFailed), errMsg, validationJSON, unmappedJSON, now, jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("job not found: %s", jobID)
	}
	return nil
}

func (s *PostgresStore) RecordEmailSent(ctx context.Context, jobID string, sentAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE jobs SET email_sent_at = $1, email_error = NULL, updated_at = $2 WHERE id = $3`,
		sentAt, time.Now().UTC(), jobID,
	)
	return eris.Wrapf(err, "postgres: record email sent %s", jobID)
}

func (s *PostgresStore) RecordEmailError(ctx context.Context, jobID string, emailErr string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE jobs SET email_error = $1, updated_at = $2 WHERE id = $3`,
		emailErr, time.Now().UTC(), jobID,
	)
	return eris.Wrapf(err, "postgres: record email error %s", jobID)
}

// rowScanner covers pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var j model.Job
	var phone, notes, errMsg, emailErr, configVersion *string
	var rawStatus string
	var urlsJSON []byte
	var estimateJSON, validationJSON, unmappedJSON []byte

	if err := row.Scan(
		&j.ID, &j.CustomerName, &j.Email, &phone, &notes, &urlsJSON, &j.SubmittedAt,
		&rawStatus, &j.StartedAt, &j.AIStartedAt, &j.AICompletedAt, &j.CompletedAt,
		&j.EmailSentAt, &errMsg, &emailErr, &configVersion,
		&estimateJSON, &validationJSON, &unmappedJSON,
		&j.CreatedAt, &j.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if phone != nil {
		j.Phone = *phone
	}
	if notes != nil {
		j.Notes = *notes
	}
	if errMsg != nil {
		j.Error = *errMsg
	}
	if emailErr != nil {
		j.EmailError = *emailErr
	}
	if configVersion != nil {
		j.ConfigVersionID = *configVersion
	}

	if canonical, ok := model.MatchStatus(rawStatus); ok {
		j.Status = canonical
	} else {
		j.Status = model.JobStatus(rawStatus)
	}

	if len(urlsJSON) > 0 {
		if err := json.Unmarshal(urlsJSON, &j.DocumentURLs); err != nil {
			return nil, eris.Wrap(err, "unmarshal document urls")
		}
	}
	if len(estimateJSON) > 0 {
		j.Estimate = &model.Estimate{}
		if err := json.Unmarshal(estimateJSON, j.Estimate); err != nil {
			return nil, eris.Wrap(err, "unmarshal estimate")
		}
	}
	if len(validationJSON) > 0 {
		if err := json.Unmarshal(validationJSON, &j.ValidationErrors); err != nil {
			return nil, eris.Wrap(err, "unmarshal validation errors")
		}
	}
	if len(unmappedJSON) > 0 {
		if err := json.Unmarshal(unmappedJSON, &j.UnmappedItems); err != nil {
			return nil, eris.Wrap(err, "unmarshal unmapped items")
		}
	}
	return &j, nil
}

func marshalDiagnostics(d Diagnostics) (validationJSON, unmappedJSON []byte, err error) {
	validationJSON, err = json.Marshal(d.ValidationErrors)
	if err != nil {
		return nil, nil, err
	}
	unmappedJSON, err = json.Marshal(d.UnmappedItems)
	if err != nil {
		return nil, nil, err
	}
	return validationJSON, unmappedJSON, nil
}

