package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/homeside-repairs/estimate-worker/internal/db"
	"github.com/homeside-repairs/estimate-worker/internal/model"
)

// LoadSnapshot loads the single active configuration snapshot with all of its
// dependent tables. Zero or multiple active snapshots is a fatal
// ConfigurationError: the worker must not guess which pricing data applies.
func (s *PostgresStore) LoadSnapshot(ctx context.Context) (*model.Snapshot, error) {
	var count int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM config_snapshots WHERE active`,
	).Scan(&count); err != nil {
		return nil, eris.Wrap(err, "postgres: count active snapshots")
	}
	if count != 1 {
		return nil, &ConfigurationError{
			Reason: fmt.Sprintf("expected exactly 1 active snapshot, found %d", count),
		}
	}

	snap := &model.Snapshot{}
	if err := s.pool.QueryRow(ctx,
		`SELECT id, version, created_at FROM config_snapshots WHERE active`,
	).Scan(&snap.ID, &snap.Version, &snap.CreatedAt); err != nil {
		return nil, eris.Wrap(err, "postgres: load active snapshot")
	}

	var err error
	if snap.Catalog, err = s.loadCatalog(ctx, snap.ID); err != nil {
		return nil, err
	}
	if snap.Aliases, err = s.loadAliases(ctx, snap.ID); err != nil {
		return nil, err
	}
	if snap.Rules, err = s.loadRules(ctx, snap.ID); err != nil {
		return nil, err
	}
	if snap.TripFee, err = s.loadTripFee(ctx, snap.ID); err != nil {
		return nil, err
	}
	if snap.Template, err = s.loadTemplate(ctx, snap.ID); err != nil {
		return nil, err
	}

	snap.BuildIndexes()
	return snap, nil
}

func (s *PostgresStore) loadCatalog(ctx context.Context, snapshotID string) ([]model.CatalogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT code, name, COALESCE(unit, ''), unit_price::text,
		 COALESCE(min_quantity, 0)::text, COALESCE(notes, '')
		 FROM catalog_entries WHERE snapshot_id = $1 AND active ORDER BY code`,
		snapshotID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load catalog")
	}
	defer rows.Close()

	var entries []model.CatalogEntry
	for rows.Next() {
		var e model.CatalogEntry
		var priceStr, minQtyStr string
		if err := rows.Scan(&e.Code, &e.Name, &e.Unit, &priceStr, &minQtyStr, &e.Notes); err != nil {
			return nil, eris.Wrap(err, "postgres: scan catalog entry")
		}
		if e.UnitPrice, err = decimal.NewFromString(priceStr); err != nil {
			return nil, eris.Wrapf(err, "postgres: catalog entry %s unit_price", e.Code)
		}
		if e.MinQuantity, err = decimal.NewFromString(minQtyStr); err != nil {
			return nil, eris.Wrapf(err, "postgres: catalog entry %s min_quantity", e.Code)
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: iterate catalog")
}

func (s *PostgresStore) loadAliases(ctx context.Context, snapshotID string) ([]model.AliasEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT phrase, code FROM alias_entries WHERE snapshot_id = $1 AND active`,
		snapshotID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load aliases")
	}
	defer rows.Close()

	var aliases []model.AliasEntry
	for rows.Next() {
		var a model.AliasEntry
		if err := rows.Scan(&a.Phrase, &a.Code); err != nil {
			return nil, eris.Wrap(err, "postgres: scan alias")
		}
		aliases = append(aliases, a)
	}
	return aliases, eris.Wrap(rows.Err(), "postgres: iterate aliases")
}

func (s *PostgresStore) loadRules(ctx context.Context, snapshotID string) ([]model.RuleEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, value, priority FROM rule_entries
		 WHERE snapshot_id = $1 AND active ORDER BY priority, key`,
		snapshotID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load rules")
	}
	defer rows.Close()

	var rules []model.RuleEntry
	for rows.Next() {
		var r model.RuleEntry
		if err := rows.Scan(&r.Key, &r.Value, &r.Priority); err != nil {
			return nil, eris.Wrap(err, "postgres: scan rule")
		}
		rules = append(rules, r)
	}
	return rules, eris.Wrap(rows.Err(), "postgres: iterate rules")
}

func (s *PostgresStore) loadTripFee(ctx context.Context, snapshotID string) (*model.TripFeePolicy, error) {
	var p model.TripFeePolicy
	var baseStr, perMileStr, afterHoursStr string
	err := s.pool.QueryRow(ctx,
		`SELECT label, base_fee::text, COALESCE(per_mile, 0)::text, COALESCE(after_hours_fee, 0)::text
		 FROM trip_fee_policies WHERE snapshot_id = $1 AND active LIMIT 1`,
		snapshotID,
	).Scan(&p.Label, &baseStr, &perMileStr, &afterHoursStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load trip fee policy")
	}

	if p.BaseFee, err = decimal.NewFromString(baseStr); err != nil {
		return nil, eris.Wrap(err, "postgres: trip fee base_fee")
	}
	if p.PerMile, err = decimal.NewFromString(perMileStr); err != nil {
		return nil, eris.Wrap(err, "postgres: trip fee per_mile")
	}
	if p.AfterHoursFee, err = decimal.NewFromString(afterHoursStr); err != nil {
		return nil, eris.Wrap(err, "postgres: trip fee after_hours_fee")
	}
	return &p, nil
}

func (s *PostgresStore) loadTemplate(ctx context.Context, snapshotID string) (*model.EmailTemplate, error) {
	var t model.EmailTemplate
	err := s.pool.QueryRow(ctx,
		`SELECT subject, body FROM email_templates WHERE snapshot_id = $1 AND active LIMIT 1`,
		snapshotID,
	).Scan(&t.Subject, &t.Body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load email template")
	}
	return &t, nil
}

// SaveSnapshot writes a new snapshot and its dependent tables in one
// transaction. Catalog entries go in via COPY; the small tables use plain
// inserts. When activate is set, every other snapshot is deactivated in the
// same transaction so readers never observe zero or two active snapshots.
func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap *model.Snapshot, activate bool) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin snapshot tx")
	}
	defer tx.Rollback(ctx)

	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	if snap.Version == 0 {
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(max(version), 0) + 1 FROM config_snapshots`,
		).Scan(&snap.Version); err != nil {
			return eris.Wrap(err, "postgres: next snapshot version")
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO config_snapshots (id, version, active, created_at) VALUES ($1, $2, false, $3)`,
		snap.ID, snap.Version, snap.CreatedAt,
	); err != nil {
		return eris.Wrap(err, "postgres: insert snapshot")
	}

	catalogRows := make([][]any, 0, len(snap.Catalog))
	for _, e := range snap.Catalog {
		catalogRows = append(catalogRows, []any{
			uuid.New().String(), snap.ID, e.Code, e.Name, e.Unit,
			e.UnitPrice.String(), e.MinQuantity.String(), e.Notes, true,
		})
	}
	if _, err := db.CopyFrom(ctx, tx, "catalog_entries",
		[]string{"id", "snapshot_id", "code", "name", "unit", "unit_price", "min_quantity", "notes", "active"},
		catalogRows,
	); err != nil {
		return err
	}

	for _, a := range snap.Aliases {
		if _, err := tx.Exec(ctx,
			`INSERT INTO alias_entries (id, snapshot_id, phrase, code) VALUES ($1, $2, $3, $4)`,
			uuid.New().String(), snap.ID, a.Phrase, a.Code,
		); err != nil {
			return eris.Wrap(err, "postgres: insert alias")
		}
	}
	for _, r := range snap.Rules {
		if _, err := tx.Exec(ctx,
			`INSERT INTO rule_entries (id, snapshot_id, key, value, priority) VALUES ($1, $2, $3, $4, $5)`,
			uuid.New().String(), snap.ID, r.Key, r.Value, r.Priority,
		); err != nil {
			return eris.Wrap(err, "postgres: insert rule")
		}
	}
	if snap.TripFee != nil {
		if _, err := tx.Exec(ctx,
			`INSERT INTO trip_fee_policies (id, snapshot_id, label, base_fee, per_mile, after_hours_fee)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.New().String(), snap.ID, snap.TripFee.Label,
			snap.TripFee.BaseFee.String(), snap.TripFee.PerMile.String(), snap.TripFee.AfterHoursFee.String(),
		); err != nil {
			return eris.Wrap(err, "postgres: insert trip fee policy")
		}
	}
	if snap.Template != nil {
		if _, err := tx.Exec(ctx,
			`INSERT INTO email_templates (id, snapshot_id, subject, body) VALUES ($1, $2, $3, $4)`,
			uuid.New().String(), snap.ID, snap.Template.Subject, snap.Template.Body,
		); err != nil {
			return eris.Wrap(err, "postgres: insert email template")
		}
	}

	if activate {
		if _, err := tx.Exec(ctx, `UPDATE config_snapshots SET active = false WHERE active`); err != nil {
			return eris.Wrap(err, "postgres: deactivate snapshots")
		}
		if _, err := tx.Exec(ctx,
			`UPDATE config_snapshots SET active = true WHERE id = $1`, snap.ID,
		); err != nil {
			return eris.Wrap(err, "postgres: activate snapshot")
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit snapshot tx")
}
