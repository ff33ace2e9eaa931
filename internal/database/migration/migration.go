// Package migration applies the versioned database schema.
package migration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"biasaudit/internal/bias"
	"biasaudit/internal/model"
)

// lockKey serializes migrations across application instances.
const lockKey = 72_410_993

type migrationStep struct {
	Version int
	Name    string
	SQL     string
	Run     func(ctx context.Context, tx *sql.Tx) error
}

var steps = []migrationStep{
	{
		Version: 1,
		Name:    "create_extension_uuid_ossp",
		SQL:     `CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,
	},
	{
		Version: 2,
		Name:    "create_table_scans",
		SQL: `CREATE TABLE IF NOT EXISTS scans (
  id                  UUID        PRIMARY KEY DEFAULT uuid_generate_v4(),
  owner               TEXT        NOT NULL,
  filename            TEXT        NOT NULL,
  raw_text            TEXT        NOT NULL,
  storage_path        TEXT        UNIQUE,
  heuristic           JSONB       NOT NULL,
  ai_analysis         JSONB,
  score               INTEGER     NOT NULL CHECK (score BETWEEN 0 AND 100),
  risk_level          TEXT        NOT NULL CHECK (risk_level IN ('Low', 'Moderate', 'High')),
  ai_degraded         BOOLEAN     NOT NULL DEFAULT false,
  analyzed_at         TIMESTAMPTZ,
  analysis_started_at TIMESTAMPTZ,
  schema_version      INTEGER     NOT NULL DEFAULT 2,
  created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	},
	{
		Version: 3,
		Name:    "create_index_scans_owner_created_at",
		SQL:     `CREATE INDEX IF NOT EXISTS idx_scans_owner_created_at ON scans (owner, created_at DESC);`,
	},
	{
		Version: 4,
		Name:    "create_table_account_usage",
		SQL: `CREATE TABLE IF NOT EXISTS account_usage (
  owner         TEXT        PRIMARY KEY,
  plan          TEXT        NOT NULL,
  scans_used    INTEGER     NOT NULL DEFAULT 0 CHECK (scans_used >= 0),
  period_anchor TIMESTAMPTZ NOT NULL,
  updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	},
	{
		// Rows of the document-centric resumes table become version 1 scans.
		// Their heuristic baseline is filled in by the next step.
		Version: 5,
		Name:    "import_legacy_resumes",
		SQL: `DO $$
BEGIN
  IF to_regclass('public.resumes') IS NOT NULL THEN
    INSERT INTO scans (id, owner, filename, raw_text, heuristic, ai_analysis, score, risk_level,
                       ai_degraded, analyzed_at, schema_version, created_at)
    SELECT uuid_generate_v5(uuid_ns_oid(), 'resumes/' || r.id::text),
           r.user_id, r.filename, r.raw_text, '{}'::jsonb, r.analysis::jsonb,
           LEAST(GREATEST(COALESCE(r.score, 0), 0), 100),
           CASE WHEN r.risk_level IN ('Low', 'Moderate', 'High') THEN r.risk_level ELSE 'Moderate' END,
           false,
           CASE WHEN r.analysis IS NOT NULL THEN COALESCE(r.created_at, now()) END,
           1, COALESCE(r.created_at, now())
    FROM resumes r
    ON CONFLICT (id) DO NOTHING;
    ALTER TABLE resumes RENAME TO resumes_legacy;
  END IF;
END $$;`,
	},
	{
		Version: 6,
		Name:    "backfill_legacy_heuristic",
		Run:     backfillHeuristic,
	},
}

type legacyRow struct {
	id       string
	text     string
	analyzed bool
}

// backfillHeuristic scores version 1 scans. Unanalyzed rows take the heuristic values as
// their authoritative score; analyzed rows keep the AI values.
func backfillHeuristic(ctx context.Context, tx *sql.Tx) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, raw_text, ai_analysis IS NOT NULL FROM scans WHERE schema_version < $1`, model.ScanSchemaVersion)
	if err != nil {
		return fmt.Errorf("select legacy scans: %w", err)
	}
	var pending []legacyRow
	for rows.Next() {
		var r legacyRow
		if err := rows.Scan(&r.id, &r.text, &r.analyzed); err != nil {
			rows.Close()
			return fmt.Errorf("scan legacy row: %w", err)
		}
		pending = append(pending, r)
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}

	const q = `
		UPDATE scans
		SET heuristic = $2,
		    score = CASE WHEN ai_analysis IS NULL THEN $3 ELSE score END,
		    risk_level = CASE WHEN ai_analysis IS NULL THEN $4 ELSE risk_level END,
		    schema_version = $5
		WHERE id = $1`
	for _, r := range pending {
		h := bias.Score(r.text)
		b, err := json.Marshal(h)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, q, r.id, string(b), h.Score, string(h.RiskLevel), model.ScanSchemaVersion); err != nil {
			return fmt.Errorf("backfill scan %s: %w", r.id, err)
		}
	}
	return nil
}

// EnsureMigrated applies every step not yet recorded in schema_migrations. Each step runs in
// its own transaction together with its bookkeeping row.
func EnsureMigrated(ctx context.Context, db *sql.DB, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "database"))
	start := time.Now()

	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, lockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		if _, err := conn.ExecContext(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, lockKey); err != nil {
			log.Warn("release migration lock", zap.Error(err))
		}
	}()

	if _, err := conn.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
  version    INTEGER     PRIMARY KEY,
  name       TEXT        NOT NULL,
  applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return err
	}

	ran := 0
	for _, step := range steps {
		if applied[step.Version] {
			continue
		}
		stepStart := time.Now()
		if err := apply(ctx, conn, step); err != nil {
			log.Error("db migration failed",
				zap.Int("version", step.Version),
				zap.String("migration_step", step.Name),
				zap.Error(err),
			)
			return fmt.Errorf("migration step %s failed: %w", step.Name, err)
		}
		ran++
		log.Info("db migration step",
			zap.Int("version", step.Version),
			zap.String("migration_step", step.Name),
			zap.Duration("step_duration", time.Since(stepStart)),
		)
	}

	if ran == 0 {
		log.Info("schema up to date, skipping migration", zap.Int("version", steps[len(steps)-1].Version))
		return nil
	}
	log.Info("db migration complete", zap.Int("steps", ran), zap.Duration("duration", time.Since(start)))
	return nil
}

func appliedVersions(ctx context.Context, conn *sql.Conn) (map[int]bool, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("read schema_migrations: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func apply(ctx context.Context, conn *sql.Conn, step migrationStep) (err error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if step.Run != nil {
		err = step.Run(ctx, tx)
	} else {
		_, err = tx.ExecContext(ctx, step.SQL)
	}
	if err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, step.Version, step.Name); err != nil {
		return err
	}
	return tx.Commit()
}
