package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"biasaudit/internal/model"
	"biasaudit/internal/repository"
)

const scanColumns = `id, owner, filename, raw_text, storage_path, heuristic, ai_analysis,
		score, risk_level, ai_degraded, analyzed_at, created_at`

// ScanPostgres is a PostgreSQL implementation of repository.ScanRepository.
// It uses database/sql with parameterized queries and contains no business logic.
type ScanPostgres struct {
	db *sql.DB
}

// NewScanPostgres creates a new ScanPostgres repository.
func NewScanPostgres(db *sql.DB) *ScanPostgres {
	return &ScanPostgres{db: db}
}

var _ repository.ScanRepository = (*ScanPostgres)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

// Create inserts a new scan row and returns the stored record.
func (r *ScanPostgres) Create(ctx context.Context, scan *model.ScanRecord) (*model.ScanRecord, error) {
	const q = `
		INSERT INTO scans (id, owner, filename, raw_text, storage_path, heuristic,
			score, risk_level, schema_version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + scanColumns

	heuristic, err := json.Marshal(scan.Heuristic)
	if err != nil {
		return nil, fmt.Errorf("encode heuristic: %w", err)
	}

	row := r.db.QueryRowContext(ctx, q,
		scan.ID,
		scan.Owner,
		scan.Filename,
		scan.RawText,
		nullString(scan.StoragePath),
		string(heuristic),
		scan.Heuristic.Score,
		string(scan.Heuristic.RiskLevel),
		model.ScanSchemaVersion,
		scan.CreatedAt,
	)
	return scanRecord(row)
}

// FindByID fetches a single scan by its ID.
func (r *ScanPostgres) FindByID(ctx context.Context, id string) (*model.ScanRecord, error) {
	const q = `SELECT ` + scanColumns + ` FROM scans WHERE id = $1`

	s, err := scanRecord(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return s, err
}

// ListByOwner returns an owner's scans using LIMIT/OFFSET pagination and a total count.
func (r *ScanPostgres) ListByOwner(ctx context.Context, owner string, pq repository.PageQuery) (*repository.PageResult[model.ScanRecord], error) {
	const qCount = `SELECT COUNT(*) FROM scans WHERE owner = $1`
	var total int
	if err := r.db.QueryRowContext(ctx, qCount, owner).Scan(&total); err != nil {
		return nil, err
	}

	const qList = `
		SELECT ` + scanColumns + `
		FROM scans
		WHERE owner = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, qList, owner, pq.Limit, pq.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.ScanRecord, 0)
	for rows.Next() {
		s, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &repository.PageResult[model.ScanRecord]{
		Items: items,
		Total: total,
	}, nil
}

// ClaimAnalysis sets the enrichment lease when the scan is unanalyzed and the lease is free or stale.
func (r *ScanPostgres) ClaimAnalysis(ctx context.Context, id string, now time.Time, ttl time.Duration) (bool, error) {
	const q = `
		UPDATE scans
		SET analysis_started_at = $2
		WHERE id = $1
		  AND ai_analysis IS NULL
		  AND (analysis_started_at IS NULL OR analysis_started_at < $3)
	`
	res, err := r.db.ExecContext(ctx, q, id, now, now.Add(-ttl))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseAnalysis clears the enrichment lease of an unanalyzed scan.
func (r *ScanPostgres) ReleaseAnalysis(ctx context.Context, id string) error {
	const q = `UPDATE scans SET analysis_started_at = NULL WHERE id = $1 AND ai_analysis IS NULL`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}

// CompleteAnalysis writes every enrichment column in a single conditional update.
func (r *ScanPostgres) CompleteAnalysis(ctx context.Context, id string, e model.AIEnriched) (*model.ScanRecord, error) {
	const q = `
		UPDATE scans
		SET ai_analysis = $2,
		    score = $3,
		    risk_level = $4,
		    ai_degraded = $5,
		    analyzed_at = $6,
		    analysis_started_at = NULL
		WHERE id = $1 AND ai_analysis IS NULL
		RETURNING ` + scanColumns

	analysis, err := json.Marshal(e.Analysis)
	if err != nil {
		return nil, fmt.Errorf("encode analysis: %w", err)
	}

	s, err := scanRecord(r.db.QueryRowContext(ctx, q,
		id, string(analysis), e.Score, string(e.RiskLevel), e.Degraded, e.AnalyzedAt,
	))
	if errors.Is(err, sql.ErrNoRows) {
		if _, findErr := r.FindByID(ctx, id); findErr != nil {
			return nil, findErr
		}
		return nil, repository.ErrAlreadyAnalyzed
	}
	return s, err
}

func scanRecord(row rowScanner) (*model.ScanRecord, error) {
	var (
		s           model.ScanRecord
		storagePath sql.NullString
		heuristic   []byte
		analysis    []byte
		score       int
		riskLevel   string
		degraded    bool
		analyzedAt  sql.NullTime
	)
	if err := row.Scan(
		&s.ID,
		&s.Owner,
		&s.Filename,
		&s.RawText,
		&storagePath,
		&heuristic,
		&analysis,
		&score,
		&riskLevel,
		&degraded,
		&analyzedAt,
		&s.CreatedAt,
	); err != nil {
		return nil, err
	}

	s.StoragePath = storagePath.String
	if len(heuristic) > 0 {
		if err := json.Unmarshal(heuristic, &s.Heuristic); err != nil {
			return nil, fmt.Errorf("decode heuristic for scan %s: %w", s.ID, err)
		}
	}

	s.Enrichment = model.HeuristicOnly{}
	if len(analysis) > 0 {
		var a model.AIAnalysis
		if err := json.Unmarshal(analysis, &a); err != nil {
			return nil, fmt.Errorf("decode analysis for scan %s: %w", s.ID, err)
		}
		s.Enrichment = model.AIEnriched{
			Analysis:   a,
			Score:      score,
			RiskLevel:  model.RiskLevel(riskLevel),
			Degraded:   degraded,
			AnalyzedAt: analyzedAt.Time,
		}
	}
	return &s, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
