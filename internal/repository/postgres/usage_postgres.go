package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"biasaudit/internal/model"
	"biasaudit/internal/repository"
)

const usageColumns = `owner, plan, scans_used, period_anchor, updated_at`

// UsagePostgres is a PostgreSQL implementation of repository.UsageRepository.
type UsagePostgres struct {
	db *sql.DB
}

// NewUsagePostgres creates a new UsagePostgres repository.
func NewUsagePostgres(db *sql.DB) *UsagePostgres {
	return &UsagePostgres{db: db}
}

var _ repository.UsageRepository = (*UsagePostgres)(nil)

// GetOrCreate inserts the owner's row if missing and returns the stored row.
func (r *UsagePostgres) GetOrCreate(ctx context.Context, owner, plan string, now time.Time) (*model.AccountUsage, error) {
	const qInsert = `
		INSERT INTO account_usage (owner, plan, scans_used, period_anchor, updated_at)
		VALUES ($1, $2, 0, $3, $4)
		ON CONFLICT (owner) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, qInsert, owner, plan, model.MonthOf(now).Start, now); err != nil {
		return nil, err
	}

	const qSelect = `SELECT ` + usageColumns + ` FROM account_usage WHERE owner = $1`
	u, err := scanUsage(r.db.QueryRowContext(ctx, qSelect, owner))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return u, err
}

// IncrementIfBelow performs the check-and-increment as one UPDATE. Postgres row locking
// serializes concurrent admissions for the same owner and re-evaluates the WHERE clause.
func (r *UsagePostgres) IncrementIfBelow(ctx context.Context, owner, plan string, period model.Period, limit int, now time.Time) (*model.AccountUsage, bool, error) {
	const q = `
		UPDATE account_usage
		SET scans_used = CASE
		        WHEN period_anchor >= $3 AND period_anchor < $4 THEN scans_used + 1
		        ELSE 1
		    END,
		    period_anchor = CASE
		        WHEN period_anchor >= $3 AND period_anchor < $4 THEN period_anchor
		        ELSE $3
		    END,
		    updated_at = $6
		WHERE owner = $1
		  AND plan = $2
		  AND (period_anchor < $3 OR period_anchor >= $4 OR scans_used < $5)
		RETURNING ` + usageColumns

	u, err := scanUsage(r.db.QueryRowContext(ctx, q, owner, plan, period.Start, period.End, limit, now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return u, true, nil
}

// Release decrements the counter for an admission that did not produce a scan.
func (r *UsagePostgres) Release(ctx context.Context, owner string, period model.Period, now time.Time) error {
	const q = `
		UPDATE account_usage
		SET scans_used = scans_used - 1, updated_at = $4
		WHERE owner = $1
		  AND scans_used > 0
		  AND period_anchor >= $2 AND period_anchor < $3
	`
	_, err := r.db.ExecContext(ctx, q, owner, period.Start, period.End, now)
	return err
}

func scanUsage(row rowScanner) (*model.AccountUsage, error) {
	var u model.AccountUsage
	if err := row.Scan(&u.Owner, &u.Plan, &u.ScansUsed, &u.PeriodAnchor, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}
