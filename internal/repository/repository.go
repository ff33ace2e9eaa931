// Package repository contains data access layer abstractions.
// Implementations live in subpackages (postgres, memory) inside this directory.
package repository

import (
	"context"
	"errors"
	"time"

	"biasaudit/internal/model"
)

var (
	// ErrNotFound is returned when no row matches the lookup.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyAnalyzed is returned by CompleteAnalysis when another writer enriched the scan first.
	ErrAlreadyAnalyzed = errors.New("scan already analyzed")
)

// ScanRepository defines data access for scan records.
// No business logic here, strictly persistence operations.
type ScanRepository interface {
	// Create inserts a new scan in the scored state and returns the stored record.
	Create(ctx context.Context, scan *model.ScanRecord) (*model.ScanRecord, error)

	// FindByID returns a scan by its ID or ErrNotFound.
	FindByID(ctx context.Context, id string) (*model.ScanRecord, error)

	// ListByOwner returns an owner's scans, newest first, with a total count.
	ListByOwner(ctx context.Context, owner string, pq PageQuery) (*PageResult[model.ScanRecord], error)

	// ClaimAnalysis takes the enrichment lease on an unanalyzed scan. It returns false when the
	// scan is already analyzed or another caller holds an unexpired lease.
	ClaimAnalysis(ctx context.Context, id string, now time.Time, ttl time.Duration) (bool, error)

	// ReleaseAnalysis drops the enrichment lease without changing the scan.
	ReleaseAnalysis(ctx context.Context, id string) error

	// CompleteAnalysis stores the enrichment in one update, only if the scan has none yet.
	// It returns ErrAlreadyAnalyzed when the scan was enriched by someone else.
	CompleteAnalysis(ctx context.Context, id string, e model.AIEnriched) (*model.ScanRecord, error)
}

// UsageRepository defines data access for per-owner quota counters.
type UsageRepository interface {
	// GetOrCreate returns the owner's usage row, inserting it with plan and a zero counter if missing.
	GetOrCreate(ctx context.Context, owner, plan string, now time.Time) (*model.AccountUsage, error)

	// IncrementIfBelow admits one scan in a single conditional update. The counter is reset when
	// the stored anchor lies outside period. The update applies only while the stored plan equals
	// plan, so a concurrent plan change is detected by the caller. It returns false when nothing
	// was updated.
	IncrementIfBelow(ctx context.Context, owner, plan string, period model.Period, limit int, now time.Time) (*model.AccountUsage, bool, error)

	// Release gives back one admitted scan within period; it never drops below zero.
	Release(ctx context.Context, owner string, period model.Period, now time.Time) error
}

// PageQuery holds limit/offset pagination parameters.
type PageQuery struct {
	Limit  int
	Offset int
}

// PageResult is a generic pagination result wrapper.
// T is typically a model type.
type PageResult[T any] struct {
	Items []T
	Total int
}
