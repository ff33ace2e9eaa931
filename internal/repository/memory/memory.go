// Package memory provides thread-safe in-process implementations of the repositories.
// They back local development without Postgres and serve as fakes in tests.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"biasaudit/internal/model"
	"biasaudit/internal/repository"
)

type scanRow struct {
	scan          model.ScanRecord
	leaseAcquired time.Time
}

// ScanStore is an in-memory repository.ScanRepository.
type ScanStore struct {
	mu    sync.RWMutex
	scans map[string]*scanRow
}

// NewScanStore initializes an empty store.
func NewScanStore() *ScanStore {
	return &ScanStore{scans: make(map[string]*scanRow)}
}

var _ repository.ScanRepository = (*ScanStore)(nil)

func (m *ScanStore) Create(_ context.Context, scan *model.ScanRecord) (*model.ScanRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := copyScan(*scan)
	if stored.Enrichment == nil {
		stored.Enrichment = model.HeuristicOnly{}
	}
	m.scans[scan.ID] = &scanRow{scan: stored}

	out := copyScan(stored)
	return &out, nil
}

func (m *ScanStore) FindByID(_ context.Context, id string) (*model.ScanRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row, ok := m.scans[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := copyScan(row.scan)
	return &out, nil
}

func (m *ScanStore) ListByOwner(_ context.Context, owner string, pq repository.PageQuery) (*repository.PageResult[model.ScanRecord], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]model.ScanRecord, 0)
	for _, row := range m.scans {
		if row.scan.Owner == owner {
			all = append(all, copyScan(row.scan))
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	start := min(max(pq.Offset, 0), total)
	end := total
	if pq.Limit > 0 {
		end = min(start+pq.Limit, total)
	}
	return &repository.PageResult[model.ScanRecord]{Items: all[start:end], Total: total}, nil
}

func (m *ScanStore) ClaimAnalysis(_ context.Context, id string, now time.Time, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.scans[id]
	if !ok {
		return false, nil
	}
	if _, analyzed := row.scan.AI(); analyzed {
		return false, nil
	}
	if !row.leaseAcquired.IsZero() && !row.leaseAcquired.Before(now.Add(-ttl)) {
		return false, nil
	}
	row.leaseAcquired = now
	return true, nil
}

func (m *ScanStore) ReleaseAnalysis(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if row, ok := m.scans[id]; ok {
		if _, analyzed := row.scan.AI(); !analyzed {
			row.leaseAcquired = time.Time{}
		}
	}
	return nil
}

func (m *ScanStore) CompleteAnalysis(_ context.Context, id string, e model.AIEnriched) (*model.ScanRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.scans[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if _, analyzed := row.scan.AI(); analyzed {
		return nil, repository.ErrAlreadyAnalyzed
	}

	e.Analysis.BiasFlags = slices.Clone(e.Analysis.BiasFlags)
	row.scan.Enrichment = e
	row.leaseAcquired = time.Time{}

	out := copyScan(row.scan)
	return &out, nil
}

// copyScan deep-copies the slices so callers never share backing arrays with the store.
func copyScan(s model.ScanRecord) model.ScanRecord {
	s.Heuristic.Flags = slices.Clone(s.Heuristic.Flags)
	if e, ok := s.Enrichment.(model.AIEnriched); ok {
		e.Analysis.BiasFlags = slices.Clone(e.Analysis.BiasFlags)
		s.Enrichment = e
	}
	return s
}

// UsageStore is an in-memory repository.UsageRepository.
type UsageStore struct {
	mu    sync.Mutex
	usage map[string]model.AccountUsage
}

// NewUsageStore initializes an empty store.
func NewUsageStore() *UsageStore {
	return &UsageStore{usage: make(map[string]model.AccountUsage)}
}

var _ repository.UsageRepository = (*UsageStore)(nil)

// Put seeds or replaces an owner's usage row.
func (m *UsageStore) Put(u model.AccountUsage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage[u.Owner] = u
}

func (m *UsageStore) GetOrCreate(_ context.Context, owner, plan string, now time.Time) (*model.AccountUsage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.usage[owner]
	if !ok {
		u = model.AccountUsage{
			Owner:        owner,
			Plan:         plan,
			PeriodAnchor: model.MonthOf(now).Start,
			UpdatedAt:    now,
		}
		m.usage[owner] = u
	}
	return &u, nil
}

func (m *UsageStore) IncrementIfBelow(_ context.Context, owner, plan string, period model.Period, limit int, now time.Time) (*model.AccountUsage, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.usage[owner]
	if !ok || u.Plan != plan {
		return nil, false, nil
	}

	if !period.Contains(u.PeriodAnchor) {
		u.ScansUsed = 0
		u.PeriodAnchor = period.Start
	} else if u.ScansUsed >= limit {
		return nil, false, nil
	}

	u.ScansUsed++
	u.UpdatedAt = now
	m.usage[owner] = u
	return &u, true, nil
}

func (m *UsageStore) Release(_ context.Context, owner string, period model.Period, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.usage[owner]
	if !ok || u.ScansUsed == 0 || !period.Contains(u.PeriodAnchor) {
		return nil
	}
	u.ScansUsed--
	u.UpdatedAt = now
	m.usage[owner] = u
	return nil
}
