// Package quota gates scan creation against each account's monthly allowance.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"biasaudit/internal/model"
	"biasaudit/internal/repository"
)

// ErrQuotaExceeded is matched by every ExceededError.
var ErrQuotaExceeded = errors.New("scan quota exceeded")

// ExceededError names the plan and limit that rejected an admission.
type ExceededError struct {
	Plan  string
	Limit int
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("scan quota exceeded: plan %q allows %d scans per month", e.Plan, e.Limit)
}

func (e *ExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// Clock supplies the current time so period rollover can be tested.
type Clock interface {
	Now() time.Time
}

// SystemClock is the default Clock. Quota months follow Location, or UTC when it is nil.
type SystemClock struct {
	Location *time.Location
}

func (c SystemClock) Now() time.Time {
	if c.Location == nil {
		return time.Now().UTC()
	}
	return time.Now().In(c.Location)
}

// maxAttempts bounds retries when the plan changes between reading and updating the counter.
const maxAttempts = 3

// Status is an owner's allowance for the current period.
type Status struct {
	Plan      string       `json:"plan"`
	Limit     int          `json:"limit"`
	ScansUsed int          `json:"scansUsed"`
	Remaining int          `json:"remaining"`
	Period    model.Period `json:"period"`
}

// Manager admits scans against per-owner usage counters.
type Manager struct {
	repo        repository.UsageRepository
	plans       Plans
	defaultPlan string
	clock       Clock
}

// NewManager constructs a Manager. Owners seen for the first time start on defaultPlan.
func NewManager(repo repository.UsageRepository, plans Plans, defaultPlan string, clock Clock) *Manager {
	if plans == nil {
		plans = DefaultPlans
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Manager{repo: repo, plans: plans, defaultPlan: defaultPlan, clock: clock}
}

// Admit consumes one scan from the owner's allowance, or returns an *ExceededError.
// The check and the increment happen in one repository operation.
func (m *Manager) Admit(ctx context.Context, owner string) (*model.AccountUsage, error) {
	now := m.clock.Now()
	period := model.MonthOf(now)

	var lastPlan string
	for attempt := 0; attempt < maxAttempts; attempt++ {
		u, err := m.repo.GetOrCreate(ctx, owner, m.defaultPlan, now)
		if err != nil {
			return nil, fmt.Errorf("load usage: %w", err)
		}
		limit := m.plans.Limit(u.Plan)
		if limit <= 0 || (attempt > 0 && u.Plan == lastPlan) {
			return nil, &ExceededError{Plan: u.Plan, Limit: limit}
		}
		lastPlan = u.Plan

		updated, ok, err := m.repo.IncrementIfBelow(ctx, owner, u.Plan, period, limit, now)
		if err != nil {
			return nil, fmt.Errorf("increment usage: %w", err)
		}
		if ok {
			return updated, nil
		}
	}
	return nil, fmt.Errorf("admit %s: plan changed during admission", owner)
}

// Release returns one admission to the owner when the scan it admitted was not created.
func (m *Manager) Release(ctx context.Context, owner string) error {
	now := m.clock.Now()
	if err := m.repo.Release(ctx, owner, model.MonthOf(now), now); err != nil {
		return fmt.Errorf("release usage: %w", err)
	}
	return nil
}

// Status reports the owner's allowance without consuming it.
func (m *Manager) Status(ctx context.Context, owner string) (*Status, error) {
	now := m.clock.Now()
	period := model.MonthOf(now)

	u, err := m.repo.GetOrCreate(ctx, owner, m.defaultPlan, now)
	if err != nil {
		return nil, fmt.Errorf("load usage: %w", err)
	}

	used := 0
	if period.Contains(u.PeriodAnchor) {
		used = u.ScansUsed
	}
	limit := m.plans.Limit(u.Plan)
	return &Status{
		Plan:      u.Plan,
		Limit:     limit,
		ScansUsed: used,
		Remaining: max(limit-used, 0),
		Period:    period,
	}, nil
}
