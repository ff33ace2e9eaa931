package quota

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"biasaudit/internal/model"
	"biasaudit/internal/repository/memory"
	repoMocks "biasaudit/internal/repository/mocks"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func TestPlans_Limit(t *testing.T) {
	assert.Equal(t, 10, DefaultPlans.Limit("free"))
	assert.Equal(t, 100, DefaultPlans.Limit("starter"))
	assert.Equal(t, 500, DefaultPlans.Limit("team"))
	assert.Equal(t, DefaultLimit, DefaultPlans.Limit("legacy-gold"))
}

func TestLoadPlans(t *testing.T) {
	dir := t.TempDir()

	t.Run("empty path keeps defaults", func(t *testing.T) {
		plans, err := LoadPlans("")
		require.NoError(t, err)
		assert.Equal(t, DefaultPlans, plans)
	})

	t.Run("file overrides and extends", func(t *testing.T) {
		path := filepath.Join(dir, "plans.yaml")
		require.NoError(t, os.WriteFile(path, []byte("plans:\n  free: 3\n  enterprise: 5000\n"), 0o600))

		plans, err := LoadPlans(path)
		require.NoError(t, err)
		assert.Equal(t, 3, plans.Limit("free"))
		assert.Equal(t, 100, plans.Limit("starter"))
		assert.Equal(t, 5000, plans.Limit("enterprise"))
		assert.Equal(t, 10, DefaultPlans.Limit("free"), "defaults are not mutated")
	})

	t.Run("negative limit", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("plans:\n  free: -1\n"), 0o600))
		_, err := LoadPlans(path)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadPlans(filepath.Join(dir, "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestManager_Admit_FreePlanLimitAndRollover(t *testing.T) {
	ctx := context.Background()
	store := memory.NewUsageStore()
	clock := &fakeClock{now: time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)}
	mgr := NewManager(store, DefaultPlans, "free", clock)

	store.Put(model.AccountUsage{
		Owner:        "user-1",
		Plan:         "free",
		ScansUsed:    10,
		PeriodAnchor: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})

	_, err := mgr.Admit(ctx, "user-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	var exceeded *ExceededError
	require.True(t, errors.As(err, &exceeded))
	assert.Equal(t, "free", exceeded.Plan)
	assert.Equal(t, 10, exceeded.Limit)
	assert.Contains(t, err.Error(), `plan "free" allows 10`)

	clock.Set(time.Date(2026, 4, 1, 0, 0, 1, 0, time.UTC))

	u, err := mgr.Admit(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, u.ScansUsed)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), u.PeriodAnchor)
}

func TestManager_Admit_RolloverResetsRegardlessOfPriorValue(t *testing.T) {
	ctx := context.Background()
	store := memory.NewUsageStore()
	clock := &fakeClock{now: time.Date(2027, 1, 2, 0, 0, 0, 0, time.UTC)}
	mgr := NewManager(store, DefaultPlans, "free", clock)

	store.Put(model.AccountUsage{
		Owner:        "user-1",
		Plan:         "starter",
		ScansUsed:    9999,
		PeriodAnchor: time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC),
	})

	u, err := mgr.Admit(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, u.ScansUsed)
}

func TestManager_Admit_LazyCreate(t *testing.T) {
	ctx := context.Background()
	store := memory.NewUsageStore()
	mgr := NewManager(store, DefaultPlans, "free", nil)

	u, err := mgr.Admit(ctx, "new-user")
	require.NoError(t, err)
	assert.Equal(t, "free", u.Plan)
	assert.Equal(t, 1, u.ScansUsed)
}

func TestManager_Admit_ConcurrentRequests(t *testing.T) {
	ctx := context.Background()
	store := memory.NewUsageStore()
	clock := &fakeClock{now: time.Date(2026, 6, 20, 0, 0, 0, 0, time.UTC)}
	mgr := NewManager(store, DefaultPlans, "free", clock)

	// k = 3 slots remain on the free plan
	store.Put(model.AccountUsage{Owner: "user-1", Plan: "free", ScansUsed: 7, PeriodAnchor: model.MonthOf(clock.now).Start})

	const n = 40
	var ok, rejected atomic.Int32
	var g errgroup.Group
	for range n {
		g.Go(func() error {
			_, err := mgr.Admit(ctx, "user-1")
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrQuotaExceeded):
				rejected.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(3), ok.Load())
	assert.Equal(t, int32(n-3), rejected.Load())
}

func TestManager_Admit_UnknownPlanUsesDefaultLimit(t *testing.T) {
	ctx := context.Background()
	store := memory.NewUsageStore()
	clock := &fakeClock{now: time.Date(2026, 6, 20, 0, 0, 0, 0, time.UTC)}
	mgr := NewManager(store, DefaultPlans, "free", clock)
	store.Put(model.AccountUsage{Owner: "u", Plan: "mystery", ScansUsed: 10, PeriodAnchor: model.MonthOf(clock.now).Start})

	_, err := mgr.Admit(ctx, "u")

	var exceeded *ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, DefaultLimit, exceeded.Limit)
}

func TestManager_Admit_PlanChangedConcurrently(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 20, 0, 0, 0, 0, time.UTC)
	period := model.MonthOf(now)
	repo := new(repoMocks.MockUsageRepository)
	mgr := NewManager(repo, DefaultPlans, "free", &fakeClock{now: now})

	repo.On("GetOrCreate", ctx, "u", "free", now).
		Return(&model.AccountUsage{Owner: "u", Plan: "free", ScansUsed: 10}, nil).Once()
	repo.On("IncrementIfBelow", ctx, "u", "free", period, 10, now).
		Return(nil, false, nil).Once()
	repo.On("GetOrCreate", ctx, "u", "free", now).
		Return(&model.AccountUsage{Owner: "u", Plan: "team", ScansUsed: 10}, nil).Once()
	repo.On("IncrementIfBelow", ctx, "u", "team", period, 500, now).
		Return(&model.AccountUsage{Owner: "u", Plan: "team", ScansUsed: 11}, true, nil).Once()

	u, err := mgr.Admit(ctx, "u")

	require.NoError(t, err)
	assert.Equal(t, "team", u.Plan)
	repo.AssertExpectations(t)
}

func TestManager_Admit_RepositoryError(t *testing.T) {
	ctx := context.Background()
	repo := new(repoMocks.MockUsageRepository)
	mgr := NewManager(repo, DefaultPlans, "free", nil)

	repo.On("GetOrCreate", ctx, "u", "free", mock.Anything).Return(nil, errors.New("db down"))

	_, err := mgr.Admit(ctx, "u")

	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrQuotaExceeded)
	assert.Contains(t, err.Error(), "load usage: db down")
}

func TestManager_ReleaseAndStatus(t *testing.T) {
	ctx := context.Background()
	store := memory.NewUsageStore()
	clock := &fakeClock{now: time.Date(2026, 6, 20, 0, 0, 0, 0, time.UTC)}
	mgr := NewManager(store, DefaultPlans, "starter", clock)

	_, err := mgr.Admit(ctx, "u")
	require.NoError(t, err)
	_, err = mgr.Admit(ctx, "u")
	require.NoError(t, err)
	require.NoError(t, mgr.Release(ctx, "u"))

	st, err := mgr.Status(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, "starter", st.Plan)
	assert.Equal(t, 100, st.Limit)
	assert.Equal(t, 1, st.ScansUsed)
	assert.Equal(t, 99, st.Remaining)

	clock.Set(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC))
	st, err = mgr.Status(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 0, st.ScansUsed, "a new month reports a fresh allowance")
	assert.Equal(t, time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), st.Period.Start)
}

func TestSystemClock_Location(t *testing.T) {
	jakarta := time.FixedZone("WIB", 7*60*60)

	assert.Equal(t, time.UTC, SystemClock{}.Now().Location())
	assert.Equal(t, jakarta, SystemClock{Location: jakarta}.Now().Location())
}

func TestManager_Admit_PeriodFollowsClockLocation(t *testing.T) {
	jakarta := time.FixedZone("WIB", 7*60*60)
	ctx := context.Background()

	// 2026-03-31 20:00 UTC is April 1st 03:00 in Jakarta
	instant := time.Date(2026, 3, 31, 20, 0, 0, 0, time.UTC)
	march := model.MonthOf(time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))

	t.Run("utc clock is still in march", func(t *testing.T) {
		store := memory.NewUsageStore()
		store.Put(model.AccountUsage{Owner: "u", Plan: "free", ScansUsed: 10, PeriodAnchor: march.Start})
		m := NewManager(store, nil, "free", &fakeClock{now: instant})

		_, err := m.Admit(ctx, "u")
		assert.ErrorIs(t, err, ErrQuotaExceeded)
	})

	t.Run("jakarta clock has rolled over", func(t *testing.T) {
		store := memory.NewUsageStore()
		store.Put(model.AccountUsage{Owner: "u", Plan: "free", ScansUsed: 10, PeriodAnchor: march.Start})
		m := NewManager(store, nil, "free", &fakeClock{now: instant.In(jakarta)})

		u, err := m.Admit(ctx, "u")
		require.NoError(t, err)
		assert.Equal(t, 1, u.ScansUsed)

		st, err := m.Status(ctx, "u")
		require.NoError(t, err)
		assert.Equal(t, time.April, st.Period.Start.Month())
		assert.Equal(t, 9, st.Remaining)
	})
}
