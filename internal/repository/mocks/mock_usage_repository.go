package mocks

import (
	"context"
	"time"

	"biasaudit/internal/model"
	"github.com/stretchr/testify/mock"
)

type MockUsageRepository struct {
	mock.Mock
}

func (m *MockUsageRepository) GetOrCreate(ctx context.Context, owner, plan string, now time.Time) (*model.AccountUsage, error) {
	args := m.Called(ctx, owner, plan, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AccountUsage), args.Error(1)
}

func (m *MockUsageRepository) IncrementIfBelow(ctx context.Context, owner, plan string, period model.Period, limit int, now time.Time) (*model.AccountUsage, bool, error) {
	args := m.Called(ctx, owner, plan, period, limit, now)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*model.AccountUsage), args.Bool(1), args.Error(2)
}

func (m *MockUsageRepository) Release(ctx context.Context, owner string, period model.Period, now time.Time) error {
	args := m.Called(ctx, owner, period, now)
	return args.Error(0)
}
