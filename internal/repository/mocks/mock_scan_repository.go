package mocks

import (
	"context"
	"time"

	"biasaudit/internal/model"
	"biasaudit/internal/repository"
	"github.com/stretchr/testify/mock"
)

type MockScanRepository struct {
	mock.Mock
}

func (m *MockScanRepository) Create(ctx context.Context, scan *model.ScanRecord) (*model.ScanRecord, error) {
	args := m.Called(ctx, scan)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ScanRecord), args.Error(1)
}

func (m *MockScanRepository) FindByID(ctx context.Context, id string) (*model.ScanRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ScanRecord), args.Error(1)
}

func (m *MockScanRepository) ListByOwner(ctx context.Context, owner string, pq repository.PageQuery) (*repository.PageResult[model.ScanRecord], error) {
	args := m.Called(ctx, owner, pq)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.PageResult[model.ScanRecord]), args.Error(1)
}

func (m *MockScanRepository) ClaimAnalysis(ctx context.Context, id string, now time.Time, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, id, now, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockScanRepository) ReleaseAnalysis(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockScanRepository) CompleteAnalysis(ctx context.Context, id string, e model.AIEnriched) (*model.ScanRecord, error) {
	args := m.Called(ctx, id, e)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ScanRecord), args.Error(1)
}
