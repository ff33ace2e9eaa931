package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"biasaudit/internal/model"
	"biasaudit/internal/quota"
	"biasaudit/internal/service"
)

type MockScanService struct {
	mock.Mock
}

func (m *MockScanService) CreateFromText(ctx context.Context, owner, filename, text string) (*model.ScanRecord, error) {
	args := m.Called(ctx, owner, filename, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ScanRecord), args.Error(1)
}

func (m *MockScanService) CreateFromFile(ctx context.Context, owner string, up service.Upload) (*model.ScanRecord, error) {
	args := m.Called(ctx, owner, up)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ScanRecord), args.Error(1)
}

func (m *MockScanService) List(ctx context.Context, owner string, limit, offset int) (*service.ScanListResult, error) {
	args := m.Called(ctx, owner, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ScanListResult), args.Error(1)
}

func (m *MockScanService) Get(ctx context.Context, owner, id string) (*model.ScanRecord, error) {
	args := m.Called(ctx, owner, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ScanRecord), args.Error(1)
}

func (m *MockScanService) Analyze(ctx context.Context, owner, id string) (*model.ScanRecord, error) {
	args := m.Called(ctx, owner, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ScanRecord), args.Error(1)
}

func (m *MockScanService) Report(ctx context.Context, owner, id string) (*model.ReportView, error) {
	args := m.Called(ctx, owner, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ReportView), args.Error(1)
}

func (m *MockScanService) Usage(ctx context.Context, owner string) (*quota.Status, error) {
	args := m.Called(ctx, owner)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*quota.Status), args.Error(1)
}

var _ service.ScanService = (*MockScanService)(nil)
