package storagemock

import (
	"context"

	"github.com/raterudder/honorarium/pkg/storage"
	"github.com/raterudder/honorarium/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetConfig(ctx context.Context) (types.Config, int, error) {
	args := m.Called(ctx)
	// return empty if not specified, or checks args
	if len(args) > 0 {
		return args.Get(0).(types.Config), args.Int(1), args.Error(2)
	}
	return types.Config{}, 0, nil
}

func (m *MockDatabase) SetConfig(ctx context.Context, cfg types.Config, version int) error {
	args := m.Called(ctx, cfg, version)
	return args.Error(0)
}

func (m *MockDatabase) InsertConfigChange(ctx context.Context, change types.ConfigChange) error {
	args := m.Called(ctx, change)
	return args.Error(0)
}

func (m *MockDatabase) ListConfigChanges(ctx context.Context, limit int) ([]types.ConfigChange, error) {
	args := m.Called(ctx, limit)
	if len(args) > 0 {
		if args.Get(0) == nil {
			return nil, args.Error(1)
		}
		return args.Get(0).([]types.ConfigChange), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	if len(args) > 0 {
		return args.Error(0)
	}
	return nil
}
