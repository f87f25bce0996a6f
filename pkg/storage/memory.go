package storage

import (
	"context"
	"sync"

	"github.com/raterudder/honorarium/pkg/types"
)

// Memory keeps the config in process memory. Everything is lost on restart.
type Memory struct {
	mu      sync.Mutex
	cfg     types.Config
	version int
	changes []types.ConfigChange
}

var _ Database = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// GetConfig implements Database.
func (m *Memory) GetConfig(ctx context.Context) (types.Config, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg, m.version, nil
}

// SetConfig implements Database.
func (m *Memory) SetConfig(ctx context.Context, cfg types.Config, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
	m.version = version
	return nil
}

// InsertConfigChange implements Database.
func (m *Memory) InsertConfigChange(ctx context.Context, change types.ConfigChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changes = append(m.changes, change)
	return nil
}

// ListConfigChanges implements Database.
func (m *Memory) ListConfigChanges(ctx context.Context, limit int) ([]types.ConfigChange, error) {
	if limit <= 0 {
		limit = DefaultChangesLimit
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]types.ConfigChange, 0, min(limit, len(m.changes)))
	for i := len(m.changes) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.changes[i])
	}
	return out, nil
}

// Close implements Database.
func (m *Memory) Close() error {
	return nil
}
