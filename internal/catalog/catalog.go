// Package catalog is the read-only view of the menu and billing settings.
// Menu CRUD lives in an external admin surface; the core only ever looks
// items and active settings up.
package catalog

import (
	"context"
	"sync"

	"tableserve/internal/domain"
)

type Catalog interface {
	// GetItem returns nil when the item does not exist (items can be deleted
	// from the admin surface at any time; callers filter, never crash).
	GetItem(ctx context.Context, itemID string) (*domain.MenuItem, error)
	ActiveSettings(ctx context.Context, kind domain.SettingKind) ([]domain.Setting, error)
}

// Memory is the in-process catalog, seeded from config or by tests.
type Memory struct {
	mu       sync.RWMutex
	items    map[string]domain.MenuItem
	settings map[domain.SettingKind][]domain.Setting
}

func NewMemory() *Memory {
	return &Memory{
		items:    make(map[string]domain.MenuItem),
		settings: make(map[domain.SettingKind][]domain.Setting),
	}
}

func (m *Memory) PutItem(it domain.MenuItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[it.ID] = it
}

func (m *Memory) DeleteItem(itemID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, itemID)
}

func (m *Memory) PutSetting(kind domain.SettingKind, s domain.Setting) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[kind] = append(m.settings[kind], s)
}

func (m *Memory) ClearSettings(kind domain.SettingKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.settings, kind)
}

func (m *Memory) GetItem(_ context.Context, itemID string) (*domain.MenuItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[itemID]
	if !ok {
		return nil, nil
	}
	return &it, nil
}

func (m *Memory) ActiveSettings(_ context.Context, kind domain.SettingKind) ([]domain.Setting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Setting, len(m.settings[kind]))
	copy(out, m.settings[kind])
	return out, nil
}
