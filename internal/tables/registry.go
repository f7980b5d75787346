// Package tables tracks the seating layout and per-table status.
package tables

import (
	"sync"

	"tableserve/internal/apperr"
	"tableserve/internal/bus"
	"tableserve/internal/domain"
)

type Registry struct {
	mu     sync.RWMutex
	tables map[string]*domain.Table
	bus    *bus.Bus
}

func NewRegistry(b *bus.Bus) *Registry {
	return &Registry{tables: make(map[string]*domain.Table), bus: b}
}

func (r *Registry) Add(t domain.Table) {
	if t.Status == "" {
		t.Status = domain.TableAvailable
	}
	r.mu.Lock()
	r.tables[t.Name] = &t
	r.mu.Unlock()
}

func (r *Registry) Get(name string) (domain.Table, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tables[name]
	if !ok {
		return domain.Table{}, apperr.New(apperr.NotFound, "unknown table %q", name)
	}
	return *t, nil
}

func (r *Registry) List() []domain.Table {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Table, 0, len(r.tables))
	for _, t := range r.tables {
		out = append(out, *t)
	}
	return out
}

// SetStatus transitions a table and publishes table-status-changed when the
// status actually changes. Setting the current status again is a no-op.
func (r *Registry) SetStatus(name string, status domain.TableStatus) error {
	r.mu.Lock()
	t, ok := r.tables[name]
	if !ok {
		r.mu.Unlock()
		return apperr.New(apperr.NotFound, "unknown table %q", name)
	}
	changed := t.Status != status
	t.Status = status
	r.mu.Unlock()

	if changed && r.bus != nil {
		r.bus.Publish(domain.TableStatusChanged{
			EventMeta: domain.NewEventMeta(),
			TableName: name,
			Status:    status,
		})
	}
	return nil
}
