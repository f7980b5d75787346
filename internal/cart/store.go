// Package cart owns the mutable per-table cart: quantities, price
// snapshots, and the sent-to-kitchen bookkeeping the dispatcher advances.
package cart

import (
	"context"
	"sync"
	"time"

	"tableserve/internal/apperr"
	"tableserve/internal/catalog"
	"tableserve/internal/domain"
	"tableserve/internal/locks"
	"tableserve/internal/tables"
)

type Store struct {
	locks   *locks.Keyed
	mu      sync.RWMutex
	carts   map[string]*domain.Cart
	catalog catalog.Catalog
	tables  *tables.Registry
	now     func() time.Time
}

func NewStore(cat catalog.Catalog, reg *tables.Registry, lockTimeout time.Duration) *Store {
	return &Store{
		locks:   locks.NewKeyed(lockTimeout),
		carts:   make(map[string]*domain.Cart),
		catalog: cat,
		tables:  reg,
		now:     time.Now,
	}
}

// WithTable runs fn on the table's live cart under its critical section.
// The cart is created on first use; fn sees nil when the table has no cart
// yet and may not retain the pointer past the call. Errors from fn abort
// without touching the stored cart only if fn itself made no mutation: fn is
// trusted code (dispatcher, billing), not a public extension point.
func (s *Store) WithTable(ctx context.Context, tableName string, fn func(c *domain.Cart) error) error {
	release, err := s.locks.Acquire(ctx, tableName)
	if err != nil {
		return err
	}
	defer release()

	s.mu.RLock()
	c := s.carts[tableName]
	s.mu.RUnlock()

	if err := fn(c); err != nil {
		return err
	}
	if c != nil {
		c.UpdatedAt = s.now().UTC()
	}
	return nil
}

// UpsertLine sets the line's quantity to exactly quantity (last write wins,
// not additive), which makes staff-device retries safe. quantity <= 0 is a
// remove. A brand-new line snapshots the item's current catalog price.
func (s *Store) UpsertLine(ctx context.Context, tableName, itemID string, quantity int, note string) (domain.Cart, error) {
	t, err := s.tables.Get(tableName)
	if err != nil {
		return domain.Cart{}, err
	}
	if quantity <= 0 {
		return s.RemoveLine(ctx, tableName, itemID)
	}

	release, err := s.locks.Acquire(ctx, tableName)
	if err != nil {
		return domain.Cart{}, err
	}
	defer release()

	c := s.getOrCreate(t)
	for i := range c.Lines {
		l := &c.Lines[i]
		if l.ItemID != itemID {
			continue
		}
		if quantity < l.SentQuantity {
			return domain.Cart{}, apperr.New(apperr.InvalidState,
				"cannot reduce %q below its dispatched quantity (%d)", l.ItemName, l.SentQuantity)
		}
		l.Quantity = quantity
		l.Note = note
		c.UpdatedAt = s.now().UTC()
		return snapshot(c), nil
	}

	it, err := s.catalog.GetItem(ctx, itemID)
	if err != nil {
		return domain.Cart{}, err
	}
	if it == nil {
		return domain.Cart{}, apperr.New(apperr.NotFound, "unknown menu item %q", itemID)
	}
	c.Lines = append(c.Lines, domain.CartLine{
		ItemID:    it.ID,
		ItemName:  it.Name,
		UnitPrice: it.Price,
		Quantity:  quantity,
		Note:      note,
	})
	c.UpdatedAt = s.now().UTC()
	return snapshot(c), nil
}

// RemoveLine drops the line entirely. A line with dispatched quantity can
// never be removed; the kitchen is already cooking it.
func (s *Store) RemoveLine(ctx context.Context, tableName, itemID string) (domain.Cart, error) {
	if _, err := s.tables.Get(tableName); err != nil {
		return domain.Cart{}, err
	}
	release, err := s.locks.Acquire(ctx, tableName)
	if err != nil {
		return domain.Cart{}, err
	}
	defer release()

	s.mu.RLock()
	c := s.carts[tableName]
	s.mu.RUnlock()
	if c == nil {
		return domain.Cart{}, apperr.New(apperr.NotFound, "table %q has no cart", tableName)
	}
	for i := range c.Lines {
		l := c.Lines[i]
		if l.ItemID != itemID {
			continue
		}
		if l.SentQuantity > 0 {
			return domain.Cart{}, apperr.New(apperr.InvalidState,
				"cannot remove %q: %d already dispatched to the kitchen", l.ItemName, l.SentQuantity)
		}
		c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
		c.UpdatedAt = s.now().UTC()
		return snapshot(c), nil
	}
	return domain.Cart{}, apperr.New(apperr.NotFound, "item %q is not in the cart", itemID)
}

// SetGuestCount records the party size; it is snapshotted onto tickets and
// the final bill.
func (s *Store) SetGuestCount(ctx context.Context, tableName string, guests int) (domain.Cart, error) {
	t, err := s.tables.Get(tableName)
	if err != nil {
		return domain.Cart{}, err
	}
	release, err := s.locks.Acquire(ctx, tableName)
	if err != nil {
		return domain.Cart{}, err
	}
	defer release()

	c := s.getOrCreate(t)
	c.GuestCount = guests
	c.UpdatedAt = s.now().UTC()
	return snapshot(c), nil
}

// Get returns a copy of the table's cart, or ok=false when none exists.
func (s *Store) Get(tableName string) (domain.Cart, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.carts[tableName]
	if !ok {
		return domain.Cart{}, false
	}
	return snapshot(c), true
}

// Clear throws the cart away without billing (a cancelled table).
func (s *Store) Clear(ctx context.Context, tableName string) error {
	release, err := s.locks.Acquire(ctx, tableName)
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	delete(s.carts, tableName)
	s.mu.Unlock()
	return nil
}

// Consume passes a copy of the cart to fn and deletes the cart only when fn
// succeeds. Billing uses it so that computing the bill and clearing the
// table is one atomic step under the table lock.
func (s *Store) Consume(ctx context.Context, tableName string, fn func(c domain.Cart) error) error {
	release, err := s.locks.Acquire(ctx, tableName)
	if err != nil {
		return err
	}
	defer release()

	s.mu.RLock()
	c := s.carts[tableName]
	s.mu.RUnlock()
	if c == nil || len(c.Lines) == 0 {
		return apperr.New(apperr.EmptyCart, "table %q has nothing to bill", tableName)
	}
	if err := fn(snapshot(c)); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.carts, tableName)
	s.mu.Unlock()
	return nil
}

func (s *Store) getOrCreate(t domain.Table) *domain.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[t.Name]
	if !ok {
		now := s.now().UTC()
		c = &domain.Cart{TableName: t.Name, SpaceName: t.Space, CreatedAt: now, UpdatedAt: now}
		s.carts[t.Name] = c
	}
	return c
}

func snapshot(c *domain.Cart) domain.Cart {
	out := *c
	out.Lines = make([]domain.CartLine, len(c.Lines))
	copy(out.Lines, c.Lines)
	return out
}
