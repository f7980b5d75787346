// Package ticket turns unsent cart quantity into kitchen order tickets and
// owns the ticket records afterwards.
package ticket

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"tableserve/internal/apperr"
	"tableserve/internal/bus"
	"tableserve/internal/cart"
	"tableserve/internal/domain"
	"tableserve/internal/locks"
	"tableserve/internal/tables"
)

// Audit persists tickets for the permanent record. Saving happens inside
// the dispatch critical section so a ticket is never observable without its
// sentQuantity advance having been decided.
type Audit interface {
	SaveTicket(ctx context.Context, t domain.Ticket) error
	UpdateTicketStatus(ctx context.Context, number uint64, status domain.TicketStatus) error
}

// NoopAudit is the in-memory deployment's audit sink.
type NoopAudit struct{}

func (NoopAudit) SaveTicket(context.Context, domain.Ticket) error { return nil }
func (NoopAudit) UpdateTicketStatus(context.Context, uint64, domain.TicketStatus) error {
	return nil
}

type Dispatcher struct {
	seq atomic.Uint64

	mu      sync.RWMutex
	tickets map[uint64]*domain.Ticket

	locks  *locks.Keyed
	carts  *cart.Store
	tables *tables.Registry
	bus    *bus.Bus
	audit  Audit
	log    *log.Entry
	now    func() time.Time
}

func NewDispatcher(carts *cart.Store, reg *tables.Registry, b *bus.Bus, audit Audit, lockTimeout time.Duration, lg *log.Entry) *Dispatcher {
	if audit == nil {
		audit = NoopAudit{}
	}
	return &Dispatcher{
		tickets: make(map[uint64]*domain.Ticket),
		locks:   locks.NewKeyed(lockTimeout),
		carts:   carts,
		tables:  reg,
		bus:     b,
		audit:   audit,
		log:     lg,
		now:     time.Now,
	}
}

// Seed moves the ticket counter past the highest number already on record,
// so numbers stay monotonic across restarts.
func (d *Dispatcher) Seed(highest uint64) {
	for {
		cur := d.seq.Load()
		if cur >= highest || d.seq.CompareAndSwap(cur, highest) {
			return
		}
	}
}

// Dispatch sends every line's unsent quantity to the kitchen as one ticket.
// Ticket creation and the sentQuantity advance happen together under the
// table's critical section; EmptyDelta means there was nothing new to send.
func (d *Dispatcher) Dispatch(ctx context.Context, tableName, staffID string) (domain.Ticket, error) {
	tbl, err := d.tables.Get(tableName)
	if err != nil {
		return domain.Ticket{}, err
	}

	var created domain.Ticket
	err = d.carts.WithTable(ctx, tableName, func(c *domain.Cart) error {
		if c == nil {
			return apperr.New(apperr.EmptyDelta, "table %q has no new items", tableName)
		}
		var lines []domain.TicketLine
		for _, l := range c.Lines {
			if l.Unsent() <= 0 {
				continue
			}
			lines = append(lines, domain.TicketLine{
				ItemID:   l.ItemID,
				ItemName: l.ItemName,
				Quantity: l.Unsent(),
				Note:     l.Note,
			})
		}
		if len(lines) == 0 {
			return apperr.New(apperr.EmptyDelta, "table %q has no new items", tableName)
		}

		t := domain.Ticket{
			Number:     d.seq.Add(1),
			TableName:  tbl.Name,
			SpaceName:  tbl.Space,
			StaffID:    staffID,
			GuestCount: c.GuestCount,
			Lines:      lines,
			Status:     domain.TicketPending,
			CreatedAt:  d.now().UTC(),
		}
		// The ticket's own lock is held across persist, registration and
		// the ticket-created publish, so an announce racing in through
		// WithTicket cannot emit items-ready first.
		release, err := d.locks.Acquire(ctx, lockKey(t.Number))
		if err != nil {
			return err
		}
		defer release()

		if err := d.audit.SaveTicket(ctx, t); err != nil {
			return err
		}

		for i := range c.Lines {
			c.Lines[i].SentQuantity = c.Lines[i].Quantity
		}
		d.mu.Lock()
		d.tickets[t.Number] = &t
		d.mu.Unlock()

		d.bus.Publish(domain.TicketCreated{
			EventMeta:    domain.NewEventMeta(),
			TicketNumber: t.Number,
			TableName:    t.TableName,
			SpaceName:    t.SpaceName,
			Lines:        copyLines(t.Lines),
		})
		created = t
		return nil
	})
	if err != nil {
		return domain.Ticket{}, err
	}

	if err := d.tables.SetStatus(tableName, domain.TableOccupied); err != nil {
		d.log.WithField("action", "table_status").WithError(err).Warn("mark table occupied")
	}
	d.log.WithFields(log.Fields{
		"action": "ticket_dispatched",
		"ticket": created.Number,
		"table":  tableName,
		"staff":  staffID,
		"lines":  len(created.Lines),
	}).Info("ticket dispatched")
	return created, nil
}

// WithTicket runs fn on the live ticket under its per-ticket critical
// section. The preparation tracker mutates status through this.
func (d *Dispatcher) WithTicket(ctx context.Context, number uint64, fn func(t *domain.Ticket) error) error {
	release, err := d.locks.Acquire(ctx, lockKey(number))
	if err != nil {
		return err
	}
	defer release()

	d.mu.RLock()
	t := d.tickets[number]
	d.mu.RUnlock()
	if t == nil {
		return apperr.New(apperr.NotFound, "unknown ticket %d", number)
	}
	return fn(t)
}

// PersistStatus records a status flip in the audit store. The in-memory
// record is mutated by the caller inside WithTicket.
func (d *Dispatcher) PersistStatus(ctx context.Context, number uint64, status domain.TicketStatus) error {
	return d.audit.UpdateTicketStatus(ctx, number, status)
}

func (d *Dispatcher) Get(number uint64) (domain.Ticket, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.tickets[number]
	if !ok {
		return domain.Ticket{}, apperr.New(apperr.NotFound, "unknown ticket %d", number)
	}
	return copyTicket(t), nil
}

// Active lists tickets the kitchen still has work on, oldest first.
func (d *Dispatcher) Active() []domain.Ticket {
	return d.list(func(t *domain.Ticket) bool { return t.Status != domain.TicketReady })
}

func (d *Dispatcher) List() []domain.Ticket {
	return d.list(func(*domain.Ticket) bool { return true })
}

func (d *Dispatcher) list(keep func(*domain.Ticket) bool) []domain.Ticket {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []domain.Ticket
	for _, t := range d.tickets {
		if keep(t) {
			out = append(out, copyTicket(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

func lockKey(number uint64) string { return fmt.Sprintf("kot/%d", number) }

func copyTicket(t *domain.Ticket) domain.Ticket {
	out := *t
	out.Lines = copyLines(t.Lines)
	return out
}

func copyLines(lines []domain.TicketLine) []domain.TicketLine {
	out := make([]domain.TicketLine, len(lines))
	copy(out, lines)
	return out
}
