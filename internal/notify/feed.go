// Package notify keeps the server-side notification feed a staff session
// reads: ready and bill events for the tables it operates, deduplicated by
// event id so at-least-once delivery never shows the same toast twice.
package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tableserve/internal/bus"
	"tableserve/internal/domain"
)

type Item struct {
	EventID   uuid.UUID    `json:"eventId"`
	Topic     domain.Topic `json:"topic"`
	TableName string       `json:"tableName,omitempty"`
	Message   string       `json:"message"`
	At        time.Time    `json:"at"`
	Seen      bool         `json:"seen"`
}

// Hub hands out feeds scoped to the tables a staff session operates.
// Sessions asking for the same table set share one feed, so their unread
// counts and seen marks agree; the empty set is the all-tables feed.
type Hub struct {
	mu    sync.Mutex
	bus   *bus.Bus
	ctx   context.Context
	feeds map[string]*Feed
}

// NewHub ties every feed it creates to ctx; when ctx ends all consumption
// stops.
func NewHub(ctx context.Context, b *bus.Bus) *Hub {
	return &Hub{bus: b, ctx: ctx, feeds: make(map[string]*Feed)}
}

func (h *Hub) Feed(tableNames ...string) *Feed {
	key := feedKey(tableNames)
	h.mu.Lock()
	defer h.mu.Unlock()
	f, ok := h.feeds[key]
	if !ok {
		f = NewFeed(h.bus, tableNames...)
		h.feeds[key] = f
		go f.Run(h.ctx)
	}
	return f
}

func feedKey(tableNames []string) string {
	s := append([]string(nil), tableNames...)
	sort.Strings(s)
	return strings.Join(s, ",")
}

type Feed struct {
	mu     sync.Mutex
	seen   map[uuid.UUID]struct{}
	items  []Item
	tables map[string]struct{} // empty means all tables

	sub *bus.Subscription
}

// NewFeed subscribes to the staff-facing topics. tableNames scopes the feed
// to the tables this session operates; none means everything (kitchen or
// admin view).
func NewFeed(b *bus.Bus, tableNames ...string) *Feed {
	f := &Feed{
		seen:   make(map[uuid.UUID]struct{}),
		tables: make(map[string]struct{}, len(tableNames)),
		sub: b.Subscribe(
			domain.TopicTicketCreated,
			domain.TopicItemsReady,
			domain.TopicOrderReady,
			domain.TopicBillCreated,
			domain.TopicBillPaid,
		),
	}
	for _, t := range tableNames {
		f.tables[t] = struct{}{}
	}
	return f
}

// Run consumes until ctx is done.
func (f *Feed) Run(ctx context.Context) {
	defer f.sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-f.sub.Events():
			f.Add(ev)
		}
	}
}

// Add folds one event into the feed. Re-adding an event already seen is a
// no-op, which is what makes redelivery safe.
func (f *Feed) Add(ev domain.Event) {
	if t := domain.EventTable(ev); t != "" && len(f.tables) > 0 {
		if _, ok := f.tables[t]; !ok {
			return
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, dup := f.seen[ev.EventID()]; dup {
		return
	}
	f.seen[ev.EventID()] = struct{}{}
	f.items = append(f.items, Item{
		EventID:   ev.EventID(),
		Topic:     ev.Topic(),
		TableName: domain.EventTable(ev),
		Message:   message(ev),
		At:        time.Now().UTC(),
	})
}

func (f *Feed) Items() []Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Item, len(f.items))
	copy(out, f.items)
	return out
}

func (f *Feed) Unread() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, it := range f.items {
		if !it.Seen {
			n++
		}
	}
	return n
}

func (f *Feed) MarkSeen() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.items {
		f.items[i].Seen = true
	}
}

func message(ev domain.Event) string {
	switch e := ev.(type) {
	case domain.TicketCreated:
		return fmt.Sprintf("KOT #%d sent to kitchen for table %s", e.TicketNumber, e.TableName)
	case domain.ItemsReady:
		return e.Message
	case domain.OrderReady:
		return fmt.Sprintf("Order #%d for table %s is fully ready", e.TicketNumber, e.TableName)
	case domain.BillCreated:
		return fmt.Sprintf("Bill %s created for table %s (₹%.2f)", e.BillNumber, e.TableName, e.TotalAmount)
	case domain.BillPaid:
		return fmt.Sprintf("Bill %s paid via %s", e.BillNumber, e.PaymentMethod)
	}
	return string(ev.Topic())
}
