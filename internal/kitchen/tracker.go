// Package kitchen is the kitchen-side view of dispatched tickets: which
// lines are checked as prepared, which have been announced ready, and the
// pending -> ready ticket transition.
//
// The prepared/announced sets live server-side so a kitchen client restart
// rebuilds its screen from State; a line once announced can never be
// un-announced.
package kitchen

import (
	"context"
	"fmt"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"tableserve/internal/apperr"
	"tableserve/internal/bus"
	"tableserve/internal/domain"
	"tableserve/internal/ticket"
)

type lineSets struct {
	prepared  map[int]struct{}
	announced map[int]struct{}
}

type Tracker struct {
	mu    sync.Mutex
	state map[uint64]*lineSets

	tickets *ticket.Dispatcher
	bus     *bus.Bus
	log     *log.Entry
}

func NewTracker(tickets *ticket.Dispatcher, b *bus.Bus, lg *log.Entry) *Tracker {
	return &Tracker{
		state:   make(map[uint64]*lineSets),
		tickets: tickets,
		bus:     b,
		log:     lg,
	}
}

// MarkPrepared checks or unchecks one line on the kitchen screen. Lines
// already announced stay announced; toggling them is a no-op, matching a
// duplicate click on a finished line.
func (k *Tracker) MarkPrepared(ctx context.Context, number uint64, lineIndex int, prepared bool) error {
	return k.tickets.WithTicket(ctx, number, func(t *domain.Ticket) error {
		if lineIndex < 0 || lineIndex >= len(t.Lines) {
			return apperr.New(apperr.InvalidState, "ticket %d has no line %d", number, lineIndex)
		}
		if t.Status == domain.TicketReady {
			return nil
		}
		k.mu.Lock()
		defer k.mu.Unlock()
		st := k.sets(number)
		if _, done := st.announced[lineIndex]; done {
			return nil
		}
		if prepared {
			st.prepared[lineIndex] = struct{}{}
		} else {
			delete(st.prepared, lineIndex)
		}
		return nil
	})
}

// PrepareAll checks every line not yet announced (the "select all" action).
func (k *Tracker) PrepareAll(ctx context.Context, number uint64) error {
	return k.tickets.WithTicket(ctx, number, func(t *domain.Ticket) error {
		if t.Status == domain.TicketReady {
			return nil
		}
		k.mu.Lock()
		defer k.mu.Unlock()
		st := k.sets(number)
		for i := range t.Lines {
			if _, done := st.announced[i]; !done {
				st.prepared[i] = struct{}{}
			}
		}
		return nil
	})
}

// AnnouncePrepared announces whatever lines are currently checked.
func (k *Tracker) AnnouncePrepared(ctx context.Context, number uint64) error {
	k.mu.Lock()
	var idx []int
	if st, ok := k.state[number]; ok {
		for i := range st.prepared {
			idx = append(idx, i)
		}
	}
	k.mu.Unlock()
	return k.AnnounceReady(ctx, number, idx)
}

// AnnounceReady pushes the given ticket lines to staff as ready. Lines
// already announced are skipped (duplicate clicks are safe); one items-ready
// event carries exactly the newly announced lines. When every line of the
// ticket has been announced the ticket flips to Ready and a single
// order-ready event fires. Announcing against a Ready ticket is a no-op:
// its line sets are gone and its status is terminal.
func (k *Tracker) AnnounceReady(ctx context.Context, number uint64, lineIndices []int) error {
	return k.tickets.WithTicket(ctx, number, func(t *domain.Ticket) error {
		for _, i := range lineIndices {
			if i < 0 || i >= len(t.Lines) {
				return apperr.New(apperr.InvalidState, "ticket %d has no line %d", number, i)
			}
		}
		if t.Status == domain.TicketReady {
			return nil
		}

		k.mu.Lock()
		st := k.sets(number)
		var fresh []int
		for _, i := range lineIndices {
			if _, done := st.announced[i]; done {
				continue
			}
			st.announced[i] = struct{}{}
			delete(st.prepared, i)
			fresh = append(fresh, i)
		}
		complete := len(st.announced) == len(t.Lines)
		if complete {
			delete(k.state, number)
		}
		k.mu.Unlock()

		if len(fresh) == 0 {
			return nil
		}
		sort.Ints(fresh)

		lines := make([]domain.TicketLine, 0, len(fresh))
		for _, i := range fresh {
			lines = append(lines, t.Lines[i])
		}
		k.bus.Publish(domain.ItemsReady{
			EventMeta:    domain.NewEventMeta(),
			TicketNumber: t.Number,
			TableName:    t.TableName,
			Lines:        lines,
			Message:      fmt.Sprintf("Order for table %s is ready.", t.TableName),
		})

		if complete {
			t.Status = domain.TicketReady
			if err := k.tickets.PersistStatus(ctx, t.Number, domain.TicketReady); err != nil {
				k.log.WithFields(log.Fields{"action": "ticket_status", "ticket": t.Number}).
					WithError(err).Error("persist ready status")
			}
			k.bus.Publish(domain.OrderReady{
				EventMeta:    domain.NewEventMeta(),
				TicketNumber: t.Number,
				TableName:    t.TableName,
			})
			k.log.WithFields(log.Fields{"action": "order_ready", "ticket": t.Number, "table": t.TableName}).
				Info("order fully ready")
		}
		return nil
	})
}

// State reports the prepared and announced line indices for a ticket so a
// restarted kitchen client can rebuild its checkboxes.
func (k *Tracker) State(number uint64) (prepared, announced []int, err error) {
	t, err := k.tickets.Get(number)
	if err != nil {
		return nil, nil, err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	st, ok := k.state[number]
	if !ok {
		if t.Status == domain.TicketReady {
			announced = make([]int, len(t.Lines))
			for i := range t.Lines {
				announced[i] = i
			}
		}
		return nil, announced, nil
	}
	for i := range st.prepared {
		prepared = append(prepared, i)
	}
	for i := range st.announced {
		announced = append(announced, i)
	}
	sort.Ints(prepared)
	sort.Ints(announced)
	return prepared, announced, nil
}

// sets must be called with k.mu held.
func (k *Tracker) sets(number uint64) *lineSets {
	st, ok := k.state[number]
	if !ok {
		st = &lineSets{prepared: make(map[int]struct{}), announced: make(map[int]struct{})}
		k.state[number] = st
	}
	return st
}
