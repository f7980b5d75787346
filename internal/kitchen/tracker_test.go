package kitchen

import (
	"context"
	"io"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tableserve/internal/apperr"
	"tableserve/internal/bus"
	"tableserve/internal/cart"
	"tableserve/internal/catalog"
	"tableserve/internal/domain"
	"tableserve/internal/tables"
	"tableserve/internal/ticket"
)

func testLogger() *log.Entry {
	l := log.New()
	l.SetOutput(io.Discard)
	return log.NewEntry(l)
}

type fixture struct {
	carts      *cart.Store
	dispatcher *ticket.Dispatcher
	tracker    *Tracker
	bus        *bus.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cat := catalog.NewMemory()
	cat.PutItem(domain.MenuItem{ID: "dal", Name: "Dal Makhani", Price: 210})
	cat.PutItem(domain.MenuItem{ID: "naan", Name: "Butter Naan", Price: 45})
	cat.PutItem(domain.MenuItem{ID: "chai", Name: "Masala Chai", Price: 30})

	b := bus.New(nil)
	reg := tables.NewRegistry(b)
	reg.Add(domain.Table{Name: "T1", Space: "Main Hall", Capacity: 4})

	carts := cart.NewStore(cat, reg, time.Second)
	d := ticket.NewDispatcher(carts, reg, b, nil, time.Second, testLogger())
	return &fixture{
		carts:      carts,
		dispatcher: d,
		tracker:    NewTracker(d, b, testLogger()),
		bus:        b,
	}
}

type orderItem struct {
	id  string
	qty int
}

func (f *fixture) dispatch(t *testing.T, items []orderItem) domain.Ticket {
	t.Helper()
	ctx := context.Background()
	for _, it := range items {
		_, err := f.carts.UpsertLine(ctx, "T1", it.id, it.qty, "")
		require.NoError(t, err)
	}
	tk, err := f.dispatcher.Dispatch(ctx, "T1", "staff-1")
	require.NoError(t, err)
	return tk
}

func drain(sub *bus.Subscription) []domain.Event {
	var out []domain.Event
	for {
		select {
		case ev := <-sub.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestAnnounceReadyBatches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tk := f.dispatch(t, []orderItem{{"dal", 2}, {"naan", 4}, {"chai", 1}})

	sub := f.bus.Subscribe(domain.TopicItemsReady, domain.TopicOrderReady)
	defer sub.Close()

	require.NoError(t, f.tracker.AnnounceReady(ctx, tk.Number, []int{0}))
	evs := drain(sub)
	require.Len(t, evs, 1)
	batch := evs[0].(domain.ItemsReady)
	require.Len(t, batch.Lines, 1, "items-ready carries only the newly announced lines")
	assert.Equal(t, "Dal Makhani", batch.Lines[0].ItemName)
	assert.Equal(t, "Order for table T1 is ready.", batch.Message)

	got, err := f.dispatcher.Get(tk.Number)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketPending, got.Status, "partially announced ticket stays pending")

	// Re-announcing line 0 together with line 1: only line 1 is new.
	require.NoError(t, f.tracker.AnnounceReady(ctx, tk.Number, []int{0, 1}))
	evs = drain(sub)
	require.Len(t, evs, 1)
	batch = evs[0].(domain.ItemsReady)
	require.Len(t, batch.Lines, 1)
	assert.Equal(t, "Butter Naan", batch.Lines[0].ItemName)

	// Announcing only already-announced lines is a silent no-op.
	require.NoError(t, f.tracker.AnnounceReady(ctx, tk.Number, []int{0, 1}))
	assert.Empty(t, drain(sub))

	// Final line: ticket flips to Ready and order-ready fires exactly once.
	require.NoError(t, f.tracker.AnnounceReady(ctx, tk.Number, []int{2}))
	evs = drain(sub)
	require.Len(t, evs, 2)
	_, isBatch := evs[0].(domain.ItemsReady)
	assert.True(t, isBatch)
	ready, isReady := evs[1].(domain.OrderReady)
	require.True(t, isReady)
	assert.Equal(t, tk.Number, ready.TicketNumber)

	got, err = f.dispatcher.Get(tk.Number)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketReady, got.Status)
}

// A ticket's Ready status is terminal: no announce or prep action against it
// may publish anything or disturb its rebuilt state.
func TestReadyTicketIsTerminal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tk := f.dispatch(t, []orderItem{{"dal", 1}, {"naan", 2}})

	sub := f.bus.Subscribe(domain.TopicItemsReady, domain.TopicOrderReady)
	defer sub.Close()

	require.NoError(t, f.tracker.AnnounceReady(ctx, tk.Number, []int{0, 1}))
	require.Len(t, drain(sub), 2, "one items-ready batch plus order-ready")

	// Re-announcing the finished ticket publishes nothing.
	require.NoError(t, f.tracker.AnnounceReady(ctx, tk.Number, []int{0, 1}))
	require.NoError(t, f.tracker.AnnounceReady(ctx, tk.Number, []int{0}))
	assert.Empty(t, drain(sub))

	// Out-of-range indices are still rejected.
	err := f.tracker.AnnounceReady(ctx, tk.Number, []int{7})
	assert.True(t, apperr.Is(err, apperr.InvalidState))

	// Prep actions against it are silent no-ops too.
	require.NoError(t, f.tracker.MarkPrepared(ctx, tk.Number, 0, true))
	require.NoError(t, f.tracker.PrepareAll(ctx, tk.Number))
	require.NoError(t, f.tracker.AnnouncePrepared(ctx, tk.Number))
	assert.Empty(t, drain(sub))

	got, err := f.dispatcher.Get(tk.Number)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketReady, got.Status)

	prepared, announced, err := f.tracker.State(tk.Number)
	require.NoError(t, err)
	assert.Empty(t, prepared)
	assert.Equal(t, []int{0, 1}, announced, "rebuild still reports every line announced")
}

func TestAnnounceReadyValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tk := f.dispatch(t, []orderItem{{"dal", 1}})

	err := f.tracker.AnnounceReady(ctx, tk.Number, []int{5})
	assert.True(t, apperr.Is(err, apperr.InvalidState))

	err = f.tracker.AnnounceReady(ctx, 999, []int{0})
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestPreparedSelection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tk := f.dispatch(t, []orderItem{{"dal", 1}, {"naan", 1}, {"chai", 1}})

	require.NoError(t, f.tracker.MarkPrepared(ctx, tk.Number, 0, true))
	require.NoError(t, f.tracker.MarkPrepared(ctx, tk.Number, 1, true))
	require.NoError(t, f.tracker.MarkPrepared(ctx, tk.Number, 1, false))

	prepared, announced, err := f.tracker.State(tk.Number)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, prepared)
	assert.Empty(t, announced)

	// Announce consumes the checked lines.
	require.NoError(t, f.tracker.AnnouncePrepared(ctx, tk.Number))
	prepared, announced, err = f.tracker.State(tk.Number)
	require.NoError(t, err)
	assert.Empty(t, prepared)
	assert.Equal(t, []int{0}, announced)

	// An announced line can never be unchecked again.
	require.NoError(t, f.tracker.MarkPrepared(ctx, tk.Number, 0, false))
	_, announced, err = f.tracker.State(tk.Number)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, announced)

	// Select-all only picks up the not-yet-announced lines.
	require.NoError(t, f.tracker.PrepareAll(ctx, tk.Number))
	prepared, _, err = f.tracker.State(tk.Number)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, prepared)

	// Announcing everything prepared finishes the ticket; rebuild state for
	// a finished ticket reports every line announced.
	require.NoError(t, f.tracker.AnnouncePrepared(ctx, tk.Number))
	prepared, announced, err = f.tracker.State(tk.Number)
	require.NoError(t, err)
	assert.Empty(t, prepared)
	assert.Equal(t, []int{0, 1, 2}, announced)
}

func TestMarkPreparedValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tk := f.dispatch(t, []orderItem{{"dal", 1}})

	err := f.tracker.MarkPrepared(ctx, tk.Number, 3, true)
	assert.True(t, apperr.Is(err, apperr.InvalidState))
}

// The end-to-end flow: two dispatches for one table, the first ticket is
// fully announced, the second stays pending.
func TestPartialOrderLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sub := f.bus.Subscribe(domain.TopicTicketCreated, domain.TopicItemsReady, domain.TopicOrderReady)
	defer sub.Close()

	_, err := f.carts.UpsertLine(ctx, "T1", "dal", 2, "")
	require.NoError(t, err)
	t1, err := f.dispatcher.Dispatch(ctx, "T1", "staff-1")
	require.NoError(t, err)
	require.Len(t, t1.Lines, 1)
	assert.Equal(t, 2, t1.Lines[0].Quantity)

	c, _ := f.carts.Get("T1")
	assert.Equal(t, 2, c.Lines[0].SentQuantity)

	_, err = f.carts.UpsertLine(ctx, "T1", "dal", 5, "")
	require.NoError(t, err)
	t2, err := f.dispatcher.Dispatch(ctx, "T1", "staff-1")
	require.NoError(t, err)
	require.Len(t, t2.Lines, 1)
	assert.Equal(t, 3, t2.Lines[0].Quantity, "second ticket carries only the delta")

	require.NoError(t, f.tracker.AnnounceReady(ctx, t1.Number, []int{0}))

	got1, err := f.dispatcher.Get(t1.Number)
	require.NoError(t, err)
	got2, err := f.dispatcher.Get(t2.Number)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketReady, got1.Status)
	assert.Equal(t, domain.TicketPending, got2.Status)

	// Causal order per ticket: created before items-ready before order-ready.
	var kinds []string
	for _, ev := range drain(sub) {
		switch e := ev.(type) {
		case domain.TicketCreated:
			if e.TicketNumber == t1.Number {
				kinds = append(kinds, "created")
			}
		case domain.ItemsReady:
			kinds = append(kinds, "items")
		case domain.OrderReady:
			kinds = append(kinds, "ready")
			assert.Equal(t, t1.Number, e.TicketNumber, "order-ready fires for T1 only")
		}
	}
	assert.Equal(t, []string{"created", "items", "ready"}, kinds)
}
