package ticket

import (
	"context"
	"io"
	"sync"
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
)

func testLogger() *log.Entry {
	l := log.New()
	l.SetOutput(io.Discard)
	return log.NewEntry(l)
}

type fixture struct {
	carts      *cart.Store
	dispatcher *Dispatcher
	registry   *tables.Registry
	bus        *bus.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cat := catalog.NewMemory()
	cat.PutItem(domain.MenuItem{ID: "dal", Name: "Dal Makhani", Price: 210})
	cat.PutItem(domain.MenuItem{ID: "naan", Name: "Butter Naan", Price: 45})

	b := bus.New(nil)
	reg := tables.NewRegistry(b)
	reg.Add(domain.Table{Name: "T1", Space: "Main Hall", Capacity: 4})
	reg.Add(domain.Table{Name: "T2", Space: "Terrace", Capacity: 2})

	carts := cart.NewStore(cat, reg, time.Second)
	d := NewDispatcher(carts, reg, b, nil, time.Second, testLogger())
	return &fixture{carts: carts, dispatcher: d, registry: reg, bus: b}
}

func TestDispatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sub := f.bus.Subscribe(domain.TopicTicketCreated)
	defer sub.Close()

	_, err := f.carts.UpsertLine(ctx, "T1", "dal", 2, "")
	require.NoError(t, err)

	tk, err := f.dispatcher.Dispatch(ctx, "T1", "staff-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), tk.Number)
	assert.Equal(t, domain.TicketPending, tk.Status)
	require.Len(t, tk.Lines, 1)
	assert.Equal(t, 2, tk.Lines[0].Quantity)

	c, ok := f.carts.Get("T1")
	require.True(t, ok)
	assert.Equal(t, 2, c.Lines[0].SentQuantity)

	tbl, err := f.registry.Get("T1")
	require.NoError(t, err)
	assert.Equal(t, domain.TableOccupied, tbl.Status)

	ev := (<-sub.Events()).(domain.TicketCreated)
	assert.Equal(t, tk.Number, ev.TicketNumber)
	assert.Equal(t, "T1", ev.TableName)
	require.Len(t, ev.Lines, 1)
}

func TestDispatchDeltaOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.carts.UpsertLine(ctx, "T1", "dal", 2, "")
	require.NoError(t, err)
	_, err = f.dispatcher.Dispatch(ctx, "T1", "staff-1")
	require.NoError(t, err)

	// Three more of the same item: the second ticket carries only the delta.
	_, err = f.carts.UpsertLine(ctx, "T1", "dal", 5, "")
	require.NoError(t, err)
	t2, err := f.dispatcher.Dispatch(ctx, "T1", "staff-1")
	require.NoError(t, err)
	require.Len(t, t2.Lines, 1)
	assert.Equal(t, 3, t2.Lines[0].Quantity)

	c, _ := f.carts.Get("T1")
	assert.Equal(t, 5, c.Lines[0].SentQuantity)
	assert.Equal(t, 5, c.Lines[0].Quantity)
}

func TestDispatchEmptyDelta(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	t.Run("no cart at all", func(t *testing.T) {
		_, err := f.dispatcher.Dispatch(ctx, "T1", "staff-1")
		assert.True(t, apperr.Is(err, apperr.EmptyDelta))
	})

	t.Run("double dispatch with no cart change", func(t *testing.T) {
		_, err := f.carts.UpsertLine(ctx, "T1", "naan", 1, "")
		require.NoError(t, err)
		_, err = f.dispatcher.Dispatch(ctx, "T1", "staff-1")
		require.NoError(t, err)

		_, err = f.dispatcher.Dispatch(ctx, "T1", "staff-1")
		assert.True(t, apperr.Is(err, apperr.EmptyDelta))
		assert.True(t, apperr.Benign(err))
	})

	t.Run("unknown table", func(t *testing.T) {
		_, err := f.dispatcher.Dispatch(ctx, "T9", "staff-1")
		assert.True(t, apperr.Is(err, apperr.NotFound))
	})
}

// Ticket lines ever issued for an item must never exceed its final cart
// quantity, and numbering must stay strictly monotonic, even with tables
// dispatching in parallel.
func TestConcurrentDispatchNumbering(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	const rounds = 20
	var wg sync.WaitGroup
	for _, table := range []string{"T1", "T2"} {
		wg.Add(1)
		go func(table string) {
			defer wg.Done()
			for i := 1; i <= rounds; i++ {
				_, err := f.carts.UpsertLine(ctx, table, "dal", i, "")
				assert.NoError(t, err)
				_, err = f.dispatcher.Dispatch(ctx, table, "staff-1")
				assert.NoError(t, err)
			}
		}(table)
	}
	wg.Wait()

	seen := make(map[uint64]bool)
	for _, tk := range f.dispatcher.List() {
		assert.False(t, seen[tk.Number], "duplicate ticket number %d", tk.Number)
		seen[tk.Number] = true
	}

	for _, table := range []string{"T1", "T2"} {
		c, ok := f.carts.Get(table)
		require.True(t, ok)
		total := 0
		for _, tk := range f.dispatcher.List() {
			if tk.TableName != table {
				continue
			}
			for _, l := range tk.Lines {
				total += l.Quantity
			}
		}
		assert.LessOrEqual(t, total, c.Lines[0].Quantity)
		assert.Equal(t, c.Lines[0].SentQuantity, total)
	}
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.dispatcher.Seed(41)

	_, err := f.carts.UpsertLine(ctx, "T1", "dal", 1, "")
	require.NoError(t, err)
	tk, err := f.dispatcher.Dispatch(ctx, "T1", "staff-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), tk.Number)

	// Seeding backwards must never rewind the counter.
	f.dispatcher.Seed(10)
	_, err = f.carts.UpsertLine(ctx, "T1", "dal", 2, "")
	require.NoError(t, err)
	tk2, err := f.dispatcher.Dispatch(ctx, "T1", "staff-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(43), tk2.Number)
}
