package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tableserve/internal/bus"
	"tableserve/internal/domain"
)

func TestAddDedupesOnEventID(t *testing.T) {
	f := NewFeed(bus.New(nil))

	ev := domain.OrderReady{EventMeta: domain.NewEventMeta(), TicketNumber: 7, TableName: "T1"}
	f.Add(ev)
	f.Add(ev) // redelivery
	f.Add(ev)

	items := f.Items()
	require.Len(t, items, 1)
	assert.Equal(t, ev.EventID(), items[0].EventID)

	// A distinct event with the same payload is still new.
	f.Add(domain.OrderReady{EventMeta: domain.NewEventMeta(), TicketNumber: 7, TableName: "T1"})
	assert.Len(t, f.Items(), 2)
}

func TestTableScoping(t *testing.T) {
	f := NewFeed(bus.New(nil), "T1", "T3")

	f.Add(domain.ItemsReady{EventMeta: domain.NewEventMeta(), TicketNumber: 1, TableName: "T1", Message: "Order for table T1 is ready."})
	f.Add(domain.ItemsReady{EventMeta: domain.NewEventMeta(), TicketNumber: 2, TableName: "T2", Message: "Order for table T2 is ready."})
	f.Add(domain.BillPaid{EventMeta: domain.NewEventMeta(), BillNumber: "BILL_20260829_001", PaymentMethod: "CASH"})

	items := f.Items()
	require.Len(t, items, 2, "other tables are filtered, table-less events pass")
	assert.Equal(t, "T1", items[0].TableName)
	assert.Equal(t, "Order for table T1 is ready.", items[0].Message)
	assert.Equal(t, domain.TopicBillPaid, items[1].Topic)
}

func TestUnseenCount(t *testing.T) {
	f := NewFeed(bus.New(nil))

	f.Add(domain.TicketCreated{EventMeta: domain.NewEventMeta(), TicketNumber: 1, TableName: "T1"})
	f.Add(domain.OrderReady{EventMeta: domain.NewEventMeta(), TicketNumber: 1, TableName: "T1"})
	assert.Equal(t, 2, f.Unread())

	f.MarkSeen()
	assert.Equal(t, 0, f.Unread())

	f.Add(domain.BillCreated{EventMeta: domain.NewEventMeta(), BillNumber: "BILL_20260829_001", TableName: "T1", TotalAmount: 965})
	assert.Equal(t, 1, f.Unread(), "new events arrive unread")

	for _, it := range f.Items()[:2] {
		assert.True(t, it.Seen)
	}
}

func TestHubScopedFeeds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := bus.New(nil)
	hub := NewHub(ctx, b)

	all := hub.Feed()
	mine := hub.Feed("T1", "T3")
	assert.Same(t, mine, hub.Feed("T3", "T1"), "same table set shares one feed regardless of order")
	assert.NotSame(t, all, mine)

	b.Publish(domain.OrderReady{EventMeta: domain.NewEventMeta(), TicketNumber: 1, TableName: "T2"})
	b.Publish(domain.OrderReady{EventMeta: domain.NewEventMeta(), TicketNumber: 2, TableName: "T1"})

	require.Eventually(t, func() bool { return len(all.Items()) == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(mine.Items()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "T1", mine.Items()[0].TableName, "other tables never reach a scoped feed")
}

func TestMessages(t *testing.T) {
	f := NewFeed(bus.New(nil))

	f.Add(domain.TicketCreated{EventMeta: domain.NewEventMeta(), TicketNumber: 4, TableName: "T2"})
	f.Add(domain.BillPaid{EventMeta: domain.NewEventMeta(), BillNumber: "BILL_20260829_002", PaymentMethod: "UPI"})

	items := f.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "KOT #4 sent to kitchen for table T2", items[0].Message)
	assert.Equal(t, "Bill BILL_20260829_002 paid via UPI", items[1].Message)
}
