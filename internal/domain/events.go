package domain

import (
	"time"

	"github.com/google/uuid"
)

type Topic string

const (
	TopicTicketCreated      Topic = "ticket-created"
	TopicItemsReady         Topic = "items-ready"
	TopicOrderReady         Topic = "order-ready"
	TopicBillCreated        Topic = "bill-created"
	TopicBillPaid           Topic = "bill-paid"
	TopicTableStatusChanged Topic = "table-status-changed"
)

func AllTopics() []Topic {
	return []Topic{
		TopicTicketCreated, TopicItemsReady, TopicOrderReady,
		TopicBillCreated, TopicBillPaid, TopicTableStatusChanged,
	}
}

// Event is anything the core publishes on the notification bus. Delivery is
// at-least-once: consumers must dedupe on EventID, never blindly append.
type Event interface {
	Topic() Topic
	EventID() uuid.UUID
}

type EventMeta struct {
	ID         uuid.UUID `json:"eventId"`
	OccurredAt time.Time `json:"occurredAt"`
}

func NewEventMeta() EventMeta {
	return EventMeta{ID: uuid.New(), OccurredAt: time.Now().UTC()}
}

func (m EventMeta) EventID() uuid.UUID { return m.ID }

type TicketCreated struct {
	EventMeta
	TicketNumber uint64       `json:"ticketId"`
	TableName    string       `json:"table"`
	SpaceName    string       `json:"space"`
	Lines        []TicketLine `json:"lines"`
}

func (TicketCreated) Topic() Topic { return TopicTicketCreated }

type ItemsReady struct {
	EventMeta
	TicketNumber uint64       `json:"ticketId"`
	TableName    string       `json:"table"`
	Lines        []TicketLine `json:"lines"`
	Message      string       `json:"message"`
}

func (ItemsReady) Topic() Topic { return TopicItemsReady }

type OrderReady struct {
	EventMeta
	TicketNumber uint64 `json:"ticketId"`
	TableName    string `json:"table"`
}

func (OrderReady) Topic() Topic { return TopicOrderReady }

type BillCreated struct {
	EventMeta
	BillNumber  string  `json:"billId"`
	TableName   string  `json:"table"`
	TotalAmount float64 `json:"totalAmount"`
}

func (BillCreated) Topic() Topic { return TopicBillCreated }

type BillPaid struct {
	EventMeta
	BillNumber    string `json:"billId"`
	PaymentMethod string `json:"paymentMethod"`
}

func (BillPaid) Topic() Topic { return TopicBillPaid }

type TableStatusChanged struct {
	EventMeta
	TableName string      `json:"table"`
	Status    TableStatus `json:"status"`
}

func (TableStatusChanged) Topic() Topic { return TopicTableStatusChanged }

// EventTable names the table an event concerns, for interest filtering in
// staff-side feeds. Empty when the event is not table-scoped.
func EventTable(ev Event) string {
	switch e := ev.(type) {
	case TicketCreated:
		return e.TableName
	case ItemsReady:
		return e.TableName
	case OrderReady:
		return e.TableName
	case BillCreated:
		return e.TableName
	case TableStatusChanged:
		return e.TableName
	}
	return ""
}
