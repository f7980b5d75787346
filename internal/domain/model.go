package domain

import "time"

type TableStatus string

const (
	TableAvailable TableStatus = "available"
	TableOccupied  TableStatus = "occupied"
	TableReserved  TableStatus = "reserved"
)

type Table struct {
	Name     string      `json:"tableName"`
	Space    string      `json:"spaceName"`
	Capacity int         `json:"capacity"`
	Status   TableStatus `json:"status"`
}

type MenuItem struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Price      float64 `json:"price"`
	CategoryID string  `json:"categoryId"`
}

type SettingKind string

const (
	SettingTax           SettingKind = "TAX"
	SettingDiscount      SettingKind = "DISCOUNT"
	SettingServiceCharge SettingKind = "SERVICE_CHARGE"
	SettingDelivery      SettingKind = "DELIVERY"
	SettingPackage       SettingKind = "PACKAGE"
)

type SettingUnit string

const (
	UnitPercentage SettingUnit = "percentage"
	UnitAmount     SettingUnit = "amount"
)

type Setting struct {
	Name string      `json:"name"`
	Rate float64     `json:"rate"`
	Unit SettingUnit `json:"unit"`
}

// CartLine carries a price snapshot taken at add time; billing never
// re-reads the catalog, so historical bills survive menu edits.
type CartLine struct {
	ItemID       string  `json:"itemId"`
	ItemName     string  `json:"itemName"`
	UnitPrice    float64 `json:"unitPrice"`
	Quantity     int     `json:"quantity"`
	SentQuantity int     `json:"sentQuantity"`
	Note         string  `json:"note,omitempty"`
}

// Unsent is the quantity not yet covered by any kitchen ticket.
func (l CartLine) Unsent() int { return l.Quantity - l.SentQuantity }

type Cart struct {
	TableName  string     `json:"tableName"`
	SpaceName  string     `json:"spaceName"`
	GuestCount int        `json:"guestCount"`
	Lines      []CartLine `json:"lines"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

func (c Cart) Line(itemID string) (CartLine, bool) {
	for _, l := range c.Lines {
		if l.ItemID == itemID {
			return l, true
		}
	}
	return CartLine{}, false
}

type TicketStatus string

const (
	TicketPending TicketStatus = "pending"
	TicketReady   TicketStatus = "ready"
)

type TicketLine struct {
	ItemID   string `json:"itemId"`
	ItemName string `json:"itemName"`
	Quantity int    `json:"quantity"`
	Note     string `json:"note,omitempty"`
}

// Ticket is a kitchen order ticket (KOT). It only ever carries the delta
// between the cart and what previous tickets already sent, and is immutable
// after creation except for the pending -> ready status flip.
type Ticket struct {
	Number     uint64       `json:"kotNumber"`
	TableName  string       `json:"tableName"`
	SpaceName  string       `json:"spaceName"`
	StaffID    string       `json:"staffId"`
	GuestCount int          `json:"guestCount"`
	Lines      []TicketLine `json:"lines"`
	Status     TicketStatus `json:"status"`
	CreatedAt  time.Time    `json:"createdAt"`
}

func (t Ticket) TotalQuantity() int {
	q := 0
	for _, l := range t.Lines {
		q += l.Quantity
	}
	return q
}

type BillStatus string

const (
	BillStatusUnpaid BillStatus = "unpaid"
	BillStatusPaid   BillStatus = "paid"
)

type BillLine struct {
	ItemName   string  `json:"itemName"`
	UnitPrice  float64 `json:"unitPrice"`
	Quantity   int     `json:"quantity"`
	TotalPrice float64 `json:"totalPrice"`
}

type TaxLine struct {
	Name   string      `json:"name"`
	Rate   float64     `json:"rate"`
	Unit   SettingUnit `json:"unit"`
	Amount float64     `json:"amount"`
}

type Bill struct {
	Number        string     `json:"billNumber"`
	TableName     string     `json:"tableName"`
	SpaceName     string     `json:"spaceName"`
	StaffID       string     `json:"staffId"`
	GuestCount    int        `json:"guestCount"`
	Items         []BillLine `json:"items"`
	Subtotal      float64    `json:"subtotal"`
	Discount      float64    `json:"discountAmount"`
	Taxes         []TaxLine  `json:"taxes"`
	ServiceCharge float64    `json:"serviceCharge"`
	DeliveryFee   float64    `json:"deliveryFee"`
	PackagingFee  float64    `json:"packagingFee"`
	RoundOff      float64    `json:"roundOff"`
	GrandTotal    float64    `json:"totalAmount"`
	Status        BillStatus `json:"status"`
	PaymentMethod string     `json:"paymentMethod,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	PaidAt        *time.Time `json:"paidAt,omitempty"`
}
