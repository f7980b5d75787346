// Package billing closes a table's cart into an immutable bill.
package billing

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"tableserve/internal/apperr"
	"tableserve/internal/bus"
	"tableserve/internal/cart"
	"tableserve/internal/catalog"
	"tableserve/internal/domain"
	"tableserve/internal/tables"
)

type Audit interface {
	SaveBill(ctx context.Context, b domain.Bill) error
	UpdateBillPaid(ctx context.Context, number, paymentMethod string, paidAt time.Time) error
}

type NoopAudit struct{}

func (NoopAudit) SaveBill(context.Context, domain.Bill) error { return nil }
func (NoopAudit) UpdateBillPaid(context.Context, string, string, time.Time) error {
	return nil
}

type CloseOptions struct {
	StaffID string
	// KeepTableOccupied leaves the table as-is, for regenerating a bill that
	// is being edited before payment.
	KeepTableOccupied bool
}

type Engine struct {
	mu     sync.Mutex
	bills  map[string]*domain.Bill
	daySeq map[string]int

	carts   *cart.Store
	catalog catalog.Catalog
	tables  *tables.Registry
	bus     *bus.Bus
	audit   Audit
	log     *log.Entry
	now     func() time.Time
}

func NewEngine(carts *cart.Store, cat catalog.Catalog, reg *tables.Registry, b *bus.Bus, audit Audit, lg *log.Entry) *Engine {
	if audit == nil {
		audit = NoopAudit{}
	}
	return &Engine{
		bills:   make(map[string]*domain.Bill),
		daySeq:  make(map[string]int),
		carts:   carts,
		catalog: cat,
		tables:  reg,
		bus:     b,
		audit:   audit,
		log:     lg,
		now:     time.Now,
	}
}

// CloseBill consumes the table's cart into a bill. All current lines are
// billed, dispatched or not, at their add-time snapshot price. Charges are
// applied in a fixed order: discount off the subtotal, then every active
// tax/charge independently off the discounted subtotal (parallel, never
// compounded), then a signed round-off to the nearest whole currency unit.
func (e *Engine) CloseBill(ctx context.Context, tableName, paymentMethod string, opts CloseOptions) (domain.Bill, error) {
	tbl, err := e.tables.Get(tableName)
	if err != nil {
		return domain.Bill{}, err
	}

	var bill domain.Bill
	err = e.carts.Consume(ctx, tableName, func(c domain.Cart) error {
		b, err := e.compute(ctx, tbl, c, opts.StaffID)
		if err != nil {
			return err
		}
		b.PaymentMethod = paymentMethod
		if err := e.audit.SaveBill(ctx, b); err != nil {
			return err
		}
		e.mu.Lock()
		e.bills[b.Number] = &b
		e.mu.Unlock()
		bill = b
		return nil
	})
	if err != nil {
		return domain.Bill{}, err
	}

	if !opts.KeepTableOccupied {
		if err := e.tables.SetStatus(tableName, domain.TableAvailable); err != nil {
			e.log.WithField("action", "table_status").WithError(err).Warn("free table after billing")
		}
	}
	e.bus.Publish(domain.BillCreated{
		EventMeta:   domain.NewEventMeta(),
		BillNumber:  bill.Number,
		TableName:   tableName,
		TotalAmount: bill.GrandTotal,
	})
	e.log.WithFields(log.Fields{
		"action": "bill_created",
		"bill":   bill.Number,
		"table":  tableName,
		"total":  bill.GrandTotal,
	}).Info("bill created")
	return copyBill(&bill), nil
}

func (e *Engine) compute(ctx context.Context, tbl domain.Table, c domain.Cart, staffID string) (domain.Bill, error) {
	items := make([]domain.BillLine, 0, len(c.Lines))
	subtotal := 0.0
	for _, l := range c.Lines {
		lineTotal := l.UnitPrice * float64(l.Quantity)
		items = append(items, domain.BillLine{
			ItemName:   l.ItemName,
			UnitPrice:  l.UnitPrice,
			Quantity:   l.Quantity,
			TotalPrice: lineTotal,
		})
		subtotal += lineTotal
	}

	discount, err := e.sumCharges(ctx, domain.SettingDiscount, subtotal)
	if err != nil {
		return domain.Bill{}, err
	}
	base := subtotal - discount

	taxSettings, err := e.catalog.ActiveSettings(ctx, domain.SettingTax)
	if err != nil {
		return domain.Bill{}, err
	}
	var taxes []domain.TaxLine
	taxTotal := 0.0
	for _, s := range taxSettings {
		amt := chargeAmount(s, base)
		taxes = append(taxes, domain.TaxLine{Name: s.Name, Rate: s.Rate, Unit: s.Unit, Amount: amt})
		taxTotal += amt
	}

	service, err := e.sumCharges(ctx, domain.SettingServiceCharge, base)
	if err != nil {
		return domain.Bill{}, err
	}
	delivery, err := e.sumCharges(ctx, domain.SettingDelivery, base)
	if err != nil {
		return domain.Bill{}, err
	}
	packaging, err := e.sumCharges(ctx, domain.SettingPackage, base)
	if err != nil {
		return domain.Bill{}, err
	}

	rawTotal := base + taxTotal + service + delivery + packaging
	roundOff := math.Round(rawTotal) - rawTotal

	now := e.now().UTC()
	return domain.Bill{
		Number:        e.nextNumber(now),
		TableName:     tbl.Name,
		SpaceName:     tbl.Space,
		StaffID:       staffID,
		GuestCount:    c.GuestCount,
		Items:         items,
		Subtotal:      subtotal,
		Discount:      discount,
		Taxes:         taxes,
		ServiceCharge: service,
		DeliveryFee:   delivery,
		PackagingFee:  packaging,
		RoundOff:      roundOff,
		GrandTotal:    rawTotal + roundOff,
		Status:        domain.BillStatusUnpaid,
		CreatedAt:     now,
	}, nil
}

func (e *Engine) sumCharges(ctx context.Context, kind domain.SettingKind, base float64) (float64, error) {
	settings, err := e.catalog.ActiveSettings(ctx, kind)
	if err != nil {
		return 0, err
	}
	total := 0.0
	for _, s := range settings {
		total += chargeAmount(s, base)
	}
	return total, nil
}

func chargeAmount(s domain.Setting, base float64) float64 {
	if s.Unit == domain.UnitPercentage {
		return base * s.Rate / 100
	}
	return s.Rate
}

// MarkPaid transitions a bill unpaid -> paid exactly once.
func (e *Engine) MarkPaid(ctx context.Context, number, paymentMethod string) (domain.Bill, error) {
	if paymentMethod == "" {
		return domain.Bill{}, apperr.New(apperr.InvalidState, "payment method is required")
	}
	e.mu.Lock()
	b, ok := e.bills[number]
	if !ok {
		e.mu.Unlock()
		return domain.Bill{}, apperr.New(apperr.NotFound, "unknown bill %q", number)
	}
	if b.Status == domain.BillStatusPaid {
		e.mu.Unlock()
		return domain.Bill{}, apperr.New(apperr.AlreadySettled, "bill %q is already paid", number)
	}
	paidAt := e.now().UTC()
	b.Status = domain.BillStatusPaid
	b.PaymentMethod = paymentMethod
	b.PaidAt = &paidAt
	out := copyBill(b)
	e.mu.Unlock()

	if err := e.audit.UpdateBillPaid(ctx, number, paymentMethod, paidAt); err != nil {
		e.log.WithFields(log.Fields{"action": "bill_paid", "bill": number}).
			WithError(err).Error("persist payment")
	}
	e.bus.Publish(domain.BillPaid{
		EventMeta:     domain.NewEventMeta(),
		BillNumber:    number,
		PaymentMethod: paymentMethod,
	})
	return out, nil
}

func (e *Engine) Get(number string) (domain.Bill, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.bills[number]
	if !ok {
		return domain.Bill{}, apperr.New(apperr.NotFound, "unknown bill %q", number)
	}
	return copyBill(b), nil
}

// List returns all bills, newest first. staffID filters to one staff
// member's bills when non-empty.
func (e *Engine) List(staffID string) []domain.Bill {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []domain.Bill
	for _, b := range e.bills {
		if staffID != "" && b.StaffID != staffID {
			continue
		}
		out = append(out, copyBill(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// nextNumber issues BILL_YYYYMMDD_NNN from a per-day sequence.
func (e *Engine) nextNumber(now time.Time) string {
	day := now.Format("20060102")
	e.mu.Lock()
	defer e.mu.Unlock()
	e.daySeq[day]++
	return fmt.Sprintf("BILL_%s_%03d", day, e.daySeq[day])
}

func copyBill(b *domain.Bill) domain.Bill {
	out := *b
	out.Items = make([]domain.BillLine, len(b.Items))
	copy(out.Items, b.Items)
	out.Taxes = make([]domain.TaxLine, len(b.Taxes))
	copy(out.Taxes, b.Taxes)
	if b.PaidAt != nil {
		t := *b.PaidAt
		out.PaidAt = &t
	}
	return out
}
