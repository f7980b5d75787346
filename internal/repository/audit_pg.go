// Package repository persists the permanent records: every dispatched
// ticket and every bill. Carts and preparation state are live server memory
// and are deliberately not stored.
package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"tableserve/internal/domain"
)

type Audit struct {
	pool *pgxpool.Pool
}

func NewAudit(pool *pgxpool.Pool) *Audit { return &Audit{pool: pool} }

// EnsureSchema creates the audit tables on first boot.
func (a *Audit) EnsureSchema(ctx context.Context) error {
	_, err := a.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS kitchen_tickets (
			number      BIGINT PRIMARY KEY,
			table_name  TEXT NOT NULL,
			space_name  TEXT NOT NULL,
			staff_id    TEXT NOT NULL,
			guest_count INT NOT NULL,
			lines       JSONB NOT NULL,
			status      TEXT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS bills (
			number         TEXT PRIMARY KEY,
			table_name     TEXT NOT NULL,
			space_name     TEXT NOT NULL,
			staff_id       TEXT NOT NULL,
			guest_count    INT NOT NULL,
			items          JSONB NOT NULL,
			subtotal       DOUBLE PRECISION NOT NULL,
			discount       DOUBLE PRECISION NOT NULL,
			taxes          JSONB NOT NULL,
			service_charge DOUBLE PRECISION NOT NULL,
			delivery_fee   DOUBLE PRECISION NOT NULL,
			packaging_fee  DOUBLE PRECISION NOT NULL,
			round_off      DOUBLE PRECISION NOT NULL,
			grand_total    DOUBLE PRECISION NOT NULL,
			status         TEXT NOT NULL,
			payment_method TEXT,
			created_at     TIMESTAMPTZ NOT NULL,
			paid_at        TIMESTAMPTZ
		);
	`)
	return errors.Wrap(err, "ensure schema")
}

func (a *Audit) SaveTicket(ctx context.Context, t domain.Ticket) error {
	lines, err := json.Marshal(t.Lines)
	if err != nil {
		return errors.Wrap(err, "marshal ticket lines")
	}
	_, err = a.pool.Exec(ctx, `
		INSERT INTO kitchen_tickets (number, table_name, space_name, staff_id, guest_count, lines, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.Number, t.TableName, t.SpaceName, t.StaffID, t.GuestCount, lines, string(t.Status), t.CreatedAt,
	)
	return errors.Wrap(err, "insert ticket")
}

func (a *Audit) UpdateTicketStatus(ctx context.Context, number uint64, status domain.TicketStatus) error {
	_, err := a.pool.Exec(ctx,
		`UPDATE kitchen_tickets SET status = $2 WHERE number = $1`,
		number, string(status),
	)
	return errors.Wrap(err, "update ticket status")
}

// MaxTicketNumber seeds the dispatch counter after a restart.
func (a *Audit) MaxTicketNumber(ctx context.Context) (uint64, error) {
	var max uint64
	err := a.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(number), 0) FROM kitchen_tickets`,
	).Scan(&max)
	return max, errors.Wrap(err, "max ticket number")
}

func (a *Audit) SaveBill(ctx context.Context, b domain.Bill) error {
	items, err := json.Marshal(b.Items)
	if err != nil {
		return errors.Wrap(err, "marshal bill items")
	}
	taxes, err := json.Marshal(b.Taxes)
	if err != nil {
		return errors.Wrap(err, "marshal bill taxes")
	}
	_, err = a.pool.Exec(ctx, `
		INSERT INTO bills (number, table_name, space_name, staff_id, guest_count, items,
			subtotal, discount, taxes, service_charge, delivery_fee, packaging_fee,
			round_off, grand_total, status, payment_method, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		b.Number, b.TableName, b.SpaceName, b.StaffID, b.GuestCount, items,
		b.Subtotal, b.Discount, taxes, b.ServiceCharge, b.DeliveryFee, b.PackagingFee,
		b.RoundOff, b.GrandTotal, string(b.Status), b.PaymentMethod, b.CreatedAt,
	)
	return errors.Wrap(err, "insert bill")
}

func (a *Audit) UpdateBillPaid(ctx context.Context, number, paymentMethod string, paidAt time.Time) error {
	_, err := a.pool.Exec(ctx,
		`UPDATE bills SET status = 'paid', payment_method = $2, paid_at = $3 WHERE number = $1`,
		number, paymentMethod, paidAt,
	)
	return errors.Wrap(err, "update bill paid")
}
