package catalog

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"tableserve/internal/domain"
)

// PG reads the catalog tables the admin surface maintains.
type PG struct {
	pool *pgxpool.Pool
}

func NewPG(pool *pgxpool.Pool) *PG { return &PG{pool: pool} }

func (p *PG) GetItem(ctx context.Context, itemID string) (*domain.MenuItem, error) {
	var it domain.MenuItem
	err := p.pool.QueryRow(ctx,
		`SELECT id, name, price, category_id FROM menu_items WHERE id = $1`,
		itemID,
	).Scan(&it.ID, &it.Name, &it.Price, &it.CategoryID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "query menu item")
	}
	return &it, nil
}

func (p *PG) ActiveSettings(ctx context.Context, kind domain.SettingKind) ([]domain.Setting, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT name, rate, unit FROM settings WHERE kind = $1 AND active`,
		string(kind),
	)
	if err != nil {
		return nil, errors.Wrap(err, "query settings")
	}
	defer rows.Close()

	var out []domain.Setting
	for rows.Next() {
		var s domain.Setting
		if err := rows.Scan(&s.Name, &s.Rate, &s.Unit); err != nil {
			return nil, errors.Wrap(err, "scan setting")
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
