package inventory

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hemalab/lims/internal/platform/apperr"
	"github.com/hemalab/lims/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type consumableRepoPG struct{ pool *pgxpool.Pool }

func NewConsumableRepoPG(pool *pgxpool.Pool) ConsumableRepository {
	return &consumableRepoPG{pool: pool}
}

func (r *consumableRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const consumableCols = `id, type_name, lot, expiry, quantity_installed,
	quantity_remaining, status, installed_at, updated_at`

func scanConsumable(row pgx.Row) (*Consumable, error) {
	var c Consumable
	err := row.Scan(&c.ID, &c.TypeName, &c.Lot, &c.Expiry, &c.QuantityInstalled,
		&c.QuantityRemaining, &c.Status, &c.InstalledAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("consumable installation", "")
	}
	return &c, err
}

func (r *consumableRepoPG) Create(ctx context.Context, c *Consumable) error {
	c.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO consumable (id, type_name, lot, expiry, quantity_installed,
			quantity_remaining, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		c.ID, c.TypeName, c.Lot, c.Expiry, c.QuantityInstalled,
		c.QuantityRemaining, c.Status)
	return err
}

func (r *consumableRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Consumable, error) {
	return scanConsumable(r.conn(ctx).QueryRow(ctx, `SELECT `+consumableCols+` FROM consumable WHERE id = $1`, id))
}

func (r *consumableRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE consumable SET status=$2, updated_at=NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("consumable installation", id.String())
	}
	return nil
}

func (r *consumableRepoPG) List(ctx context.Context, typeName string, limit, offset int) ([]*Consumable, int, error) {
	where := ""
	args := []interface{}{limit, offset}
	if typeName != "" {
		where = " WHERE type_name = $3"
		args = append(args, typeName)
	}
	var total int
	countArgs := args[2:]
	countWhere := ""
	if typeName != "" {
		countWhere = " WHERE type_name = $1"
	}
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM consumable`+countWhere, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+consumableCols+` FROM consumable`+where+` ORDER BY installed_at DESC LIMIT $1 OFFSET $2`, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Consumable
	for rows.Next() {
		c, err := scanConsumable(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

func (r *consumableRepoPG) ListUsable(ctx context.Context, typeNames []string) ([]*Consumable, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+consumableCols+` FROM consumable
		WHERE type_name = ANY($1) AND status = 'in_use'
			AND expiry > NOW() AND quantity_remaining > 0
		ORDER BY expiry`, typeNames)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Consumable
	for rows.Next() {
		c, err := scanConsumable(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

// Decrement is the compare-and-swap write: the quantity predicate is part of
// the UPDATE itself, so a concurrent drain makes this affect zero rows rather
// than driving remaining below zero.
func (r *consumableRepoPG) Decrement(ctx context.Context, id uuid.UUID, amount float64) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE consumable
		SET quantity_remaining = quantity_remaining - $2, updated_at = NOW()
		WHERE id = $1 AND quantity_remaining >= $2`, id, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		c, getErr := r.GetByID(ctx, id)
		if getErr != nil {
			return getErr
		}
		return apperr.Resource(c.TypeName, c.Lot)
	}
	return nil
}

func (r *consumableRepoPG) MarkExpired(ctx context.Context) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE consumable SET status = 'expired', updated_at = NOW()
		WHERE status <> 'expired' AND expiry <= NOW()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
