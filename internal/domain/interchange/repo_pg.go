package interchange

import (
	"context"
	"errors"
	"fmt"
	"time"

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

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const messageCols = `id, order_id, payload, status, can_delete, created_at, processed_at`

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.OrderID, &m.Payload, &m.Status, &m.CanDelete, &m.CreatedAt, &m.ProcessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("message", "")
	}
	return &m, err
}

func (r *repoPG) Create(ctx context.Context, m *Message) error {
	m.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO interchange_message (id, order_id, payload, status, can_delete)
		VALUES ($1,$2,$3,$4,$5)`,
		m.ID, m.OrderID, m.Payload, m.Status, m.CanDelete)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	return scanMessage(r.conn(ctx).QueryRow(ctx,
		`SELECT `+messageCols+` FROM interchange_message WHERE id = $1`, id))
}

func (r *repoPG) List(ctx context.Context, status string, limit, offset int) ([]*Message, int, error) {
	where := ""
	args := []interface{}{}
	if status != "" {
		where = " WHERE status = $1"
		args = append(args, status)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM interchange_message`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM interchange_message%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		messageCols, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, m)
	}
	return out, total, rows.Err()
}

func (r *repoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to string, canDelete bool) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE interchange_message SET
			status = $3,
			can_delete = $4,
			processed_at = CASE WHEN $3 IN ('processed', 'synced') THEN NOW() ELSE processed_at END
		WHERE id = $1 AND status = $2`, id, from, to, canDelete)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("message", "message %s is no longer in status %q", id, from)
	}
	return nil
}

func (r *repoPG) AttachOrder(ctx context.Context, id, orderID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE interchange_message SET order_id = $2 WHERE id = $1`, id, orderID)
	return err
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM interchange_message WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("message", id.String())
	}
	return nil
}

func (r *repoPG) DeleteSyncedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		DELETE FROM interchange_message
		WHERE status = 'synced' AND can_delete = TRUE AND created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
