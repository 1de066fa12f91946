package order

import (
	"context"
	"errors"
	"fmt"

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

// =========== Order Repository ===========

type orderRepoPG struct{ pool *pgxpool.Pool }

func NewOrderRepoPG(pool *pgxpool.Pool) OrderRepository {
	return &orderRepoPG{pool: pool}
}

func (r *orderRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const orderCols = `id, order_number, subject_id, instrument_id, panel_id, barcode,
	status, created_by, reviewed_by, created_at, updated_at, completed_at, reviewed_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.OrderNumber, &o.SubjectID, &o.InstrumentID, &o.PanelID, &o.Barcode,
		&o.Status, &o.CreatedBy, &o.ReviewedBy, &o.CreatedAt, &o.UpdatedAt, &o.CompletedAt, &o.ReviewedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("order", "")
	}
	return &o, err
}

func (r *orderRepoPG) Create(ctx context.Context, o *Order) error {
	o.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO lab_order (id, order_number, subject_id, instrument_id, panel_id,
			barcode, status, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		o.ID, o.OrderNumber, o.SubjectID, o.InstrumentID, o.PanelID,
		o.Barcode, o.Status, o.CreatedBy)
	return err
}

func (r *orderRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	return scanOrder(r.conn(ctx).QueryRow(ctx, `SELECT `+orderCols+` FROM lab_order WHERE id = $1`, id))
}

func (r *orderRepoPG) GetByNumber(ctx context.Context, orderNumber string) (*Order, error) {
	return scanOrder(r.conn(ctx).QueryRow(ctx, `SELECT `+orderCols+` FROM lab_order WHERE order_number = $1`, orderNumber))
}

func (r *orderRepoPG) FindLiveByBarcode(ctx context.Context, barcode string) (*Order, error) {
	return scanOrder(r.conn(ctx).QueryRow(ctx, `
		SELECT `+orderCols+` FROM lab_order
		WHERE barcode = $1 AND status = ANY($2)
		ORDER BY created_at DESC LIMIT 1`, barcode, liveStatuses))
}

func (r *orderRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to string, actor string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE lab_order SET
			status = $3,
			updated_at = NOW(),
			completed_at = CASE WHEN $3 = 'completed' THEN NOW() ELSE completed_at END,
			reviewed_at = CASE WHEN $3 IN ('reviewed', 'ai_reviewed') THEN NOW() ELSE reviewed_at END,
			reviewed_by = CASE WHEN $3 IN ('reviewed', 'ai_reviewed') THEN $4 ELSE reviewed_by END
		WHERE id = $1 AND status = $2`, id, from, to, actor)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("order", "order %s is no longer in status %q", id, from)
	}
	return nil
}

func (r *orderRepoPG) List(ctx context.Context, status string, subjectID *uuid.UUID, limit, offset int) ([]*Order, int, error) {
	where := " WHERE 1=1"
	args := []interface{}{}
	if status != "" {
		args = append(args, status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if subjectID != nil {
		args = append(args, *subjectID)
		where += fmt.Sprintf(" AND subject_id = $%d", len(args))
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM lab_order`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT `+orderCols+` FROM lab_order`+where+` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		len(args)-1, len(args))
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, o)
	}
	return items, total, rows.Err()
}

// =========== ResultEntry Repository ===========

type resultEntryRepoPG struct{ pool *pgxpool.Pool }

func NewResultEntryRepoPG(pool *pgxpool.Pool) ResultEntryRepository {
	return &resultEntryRepoPG{pool: pool}
}

func (r *resultEntryRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const entryCols = `id, order_id, parameter_id, parameter_code, value, unit,
	reference_text, flagged, severity, lot_id, measured_at, created_at`

func scanEntry(row pgx.Row) (*ResultEntry, error) {
	var e ResultEntry
	err := row.Scan(&e.ID, &e.OrderID, &e.ParameterID, &e.ParameterCode, &e.Value, &e.Unit,
		&e.ReferenceText, &e.Flagged, &e.Severity, &e.LotID, &e.MeasuredAt, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("result entry", "")
	}
	return &e, err
}

func (r *resultEntryRepoPG) CreateBatch(ctx context.Context, entries []*ResultEntry) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		e.ID = uuid.New()
		if _, err := tx.Exec(ctx, `
			INSERT INTO result_entry (id, order_id, parameter_id, parameter_code,
				value, unit, reference_text, flagged, severity, lot_id, measured_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			e.ID, e.OrderID, e.ParameterID, e.ParameterCode,
			e.Value, e.Unit, e.ReferenceText, e.Flagged, e.Severity, e.LotID, e.MeasuredAt); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *resultEntryRepoPG) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*ResultEntry, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+entryCols+` FROM result_entry WHERE order_id = $1 ORDER BY created_at, parameter_code`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ResultEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (r *resultEntryRepoPG) UpdateValue(ctx context.Context, id uuid.UUID, value float64, flagged bool, severity *string, referenceText string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE result_entry SET value=$2, flagged=$3, severity=$4, reference_text=$5
		WHERE id = $1`, id, value, flagged, severity, referenceText)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("result entry", id.String())
	}
	return nil
}

// =========== Comment Repository ===========

type commentRepoPG struct{ pool *pgxpool.Pool }

func NewCommentRepoPG(pool *pgxpool.Pool) CommentRepository {
	return &commentRepoPG{pool: pool}
}

func (r *commentRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const commentCols = `id, order_id, position, body, author, created_at, updated_at`

func scanComment(row pgx.Row) (*Comment, error) {
	var c Comment
	err := row.Scan(&c.ID, &c.OrderID, &c.Position, &c.Body, &c.Author, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("comment", "")
	}
	return &c, err
}

func (r *commentRepoPG) Add(ctx context.Context, c *Comment) error {
	c.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO order_comment (id, order_id, position, body, author)
		VALUES ($1, $2,
			COALESCE((SELECT MAX(position)+1 FROM order_comment WHERE order_id=$2), 0),
			$3, $4)
		RETURNING position`,
		c.ID, c.OrderID, c.Body, c.Author).Scan(&c.Position)
}

func (r *commentRepoPG) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*Comment, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+commentCols+` FROM order_comment WHERE order_id = $1 ORDER BY position`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (r *commentRepoPG) GetAt(ctx context.Context, orderID uuid.UUID, position int) (*Comment, error) {
	return scanComment(r.conn(ctx).QueryRow(ctx, `
		SELECT `+commentCols+` FROM order_comment WHERE order_id = $1 AND position = $2`, orderID, position))
}

func (r *commentRepoPG) UpdateAt(ctx context.Context, orderID uuid.UUID, position int, body string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE order_comment SET body=$3, updated_at=NOW()
		WHERE order_id = $1 AND position = $2`, orderID, position, body)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("comment", fmt.Sprintf("index %d", position))
	}
	return nil
}

// DeleteAt removes the comment and shifts higher positions down so comments
// stay addressable by dense index. Both statements run on one acquired
// session unless the caller already scoped one.
func (r *commentRepoPG) DeleteAt(ctx context.Context, orderID uuid.UUID, position int) error {
	if db.ConnFromContext(ctx) == nil {
		conn, err := r.pool.Acquire(ctx)
		if err != nil {
			return err
		}
		defer conn.Release()
		ctx = db.WithConn(ctx, conn)
	}

	tag, err := r.conn(ctx).Exec(ctx, `
		DELETE FROM order_comment WHERE order_id = $1 AND position = $2`, orderID, position)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("comment", fmt.Sprintf("index %d", position))
	}
	_, err = r.conn(ctx).Exec(ctx, `
		UPDATE order_comment SET position = position - 1
		WHERE order_id = $1 AND position > $2`, orderID, position)
	return err
}
