package catalog

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

// =========== Parameter Repository ===========

type parameterRepoPG struct{ pool *pgxpool.Pool }

func NewParameterRepoPG(pool *pgxpool.Pool) ParameterRepository {
	return &parameterRepoPG{pool: pool}
}

func (r *parameterRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const paramCols = `id, code, name, unit, normal_min, normal_max,
	consumable_type, usage_per_test, active, created_at, updated_at`

func scanParameter(row pgx.Row) (*Parameter, error) {
	var p Parameter
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Unit, &p.NormalMin, &p.NormalMax,
		&p.ConsumableType, &p.UsagePerTest, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("parameter", "")
	}
	return &p, err
}

func (r *parameterRepoPG) Create(ctx context.Context, p *Parameter) error {
	p.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO parameter (id, code, name, unit, normal_min, normal_max,
			consumable_type, usage_per_test, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		p.ID, p.Code, p.Name, p.Unit, p.NormalMin, p.NormalMax,
		p.ConsumableType, p.UsagePerTest, p.Active)
	return err
}

func (r *parameterRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Parameter, error) {
	return scanParameter(r.conn(ctx).QueryRow(ctx, `SELECT `+paramCols+` FROM parameter WHERE id = $1`, id))
}

func (r *parameterRepoPG) GetByCode(ctx context.Context, code string) (*Parameter, error) {
	return scanParameter(r.conn(ctx).QueryRow(ctx, `SELECT `+paramCols+` FROM parameter WHERE code = $1`, code))
}

func (r *parameterRepoPG) Update(ctx context.Context, p *Parameter) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE parameter SET name=$2, unit=$3, normal_min=$4, normal_max=$5,
			consumable_type=$6, usage_per_test=$7, active=$8, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.Name, p.Unit, p.NormalMin, p.NormalMax,
		p.ConsumableType, p.UsagePerTest, p.Active)
	return err
}

func (r *parameterRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM parameter WHERE id = $1`, id)
	return err
}

func (r *parameterRepoPG) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Parameter, int, error) {
	where := ""
	if activeOnly {
		where = " WHERE active"
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM parameter`+where).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+paramCols+` FROM parameter`+where+` ORDER BY code LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Parameter
	for rows.Next() {
		p, err := scanParameter(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

// =========== FlaggingRule Repository ===========

type flaggingRuleRepoPG struct{ pool *pgxpool.Pool }

func NewFlaggingRuleRepoPG(pool *pgxpool.Pool) FlaggingRuleRepository {
	return &flaggingRuleRepoPG{pool: pool}
}

func (r *flaggingRuleRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const ruleCols = `id, parameter_id, sex, age_min, age_max, min_value, max_value,
	severity, active, position, created_at`

func scanRule(row pgx.Row) (*FlaggingRule, error) {
	var fr FlaggingRule
	err := row.Scan(&fr.ID, &fr.ParameterID, &fr.Sex, &fr.AgeMin, &fr.AgeMax,
		&fr.Min, &fr.Max, &fr.Severity, &fr.Active, &fr.Position, &fr.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("flagging rule", "")
	}
	return &fr, err
}

func (r *flaggingRuleRepoPG) Create(ctx context.Context, fr *FlaggingRule) error {
	fr.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO flagging_rule (id, parameter_id, sex, age_min, age_max,
			min_value, max_value, severity, active, position)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,
			COALESCE((SELECT MAX(position)+1 FROM flagging_rule WHERE parameter_id=$2), 0))`,
		fr.ID, fr.ParameterID, fr.Sex, fr.AgeMin, fr.AgeMax,
		fr.Min, fr.Max, fr.Severity, fr.Active)
	return err
}

func (r *flaggingRuleRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*FlaggingRule, error) {
	return scanRule(r.conn(ctx).QueryRow(ctx, `SELECT `+ruleCols+` FROM flagging_rule WHERE id = $1`, id))
}

func (r *flaggingRuleRepoPG) Update(ctx context.Context, fr *FlaggingRule) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE flagging_rule SET sex=$2, age_min=$3, age_max=$4,
			min_value=$5, max_value=$6, severity=$7, active=$8
		WHERE id = $1`,
		fr.ID, fr.Sex, fr.AgeMin, fr.AgeMax, fr.Min, fr.Max, fr.Severity, fr.Active)
	return err
}

func (r *flaggingRuleRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM flagging_rule WHERE id = $1`, id)
	return err
}

func (r *flaggingRuleRepoPG) ListByParameter(ctx context.Context, parameterID uuid.UUID) ([]*FlaggingRule, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+ruleCols+` FROM flagging_rule WHERE parameter_id = $1 ORDER BY position`, parameterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*FlaggingRule
	for rows.Next() {
		fr, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, fr)
	}
	return items, rows.Err()
}

// =========== Panel Repository ===========

type panelRepoPG struct{ pool *pgxpool.Pool }

func NewPanelRepoPG(pool *pgxpool.Pool) PanelRepository {
	return &panelRepoPG{pool: pool}
}

func (r *panelRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const panelCols = `id, code, name, active, created_at, updated_at`

func scanPanel(row pgx.Row) (*Panel, error) {
	var p Panel
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("panel", "")
	}
	return &p, err
}

func (r *panelRepoPG) Create(ctx context.Context, p *Panel, parameterIDs []uuid.UUID) error {
	p.ID = uuid.New()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO panel (id, code, name, active) VALUES ($1,$2,$3,$4)`,
		p.ID, p.Code, p.Name, p.Active); err != nil {
		return err
	}
	for i, pid := range parameterIDs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO panel_parameter (panel_id, parameter_id, position) VALUES ($1,$2,$3)`,
			p.ID, pid, i); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *panelRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Panel, error) {
	return scanPanel(r.conn(ctx).QueryRow(ctx, `SELECT `+panelCols+` FROM panel WHERE id = $1`, id))
}

func (r *panelRepoPG) GetByCode(ctx context.Context, code string) (*Panel, error) {
	return scanPanel(r.conn(ctx).QueryRow(ctx, `SELECT `+panelCols+` FROM panel WHERE code = $1`, code))
}

func (r *panelRepoPG) List(ctx context.Context, limit, offset int) ([]*Panel, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM panel`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+panelCols+` FROM panel ORDER BY code LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Panel
	for rows.Next() {
		p, err := scanPanel(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *panelRepoPG) Parameters(ctx context.Context, panelID uuid.UUID) ([]*Parameter, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT p.id, p.code, p.name, p.unit, p.normal_min, p.normal_max,
			p.consumable_type, p.usage_per_test, p.active, p.created_at, p.updated_at
		FROM parameter p
		JOIN panel_parameter pp ON pp.parameter_id = p.id
		WHERE pp.panel_id = $1
		ORDER BY pp.position`, panelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Parameter
	for rows.Next() {
		p, err := scanParameter(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}
