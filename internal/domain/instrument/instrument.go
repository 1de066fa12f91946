// Package instrument is the instrument directory. Intake consults it for the
// operable mode gate: only a ready instrument may accept samples.
package instrument

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/hemalab/lims/internal/platform/apperr"
	"github.com/hemalab/lims/internal/platform/db"
)

// Instrument maps to the instrument table.
type Instrument struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Code      string    `db:"code" json:"code"`
	Name      string    `db:"name" json:"name"`
	Mode      string    `db:"mode" json:"mode"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

const (
	ModeReady       = "ready"
	ModeMaintenance = "maintenance"
	ModeInactive    = "inactive"
)

var validModes = map[string]bool{
	ModeReady:       true,
	ModeMaintenance: true,
	ModeInactive:    true,
}

type Repository interface {
	Create(ctx context.Context, i *Instrument) error
	GetByID(ctx context.Context, id uuid.UUID) (*Instrument, error)
	UpdateMode(ctx context.Context, id uuid.UUID, mode string) error
	List(ctx context.Context) ([]*Instrument, error)
}

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

const instrumentCols = `id, code, name, mode, created_at, updated_at`

func scanInstrument(row pgx.Row) (*Instrument, error) {
	var i Instrument
	err := row.Scan(&i.ID, &i.Code, &i.Name, &i.Mode, &i.CreatedAt, &i.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("instrument", "")
	}
	return &i, err
}

func (r *repoPG) Create(ctx context.Context, i *Instrument) error {
	i.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO instrument (id, code, name, mode) VALUES ($1,$2,$3,$4)`,
		i.ID, i.Code, i.Name, i.Mode)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Instrument, error) {
	return scanInstrument(r.conn(ctx).QueryRow(ctx, `SELECT `+instrumentCols+` FROM instrument WHERE id = $1`, id))
}

func (r *repoPG) UpdateMode(ctx context.Context, id uuid.UUID, mode string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE instrument SET mode=$2, updated_at=NOW() WHERE id = $1`, id, mode)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("instrument", id.String())
	}
	return nil
}

func (r *repoPG) List(ctx context.Context) ([]*Instrument, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+instrumentCols+` FROM instrument ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Instrument
	for rows.Next() {
		i, err := scanInstrument(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Register(ctx context.Context, i *Instrument) error {
	if i.Code == "" {
		return apperr.Validation("instrument code is required")
	}
	if i.Mode == "" {
		i.Mode = ModeInactive
	}
	if !validModes[i.Mode] {
		return apperr.Validation("unknown mode %q", i.Mode)
	}
	return s.repo.Create(ctx, i)
}

// OperableMode returns the instrument's current mode.
func (s *Service) OperableMode(ctx context.Context, id uuid.UUID) (string, error) {
	i, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	return i.Mode, nil
}

func (s *Service) ChangeMode(ctx context.Context, id uuid.UUID, mode string) error {
	if !validModes[mode] {
		return apperr.Validation("unknown mode %q", mode)
	}
	return s.repo.UpdateMode(ctx, id, mode)
}

func (s *Service) List(ctx context.Context) ([]*Instrument, error) {
	return s.repo.List(ctx)
}

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/instruments", h.List)
	api.POST("/instruments", h.Register)
	api.PUT("/instruments/:id/mode", h.ChangeMode)
}

func (h *Handler) Register(c echo.Context) error {
	var i Instrument
	if err := c.Bind(&i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Register(c.Request().Context(), &i); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, i)
}

func (h *Handler) ChangeMode(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req struct {
		Mode string `json:"mode"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.ChangeMode(c.Request().Context(), id, req.Mode); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) List(c echo.Context) error {
	items, err := h.svc.List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}
