// Package subject holds the minimal subject directory the pipeline consults
// for demographics. Absence of a subject is tolerated by evaluation paths;
// demographic rule filters simply do not match.
package subject

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
	"github.com/hemalab/lims/pkg/pagination"
)

// Subject maps to the subject table.
type Subject struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	ExternalID *string    `db:"external_id" json:"external_id,omitempty"`
	Name       string     `db:"name" json:"name"`
	Sex        *string    `db:"sex" json:"sex,omitempty"`
	BirthDate  *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

type Repository interface {
	Create(ctx context.Context, s *Subject) error
	GetByID(ctx context.Context, id uuid.UUID) (*Subject, error)
	Update(ctx context.Context, s *Subject) error
	List(ctx context.Context, limit, offset int) ([]*Subject, int, error)
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

const subjectCols = `id, external_id, name, sex, birth_date, created_at, updated_at`

func scanSubject(row pgx.Row) (*Subject, error) {
	var s Subject
	err := row.Scan(&s.ID, &s.ExternalID, &s.Name, &s.Sex, &s.BirthDate, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("subject", "")
	}
	return &s, err
}

func (r *repoPG) Create(ctx context.Context, s *Subject) error {
	s.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO subject (id, external_id, name, sex, birth_date)
		VALUES ($1,$2,$3,$4,$5)`,
		s.ID, s.ExternalID, s.Name, s.Sex, s.BirthDate)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Subject, error) {
	return scanSubject(r.conn(ctx).QueryRow(ctx, `SELECT `+subjectCols+` FROM subject WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, s *Subject) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE subject SET external_id=$2, name=$3, sex=$4, birth_date=$5, updated_at=NOW()
		WHERE id = $1`,
		s.ID, s.ExternalID, s.Name, s.Sex, s.BirthDate)
	return err
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Subject, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM subject`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+subjectCols+` FROM subject ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Subject
	for rows.Next() {
		s, err := scanSubject(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

// Service is the subject directory contract the pipeline consumes.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Create(ctx context.Context, sub *Subject) error {
	if sub.Name == "" {
		return apperr.Validation("subject name is required")
	}
	if sub.Sex != nil && *sub.Sex != "M" && *sub.Sex != "F" {
		return apperr.Validation("sex must be M or F, got %q", *sub.Sex)
	}
	return s.repo.Create(ctx, sub)
}

// Resolve returns the subject's demographics. Callers treat a NotFoundError
// as "demographics unknown" rather than a pipeline failure.
func (s *Service) Resolve(ctx context.Context, id uuid.UUID) (*Subject, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Update(ctx context.Context, sub *Subject) error {
	return s.repo.Update(ctx, sub)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Subject, int, error) {
	return s.repo.List(ctx, limit, offset)
}

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/subjects", h.List)
	api.GET("/subjects/:id", h.Get)
	api.POST("/subjects", h.Create)
	api.PUT("/subjects/:id", h.Update)
}

func (h *Handler) Create(c echo.Context) error {
	var s Subject
	if err := c.Bind(&s); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Create(c.Request().Context(), &s); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, s)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	s, err := h.svc.Resolve(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var s Subject
	if err := c.Bind(&s); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s.ID = id
	if err := h.svc.Update(c.Request().Context(), &s); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
