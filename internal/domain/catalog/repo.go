package catalog

import (
	"context"

	"github.com/google/uuid"
)

type ParameterRepository interface {
	Create(ctx context.Context, p *Parameter) error
	GetByID(ctx context.Context, id uuid.UUID) (*Parameter, error)
	GetByCode(ctx context.Context, code string) (*Parameter, error)
	Update(ctx context.Context, p *Parameter) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Parameter, int, error)
}

type FlaggingRuleRepository interface {
	Create(ctx context.Context, r *FlaggingRule) error
	GetByID(ctx context.Context, id uuid.UUID) (*FlaggingRule, error)
	Update(ctx context.Context, r *FlaggingRule) error
	Delete(ctx context.Context, id uuid.UUID) error
	// ListByParameter returns rules in position order, the storage order the
	// evaluator tie-break depends on.
	ListByParameter(ctx context.Context, parameterID uuid.UUID) ([]*FlaggingRule, error)
}

type PanelRepository interface {
	Create(ctx context.Context, p *Panel, parameterIDs []uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*Panel, error)
	GetByCode(ctx context.Context, code string) (*Panel, error)
	List(ctx context.Context, limit, offset int) ([]*Panel, int, error)
	Parameters(ctx context.Context, panelID uuid.UUID) ([]*Parameter, error)
}
