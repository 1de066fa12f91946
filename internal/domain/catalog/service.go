package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hemalab/lims/internal/platform/apperr"
)

// Service exposes catalog administration plus the evaluation entry point the
// pipeline uses to flag measured values.
type Service struct {
	params ParameterRepository
	rules  FlaggingRuleRepository
	panels PanelRepository
}

func NewService(params ParameterRepository, rules FlaggingRuleRepository, panels PanelRepository) *Service {
	return &Service{params: params, rules: rules, panels: panels}
}

func (s *Service) CreateParameter(ctx context.Context, p *Parameter) error {
	if p.Code == "" {
		return apperr.Validation("parameter code is required")
	}
	if p.NormalMin != nil && p.NormalMax != nil && *p.NormalMin >= *p.NormalMax {
		return apperr.Validation("normal range min %v must be below max %v", *p.NormalMin, *p.NormalMax)
	}
	if p.UsagePerTest < 0 {
		return apperr.Validation("usage per test must not be negative")
	}
	return s.params.Create(ctx, p)
}

func (s *Service) GetParameter(ctx context.Context, id uuid.UUID) (*Parameter, error) {
	return s.params.GetByID(ctx, id)
}

func (s *Service) GetParameterByCode(ctx context.Context, code string) (*Parameter, error) {
	return s.params.GetByCode(ctx, code)
}

func (s *Service) UpdateParameter(ctx context.Context, p *Parameter) error {
	if p.NormalMin != nil && p.NormalMax != nil && *p.NormalMin >= *p.NormalMax {
		return apperr.Validation("normal range min %v must be below max %v", *p.NormalMin, *p.NormalMax)
	}
	return s.params.Update(ctx, p)
}

func (s *Service) ListParameters(ctx context.Context, activeOnly bool, limit, offset int) ([]*Parameter, int, error) {
	return s.params.List(ctx, activeOnly, limit, offset)
}

func (s *Service) CreateRule(ctx context.Context, r *FlaggingRule) error {
	if !ValidSeverity(r.Severity) {
		return apperr.Validation("severity must be critical, warning, or info, got %q", r.Severity)
	}
	if r.Min != nil && r.Max != nil && *r.Min >= *r.Max {
		return apperr.Validation("rule bounds min %v must be below max %v", *r.Min, *r.Max)
	}
	if r.AgeMin != nil && r.AgeMax != nil && *r.AgeMin > *r.AgeMax {
		return apperr.Validation("age bracket min %d must not exceed max %d", *r.AgeMin, *r.AgeMax)
	}
	if _, err := s.params.GetByID(ctx, r.ParameterID); err != nil {
		return err
	}
	return s.rules.Create(ctx, r)
}

func (s *Service) UpdateRule(ctx context.Context, r *FlaggingRule) error {
	if !ValidSeverity(r.Severity) {
		return apperr.Validation("severity must be critical, warning, or info, got %q", r.Severity)
	}
	if r.Min != nil && r.Max != nil && *r.Min >= *r.Max {
		return apperr.Validation("rule bounds min %v must be below max %v", *r.Min, *r.Max)
	}
	return s.rules.Update(ctx, r)
}

func (s *Service) DeleteRule(ctx context.Context, id uuid.UUID) error {
	return s.rules.Delete(ctx, id)
}

func (s *Service) RulesForParameter(ctx context.Context, parameterID uuid.UUID) ([]*FlaggingRule, error) {
	return s.rules.ListByParameter(ctx, parameterID)
}

func (s *Service) CreatePanel(ctx context.Context, p *Panel, parameterIDs []uuid.UUID) error {
	if p.Code == "" {
		return apperr.Validation("panel code is required")
	}
	if len(parameterIDs) == 0 {
		return apperr.Validation("panel must reference at least one parameter")
	}
	for _, pid := range parameterIDs {
		if _, err := s.params.GetByID(ctx, pid); err != nil {
			return err
		}
	}
	return s.panels.Create(ctx, p, parameterIDs)
}

func (s *Service) GetPanel(ctx context.Context, id uuid.UUID) (*Panel, error) {
	return s.panels.GetByID(ctx, id)
}

func (s *Service) ListPanels(ctx context.Context, limit, offset int) ([]*Panel, int, error) {
	return s.panels.List(ctx, limit, offset)
}

func (s *Service) PanelParameters(ctx context.Context, panelID uuid.UUID) ([]*Parameter, error) {
	return s.panels.Parameters(ctx, panelID)
}

// EvaluateValue runs the range evaluation for one measured value, loading the
// parameter's rules and using its declared normal range as the fallback.
func (s *Service) EvaluateValue(ctx context.Context, parameterID uuid.UUID, value float64, demo Demographics) (Evaluation, error) {
	p, err := s.params.GetByID(ctx, parameterID)
	if err != nil {
		return Evaluation{}, err
	}
	rules, err := s.rules.ListByParameter(ctx, parameterID)
	if err != nil {
		return Evaluation{}, err
	}
	return Evaluate(value, rules, demo, p.NormalMin, p.NormalMax), nil
}

// AgeAt converts a birth date into whole years at the given instant, the
// bracket unit flagging rules filter on.
func AgeAt(birth time.Time, at time.Time) int {
	years := at.Year() - birth.Year()
	if at.YearDay() < birth.YearDay() {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}
