package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hemalab/lims/internal/platform/apperr"
)

// Service manages consumable installations and performs consumption on
// behalf of the sample pipeline.
type Service struct {
	repo ConsumableRepository
}

func NewService(repo ConsumableRepository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Install(ctx context.Context, c *Consumable) error {
	if c.TypeName == "" {
		return apperr.Validation("consumable type name is required")
	}
	if c.Lot == "" {
		return apperr.Validation("lot is required")
	}
	if c.QuantityInstalled <= 0 {
		return apperr.Validation("installed quantity must be positive")
	}
	if c.Status == "" {
		c.Status = StatusNotInUse
	}
	if !validStatuses[c.Status] {
		return apperr.Validation("unknown status %q", c.Status)
	}
	c.QuantityRemaining = c.QuantityInstalled
	return s.repo.Create(ctx, c)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Consumable, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, typeName string, limit, offset int) ([]*Consumable, int, error) {
	return s.repo.List(ctx, typeName, limit, offset)
}

// ChangeStatus validates the one-directional status transition table before
// writing. Expired installations never come back.
func (s *Service) ChangeStatus(ctx context.Context, id uuid.UUID, newStatus string) error {
	if !validStatuses[newStatus] {
		return apperr.Validation("unknown status %q", newStatus)
	}
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !transitionAllowed(c.Status, newStatus) {
		return apperr.Validation("cannot transition consumable from %q to %q", c.Status, newStatus)
	}
	return s.repo.UpdateStatus(ctx, id, newStatus)
}

func transitionAllowed(from, to string) bool {
	for _, t := range statusTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// CheckTypes runs the advisory sufficiency gate for the given per-type
// requirements against current usable installations.
func (s *Service) CheckTypes(ctx context.Context, required map[string]float64) error {
	if len(required) == 0 {
		return nil
	}
	types := make([]string, 0, len(required))
	for t := range required {
		types = append(types, t)
	}
	candidates, err := s.repo.ListUsable(ctx, types)
	if err != nil {
		return err
	}
	return CheckSufficiency(required, candidates, time.Now().UTC())
}

// Consume takes amount from the soonest-expiring usable installation of the
// given type and returns the lot it drew from. The decrement re-validates
// sufficiency at the point of write, so a concurrent order draining the same
// lot surfaces as a ResourceError here regardless of the earlier gate.
func (s *Service) Consume(ctx context.Context, typeName string, amount float64) (uuid.UUID, error) {
	if amount <= 0 {
		return uuid.Nil, apperr.Validation("consumption amount must be positive")
	}
	candidates, err := s.repo.ListUsable(ctx, []string{typeName})
	if err != nil {
		return uuid.Nil, err
	}
	if len(candidates) == 0 {
		return uuid.Nil, apperr.Resource(typeName, "none")
	}
	for _, c := range candidates {
		if c.QuantityRemaining < amount {
			continue
		}
		if err := s.repo.Decrement(ctx, c.ID, amount); err != nil {
			var re *apperr.ResourceError
			if errors.As(err, &re) {
				// Raced out of this lot; try the next one.
				continue
			}
			return uuid.Nil, err
		}
		return c.ID, nil
	}
	return uuid.Nil, apperr.Resource(typeName, candidates[0].Lot)
}

// ExpireSweep marks every installation past its expiry as expired. Intended
// for periodic invocation; the usability checks also exclude expired lots on
// read, so the sweep is bookkeeping rather than a correctness requirement.
func (s *Service) ExpireSweep(ctx context.Context) (int64, error) {
	return s.repo.MarkExpired(ctx)
}
