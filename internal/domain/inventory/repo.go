package inventory

import (
	"context"

	"github.com/google/uuid"
)

type ConsumableRepository interface {
	Create(ctx context.Context, c *Consumable) error
	GetByID(ctx context.Context, id uuid.UUID) (*Consumable, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	List(ctx context.Context, typeName string, limit, offset int) ([]*Consumable, int, error)
	// ListUsable returns in_use, unexpired installations with remaining
	// quantity for the given types, soonest expiry first.
	ListUsable(ctx context.Context, typeNames []string) ([]*Consumable, error)
	// Decrement atomically takes amount from the installation's remaining
	// quantity. It fails without modifying anything when remaining < amount,
	// evaluated at the point of write so concurrent drains are caught.
	Decrement(ctx context.Context, id uuid.UUID, amount float64) error
	// MarkExpired flips every non-expired installation past its expiry to
	// expired and reports how many changed.
	MarkExpired(ctx context.Context) (int64, error)
}
