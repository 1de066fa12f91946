package interchange

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*Message, error)
	List(ctx context.Context, status string, limit, offset int) ([]*Message, int, error)
	// UpdateStatus moves the message with a from-status predicate so a
	// concurrent ingest of the same message loses cleanly.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to string, canDelete bool) error
	AttachOrder(ctx context.Context, id, orderID uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
	// DeleteSyncedBefore removes synced deletable messages older than the
	// cutoff and reports how many went.
	DeleteSyncedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
