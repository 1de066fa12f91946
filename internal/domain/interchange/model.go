package interchange

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message maps to the interchange_message table: one raw encoded message plus
// its lifecycle. The record is append-only except for status and can_delete.
type Message struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	OrderID     *uuid.UUID `db:"order_id" json:"order_id,omitempty"`
	Payload     string     `db:"payload" json:"payload"`
	Status      string     `db:"status" json:"status"`
	CanDelete   bool       `db:"can_delete" json:"can_delete"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	ProcessedAt *time.Time `db:"processed_at" json:"processed_at,omitempty"`
}

// Message lifecycle states. can_delete turns true only on the move to synced,
// once the message's values are durably on the order.
const (
	StatusPending   = "pending"
	StatusProcessed = "processed"
	StatusSynced    = "synced"
)

// processed may fall back to pending: a fold that fails on a recoverable
// condition (a drained lot, a transient store error) returns the message to
// the ingestable state instead of stranding it.
var messageTransitions = map[string][]string{
	StatusPending:   {StatusProcessed, StatusSynced},
	StatusProcessed: {StatusSynced, StatusPending},
	StatusSynced:    {},
}

func validateTransition(from, to string) error {
	for _, allowed := range messageTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("message transition %s -> %s is not allowed", from, to)
}
