package order

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Order maps to the lab_order table: one sample's end-to-end workflow record.
type Order struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	OrderNumber  string     `db:"order_number" json:"order_number"`
	SubjectID    uuid.UUID  `db:"subject_id" json:"subject_id"`
	InstrumentID *uuid.UUID `db:"instrument_id" json:"instrument_id,omitempty"`
	PanelID      uuid.UUID  `db:"panel_id" json:"panel_id"`
	Barcode      string     `db:"barcode" json:"barcode"`
	Status       string     `db:"status" json:"status"`
	CreatedBy    string     `db:"created_by" json:"created_by"`
	ReviewedBy   *string    `db:"reviewed_by" json:"reviewed_by,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
	CompletedAt  *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	ReviewedAt   *time.Time `db:"reviewed_at" json:"reviewed_at,omitempty"`
}

// ResultEntry maps to the result_entry table: one measured value on an order.
// Entries are created during sync and mutated only by review adjustment.
type ResultEntry struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	OrderID       uuid.UUID  `db:"order_id" json:"order_id"`
	ParameterID   uuid.UUID  `db:"parameter_id" json:"parameter_id"`
	ParameterCode string     `db:"parameter_code" json:"parameter_code"`
	Value         float64    `db:"value" json:"value"`
	Unit          string     `db:"unit" json:"unit"`
	ReferenceText string     `db:"reference_text" json:"reference_text"`
	Flagged       bool       `db:"flagged" json:"flagged"`
	Severity      *string    `db:"severity" json:"severity,omitempty"`
	LotID         *uuid.UUID `db:"lot_id" json:"lot_id,omitempty"`
	MeasuredAt    time.Time  `db:"measured_at" json:"measured_at"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// Comment maps to the order_comment table. Comments are addressed by their
// position index within the order.
type Comment struct {
	ID        uuid.UUID `db:"id" json:"id"`
	OrderID   uuid.UUID `db:"order_id" json:"order_id"`
	Position  int       `db:"position" json:"position"`
	Body      string    `db:"body" json:"body"`
	Author    string    `db:"author" json:"author"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Order lifecycle states.
const (
	StatusPending    = "pending"
	StatusRunning    = "running"
	StatusCompleted  = "completed"
	StatusReviewed   = "reviewed"
	StatusAIReviewed = "ai_reviewed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// orderTransitions is the closed transition table. failed and cancelled are
// absorbing; a reviewed order may still be re-reviewed by the model path.
var orderTransitions = map[string][]string{
	StatusPending:    {StatusRunning, StatusFailed, StatusCancelled},
	StatusRunning:    {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted:  {StatusReviewed, StatusAIReviewed},
	StatusReviewed:   {StatusAIReviewed},
	StatusAIReviewed: {StatusAIReviewed},
	StatusFailed:     {},
	StatusCancelled:  {},
}

// liveStatuses are the states in which a barcode is considered claimed;
// intake against a live barcode returns the existing order.
var liveStatuses = []string{StatusPending, StatusRunning, StatusCompleted, StatusReviewed, StatusAIReviewed}

// ValidateTransition rejects any status move not present in the table. This
// is the single gate every mutation goes through.
func ValidateTransition(from, to string) error {
	allowed, ok := orderTransitions[from]
	if !ok {
		return fmt.Errorf("unknown order status %q", from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("invalid order transition: %s -> %s", from, to)
}

// Terminal reports whether no further transition is possible.
func Terminal(status string) bool {
	return len(orderTransitions[status]) == 0
}
