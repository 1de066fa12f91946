package inventory

import (
	"time"

	"github.com/google/uuid"
)

// Consumable maps to the consumable table: one installed reagent lot.
type Consumable struct {
	ID                uuid.UUID `db:"id" json:"id"`
	TypeName          string    `db:"type_name" json:"type_name"`
	Lot               string    `db:"lot" json:"lot"`
	Expiry            time.Time `db:"expiry" json:"expiry"`
	QuantityInstalled float64   `db:"quantity_installed" json:"quantity_installed"`
	QuantityRemaining float64   `db:"quantity_remaining" json:"quantity_remaining"`
	Status            string    `db:"status" json:"status"`
	InstalledAt       time.Time `db:"installed_at" json:"installed_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

const (
	StatusInUse    = "in_use"
	StatusNotInUse = "not_in_use"
	StatusExpired  = "expired"
)

var validStatuses = map[string]bool{
	StatusInUse:    true,
	StatusNotInUse: true,
	StatusExpired:  true,
}

// Status transitions are one-directional: once expired, nothing comes back.
var statusTransitions = map[string][]string{
	StatusNotInUse: {StatusInUse, StatusExpired},
	StatusInUse:    {StatusNotInUse, StatusExpired},
	StatusExpired:  {},
}

// Usable reports whether this installation can serve consumption at the given
// instant.
func (c *Consumable) Usable(now time.Time) bool {
	return c.Status == StatusInUse && now.Before(c.Expiry) && c.QuantityRemaining > 0
}
