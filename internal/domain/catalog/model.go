package catalog

import (
	"time"

	"github.com/google/uuid"
)

// Parameter maps to the parameter table: one measurable analyte definition.
type Parameter struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	Code           string     `db:"code" json:"code"`
	Name           string     `db:"name" json:"name"`
	Unit           string     `db:"unit" json:"unit"`
	NormalMin      *float64   `db:"normal_min" json:"normal_min,omitempty"`
	NormalMax      *float64   `db:"normal_max" json:"normal_max,omitempty"`
	ConsumableType *string    `db:"consumable_type" json:"consumable_type,omitempty"`
	UsagePerTest   float64    `db:"usage_per_test" json:"usage_per_test"`
	Active         bool       `db:"active" json:"active"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// FlaggingRule maps to the flagging_rule table. Rules are matched during
// evaluation, never mutated by the pipeline; administration happens through
// the catalog endpoints.
type FlaggingRule struct {
	ID          uuid.UUID `db:"id" json:"id"`
	ParameterID uuid.UUID `db:"parameter_id" json:"parameter_id"`
	Sex         *string   `db:"sex" json:"sex,omitempty"`
	AgeMin      *int      `db:"age_min" json:"age_min,omitempty"`
	AgeMax      *int      `db:"age_max" json:"age_max,omitempty"`
	Min         *float64  `db:"min_value" json:"min,omitempty"`
	Max         *float64  `db:"max_value" json:"max,omitempty"`
	Severity    string    `db:"severity" json:"severity"`
	Active      bool      `db:"active" json:"active"`
	Position    int       `db:"position" json:"position"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Panel maps to the panel table: the fixed set of parameters measured for one
// sample.
type Panel struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Code      string    `db:"code" json:"code"`
	Name      string    `db:"name" json:"name"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Severity tiers, highest priority first.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

var severityRank = map[string]int{
	SeverityCritical: 0,
	SeverityWarning:  1,
	SeverityInfo:     2,
}

// ValidSeverity reports whether s is a known severity tier.
func ValidSeverity(s string) bool {
	_, ok := severityRank[s]
	return ok
}
