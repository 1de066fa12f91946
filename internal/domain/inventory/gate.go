package inventory

import (
	"fmt"
	"sort"
	"time"

	"github.com/hemalab/lims/internal/platform/apperr"
)

// CheckSufficiency validates that every required consumable type has enough
// usable quantity among the candidate installations. It never fails fast: all
// unmet types are aggregated into one error so the operator can fix
// everything in one pass.
//
// The check is advisory. Concurrent orders may drain a lot between this call
// and consumption, so callers must re-validate at the point of consumption.
func CheckSufficiency(required map[string]float64, candidates []*Consumable, now time.Time) error {
	available := make(map[string]float64)
	for _, c := range candidates {
		if c.Usable(now) {
			available[c.TypeName] += c.QuantityRemaining
		}
	}

	types := make([]string, 0, len(required))
	for t := range required {
		types = append(types, t)
	}
	sort.Strings(types)

	var violations []string
	for _, t := range types {
		need := required[t]
		have, ok := available[t]
		if !ok || have == 0 {
			violations = append(violations, fmt.Sprintf("%s: no usable installation", t))
			continue
		}
		if have < need {
			violations = append(violations, fmt.Sprintf("%s: need %.2f, have %.2f", t, need, have))
		}
	}

	if len(violations) > 0 {
		return apperr.Violations("insufficient consumables", violations)
	}
	return nil
}
