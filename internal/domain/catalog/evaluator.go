package catalog

import (
	"sort"
	"strconv"
)

// Demographics carries the optional subject context used by demographic rule
// filters. Unknown values simply fail to match filtered rules.
type Demographics struct {
	Sex      *string
	AgeYears *int
}

// Evaluation is the outcome of checking one value against the flagging rules.
type Evaluation struct {
	Flagged       bool
	Severity      string
	ReferenceText string
}

// Evaluate checks value against the active rules for a parameter, falling
// back to the parameter's declared normal range when no rule applies.
//
// Candidates are ordered by severity tier, critical first, so a critical
// condition is never masked by a less severe rule that happens to come first
// in storage order. Ties keep list order.
func Evaluate(value float64, rules []*FlaggingRule, demo Demographics, fallbackMin, fallbackMax *float64) Evaluation {
	var candidates []*FlaggingRule
	for _, r := range rules {
		if !r.Active {
			continue
		}
		if matchesDemographics(r, demo) {
			candidates = append(candidates, r)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return severityRank[candidates[i].Severity] < severityRank[candidates[j].Severity]
	})

	for _, r := range candidates {
		if violates(value, r.Min, r.Max) {
			return Evaluation{
				Flagged:       true,
				Severity:      r.Severity,
				ReferenceText: rangeText(r.Min, r.Max),
			}
		}
	}

	if len(candidates) > 0 {
		return Evaluation{ReferenceText: rangeText(candidates[0].Min, candidates[0].Max)}
	}
	if fallbackMin != nil || fallbackMax != nil {
		if violates(value, fallbackMin, fallbackMax) {
			return Evaluation{
				Flagged:       true,
				Severity:      SeverityWarning,
				ReferenceText: rangeText(fallbackMin, fallbackMax),
			}
		}
		return Evaluation{ReferenceText: rangeText(fallbackMin, fallbackMax)}
	}
	return Evaluation{}
}

// matchesDemographics applies the optional sex and age filters. A rule with
// no filter matches universally; a filtered rule matches only a known value
// inside the filter.
func matchesDemographics(r *FlaggingRule, demo Demographics) bool {
	if r.Sex != nil {
		if demo.Sex == nil || *demo.Sex != *r.Sex {
			return false
		}
	}
	if r.AgeMin != nil {
		if demo.AgeYears == nil || *demo.AgeYears < *r.AgeMin {
			return false
		}
	}
	if r.AgeMax != nil {
		if demo.AgeYears == nil || *demo.AgeYears > *r.AgeMax {
			return false
		}
	}
	return true
}

func violates(value float64, min, max *float64) bool {
	if min != nil && value < *min {
		return true
	}
	if max != nil && value > *max {
		return true
	}
	return false
}

func rangeText(min, max *float64) string {
	switch {
	case min != nil && max != nil:
		return formatBound(*min) + "-" + formatBound(*max)
	case min != nil:
		return formatBound(*min) + "-"
	case max != nil:
		return "-" + formatBound(*max)
	default:
		return ""
	}
}

func formatBound(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
