package inventory

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hemalab/lims/internal/platform/apperr"
)

var now = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

func install(typeName string, remaining float64, status string, expiry time.Time) *Consumable {
	return &Consumable{
		TypeName:          typeName,
		Lot:               "L-" + typeName,
		Expiry:            expiry,
		QuantityInstalled: remaining,
		QuantityRemaining: remaining,
		Status:            status,
	}
}

func TestCheckSufficiencyAllMet(t *testing.T) {
	candidates := []*Consumable{
		install("Diluent", 10, StatusInUse, now.Add(24*time.Hour)),
		install("Lysing", 5, StatusInUse, now.Add(24*time.Hour)),
	}
	err := CheckSufficiency(map[string]float64{"Diluent": 4, "Lysing": 2}, candidates, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckSufficiencyAggregatesAllShortages(t *testing.T) {
	// Diluent missing entirely, Lysing insufficient: both must be named.
	candidates := []*Consumable{
		install("Lysing", 1, StatusInUse, now.Add(24*time.Hour)),
		install("Sheath", 50, StatusInUse, now.Add(24*time.Hour)),
	}
	err := CheckSufficiency(map[string]float64{"Diluent": 4, "Lysing": 2, "Sheath": 10}, candidates, now)
	if err == nil {
		t.Fatal("expected error")
	}
	var ve *apperr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if len(ve.Violations) != 2 {
		t.Fatalf("expected 2 violations, got %v", ve.Violations)
	}
	msg := err.Error()
	if !strings.Contains(msg, "Diluent") || !strings.Contains(msg, "Lysing") {
		t.Errorf("error must name every offending type: %q", msg)
	}
	if strings.Contains(msg, "Sheath") {
		t.Errorf("satisfied type must not be reported: %q", msg)
	}
}

func TestCheckSufficiencyZeroRemaining(t *testing.T) {
	// Installed but drained counts as no usable installation.
	candidates := []*Consumable{
		install("Diluent", 0, StatusInUse, now.Add(24*time.Hour)),
	}
	err := CheckSufficiency(map[string]float64{"Diluent": 1}, candidates, now)
	if err == nil {
		t.Fatal("expected error for zero remaining")
	}
	if !strings.Contains(err.Error(), "no usable installation") {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestCheckSufficiencyIgnoresUnusable(t *testing.T) {
	candidates := []*Consumable{
		install("Diluent", 10, StatusNotInUse, now.Add(24*time.Hour)),
		install("Diluent", 10, StatusInUse, now.Add(-time.Hour)),
		install("Diluent", 10, StatusExpired, now.Add(24*time.Hour)),
	}
	err := CheckSufficiency(map[string]float64{"Diluent": 1}, candidates, now)
	if err == nil {
		t.Fatal("expected error when only unusable installations exist")
	}
}

func TestCheckSufficiencyAggregatesAcrossLots(t *testing.T) {
	// Two partial lots of the same type together cover the requirement.
	candidates := []*Consumable{
		install("Diluent", 3, StatusInUse, now.Add(24*time.Hour)),
		install("Diluent", 2, StatusInUse, now.Add(48*time.Hour)),
	}
	if err := CheckSufficiency(map[string]float64{"Diluent": 5}, candidates, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := CheckSufficiency(map[string]float64{"Diluent": 6}, candidates, now); err == nil {
		t.Fatal("expected error when combined lots fall short")
	}
}

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to string
		allowed  bool
	}{
		{StatusNotInUse, StatusInUse, true},
		{StatusInUse, StatusNotInUse, true},
		{StatusInUse, StatusExpired, true},
		{StatusNotInUse, StatusExpired, true},
		{StatusExpired, StatusInUse, false},
		{StatusExpired, StatusNotInUse, false},
	}
	for _, tc := range cases {
		if got := transitionAllowed(tc.from, tc.to); got != tc.allowed {
			t.Errorf("transition %s -> %s: allowed = %v, want %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}
