package hl7

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func sampleMessage(n int) *Message {
	birth := time.Date(1984, 3, 12, 0, 0, 0, 0, time.UTC)
	m := &Message{
		MessageID:   "MSG-001",
		Timestamp:   time.Date(2026, 2, 10, 14, 30, 5, 0, time.UTC),
		SubjectID:   "SUBJ-9",
		Sex:         "F",
		BirthDate:   &birth,
		OrderNumber: "ORD-2026-0001",
		Barcode:     "BC-1",
	}
	for i := 0; i < n; i++ {
		m.Results = append(m.Results, Result{
			ParameterCode: fmt.Sprintf("P%02d", i),
			Value:         float64(i) * 1.5,
			Unit:          "g/L",
			ReferenceText: "4000-10000",
			Flagged:       i%3 == 0,
			Severity:      map[bool]string{true: "warning", false: ""}[i%3 == 0],
			MeasuredAt:    time.Date(2026, 2, 10, 14, 30, 5, 0, time.UTC),
		})
	}
	return m
}

func TestEncodeSegmentOrder(t *testing.T) {
	encoded := Encode(sampleMessage(2))
	lines := strings.Split(encoded, "\n")
	if len(lines) != 5 {
		t.Fatalf("expected 5 segments, got %d", len(lines))
	}
	for i, want := range []string{"H|", "P|", "O|", "R|", "R|"} {
		if !strings.HasPrefix(lines[i], want) {
			t.Errorf("segment %d = %q, want prefix %q", i, lines[i], want)
		}
	}
	if lines[0] != "H|LIMS|MSG-001|20260210143005" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[1] != "P|SUBJ-9|F|19840312" {
		t.Errorf("subject = %q", lines[1])
	}
}

func TestRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 7, 50} {
		orig := sampleMessage(n)
		decoded, report, err := Decode(Encode(orig))
		if err != nil {
			t.Fatalf("n=%d: decode failed: %v", n, err)
		}
		if len(report.Skipped) != 0 {
			t.Fatalf("n=%d: unexpected skips: %v", n, report.Skipped)
		}
		if len(decoded.Results) != n {
			t.Fatalf("n=%d: got %d results", n, len(decoded.Results))
		}
		for i, r := range decoded.Results {
			o := orig.Results[i]
			if r.ParameterCode != o.ParameterCode || r.Value != o.Value ||
				r.Unit != o.Unit || r.Flagged != o.Flagged {
				t.Errorf("n=%d result %d mismatch: got %+v want %+v", n, i, r, o)
			}
		}
	}
}

func TestDecodeSkipsMalformedResult(t *testing.T) {
	raw := strings.Join([]string{
		"H|LIMS|MSG-2|20260210143005",
		"P|SUBJ-1|M|19900101",
		"O|ORD-1|BC-2",
		"R|WBC|notanumber|10^9/L",
		"R|HGB|140|g/L|120-160||20260210143005",
	}, "\n")
	m, report, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Results) != 1 {
		t.Fatalf("expected 1 surviving result, got %d", len(m.Results))
	}
	if m.Results[0].ParameterCode != "HGB" {
		t.Errorf("surviving code = %q", m.Results[0].ParameterCode)
	}
	if len(report.Skipped) != 1 {
		t.Errorf("expected 1 skip report, got %v", report.Skipped)
	}
}

func TestDecodeToleratesMissingTrailingFields(t *testing.T) {
	raw := "H|LIMS|MSG-3|20260210143005\nP|SUBJ-2\nO|ORD-2\nR|PLT|250"
	m, report, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Skipped) != 0 {
		t.Errorf("unexpected skips: %v", report.Skipped)
	}
	if m.Sex != "" || m.BirthDate != nil {
		t.Error("missing subject fields should decode as empty")
	}
	r := m.Results[0]
	if r.Value != 250 || r.Unit != "" || r.Flagged {
		t.Errorf("result = %+v", r)
	}
}

func TestDecodeInvalidBirthDateEmpty(t *testing.T) {
	raw := "H|LIMS|MSG-4|20260210143005\nP|SUBJ-3|F|notadate\nO|ORD-3|BC-3"
	m, _, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if m.BirthDate != nil {
		t.Error("invalid birth date should decode as nil, not error")
	}
}

func TestDecodeRequiresHeader(t *testing.T) {
	if _, _, err := Decode("P|SUBJ-4|M|19700101"); err == nil {
		t.Error("expected error for missing header")
	}
}
