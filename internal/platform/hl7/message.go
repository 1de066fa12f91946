// Package hl7 implements the interchange message codec used to hand result
// sets between synthesis and ingestion. The format is a closed contract: four
// segment types (header, subject, order, result), pipe-delimited fields,
// newline-joined segments. Values containing the field separator are not
// escaped; producers are expected not to emit it.
package hl7

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	fieldSep   = "|"
	segmentSep = "\n"

	// Compact timestamp formats, fixed calendar contract.
	tsFormat   = "20060102150405"
	dateFormat = "20060102"

	sendingSystem = "LIMS"
)

// Message is the decoded form of one interchange message.
type Message struct {
	MessageID   string
	Timestamp   time.Time
	SubjectID   string
	Sex         string
	BirthDate   *time.Time
	OrderNumber string
	Barcode     string
	Results     []Result
}

// Result is one measured value carried by a result segment.
type Result struct {
	ParameterCode string
	Value         float64
	Unit          string
	ReferenceText string
	Flagged       bool
	Severity      string
	MeasuredAt    time.Time
}

// Encode renders the message in segment order: header, subject, order, then
// one result segment per value.
func Encode(m *Message) string {
	segments := make([]string, 0, 3+len(m.Results))

	segments = append(segments, buildSegment("H",
		sendingSystem,
		m.MessageID,
		m.Timestamp.Format(tsFormat),
	))

	birth := ""
	if m.BirthDate != nil {
		birth = m.BirthDate.Format(dateFormat)
	}
	segments = append(segments, buildSegment("P", m.SubjectID, m.Sex, birth))

	segments = append(segments, buildSegment("O", m.OrderNumber, m.Barcode))

	for _, r := range m.Results {
		segments = append(segments, buildSegment("R",
			r.ParameterCode,
			strconv.FormatFloat(r.Value, 'f', -1, 64),
			r.Unit,
			r.ReferenceText,
			flagField(r),
			r.MeasuredAt.Format(tsFormat),
		))
	}

	return strings.Join(segments, segmentSep)
}

func buildSegment(name string, fields ...string) string {
	return name + fieldSep + strings.Join(fields, fieldSep)
}

func flagField(r Result) string {
	if !r.Flagged {
		return ""
	}
	if r.Severity != "" {
		return r.Severity
	}
	return "A"
}

// DecodeReport collects segments that could not be parsed. A malformed result
// segment never fails the whole message; it is skipped and reported here.
type DecodeReport struct {
	Skipped []string
}

// Decode parses an encoded message. Missing optional trailing fields are
// tolerated; a malformed result segment is skipped and noted in the report.
func Decode(raw string) (*Message, *DecodeReport, error) {
	raw = strings.TrimRight(raw, "\r\n")
	if raw == "" {
		return nil, nil, fmt.Errorf("empty message")
	}

	m := &Message{}
	report := &DecodeReport{}
	sawHeader := false

	for _, line := range strings.Split(raw, segmentSep) {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		fields := strings.Split(line, fieldSep)
		switch fields[0] {
		case "H":
			sawHeader = true
			m.MessageID = fieldAt(fields, 2)
			if ts, err := time.Parse(tsFormat, fieldAt(fields, 3)); err == nil {
				m.Timestamp = ts
			}
		case "P":
			m.SubjectID = fieldAt(fields, 1)
			m.Sex = fieldAt(fields, 2)
			if bd, err := time.Parse(dateFormat, fieldAt(fields, 3)); err == nil {
				m.BirthDate = &bd
			}
		case "O":
			m.OrderNumber = fieldAt(fields, 1)
			m.Barcode = fieldAt(fields, 2)
		case "R":
			r, err := decodeResult(fields)
			if err != nil {
				report.Skipped = append(report.Skipped, fmt.Sprintf("%s: %v", line, err))
				continue
			}
			m.Results = append(m.Results, r)
		default:
			report.Skipped = append(report.Skipped, fmt.Sprintf("%s: unknown segment", line))
		}
	}

	if !sawHeader {
		return nil, nil, fmt.Errorf("missing header segment")
	}
	return m, report, nil
}

func decodeResult(fields []string) (Result, error) {
	code := fieldAt(fields, 1)
	if code == "" {
		return Result{}, fmt.Errorf("missing parameter code")
	}
	value, err := strconv.ParseFloat(fieldAt(fields, 2), 64)
	if err != nil {
		return Result{}, fmt.Errorf("bad value: %w", err)
	}
	r := Result{
		ParameterCode: code,
		Value:         value,
		Unit:          fieldAt(fields, 3),
		ReferenceText: fieldAt(fields, 4),
	}
	if flag := fieldAt(fields, 5); flag != "" {
		r.Flagged = true
		if flag != "A" {
			r.Severity = flag
		}
	}
	if ts, err := time.Parse(tsFormat, fieldAt(fields, 6)); err == nil {
		r.MeasuredAt = ts
	}
	return r, nil
}

// fieldAt returns the field at index i, or "" when the segment carries fewer
// fields. Trailing optional fields may legitimately be absent.
func fieldAt(fields []string, i int) string {
	if i >= len(fields) {
		return ""
	}
	return fields[i]
}
