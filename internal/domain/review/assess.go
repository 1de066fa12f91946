package review

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hemalab/lims/internal/domain/order"
	"github.com/hemalab/lims/internal/platform/apperr"
	"github.com/hemalab/lims/internal/platform/jsonrepair"
)

const systemInstruction = `You are a clinical laboratory reviewer. You receive ` +
	`de-identified hematology results and respond with JSON only, no prose, ` +
	`matching: {"summary": string, "recommendations": [{"parameter_code": string, ` +
	`"reason": string}], "status": "ok"|"attention"}`

// assessment is the permissive intermediate shape for generator output.
// Every field is optional; the generator offers no schema guarantee.
type assessment struct {
	Summary         string `json:"summary"`
	Assessment      string `json:"assessment"`
	Status          string `json:"status"`
	Recommendations []struct {
		ParameterCode string `json:"parameter_code"`
		ParameterID   string `json:"parameter_id"`
		Reason        string `json:"reason"`
	} `json:"recommendations"`
}

// aiReviewable are the states the model path may run from; re-running over a
// reviewed order is allowed.
var aiReviewable = map[string]bool{
	order.StatusCompleted:  true,
	order.StatusReviewed:   true,
	order.StatusAIReviewed: true,
}

// Assisted runs the model-backed review. The generator's raw output is
// parsed strictly first and pushed through the repair chain on failure; if
// even repair degrades, the order still moves to ai_reviewed with a comment
// reporting the parsing failure rather than getting stuck. A generator
// transport error surfaces as ExternalServiceError with zero retries.
func (s *Service) Assisted(ctx context.Context, orderID uuid.UUID, actor string) (*order.Order, error) {
	if s.generator == nil {
		return nil, apperr.External("generator", fmt.Errorf("no text generator configured"))
	}

	o, err := s.workflow.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !aiReviewable[o.Status] {
		return nil, apperr.Validation("model review requires a completed or reviewed order, got %q", o.Status)
	}

	entries, err := s.workflow.Results(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, apperr.Validation("order has no result entries to review")
	}
	demo, err := s.demographics(ctx, o.SubjectID)
	if err != nil {
		return nil, err
	}

	prompt := buildPrompt(entries, demo.Sex, demo.AgeYears)
	raw, err := s.generator.Generate(ctx, prompt, systemInstruction, s.maxTokens, s.temp)
	if err != nil {
		return nil, apperr.External("generator", err)
	}

	result, degraded := parseAssessment(raw)
	if degraded {
		warn := &apperr.ParseDegraded{Detail: "fallback parse of generator output"}
		s.logger.Warn().
			Str("order_id", orderID.String()).
			Err(warn).
			Msg("generator output unrecoverable, review degraded")
	}

	if err := s.workflow.Transition(ctx, o, order.StatusAIReviewed, actor); err != nil {
		return nil, err
	}
	if _, err := s.workflow.AddComment(ctx, orderID, formatComment(result, degraded), actor); err != nil {
		return nil, err
	}

	s.record(ctx, "order_ai_reviewed", orderID, actor, "model-assisted review completed")
	return o, nil
}

// buildPrompt renders the de-identified payload: result tuples plus sex and
// age only, never names or external identifiers.
func buildPrompt(entries []*order.ResultEntry, sex *string, ageYears *int) string {
	var b strings.Builder
	b.WriteString("Review the following hematology panel results.\n")
	if sex != nil {
		fmt.Fprintf(&b, "Subject sex: %s\n", *sex)
	}
	if ageYears != nil {
		fmt.Fprintf(&b, "Subject age: %d years\n", *ageYears)
	}
	b.WriteString("Results:\n")
	for _, e := range entries {
		flag := "normal"
		if e.Flagged {
			flag = "flagged"
			if e.Severity != nil {
				flag = "flagged (" + *e.Severity + ")"
			}
		}
		fmt.Fprintf(&b, "- %s: %v %s (reference %s) %s\n",
			e.ParameterCode, e.Value, e.Unit, e.ReferenceText, flag)
	}
	return b.String()
}

// parseAssessment tries strict parsing first, then the repair chain. The
// second return reports whether the result came from the last-resort
// fallback.
func parseAssessment(raw string) (assessment, bool) {
	var a assessment
	if err := json.Unmarshal([]byte(raw), &a); err == nil {
		return a, false
	}
	repaired, degraded := jsonrepair.Repair(raw)
	a = assessment{}
	if err := json.Unmarshal([]byte(repaired), &a); err != nil {
		// Repair guarantees parseable output; this branch guards against a
		// shape json.Unmarshal cannot map, such as a top-level array.
		return assessment{Status: "degraded"}, true
	}
	return a, degraded || a.Status == "degraded"
}

func formatComment(a assessment, degraded bool) string {
	if degraded {
		excerpt := a.Summary
		if excerpt == "" {
			excerpt = a.Assessment
		}
		msg := "Automated review: the model response could not be parsed; no recommendations recorded."
		if excerpt != "" {
			msg += " Raw excerpt: " + excerpt
		}
		return msg
	}

	summary := a.Summary
	if summary == "" {
		summary = a.Assessment
	}
	if summary == "" {
		summary = "no summary provided"
	}

	var b strings.Builder
	b.WriteString("Automated review: ")
	b.WriteString(summary)
	for _, r := range a.Recommendations {
		code := r.ParameterCode
		if code == "" {
			code = r.ParameterID
		}
		if code == "" && r.Reason == "" {
			continue
		}
		b.WriteString("\n- ")
		if code != "" {
			b.WriteString(code)
			b.WriteString(": ")
		}
		b.WriteString(r.Reason)
	}
	return b.String()
}
