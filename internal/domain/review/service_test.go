package review

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hemalab/lims/internal/domain/catalog"
	"github.com/hemalab/lims/internal/domain/order"
	"github.com/hemalab/lims/internal/domain/subject"
	"github.com/hemalab/lims/internal/platform/apperr"
)

type mockWorkflow struct {
	order    *order.Order
	entries  []*order.ResultEntry
	comments []string
}

func (m *mockWorkflow) Get(_ context.Context, id uuid.UUID) (*order.Order, error) {
	if m.order == nil || m.order.ID != id {
		return nil, apperr.NotFound("order", id.String())
	}
	return m.order, nil
}

func (m *mockWorkflow) Results(_ context.Context, _ uuid.UUID) ([]*order.ResultEntry, error) {
	return m.entries, nil
}

func (m *mockWorkflow) Transition(_ context.Context, o *order.Order, to, _ string) error {
	if err := order.ValidateTransition(o.Status, to); err != nil {
		return apperr.Validation("%s", err.Error())
	}
	o.Status = to
	return nil
}

func (m *mockWorkflow) AddComment(_ context.Context, _ uuid.UUID, body, _ string) (*order.Comment, error) {
	m.comments = append(m.comments, body)
	return &order.Comment{Body: body}, nil
}

type mockEntryWriter struct {
	updated map[uuid.UUID]float64
}

func (m *mockEntryWriter) UpdateValue(_ context.Context, id uuid.UUID, value float64, flagged bool, severity *string, referenceText string) error {
	if m.updated == nil {
		m.updated = make(map[uuid.UUID]float64)
	}
	m.updated[id] = value
	return nil
}

type mockCatalog struct {
	params map[string]*catalog.Parameter
}

func (m *mockCatalog) GetParameterByCode(_ context.Context, code string) (*catalog.Parameter, error) {
	p, ok := m.params[code]
	if !ok {
		return nil, apperr.NotFound("parameter", code)
	}
	return p, nil
}

func (m *mockCatalog) RulesForParameter(_ context.Context, _ uuid.UUID) ([]*catalog.FlaggingRule, error) {
	return nil, nil
}

type mockSubjects struct{}

func (m *mockSubjects) Resolve(_ context.Context, id uuid.UUID) (*subject.Subject, error) {
	return nil, apperr.NotFound("subject", id.String())
}

type fakeGenerator struct {
	output string
	err    error
	prompt string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt, _ string, _ int, _ float64) (string, error) {
	f.prompt = prompt
	if f.err != nil {
		return "", f.err
	}
	return f.output, nil
}

func fptr(v float64) *float64 { return &v }

type fixture struct {
	service   *Service
	workflow  *mockWorkflow
	writer    *mockEntryWriter
	generator *fakeGenerator
	wbcEntry  *order.ResultEntry
}

func newFixture(status string) *fixture {
	orderID := uuid.New()
	wbcParam := &catalog.Parameter{ID: uuid.New(), Code: "WBC", Unit: "10^9/L", NormalMin: fptr(4000), NormalMax: fptr(10000)}
	entry := &order.ResultEntry{
		ID:            uuid.New(),
		OrderID:       orderID,
		ParameterID:   wbcParam.ID,
		ParameterCode: "WBC",
		Value:         12000,
		Unit:          "10^9/L",
		ReferenceText: "4000-10000",
		Flagged:       true,
	}

	f := &fixture{
		workflow: &mockWorkflow{
			order:   &order.Order{ID: orderID, SubjectID: uuid.New(), Status: status},
			entries: []*order.ResultEntry{entry},
		},
		writer:    &mockEntryWriter{},
		generator: &fakeGenerator{output: `{"summary":"ok","recommendations":[],"status":"ok"}`},
		wbcEntry:  entry,
	}
	f.service = NewService(
		f.workflow,
		f.writer,
		&mockCatalog{params: map[string]*catalog.Parameter{"WBC": wbcParam}},
		&mockSubjects{},
		f.generator,
		nil,
		zerolog.Nop(),
		1024,
		0.2,
	)
	return f
}

func TestManualReviewAppliesInRangeAdjustment(t *testing.T) {
	f := newFixture(order.StatusCompleted)

	o, err := f.service.Manual(context.Background(), f.workflow.order.ID,
		[]Adjustment{{ParameterCode: "WBC", Value: 8000}}, "corrected dilution", "dr1")
	if err != nil {
		t.Fatalf("manual review: %v", err)
	}
	if o.Status != order.StatusReviewed {
		t.Errorf("status = %q, want reviewed", o.Status)
	}
	if f.writer.updated[f.wbcEntry.ID] != 8000 {
		t.Errorf("entry not updated to 8000: %v", f.writer.updated)
	}
	if len(f.workflow.comments) != 1 || f.workflow.comments[0] != "corrected dilution" {
		t.Errorf("comments = %v", f.workflow.comments)
	}
}

func TestManualReviewRejectsOutOfRangeAdjustment(t *testing.T) {
	f := newFixture(order.StatusCompleted)

	_, err := f.service.Manual(context.Background(), f.workflow.order.ID,
		[]Adjustment{{ParameterCode: "WBC", Value: 15000}}, "", "dr1")
	var ve *apperr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if len(ve.Violations) != 1 || !strings.Contains(ve.Violations[0], "WBC") {
		t.Errorf("violations = %v, want WBC named", ve.Violations)
	}
	if f.workflow.order.Status != order.StatusCompleted {
		t.Errorf("status = %q, want completed untouched", f.workflow.order.Status)
	}
	if len(f.writer.updated) != 0 {
		t.Error("entries mutated despite rejection")
	}
}

func TestManualReviewNamesEveryFailure(t *testing.T) {
	f := newFixture(order.StatusCompleted)

	_, err := f.service.Manual(context.Background(), f.workflow.order.ID, []Adjustment{
		{ParameterCode: "WBC", Value: 15000},
		{ParameterCode: "HGB", Value: 1},
	}, "", "dr1")
	var ve *apperr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if len(ve.Violations) != 2 {
		t.Errorf("violations = %v, want both WBC and HGB", ve.Violations)
	}
}

func TestManualReviewRequiresCompleted(t *testing.T) {
	f := newFixture(order.StatusRunning)
	_, err := f.service.Manual(context.Background(), f.workflow.order.ID, nil, "", "dr1")
	var ve *apperr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestAssistedReviewTransitionsAndComments(t *testing.T) {
	f := newFixture(order.StatusCompleted)
	f.generator.output = `{"summary":"WBC mildly elevated","recommendations":[{"parameter_code":"WBC","reason":"repeat in 2 weeks"}],"status":"attention"}`

	o, err := f.service.Assisted(context.Background(), f.workflow.order.ID, "system")
	if err != nil {
		t.Fatalf("assisted review: %v", err)
	}
	if o.Status != order.StatusAIReviewed {
		t.Errorf("status = %q, want ai_reviewed", o.Status)
	}
	if len(f.workflow.comments) != 1 {
		t.Fatalf("comments = %v, want one", f.workflow.comments)
	}
	c := f.workflow.comments[0]
	if !strings.Contains(c, "WBC mildly elevated") || !strings.Contains(c, "repeat in 2 weeks") {
		t.Errorf("comment %q missing assessment content", c)
	}
	if strings.Contains(f.generator.prompt, f.workflow.order.SubjectID.String()) {
		t.Error("prompt leaks the subject identifier")
	}
}

func TestAssistedReviewRerunsOverReviewed(t *testing.T) {
	f := newFixture(order.StatusAIReviewed)
	if _, err := f.service.Assisted(context.Background(), f.workflow.order.ID, "system"); err != nil {
		t.Fatalf("re-run over ai_reviewed: %v", err)
	}
}

func TestAssistedReviewRepairsTruncatedOutput(t *testing.T) {
	f := newFixture(order.StatusCompleted)
	f.generator.output = `{"summary":"elevated","recommendations":[{"parameter_code":"WBC","reason":"repeat"},{"parameter_code":"HGB","reason":"che`

	o, err := f.service.Assisted(context.Background(), f.workflow.order.ID, "system")
	if err != nil {
		t.Fatalf("assisted review with truncated output: %v", err)
	}
	if o.Status != order.StatusAIReviewed {
		t.Errorf("status = %q, want ai_reviewed", o.Status)
	}
	c := f.workflow.comments[0]
	if !strings.Contains(c, "elevated") {
		t.Errorf("comment %q lost the repaired summary", c)
	}
	if !strings.Contains(c, "WBC") {
		t.Errorf("comment %q lost the fully-formed recommendation", c)
	}
}

func TestAssistedReviewDegradesOnGarbage(t *testing.T) {
	f := newFixture(order.StatusCompleted)
	f.generator.output = "I cannot review this order, sorry."

	o, err := f.service.Assisted(context.Background(), f.workflow.order.ID, "system")
	if err != nil {
		t.Fatalf("assisted review with garbage output: %v", err)
	}
	if o.Status != order.StatusAIReviewed {
		t.Errorf("status = %q, order must not get stuck", o.Status)
	}
	if !strings.Contains(f.workflow.comments[0], "could not be parsed") {
		t.Errorf("comment %q does not report the parse failure", f.workflow.comments[0])
	}
}

func TestAssistedReviewSurfacesGeneratorError(t *testing.T) {
	f := newFixture(order.StatusCompleted)
	f.generator.err = errors.New("deadline exceeded")

	_, err := f.service.Assisted(context.Background(), f.workflow.order.ID, "system")
	var ee *apperr.ExternalServiceError
	if !errors.As(err, &ee) {
		t.Fatalf("err = %v, want ExternalServiceError", err)
	}
	if f.workflow.order.Status != order.StatusCompleted {
		t.Errorf("status = %q, want completed untouched", f.workflow.order.Status)
	}
}
