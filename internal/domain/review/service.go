package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hemalab/lims/internal/domain/catalog"
	"github.com/hemalab/lims/internal/domain/order"
	"github.com/hemalab/lims/internal/domain/subject"
	"github.com/hemalab/lims/internal/platform/ai"
	"github.com/hemalab/lims/internal/platform/apperr"
	"github.com/hemalab/lims/internal/platform/audit"
)

// Workflow is the slice of the order service both review modes drive.
type Workflow interface {
	Get(ctx context.Context, id uuid.UUID) (*order.Order, error)
	Results(ctx context.Context, orderID uuid.UUID) ([]*order.ResultEntry, error)
	Transition(ctx context.Context, o *order.Order, to, actor string) error
	AddComment(ctx context.Context, orderID uuid.UUID, body, author string) (*order.Comment, error)
}

// EntryWriter mutates result entries; review adjustment is the only caller
// outside sync.
type EntryWriter interface {
	UpdateValue(ctx context.Context, id uuid.UUID, value float64, flagged bool, severity *string, referenceText string) error
}

// Catalog supplies bounds and rules for the adjustment check.
type Catalog interface {
	GetParameterByCode(ctx context.Context, code string) (*catalog.Parameter, error)
	RulesForParameter(ctx context.Context, parameterID uuid.UUID) ([]*catalog.FlaggingRule, error)
}

// SubjectDirectory supplies the minimal demographic context.
type SubjectDirectory interface {
	Resolve(ctx context.Context, id uuid.UUID) (*subject.Subject, error)
}

// Adjustment replaces one entry's value during manual review.
type Adjustment struct {
	ParameterCode string  `json:"parameter_code"`
	Value         float64 `json:"value"`
}

type Service struct {
	workflow  Workflow
	entries   EntryWriter
	catalog   Catalog
	subjects  SubjectDirectory
	generator ai.Generator
	auditor   audit.Recorder
	logger    zerolog.Logger
	maxTokens int
	temp      float64
	now       func() time.Time
}

func NewService(
	workflow Workflow,
	entries EntryWriter,
	cat Catalog,
	subjects SubjectDirectory,
	generator ai.Generator,
	auditor audit.Recorder,
	logger zerolog.Logger,
	maxTokens int,
	temperature float64,
) *Service {
	return &Service{
		workflow:  workflow,
		entries:   entries,
		catalog:   cat,
		subjects:  subjects,
		generator: generator,
		auditor:   auditor,
		logger:    logger,
		maxTokens: maxTokens,
		temp:      temperature,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Manual applies reviewer adjustments and moves the order to reviewed. Every
// adjusted value must sit inside the range a fresh measurement would be
// checked against; one failing adjustment rejects the whole review with all
// failing parameters named, and the order stays completed.
func (s *Service) Manual(ctx context.Context, orderID uuid.UUID, adjustments []Adjustment, comment, actor string) (*order.Order, error) {
	o, err := s.workflow.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != order.StatusCompleted {
		return nil, apperr.Validation("manual review requires a completed order, got %q", o.Status)
	}

	entries, err := s.workflow.Results(ctx, orderID)
	if err != nil {
		return nil, err
	}
	byCode := make(map[string]*order.ResultEntry, len(entries))
	for _, e := range entries {
		byCode[e.ParameterCode] = e
	}

	demo, err := s.demographics(ctx, o.SubjectID)
	if err != nil {
		return nil, err
	}

	type pending struct {
		entry *order.ResultEntry
		value float64
		eval  catalog.Evaluation
	}
	var (
		applied  []pending
		failures []string
	)
	for _, adj := range adjustments {
		entry, ok := byCode[adj.ParameterCode]
		if !ok {
			failures = append(failures, fmt.Sprintf("%s: no result entry on this order", adj.ParameterCode))
			continue
		}
		p, err := s.catalog.GetParameterByCode(ctx, adj.ParameterCode)
		if err != nil {
			return nil, err
		}
		rules, err := s.catalog.RulesForParameter(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		eval := catalog.Evaluate(adj.Value, rules, demo, p.NormalMin, p.NormalMax)
		if eval.Flagged {
			failures = append(failures, fmt.Sprintf("%s: %v outside %s", adj.ParameterCode, adj.Value, eval.ReferenceText))
			continue
		}
		applied = append(applied, pending{entry: entry, value: adj.Value, eval: eval})
	}
	if len(failures) > 0 {
		return nil, apperr.Violations("adjustments out of range", failures)
	}

	for _, p := range applied {
		if err := s.entries.UpdateValue(ctx, p.entry.ID, p.value, false, nil, p.eval.ReferenceText); err != nil {
			return nil, err
		}
	}

	if err := s.workflow.Transition(ctx, o, order.StatusReviewed, actor); err != nil {
		return nil, err
	}
	if comment != "" {
		if _, err := s.workflow.AddComment(ctx, orderID, comment, actor); err != nil {
			return nil, err
		}
	}

	s.record(ctx, "order_reviewed", orderID, actor,
		fmt.Sprintf("manual review applied %d adjustments", len(applied)))
	return o, nil
}

func (s *Service) demographics(ctx context.Context, subjectID uuid.UUID) (catalog.Demographics, error) {
	sub, err := s.subjects.Resolve(ctx, subjectID)
	if err != nil {
		var nf *apperr.NotFoundError
		if errors.As(err, &nf) {
			return catalog.Demographics{}, nil
		}
		return catalog.Demographics{}, err
	}
	demo := catalog.Demographics{Sex: sub.Sex}
	if sub.BirthDate != nil {
		age := catalog.AgeAt(*sub.BirthDate, s.now())
		demo.AgeYears = &age
	}
	return demo, nil
}

func (s *Service) record(ctx context.Context, action string, orderID uuid.UUID, actor, description string) {
	if s.auditor == nil {
		return
	}
	s.auditor.Record(ctx, audit.Entry{
		ActionType:  action,
		EntityType:  "order",
		EntityID:    orderID.String(),
		Actor:       actor,
		Description: description,
	})
}
