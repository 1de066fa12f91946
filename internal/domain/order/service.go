package order

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hemalab/lims/internal/domain/catalog"
	"github.com/hemalab/lims/internal/domain/subject"
	"github.com/hemalab/lims/internal/platform/apperr"
	"github.com/hemalab/lims/internal/platform/audit"
	"github.com/hemalab/lims/internal/platform/hl7"
)

// InstrumentDirectory is the narrow slice of the instrument service intake
// consults.
type InstrumentDirectory interface {
	OperableMode(ctx context.Context, id uuid.UUID) (string, error)
}

// SubjectDirectory resolves demographics. A NotFoundError means demographics
// are unknown, which evaluation tolerates, but intake requires the subject.
type SubjectDirectory interface {
	Resolve(ctx context.Context, id uuid.UUID) (*subject.Subject, error)
}

// Catalog is the slice of the parameter catalog the workflow needs.
type Catalog interface {
	PanelParameters(ctx context.Context, panelID uuid.UUID) ([]*catalog.Parameter, error)
	RulesForParameter(ctx context.Context, parameterID uuid.UUID) ([]*catalog.FlaggingRule, error)
}

// ReagentGate checks and consumes consumables. Consumption re-validates at
// the point of write; the earlier check is advisory only.
type ReagentGate interface {
	CheckTypes(ctx context.Context, required map[string]float64) error
	Consume(ctx context.Context, typeName string, amount float64) (uuid.UUID, error)
}

// MessageRecorder persists the encoded interchange message produced by sync.
// Entries are durably written before this is called, so the message is
// recorded as already folded.
type MessageRecorder interface {
	RecordSynced(ctx context.Context, orderID uuid.UUID, payload string) (uuid.UUID, error)
}

// MeasuredValue is one raw value handed to Sync.
type MeasuredValue struct {
	ParameterCode string     `json:"parameter_code"`
	Value         float64    `json:"value"`
	MeasuredAt    *time.Time `json:"measured_at,omitempty"`
}

// Service implements the order lifecycle: intake, sync, completion, comments.
type Service struct {
	orders      OrderRepository
	entries     ResultEntryRepository
	comments    CommentRepository
	instruments InstrumentDirectory
	subjects    SubjectDirectory
	catalog     Catalog
	gate        ReagentGate
	messages    MessageRecorder
	auditor     audit.Recorder
	now         func() time.Time
}

func NewService(
	orders OrderRepository,
	entries ResultEntryRepository,
	comments CommentRepository,
	instruments InstrumentDirectory,
	subjects SubjectDirectory,
	cat Catalog,
	gate ReagentGate,
	messages MessageRecorder,
	auditor audit.Recorder,
) *Service {
	return &Service{
		orders:      orders,
		entries:     entries,
		comments:    comments,
		instruments: instruments,
		subjects:    subjects,
		catalog:     cat,
		gate:        gate,
		messages:    messages,
		auditor:     auditor,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// IntakeRequest carries one sample registration.
type IntakeRequest struct {
	Barcode      string     `json:"barcode"`
	SubjectID    uuid.UUID  `json:"subject_id"`
	InstrumentID *uuid.UUID `json:"instrument_id,omitempty"`
	PanelID      uuid.UUID  `json:"panel_id"`
	Actor        string     `json:"-"`
}

// Intake registers a sample. It is idempotent on barcode: if a live order
// already claims the barcode it is returned unchanged. A new order passes the
// instrument mode gate and the advisory reagent gate before creation.
func (s *Service) Intake(ctx context.Context, req IntakeRequest) (*Order, error) {
	if req.Barcode != "" {
		existing, err := s.orders.FindLiveByBarcode(ctx, req.Barcode)
		if err == nil {
			return existing, nil
		}
		var nf *apperr.NotFoundError
		if !errors.As(err, &nf) {
			return nil, err
		}
	}

	if req.InstrumentID != nil {
		mode, err := s.instruments.OperableMode(ctx, *req.InstrumentID)
		if err != nil {
			return nil, err
		}
		if mode != "ready" {
			return nil, apperr.Validation("instrument is in %q mode, intake requires ready", mode)
		}
	}

	if _, err := s.subjects.Resolve(ctx, req.SubjectID); err != nil {
		var nf *apperr.NotFoundError
		if errors.As(err, &nf) {
			return nil, apperr.Validation("subject %s does not exist", req.SubjectID)
		}
		return nil, err
	}

	params, err := s.catalog.PanelParameters(ctx, req.PanelID)
	if err != nil {
		return nil, err
	}
	if len(params) == 0 {
		return nil, apperr.Validation("panel %s has no parameters", req.PanelID)
	}
	if err := s.gate.CheckTypes(ctx, requiredTypes(params)); err != nil {
		return nil, err
	}

	o := &Order{
		OrderNumber:  generateOrderNumber(s.now()),
		SubjectID:    req.SubjectID,
		InstrumentID: req.InstrumentID,
		PanelID:      req.PanelID,
		Barcode:      req.Barcode,
		Status:       StatusPending,
		CreatedBy:    req.Actor,
	}
	if o.Barcode == "" {
		o.Barcode = generateBarcode()
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, err
	}

	s.record(ctx, "order_intake", o.ID, req.Actor, fmt.Sprintf("order %s created for barcode %s", o.OrderNumber, o.Barcode))
	return o, nil
}

// requiredTypes aggregates per-type consumable needs across the panel's
// parameters.
func requiredTypes(params []*catalog.Parameter) map[string]float64 {
	required := make(map[string]float64)
	for _, p := range params {
		if p.ConsumableType != nil && p.UsagePerTest > 0 {
			required[*p.ConsumableType] += p.UsagePerTest
		}
	}
	return required
}

// Sync folds measured values into the order and records the encoded
// interchange message once the entries are durable. The message path
// (ingestion of an already-recorded message) uses Fold directly instead.
func (s *Service) Sync(ctx context.Context, orderID uuid.UUID, values []MeasuredValue, actor string) (*Order, error) {
	o, err := s.Fold(ctx, orderID, values, actor)
	if err != nil {
		return nil, err
	}

	all, err := s.entries.ListByOrder(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	demo, err := s.demographics(ctx, o.SubjectID)
	if err != nil {
		return nil, err
	}
	payload := s.encodeMessage(o, all, demo)
	if _, err := s.messages.RecordSynced(ctx, o.ID, payload); err != nil {
		return nil, fmt.Errorf("record interchange message: %w", err)
	}
	return o, nil
}

// Fold writes measured values onto the order. The whole call is
// all-or-nothing at the validation level: every parameter code must resolve
// against the panel before anything is written. Consumption happens per entry
// with the compare-and-swap decrement, so a concurrent order racing on the
// same lot surfaces as a ResourceError rather than a negative quantity.
//
// The order transitions pending -> running on first fold and running ->
// completed once every panel parameter has an entry.
func (s *Service) Fold(ctx context.Context, orderID uuid.UUID, values []MeasuredValue, actor string) (*Order, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusPending && o.Status != StatusRunning {
		return nil, apperr.Validation("cannot sync order in status %q", o.Status)
	}
	if len(values) == 0 {
		return nil, apperr.Validation("sync requires at least one value")
	}

	params, err := s.catalog.PanelParameters(ctx, o.PanelID)
	if err != nil {
		return nil, err
	}
	byCode := make(map[string]*catalog.Parameter, len(params))
	for _, p := range params {
		byCode[p.Code] = p
	}

	// All-or-nothing resolution: collect every unknown code before refusing.
	var unknown []string
	for _, v := range values {
		if _, ok := byCode[v.ParameterCode]; !ok {
			unknown = append(unknown, v.ParameterCode)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, apperr.Violations("parameters not in panel", unknown)
	}

	demo, err := s.demographics(ctx, o.SubjectID)
	if err != nil {
		return nil, err
	}

	if o.Status == StatusPending {
		if err := s.transition(ctx, o, StatusRunning, actor); err != nil {
			return nil, err
		}
	}

	now := s.now()
	entries := make([]*ResultEntry, 0, len(values))
	for _, v := range values {
		p := byCode[v.ParameterCode]

		rules, err := s.catalog.RulesForParameter(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		eval := catalog.Evaluate(v.Value, rules, demo, p.NormalMin, p.NormalMax)

		var lotID *uuid.UUID
		if p.ConsumableType != nil && p.UsagePerTest > 0 {
			lot, err := s.gate.Consume(ctx, *p.ConsumableType, p.UsagePerTest)
			if err != nil {
				return nil, err
			}
			lotID = &lot
		}

		measuredAt := now
		if v.MeasuredAt != nil {
			measuredAt = *v.MeasuredAt
		}
		var severity *string
		if eval.Flagged {
			sev := eval.Severity
			severity = &sev
		}
		entries = append(entries, &ResultEntry{
			OrderID:       o.ID,
			ParameterID:   p.ID,
			ParameterCode: p.Code,
			Value:         v.Value,
			Unit:          p.Unit,
			ReferenceText: eval.ReferenceText,
			Flagged:       eval.Flagged,
			Severity:      severity,
			LotID:         lotID,
			MeasuredAt:    measuredAt,
		})
	}

	if err := s.entries.CreateBatch(ctx, entries); err != nil {
		return nil, err
	}

	all, err := s.entries.ListByOrder(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	if coversPanel(all, params) {
		if err := s.transition(ctx, o, StatusCompleted, actor); err != nil {
			return nil, err
		}
	}

	s.record(ctx, "order_sync", o.ID, actor, fmt.Sprintf("%d values folded into order %s", len(values), o.OrderNumber))
	return o, nil
}

// LocateLive resolves an order reference from a decoded message: by order
// number first, by live barcode second.
func (s *Service) LocateLive(ctx context.Context, orderNumber, barcode string) (*Order, error) {
	if orderNumber != "" {
		o, err := s.orders.GetByNumber(ctx, orderNumber)
		if err == nil {
			return o, nil
		}
		var nf *apperr.NotFoundError
		if !errors.As(err, &nf) {
			return nil, err
		}
	}
	if barcode != "" {
		return s.orders.FindLiveByBarcode(ctx, barcode)
	}
	return nil, apperr.NotFound("order", orderNumber+barcode)
}

func coversPanel(entries []*ResultEntry, params []*catalog.Parameter) bool {
	have := make(map[uuid.UUID]bool, len(entries))
	for _, e := range entries {
		have[e.ParameterID] = true
	}
	for _, p := range params {
		if !have[p.ID] {
			return false
		}
	}
	return true
}

func (s *Service) demographics(ctx context.Context, subjectID uuid.UUID) (catalog.Demographics, error) {
	sub, err := s.subjects.Resolve(ctx, subjectID)
	if err != nil {
		var nf *apperr.NotFoundError
		if errors.As(err, &nf) {
			// Tolerated: demographic filters simply do not match.
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

func (s *Service) encodeMessage(o *Order, entries []*ResultEntry, demo catalog.Demographics) string {
	m := &hl7.Message{
		MessageID:   uuid.New().String(),
		Timestamp:   s.now(),
		SubjectID:   o.SubjectID.String(),
		OrderNumber: o.OrderNumber,
		Barcode:     o.Barcode,
	}
	if demo.Sex != nil {
		m.Sex = *demo.Sex
	}
	for _, e := range entries {
		sev := ""
		if e.Severity != nil {
			sev = *e.Severity
		}
		m.Results = append(m.Results, hl7.Result{
			ParameterCode: e.ParameterCode,
			Value:         e.Value,
			Unit:          e.Unit,
			ReferenceText: e.ReferenceText,
			Flagged:       e.Flagged,
			Severity:      sev,
			MeasuredAt:    e.MeasuredAt,
		})
	}
	return hl7.Encode(m)
}

// transition is the single mutation point for order status; every move is
// validated against the table first.
func (s *Service) transition(ctx context.Context, o *Order, to, actor string) error {
	if err := ValidateTransition(o.Status, to); err != nil {
		return apperr.Validation("%s", err.Error())
	}
	if err := s.orders.UpdateStatus(ctx, o.ID, o.Status, to, actor); err != nil {
		return err
	}
	o.Status = to
	return nil
}

// Transition exposes the validated status change to collaborating services
// (review) so the table stays enforced in one place.
func (s *Service) Transition(ctx context.Context, o *Order, to, actor string) error {
	return s.transition(ctx, o, to, actor)
}

// Fail moves a non-terminal order to failed.
func (s *Service) Fail(ctx context.Context, orderID uuid.UUID, actor, reason string) (*Order, error) {
	return s.abort(ctx, orderID, StatusFailed, actor, reason)
}

// Cancel moves a non-terminal order to cancelled.
func (s *Service) Cancel(ctx context.Context, orderID uuid.UUID, actor, reason string) (*Order, error) {
	return s.abort(ctx, orderID, StatusCancelled, actor, reason)
}

func (s *Service) abort(ctx context.Context, orderID uuid.UUID, to, actor, reason string) (*Order, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, o, to, actor); err != nil {
		return nil, err
	}
	if reason != "" {
		_ = s.comments.Add(ctx, &Comment{OrderID: o.ID, Body: reason, Author: actor})
	}
	s.record(ctx, "order_"+to, o.ID, actor, reason)
	return o, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.orders.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, status string, subjectID *uuid.UUID, limit, offset int) ([]*Order, int, error) {
	return s.orders.List(ctx, status, subjectID, limit, offset)
}

func (s *Service) Results(ctx context.Context, orderID uuid.UUID) ([]*ResultEntry, error) {
	if _, err := s.orders.GetByID(ctx, orderID); err != nil {
		return nil, err
	}
	return s.entries.ListByOrder(ctx, orderID)
}

// AddComment appends a comment; allowed in any post-intake state.
func (s *Service) AddComment(ctx context.Context, orderID uuid.UUID, body, author string) (*Comment, error) {
	if strings.TrimSpace(body) == "" {
		return nil, apperr.Validation("comment body is required")
	}
	if _, err := s.orders.GetByID(ctx, orderID); err != nil {
		return nil, err
	}
	c := &Comment{OrderID: orderID, Body: body, Author: author}
	if err := s.comments.Add(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) Comments(ctx context.Context, orderID uuid.UUID) ([]*Comment, error) {
	if _, err := s.orders.GetByID(ctx, orderID); err != nil {
		return nil, err
	}
	return s.comments.ListByOrder(ctx, orderID)
}

// Comment returns the single comment at the given index, or NotFound when
// the index is out of bounds.
func (s *Service) Comment(ctx context.Context, orderID uuid.UUID, position int) (*Comment, error) {
	if _, err := s.orders.GetByID(ctx, orderID); err != nil {
		return nil, err
	}
	return s.comments.GetAt(ctx, orderID, position)
}

// UpdateComment rewrites the comment at the given index; the index must be
// within current bounds.
func (s *Service) UpdateComment(ctx context.Context, orderID uuid.UUID, position int, body string) error {
	if strings.TrimSpace(body) == "" {
		return apperr.Validation("comment body is required")
	}
	return s.comments.UpdateAt(ctx, orderID, position, body)
}

func (s *Service) DeleteComment(ctx context.Context, orderID uuid.UUID, position int) error {
	return s.comments.DeleteAt(ctx, orderID, position)
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

func generateOrderNumber(now time.Time) string {
	return fmt.Sprintf("ORD-%s-%s", now.Format("20060102"), shortID())
}

func generateBarcode() string {
	return "BC-" + shortID()
}

func shortID() string {
	return strings.ToUpper(uuid.New().String()[:8])
}
