package interchange

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hemalab/lims/internal/domain/order"
	"github.com/hemalab/lims/internal/platform/apperr"
	"github.com/hemalab/lims/internal/platform/hl7"
)

// Workflow is the slice of the order service ingestion needs. Fold writes the
// decoded values without recording a second message for them.
type Workflow interface {
	LocateLive(ctx context.Context, orderNumber, barcode string) (*order.Order, error)
	Fold(ctx context.Context, orderID uuid.UUID, values []order.MeasuredValue, actor string) (*order.Order, error)
}

// Recorder is the synthesis-side half: orders hand it an encoded payload
// whose values are already durably on the order, so the record is born synced
// and deletable.
type Recorder struct {
	repo Repository
}

func NewRecorder(repo Repository) *Recorder {
	return &Recorder{repo: repo}
}

func (r *Recorder) RecordSynced(ctx context.Context, orderID uuid.UUID, payload string) (uuid.UUID, error) {
	m := &Message{
		OrderID:   &orderID,
		Payload:   payload,
		Status:    StatusSynced,
		CanDelete: true,
	}
	if err := r.repo.Create(ctx, m); err != nil {
		return uuid.Nil, err
	}
	return m.ID, nil
}

// Service manages recorded messages: listing, ingestion of pending ones,
// deletion gated on can_delete, and age-based purge.
type Service struct {
	repo     Repository
	workflow Workflow
	ttl      time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, workflow Workflow, ttlDays int, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		workflow: workflow,
		ttl:      time.Duration(ttlDays) * 24 * time.Hour,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Message, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, status string, limit, offset int) ([]*Message, int, error) {
	return s.repo.List(ctx, status, limit, offset)
}

// Record stores a raw externally-produced message as pending, to be ingested
// later.
func (s *Service) Record(ctx context.Context, payload string) (*Message, error) {
	if payload == "" {
		return nil, apperr.Validation("message payload is required")
	}
	m := &Message{Payload: payload, Status: StatusPending}
	if err := s.repo.Create(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Ingest decodes a pending message and folds its values into the referenced
// order. Malformed result segments are skipped, not fatal; a message with no
// usable results is rejected. can_delete turns true only after the fold is
// durable. A fold failure puts the message back to pending so it can be
// re-ingested once the cause (a drained lot, a transient store error) is
// resolved.
func (s *Service) Ingest(ctx context.Context, id uuid.UUID, actor string) (*Message, error) {
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Status != StatusPending {
		return nil, apperr.Validation("message %s is %s, only pending messages can be ingested", m.ID, m.Status)
	}

	decoded, report, err := hl7.Decode(m.Payload)
	if err != nil {
		return nil, apperr.Validation("message payload is not decodable: %v", err)
	}
	if report != nil && len(report.Skipped) > 0 {
		s.logger.Warn().
			Str("message_id", m.ID.String()).
			Int("skipped", len(report.Skipped)).
			Msg("malformed result segments skipped during ingest")
	}
	if len(decoded.Results) == 0 {
		return nil, apperr.Validation("message carries no usable result segments")
	}

	o, err := s.resolveOrder(ctx, m, decoded)
	if err != nil {
		return nil, err
	}

	if err := s.move(ctx, m, StatusProcessed, false); err != nil {
		return nil, err
	}

	values := make([]order.MeasuredValue, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		r := r
		values = append(values, order.MeasuredValue{
			ParameterCode: r.ParameterCode,
			Value:         r.Value,
			MeasuredAt:    &r.MeasuredAt,
		})
	}
	if _, err := s.workflow.Fold(ctx, o.ID, values, actor); err != nil {
		if resetErr := s.move(ctx, m, StatusPending, false); resetErr != nil {
			s.logger.Error().
				Str("message_id", m.ID.String()).
				Err(resetErr).
				Msg("failed to return message to pending after fold failure")
		}
		return nil, err
	}

	if err := s.move(ctx, m, StatusSynced, true); err != nil {
		return nil, err
	}
	return m, nil
}

// move validates the status change against the transition table, then applies
// it with the current status as the write predicate.
func (s *Service) move(ctx context.Context, m *Message, to string, canDelete bool) error {
	if err := validateTransition(m.Status, to); err != nil {
		return apperr.Validation("%s", err.Error())
	}
	if err := s.repo.UpdateStatus(ctx, m.ID, m.Status, to, canDelete); err != nil {
		return err
	}
	m.Status = to
	m.CanDelete = canDelete
	return nil
}

func (s *Service) resolveOrder(ctx context.Context, m *Message, decoded *hl7.Message) (*order.Order, error) {
	o, err := s.workflow.LocateLive(ctx, decoded.OrderNumber, decoded.Barcode)
	if err != nil {
		return nil, err
	}
	if m.OrderID == nil {
		if err := s.repo.AttachOrder(ctx, m.ID, o.ID); err != nil {
			return nil, err
		}
		m.OrderID = &o.ID
	}
	return o, nil
}

// Delete removes one message. Deletion is rejected until the message's
// values are durably on an order.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !m.CanDelete {
		return apperr.Validation("message %s is not deletable until its values are synced", m.ID)
	}
	return s.repo.Delete(ctx, id)
}

// Purge removes synced deletable messages older than the retention window.
func (s *Service) Purge(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.ttl)
	deleted, err := s.repo.DeleteSyncedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.logger.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("interchange messages purged")
	}
	return deleted, nil
}
