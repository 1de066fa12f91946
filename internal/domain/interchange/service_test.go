package interchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hemalab/lims/internal/domain/order"
	"github.com/hemalab/lims/internal/platform/apperr"
	"github.com/hemalab/lims/internal/platform/hl7"
)

type mockRepo struct {
	messages map[uuid.UUID]*Message
}

func newMockRepo() *mockRepo {
	return &mockRepo{messages: make(map[uuid.UUID]*Message)}
}

func (m *mockRepo) Create(_ context.Context, msg *Message) error {
	msg.ID = uuid.New()
	msg.CreatedAt = time.Now().UTC()
	m.messages[msg.ID] = msg
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Message, error) {
	msg, ok := m.messages[id]
	if !ok {
		return nil, apperr.NotFound("message", id.String())
	}
	cp := *msg
	return &cp, nil
}

func (m *mockRepo) List(_ context.Context, status string, limit, offset int) ([]*Message, int, error) {
	var out []*Message
	for _, msg := range m.messages {
		if status != "" && msg.Status != status {
			continue
		}
		cp := *msg
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (m *mockRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to string, canDelete bool) error {
	msg, ok := m.messages[id]
	if !ok {
		return apperr.NotFound("message", id.String())
	}
	if msg.Status != from {
		return errors.New("status moved concurrently")
	}
	msg.Status = to
	msg.CanDelete = canDelete
	return nil
}

func (m *mockRepo) AttachOrder(_ context.Context, id, orderID uuid.UUID) error {
	msg, ok := m.messages[id]
	if !ok {
		return apperr.NotFound("message", id.String())
	}
	msg.OrderID = &orderID
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.messages[id]; !ok {
		return apperr.NotFound("message", id.String())
	}
	delete(m.messages, id)
	return nil
}

func (m *mockRepo) DeleteSyncedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	for id, msg := range m.messages {
		if msg.Status == StatusSynced && msg.CanDelete && msg.CreatedAt.Before(cutoff) {
			delete(m.messages, id)
			deleted++
		}
	}
	return deleted, nil
}

type mockWorkflow struct {
	order  *order.Order
	folded []order.MeasuredValue
	err    error
}

func (m *mockWorkflow) LocateLive(_ context.Context, orderNumber, barcode string) (*order.Order, error) {
	if m.order == nil {
		return nil, apperr.NotFound("order", orderNumber+barcode)
	}
	return m.order, nil
}

func (m *mockWorkflow) Fold(_ context.Context, orderID uuid.UUID, values []order.MeasuredValue, actor string) (*order.Order, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.folded = append(m.folded, values...)
	return m.order, nil
}

func encodedPayload(t *testing.T) string {
	t.Helper()
	return hl7.Encode(&hl7.Message{
		MessageID:   "msg-1",
		Timestamp:   time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC),
		SubjectID:   "subj-1",
		OrderNumber: "ORD-20260301-ABCD1234",
		Barcode:     "BC-0001",
		Results: []hl7.Result{
			{ParameterCode: "WBC", Value: 7200, Unit: "10^9/L", MeasuredAt: time.Date(2026, 3, 1, 10, 29, 0, 0, time.UTC)},
			{ParameterCode: "RBC", Value: 4.4, Unit: "10^12/L", MeasuredAt: time.Date(2026, 3, 1, 10, 29, 0, 0, time.UTC)},
		},
	})
}

func newTestService(repo *mockRepo, wf *mockWorkflow) *Service {
	return NewService(repo, wf, 30, zerolog.Nop())
}

func TestRecorderCreatesSyncedDeletable(t *testing.T) {
	repo := newMockRepo()
	rec := NewRecorder(repo)
	orderID := uuid.New()

	id, err := rec.RecordSynced(context.Background(), orderID, "H|LIMS|x|20260301103000")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	m := repo.messages[id]
	if m.Status != StatusSynced || !m.CanDelete {
		t.Errorf("message = %s/%v, want synced and deletable", m.Status, m.CanDelete)
	}
	if m.OrderID == nil || *m.OrderID != orderID {
		t.Errorf("order id not attached")
	}
}

func TestIngestFoldsPendingMessage(t *testing.T) {
	repo := newMockRepo()
	wf := &mockWorkflow{order: &order.Order{ID: uuid.New(), OrderNumber: "ORD-20260301-ABCD1234", Barcode: "BC-0001"}}
	svc := newTestService(repo, wf)

	m, err := svc.Record(context.Background(), encodedPayload(t))
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := svc.Ingest(context.Background(), m.ID, "analyzer")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if got.Status != StatusSynced || !got.CanDelete {
		t.Errorf("message = %s/%v, want synced and deletable", got.Status, got.CanDelete)
	}
	if len(wf.folded) != 2 {
		t.Fatalf("folded %d values, want 2", len(wf.folded))
	}
	if wf.folded[0].ParameterCode != "WBC" || wf.folded[0].Value != 7200 {
		t.Errorf("folded[0] = %+v", wf.folded[0])
	}
	stored := repo.messages[m.ID]
	if stored.OrderID == nil || *stored.OrderID != wf.order.ID {
		t.Error("order id not attached during ingest")
	}
}

func TestIngestRejectsNonPending(t *testing.T) {
	repo := newMockRepo()
	wf := &mockWorkflow{order: &order.Order{ID: uuid.New()}}
	svc := newTestService(repo, wf)

	rec := NewRecorder(repo)
	id, _ := rec.RecordSynced(context.Background(), wf.order.ID, encodedPayload(t))

	_, err := svc.Ingest(context.Background(), id, "analyzer")
	var ve *apperr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestIngestFailedFoldReturnsMessageToPending(t *testing.T) {
	repo := newMockRepo()
	wf := &mockWorkflow{
		order: &order.Order{ID: uuid.New(), Barcode: "BC-0001"},
		err:   apperr.Resource("Diluent", "LOT-1"),
	}
	svc := newTestService(repo, wf)

	m, _ := svc.Record(context.Background(), encodedPayload(t))
	_, err := svc.Ingest(context.Background(), m.ID, "analyzer")
	var re *apperr.ResourceError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want ResourceError", err)
	}
	stored := repo.messages[m.ID]
	if stored.Status != StatusPending || stored.CanDelete {
		t.Errorf("message = %s/%v, want pending and not deletable", stored.Status, stored.CanDelete)
	}

	// Once the shortage is resolved the same message ingests cleanly.
	wf.err = nil
	got, err := svc.Ingest(context.Background(), m.ID, "analyzer")
	if err != nil {
		t.Fatalf("re-ingest after shortage resolved: %v", err)
	}
	if got.Status != StatusSynced || !got.CanDelete {
		t.Errorf("message = %s/%v, want synced and deletable", got.Status, got.CanDelete)
	}
}

func TestDeleteGatedOnCanDelete(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, &mockWorkflow{})

	pending, _ := svc.Record(context.Background(), encodedPayload(t))
	err := svc.Delete(context.Background(), pending.ID)
	var ve *apperr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("delete of pending message err = %v, want ValidationError", err)
	}

	rec := NewRecorder(repo)
	syncedID, _ := rec.RecordSynced(context.Background(), uuid.New(), "H|LIMS|x|20260301103000")
	if err := svc.Delete(context.Background(), syncedID); err != nil {
		t.Fatalf("delete of synced message: %v", err)
	}
}

func TestPurgeRemovesOnlyOldSynced(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, &mockWorkflow{})

	rec := NewRecorder(repo)
	oldID, _ := rec.RecordSynced(context.Background(), uuid.New(), "old")
	repo.messages[oldID].CreatedAt = time.Now().UTC().Add(-40 * 24 * time.Hour)
	freshID, _ := rec.RecordSynced(context.Background(), uuid.New(), "fresh")

	stale, _ := svc.Record(context.Background(), "H|LIMS|x|20260301103000")
	repo.messages[stale.ID].CreatedAt = time.Now().UTC().Add(-40 * 24 * time.Hour)

	deleted, err := svc.Purge(context.Background())
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	if _, ok := repo.messages[oldID]; ok {
		t.Error("old synced message survived purge")
	}
	if _, ok := repo.messages[freshID]; !ok {
		t.Error("fresh synced message was purged")
	}
	if _, ok := repo.messages[stale.ID]; !ok {
		t.Error("pending message was purged despite not being synced")
	}
}

func TestMessageTransitionTable(t *testing.T) {
	if err := validateTransition(StatusPending, StatusProcessed); err != nil {
		t.Errorf("pending -> processed: %v", err)
	}
	if err := validateTransition(StatusProcessed, StatusSynced); err != nil {
		t.Errorf("processed -> synced: %v", err)
	}
	if err := validateTransition(StatusProcessed, StatusPending); err != nil {
		t.Errorf("processed -> pending: %v", err)
	}
	if err := validateTransition(StatusSynced, StatusPending); err == nil {
		t.Error("synced -> pending should be rejected")
	}
}
