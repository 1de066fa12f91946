// Package audit provides the fire-and-forget audit log sink. Recording never
// blocks the pipeline and never fails a request; sink errors are logged
// locally and dropped.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Entry is one audit record.
type Entry struct {
	ActionType  string
	EntityType  string
	EntityID    string
	Actor       string
	Description string
	Metadata    map[string]interface{}
}

// Recorder persists audit entries. Implementations must not block the caller
// and must swallow their own failures.
type Recorder interface {
	Record(ctx context.Context, e Entry)
}

// RecorderFunc is a function adapter for Recorder.
type RecorderFunc func(ctx context.Context, e Entry)

func (f RecorderFunc) Record(ctx context.Context, e Entry) {
	f(ctx, e)
}

// PGRecorder writes entries to the audit_log table asynchronously, falling
// back to structured logging when the write fails.
type PGRecorder struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

func NewPGRecorder(pool *pgxpool.Pool, logger zerolog.Logger) *PGRecorder {
	return &PGRecorder{pool: pool, logger: logger}
}

func (r *PGRecorder) Record(_ context.Context, e Entry) {
	go func() {
		// Detached from the request context so an aborted request still
		// leaves its trail.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var meta []byte
		if e.Metadata != nil {
			meta, _ = json.Marshal(e.Metadata)
		}
		_, err := r.pool.Exec(ctx, `
			INSERT INTO audit_log (id, action_type, entity_type, entity_id, actor, description, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			uuid.New(), e.ActionType, e.EntityType, e.EntityID, e.Actor, e.Description, meta, time.Now().UTC(),
		)
		if err != nil {
			r.logger.Error().Err(err).
				Str("action_type", e.ActionType).
				Str("entity_type", e.EntityType).
				Str("entity_id", e.EntityID).
				Msg("failed to persist audit entry")
		}
	}()
}

// LogRecorder emits entries to the structured log only. Used when no database
// sink is wired, and as the pattern for tests.
type LogRecorder struct {
	logger zerolog.Logger
}

func NewLogRecorder(logger zerolog.Logger) *LogRecorder {
	return &LogRecorder{logger: logger}
}

func (r *LogRecorder) Record(_ context.Context, e Entry) {
	r.logger.Info().
		Str("type", "audit").
		Str("action_type", e.ActionType).
		Str("entity_type", e.EntityType).
		Str("entity_id", e.EntityID).
		Str("actor", e.Actor).
		Str("description", e.Description).
		Msg("audit_entry")
}
