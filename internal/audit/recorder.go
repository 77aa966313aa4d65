package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/jsverre/stevedore/internal/model"
	"github.com/jsverre/stevedore/internal/platform"
)

// DB defines the database operations used by the audit log.
// *pgxpool.Pool satisfies this interface.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Recorder is an async, append-only audit log writer. Record never blocks the
// caller; when the buffer is full the entry is dropped with a warning.
type Recorder struct {
	db     DB
	logger zerolog.Logger
	ch     chan model.AuditEvent
	done   chan struct{}
}

func NewRecorder(db DB, logger zerolog.Logger) *Recorder {
	r := &Recorder{
		db:     db,
		logger: logger.With().Str("component", "audit").Logger(),
		ch:     make(chan model.AuditEvent, 1024),
		done:   make(chan struct{}),
	}
	go r.drain()
	return r
}

func (r *Recorder) drain() {
	defer close(r.done)
	for ev := range r.ch {
		// context.Background since this runs async of the request.
		_, err := r.db.Exec(context.Background(),
			`INSERT INTO audit_events (id, timestamp, actor, action, container_id, result, reason)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			ev.ID, ev.Timestamp, ev.Actor, ev.Action, ev.ContainerID, ev.Result, ev.Reason,
		)
		if err != nil {
			r.logger.Error().Err(err).Str("action", ev.Action).Msg("failed to write audit event")
		}
	}
}

// Close drains remaining entries and waits for the writer to finish.
func (r *Recorder) Close() {
	close(r.ch)
	<-r.done
}

// Record enqueues one audit event.
func (r *Recorder) Record(actor, action, containerID, result, reason string) {
	ev := model.AuditEvent{
		ID:          platform.NewID(),
		Timestamp:   time.Now(),
		Actor:       actor,
		Action:      action,
		ContainerID: containerID,
		Result:      result,
		Reason:      reason,
	}

	select {
	case r.ch <- ev:
	default:
		r.logger.Warn().Str("action", action).Msg("audit buffer full, dropping event")
	}
}

// List returns the most recent events, newest first.
func (r *Recorder) List(ctx context.Context, limit int) ([]model.AuditEvent, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, timestamp, actor, action, container_id, result, reason
		 FROM audit_events ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []model.AuditEvent
	for rows.Next() {
		var ev model.AuditEvent
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.Actor, &ev.Action, &ev.ContainerID, &ev.Result, &ev.Reason); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
