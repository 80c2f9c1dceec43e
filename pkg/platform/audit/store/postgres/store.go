package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	audit "trustdesk/pkg/platform/audit"
	txcontext "trustdesk/pkg/platform/tx"
)

// Store appends audit events to the audit_events table.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const insertEvent = `
	INSERT INTO audit_events (
		id, category, timestamp, subject_id, action, reason,
		text, target, actor_id, request_id, severity
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`

// Append writes a batch. Batches of more than one event are written in a
// single transaction unless the caller already opened one.
func (s *Store) Append(ctx context.Context, events ...audit.Event) error {
	if len(events) == 0 {
		return nil
	}
	if _, ok := txcontext.From(ctx); ok || len(events) == 1 {
		return s.appendAll(ctx, txcontext.Exec(ctx, s.db), events)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit batch: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if err := s.appendAll(ctx, tx, events); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit batch: %w", err)
	}
	return nil
}

func (s *Store) appendAll(ctx context.Context, exec txcontext.Executor, events []audit.Event) error {
	for _, event := range events {
		_, err := exec.ExecContext(ctx, insertEvent,
			uuid.New(),
			string(event.Category),
			event.Timestamp,
			event.SubjectID,
			event.Action,
			event.Reason,
			event.Text,
			event.Target,
			event.ActorID,
			event.RequestID,
			string(event.Severity),
		)
		if err != nil {
			return fmt.Errorf("insert audit event: %w", err)
		}
	}
	return nil
}

// ListBySubject returns events about one chat participant, newest first.
func (s *Store) ListBySubject(ctx context.Context, subjectID int64) ([]audit.Event, error) {
	query := `
		SELECT category, timestamp, subject_id, action, reason,
			   text, target, actor_id, request_id, severity
		FROM audit_events
		WHERE subject_id = $1
		ORDER BY timestamp DESC
	`
	rows, err := s.db.QueryContext(ctx, query, subjectID)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListRecent returns the N most recent events.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	query := `
		SELECT category, timestamp, subject_id, action, reason,
			   text, target, actor_id, request_id, severity
		FROM audit_events
		ORDER BY timestamp DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event
	for rows.Next() {
		var (
			event    audit.Event
			category string
			severity string
		)
		err := rows.Scan(
			&category,
			&event.Timestamp,
			&event.SubjectID,
			&event.Action,
			&event.Reason,
			&event.Text,
			&event.Target,
			&event.ActorID,
			&event.RequestID,
			&severity,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Category = audit.EventCategory(category)
		event.Severity = audit.Severity(severity)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
