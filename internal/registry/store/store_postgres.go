package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"trustdesk/internal/registry"
	id "trustdesk/pkg/domain"
	"trustdesk/pkg/platform/sentinel"
	txcontext "trustdesk/pkg/platform/tx"
)

// PostgresStore persists registry entries. Writes join the moderation
// decision's transaction when one is in the context.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) AddWhitelist(ctx context.Context, entry *registry.WhitelistEntry) error {
	query := `
		INSERT INTO whitelist_entries (
			handle, submitter_id, activity, locale, link, rationale,
			source_submission_id, approved_by, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (source_submission_id) DO NOTHING
		RETURNING id
	`
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, query,
		entry.Handle,
		entry.SubmitterID.Int64(),
		entry.Activity,
		entry.Locale,
		entry.Link,
		entry.Rationale,
		entry.SourceSubmissionID.Int64(),
		entry.ApprovedBy.Int64(),
		entry.CreatedAt,
	).Scan(&entry.ID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("whitelist entry for submission %s: %w", entry.SourceSubmissionID, sentinel.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert whitelist entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddScam(ctx context.Context, entry *registry.ScamEntry) error {
	if entry.Status == "" {
		entry.Status = registry.ScamActive
	}
	query := `
		INSERT INTO scam_entries (
			handle, description, status, source_submission_id, approved_by, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (source_submission_id) DO NOTHING
		RETURNING id
	`
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, query,
		entry.Handle,
		entry.Description,
		string(entry.Status),
		entry.SourceSubmissionID.Int64(),
		entry.ApprovedBy.Int64(),
		entry.CreatedAt,
	).Scan(&entry.ID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("scam entry for submission %s: %w", entry.SourceSubmissionID, sentinel.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert scam entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveActiveScams(ctx context.Context, handle string, by id.SubmitterID, at time.Time) (int, error) {
	query := `
		UPDATE scam_entries
		SET status = 'removed', removed_at = $2, removed_by = $3
		WHERE handle = $1 AND status = 'active'
	`
	result, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, query, handle, at, by.Int64())
	if err != nil {
		return 0, fmt.Errorf("remove scam entries: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("remove scam entries rows affected: %w", err)
	}
	return int(rows), nil
}

func (s *PostgresStore) HasActiveScam(ctx context.Context, handle string) (bool, error) {
	var exists bool
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM scam_entries WHERE handle = $1 AND status = 'active')`,
		handle,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check active scam: %w", err)
	}
	return exists, nil
}

const scamColumns = `id, handle, description, status, source_submission_id, approved_by, created_at, removed_at, removed_by`

func (s *PostgresStore) ScamsByHandle(ctx context.Context, handle string) ([]registry.ScamEntry, error) {
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx, `
		SELECT `+scamColumns+`
		FROM scam_entries
		WHERE handle = $1
		ORDER BY created_at DESC, id DESC
	`, handle)
	if err != nil {
		return nil, fmt.Errorf("query scam entries: %w", err)
	}
	defer rows.Close()
	return scanScams(rows)
}

func (s *PostgresStore) ListActiveScams(ctx context.Context, offset, limit int) ([]registry.ScamEntry, int, error) {
	total, err := s.count(ctx, `SELECT COUNT(*) FROM scam_entries WHERE status = 'active'`)
	if err != nil {
		return nil, 0, err
	}
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx, `
		SELECT `+scamColumns+`
		FROM scam_entries
		WHERE status = 'active'
		ORDER BY created_at DESC, id DESC
		OFFSET $1 LIMIT $2
	`, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("query scam entries: %w", err)
	}
	defer rows.Close()
	entries, err := scanScams(rows)
	return entries, total, err
}

func (s *PostgresStore) ListWhitelist(ctx context.Context, offset, limit int) ([]registry.WhitelistEntry, int, error) {
	total, err := s.count(ctx, `SELECT COUNT(*) FROM whitelist_entries`)
	if err != nil {
		return nil, 0, err
	}
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx, `
		SELECT id, handle, submitter_id, activity, locale, link, rationale,
			   source_submission_id, approved_by, created_at
		FROM whitelist_entries
		ORDER BY created_at DESC, id DESC
		OFFSET $1 LIMIT $2
	`, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("query whitelist entries: %w", err)
	}
	defer rows.Close()

	var entries []registry.WhitelistEntry
	for rows.Next() {
		var e registry.WhitelistEntry
		var submitter, source, approvedBy int64
		if err := rows.Scan(&e.ID, &e.Handle, &submitter, &e.Activity, &e.Locale, &e.Link,
			&e.Rationale, &source, &approvedBy, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan whitelist entry: %w", err)
		}
		e.SubmitterID = id.SubmitterID(submitter)
		e.SourceSubmissionID = id.SubmissionID(source)
		e.ApprovedBy = id.SubmitterID(approvedBy)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate whitelist entries: %w", err)
	}
	return entries, total, nil
}

func (s *PostgresStore) Counts(ctx context.Context) (registry.Counts, error) {
	var c registry.Counts
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM whitelist_entries),
			(SELECT COUNT(*) FROM scam_entries WHERE status = 'active'),
			(SELECT COUNT(*) FROM scam_entries WHERE status = 'removed')
	`).Scan(&c.Whitelisted, &c.ActiveScams, &c.RemovedScams)
	if err != nil {
		return registry.Counts{}, fmt.Errorf("count registry entries: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) count(ctx context.Context, query string) (int, error) {
	var n int
	if err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count registry entries: %w", err)
	}
	return n, nil
}

func scanScams(rows *sql.Rows) ([]registry.ScamEntry, error) {
	var entries []registry.ScamEntry
	for rows.Next() {
		var (
			e                             registry.ScamEntry
			status                        string
			source, approvedBy, removedBy int64
			removedAt                     sql.NullTime
		)
		if err := rows.Scan(&e.ID, &e.Handle, &e.Description, &status, &source,
			&approvedBy, &e.CreatedAt, &removedAt, &removedBy); err != nil {
			return nil, fmt.Errorf("scan scam entry: %w", err)
		}
		e.Status = registry.ScamStatus(status)
		e.SourceSubmissionID = id.SubmissionID(source)
		e.ApprovedBy = id.SubmitterID(approvedBy)
		e.RemovedBy = id.SubmitterID(removedBy)
		if removedAt.Valid {
			at := removedAt.Time
			e.RemovedAt = &at
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scam entries: %w", err)
	}
	return entries, nil
}
