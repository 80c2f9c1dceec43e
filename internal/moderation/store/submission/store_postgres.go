package submission

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"trustdesk/internal/moderation/models"
	id "trustdesk/pkg/domain"
	"trustdesk/pkg/platform/sentinel"
	txcontext "trustdesk/pkg/platform/tx"
)

// PostgresStore persists submissions. Calls made inside a moderation unit use
// the unit's transaction.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const columns = `
	id, kind, submitter_id, submitter_handle, details, evidence, file_refs,
	status, reviewer_notes, decided_by, decided_at, created_at, finalize_key
`

func (s *PostgresStore) Create(ctx context.Context, sub *models.Submission) (*models.Submission, bool, error) {
	details, err := models.EncodeDetails(sub.Details)
	if err != nil {
		return nil, false, err
	}
	query := `
		INSERT INTO submissions (
			kind, submitter_id, submitter_handle, details, evidence, file_refs,
			status, created_at, finalize_key
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (finalize_key) DO NOTHING
		RETURNING ` + columns
	created, err := scanSubmission(txcontext.Exec(ctx, s.db).QueryRowContext(ctx, query,
		string(sub.Kind),
		sub.Submitter.ID.Int64(),
		sub.Submitter.Handle,
		details,
		sub.Evidence,
		pq.Array(nonNil(sub.FileRefs)),
		string(models.StatusPending),
		sub.CreatedAt,
		sub.FinalizeKey,
	))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("insert submission: %w", err)
	}

	existing, err := scanSubmission(txcontext.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+columns+` FROM submissions WHERE finalize_key = $1`, sub.FinalizeKey))
	if err != nil {
		return nil, false, fmt.Errorf("load submission by finalize key: %w", err)
	}
	return existing, false, nil
}

func (s *PostgresStore) Get(ctx context.Context, kind id.Kind, subID id.SubmissionID) (*models.Submission, error) {
	return s.get(ctx, kind, subID, "")
}

// GetForUpdate locks the row until the surrounding transaction ends.
func (s *PostgresStore) GetForUpdate(ctx context.Context, kind id.Kind, subID id.SubmissionID) (*models.Submission, error) {
	return s.get(ctx, kind, subID, " FOR UPDATE")
}

func (s *PostgresStore) get(ctx context.Context, kind id.Kind, subID id.SubmissionID, lock string) (*models.Submission, error) {
	query := `SELECT ` + columns + ` FROM submissions WHERE id = $1 AND kind = $2` + lock
	sub, err := scanSubmission(txcontext.Exec(ctx, s.db).QueryRowContext(ctx, query, subID.Int64(), string(kind)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("submission %s: %w", models.Target(kind, subID), sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}
	return sub, nil
}

// UpdateDecision is a compare-and-set on status = 'pending'.
func (s *PostgresStore) UpdateDecision(ctx context.Context, sub *models.Submission) error {
	query := `
		UPDATE submissions
		SET status = $3, reviewer_notes = $4, decided_by = $5, decided_at = $6
		WHERE id = $1 AND kind = $2 AND status = 'pending'
	`
	result, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, query,
		sub.ID.Int64(),
		string(sub.Kind),
		string(sub.Status),
		sub.ReviewerNotes,
		sub.DecidedBy.Int64(),
		sub.DecidedAt,
	)
	if err != nil {
		return fmt.Errorf("update submission decision: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update submission decision rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("submission %s not pending: %w", sub.Target(), sentinel.ErrInvalidState)
	}
	return nil
}

func (s *PostgresStore) ListPending(ctx context.Context, kind id.Kind) ([]*models.Submission, error) {
	query := `
		SELECT ` + columns + `
		FROM submissions
		WHERE status = 'pending' AND ($1 = '' OR kind = $1)
		ORDER BY created_at, id
	`
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx, query, string(kind))
	if err != nil {
		return nil, fmt.Errorf("query pending submissions: %w", err)
	}
	defer rows.Close()

	var out []*models.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending submissions: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) CountPending(ctx context.Context) (map[id.Kind]int, error) {
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx,
		`SELECT kind, COUNT(*) FROM submissions WHERE status = 'pending' GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("count pending submissions: %w", err)
	}
	defer rows.Close()

	counts := make(map[id.Kind]int, len(id.Kinds))
	for _, k := range id.Kinds {
		counts[k] = 0
	}
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan pending count: %w", err)
		}
		counts[id.Kind(kind)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending counts: %w", err)
	}
	return counts, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row scanner) (*models.Submission, error) {
	var (
		sub                         models.Submission
		subID, submitter, decidedBy int64
		kind, status                string
		details                     []byte
		fileRefs                    []string
		decidedAt                   sql.NullTime
	)
	err := row.Scan(
		&subID,
		&kind,
		&submitter,
		&sub.Submitter.Handle,
		&details,
		&sub.Evidence,
		pq.Array(&fileRefs),
		&status,
		&sub.ReviewerNotes,
		&decidedBy,
		&decidedAt,
		&sub.CreatedAt,
		&sub.FinalizeKey,
	)
	if err != nil {
		return nil, err
	}
	sub.ID = id.SubmissionID(subID)
	sub.Kind = id.Kind(kind)
	sub.Submitter.ID = id.SubmitterID(submitter)
	sub.Status = models.Status(status)
	sub.FileRefs = fileRefs
	sub.DecidedBy = id.SubmitterID(decidedBy)
	if decidedAt.Valid {
		at := decidedAt.Time
		sub.DecidedAt = &at
	}
	sub.Details, err = models.DecodeDetails(sub.Kind, details)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func nonNil(refs []string) []string {
	if refs == nil {
		return []string{}
	}
	return refs
}
