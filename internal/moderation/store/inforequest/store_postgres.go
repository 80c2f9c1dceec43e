package inforequest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"trustdesk/internal/moderation/models"
	id "trustdesk/pkg/domain"
	"trustdesk/pkg/platform/sentinel"
	txcontext "trustdesk/pkg/platform/tx"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const columns = `
	id, submission_kind, submission_id, target_submitter, reviewer_id, question,
	answer, answer_file_refs, status, created_at, answered_at
`

func (s *PostgresStore) Create(ctx context.Context, req *models.InfoRequest) error {
	if req.Status == "" {
		req.Status = models.InfoAwaiting
	}
	query := `
		INSERT INTO info_requests (
			submission_kind, submission_id, target_submitter, reviewer_id,
			question, status, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	var reqID int64
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, query,
		string(req.SubmissionKind),
		req.SubmissionID.Int64(),
		req.TargetSubmitter.Int64(),
		req.ReviewerID.Int64(),
		req.Question,
		string(req.Status),
		req.CreatedAt,
	).Scan(&reqID)
	if err != nil {
		return fmt.Errorf("insert info request: %w", err)
	}
	req.ID = id.InfoRequestID(reqID)
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, reqID id.InfoRequestID) (*models.InfoRequest, error) {
	req, err := scanRequest(txcontext.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+columns+` FROM info_requests WHERE id = $1`, reqID.Int64()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("info request %s: %w", reqID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get info request: %w", err)
	}
	return req, nil
}

func (s *PostgresStore) ListBySubmission(ctx context.Context, kind id.Kind, subID id.SubmissionID) ([]*models.InfoRequest, error) {
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx, `
		SELECT `+columns+`
		FROM info_requests
		WHERE submission_kind = $1 AND submission_id = $2
		ORDER BY id
	`, string(kind), subID.Int64())
	if err != nil {
		return nil, fmt.Errorf("query info requests: %w", err)
	}
	defer rows.Close()

	var out []*models.InfoRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan info request: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate info requests: %w", err)
	}
	return out, nil
}

// MarkAnswered is a compare-and-set on status = 'awaiting'.
func (s *PostgresStore) MarkAnswered(ctx context.Context, reqID id.InfoRequestID, answer string, fileRefs []string, at time.Time) (*models.InfoRequest, error) {
	if fileRefs == nil {
		fileRefs = []string{}
	}
	query := `
		UPDATE info_requests
		SET status = 'answered', answer = $2, answer_file_refs = $3, answered_at = $4
		WHERE id = $1 AND status = 'awaiting'
		RETURNING ` + columns
	req, err := scanRequest(txcontext.Exec(ctx, s.db).QueryRowContext(ctx, query, reqID.Int64(), answer, pq.Array(fileRefs), at))
	if err == nil {
		return req, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mark info request answered: %w", err)
	}
	// no row updated: missing or no longer awaiting
	if _, getErr := s.Get(ctx, reqID); getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("info request %s not awaiting: %w", reqID, sentinel.ErrInvalidState)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (*models.InfoRequest, error) {
	var (
		req                            models.InfoRequest
		reqID, subID, target, reviewer int64
		kind, status                   string
		fileRefs                       []string
		answeredAt                     sql.NullTime
	)
	err := row.Scan(
		&reqID,
		&kind,
		&subID,
		&target,
		&reviewer,
		&req.Question,
		&req.Answer,
		pq.Array(&fileRefs),
		&status,
		&req.CreatedAt,
		&answeredAt,
	)
	if err != nil {
		return nil, err
	}
	req.ID = id.InfoRequestID(reqID)
	req.SubmissionKind = id.Kind(kind)
	req.SubmissionID = id.SubmissionID(subID)
	req.TargetSubmitter = id.SubmitterID(target)
	req.ReviewerID = id.SubmitterID(reviewer)
	req.Status = models.InfoRequestStatus(status)
	req.AnswerFileRefs = fileRefs
	if answeredAt.Valid {
		at := answeredAt.Time
		req.AnsweredAt = &at
	}
	return &req, nil
}
