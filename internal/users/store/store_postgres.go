package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"trustdesk/internal/users"
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

func (s *PostgresStore) Touch(ctx context.Context, user users.User) error {
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO bot_users (user_id, handle, first_seen, last_seen)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET handle = EXCLUDED.handle, last_seen = EXCLUDED.last_seen
	`, user.ID.Int64(), user.Handle, user.FirstSeen, user.LastSeen)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, userID id.SubmitterID) (*users.User, error) {
	var (
		u   users.User
		raw int64
	)
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, `
		SELECT user_id, handle, first_seen, last_seen
		FROM bot_users
		WHERE user_id = $1
	`, userID.Int64()).Scan(&raw, &u.Handle, &u.FirstSeen, &u.LastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", userID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	u.ID = id.SubmitterID(raw)
	return &u, nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM bot_users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}
