package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"fleet-monitor/gps-poller/internal/domain"
)

// The vendor session is a single shared row.
const sessionRowID = 1

func (s *PostgresStore) LoadSession(ctx context.Context) (*domain.Session, error) {
	var sess domain.Session
	err := s.db.QueryRow(ctx, `
		SELECT token, username, server_id, issued_at, expires_at
		FROM gps51_sessions WHERE id = $1`, sessionRowID,
	).Scan(&sess.Token, &sess.Username, &sess.ServerID, &sess.IssuedAt, &sess.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return &sess, nil
}

func (s *PostgresStore) SaveSession(ctx context.Context, sess domain.Session) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO gps51_sessions (id, token, username, server_id, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			token = EXCLUDED.token,
			username = EXCLUDED.username,
			server_id = EXCLUDED.server_id,
			issued_at = EXCLUDED.issued_at,
			expires_at = EXCLUDED.expires_at`,
		sessionRowID, sess.Token, sess.Username, sess.ServerID, sess.IssuedAt, sess.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteSession(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM gps51_sessions WHERE id = $1`, sessionRowID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
