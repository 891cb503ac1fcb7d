package storage

import (
	"context"

	"github.com/google/uuid"
)

func (s *Store) InsertAuthLog(ctx context.Context, log AuthLog) (*AuthLog, error) {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO auth_logs (id, user_id, auth_type, auth_status, partner_id, failure_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, log.ID, log.UserID, log.AuthType, log.Status, log.PartnerID, log.FailureReason, log.CreatedAt).Scan(&log.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// ListAuthLogs returns the newest entries for a user first.
func (s *Store) ListAuthLogs(ctx context.Context, userID string, limit int) ([]AuthLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, auth_type, auth_status, partner_id, failure_reason, created_at
		FROM auth_logs
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuthLog
	for rows.Next() {
		var l AuthLog
		if err := rows.Scan(&l.ID, &l.UserID, &l.AuthType, &l.Status, &l.PartnerID, &l.FailureReason, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
