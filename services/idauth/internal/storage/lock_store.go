package storage

import (
	"context"
	"time"
)

// GetLock returns ErrNotFound when no lock row exists, which callers treat
// as unlocked.
func (s *Store) GetLock(ctx context.Context, userID string, authType AuthType, modality Modality) (*AuthLock, error) {
	var l AuthLock
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, auth_type, biometric_modality, is_locked, locked_at, unlocked_at
		FROM auth_locks
		WHERE user_id = $1 AND auth_type = $2 AND biometric_modality = $3
	`, userID, authType, modality).Scan(&l.UserID, &l.AuthType, &l.Modality, &l.IsLocked, &l.LockedAt, &l.UnlockedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &l, nil
}

func (s *Store) SetLock(ctx context.Context, userID string, authType AuthType, modality Modality, locked bool, now time.Time) (*AuthLock, error) {
	var l AuthLock
	err := s.pool.QueryRow(ctx, `
		INSERT INTO auth_locks (user_id, auth_type, biometric_modality, is_locked, locked_at, unlocked_at)
		VALUES ($1, $2, $3, $4,
			CASE WHEN $4 THEN $5::timestamptz END,
			CASE WHEN $4 THEN NULL ELSE $5::timestamptz END)
		ON CONFLICT (user_id, auth_type, biometric_modality) DO UPDATE
		SET is_locked = EXCLUDED.is_locked,
			locked_at = CASE WHEN EXCLUDED.is_locked THEN $5::timestamptz ELSE auth_locks.locked_at END,
			unlocked_at = CASE WHEN EXCLUDED.is_locked THEN auth_locks.unlocked_at ELSE $5::timestamptz END
		RETURNING user_id, auth_type, biometric_modality, is_locked, locked_at, unlocked_at
	`, userID, authType, modality, locked, now).Scan(&l.UserID, &l.AuthType, &l.Modality, &l.IsLocked, &l.LockedAt, &l.UnlockedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}
