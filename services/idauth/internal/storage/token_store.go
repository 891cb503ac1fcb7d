package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

const tokenColumns = `token, user_id, partner_id, status, expires_at, usage_count, last_used_at, created_at, revoked_at, revocation_reason`

func scanToken(row pgx.Row) (*PartnerToken, error) {
	var t PartnerToken
	if err := row.Scan(&t.Token, &t.UserID, &t.PartnerID, &t.Status, &t.ExpiresAt, &t.UsageCount, &t.LastUsedAt, &t.CreatedAt, &t.RevokedAt, &t.RevocationReason); err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (s *Store) GetToken(ctx context.Context, token string) (*PartnerToken, error) {
	return scanToken(s.pool.QueryRow(ctx, `SELECT `+tokenColumns+` FROM partner_tokens WHERE token = $1`, token))
}

func (s *Store) GetActiveToken(ctx context.Context, userID, partnerID string) (*PartnerToken, error) {
	return scanToken(s.pool.QueryRow(ctx, `
		SELECT `+tokenColumns+`
		FROM partner_tokens
		WHERE user_id = $1 AND partner_id = $2 AND status = 'active'
	`, userID, partnerID))
}

// InsertToken reports false when another active token already exists for
// the pair.
func (s *Store) InsertToken(ctx context.Context, t PartnerToken) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO partner_tokens (token, user_id, partner_id, status, expires_at, usage_count, created_at)
		VALUES ($1, $2, $3, 'active', $4, 0, $5)
		ON CONFLICT (user_id, partner_id) WHERE status = 'active' DO NOTHING
	`, t.Token, t.UserID, t.PartnerID, t.ExpiresAt, t.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// TouchToken records a use of a live active token. ErrNotFound means the
// token is no longer live.
func (s *Store) TouchToken(ctx context.Context, token string, now time.Time) (*PartnerToken, error) {
	return scanToken(s.pool.QueryRow(ctx, `
		UPDATE partner_tokens
		SET usage_count = usage_count + 1, last_used_at = $2
		WHERE token = $1 AND status = 'active' AND expires_at > $2
		RETURNING `+tokenColumns,
		token, now))
}

func (s *Store) ExpireToken(ctx context.Context, token string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE partner_tokens
		SET status = 'expired'
		WHERE token = $1 AND status = 'active'
	`, token)
	return err
}

func (s *Store) RevokeActiveToken(ctx context.Context, userID, partnerID, reason string, now time.Time) (*PartnerToken, error) {
	return scanToken(s.pool.QueryRow(ctx, `
		UPDATE partner_tokens
		SET status = 'revoked', revoked_at = $3, revocation_reason = NULLIF($4, '')
		WHERE user_id = $1 AND partner_id = $2 AND status = 'active'
		RETURNING `+tokenColumns,
		userID, partnerID, now, reason))
}

func (s *Store) ExpireTokensBefore(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE partner_tokens
		SET status = 'expired'
		WHERE status = 'active' AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
