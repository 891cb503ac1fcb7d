package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const otpColumns = `id, user_id, code, type, contact, created_at, expires_at, attempts, verified, verified_at`

func scanOTP(row pgx.Row) (*OTPRequest, error) {
	var o OTPRequest
	if err := row.Scan(&o.ID, &o.UserID, &o.Code, &o.Type, &o.Contact, &o.CreatedAt, &o.ExpiresAt, &o.Attempts, &o.Verified, &o.VerifiedAt); err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

// CreateOTP supersedes every unverified OTP for (user, type) and inserts
// req in the same transaction, serialized per pair by an advisory lock.
func (s *Store) CreateOTP(ctx context.Context, req OTPRequest) (*OTPRequest, error) {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	var out *OTPRequest
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`,
			"otp:"+req.UserID+":"+string(req.Type)); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE otp_requests
			SET verified = true
			WHERE user_id = $1 AND type = $2 AND verified = false
		`, req.UserID, req.Type); err != nil {
			return err
		}
		created, err := scanOTP(tx.QueryRow(ctx, `
			INSERT INTO otp_requests (id, user_id, code, type, contact, created_at, expires_at, attempts, verified)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 0, false)
			RETURNING `+otpColumns,
			req.ID, req.UserID, req.Code, req.Type, req.Contact, req.CreatedAt, req.ExpiresAt))
		if err != nil {
			return err
		}
		out = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LatestActiveOTP returns the newest unverified OTP for (user, type).
func (s *Store) LatestActiveOTP(ctx context.Context, userID string, otpType OTPType) (*OTPRequest, error) {
	return scanOTP(s.pool.QueryRow(ctx, `
		SELECT `+otpColumns+`
		FROM otp_requests
		WHERE user_id = $1 AND type = $2 AND verified = false
		ORDER BY created_at DESC
		LIMIT 1
	`, userID, otpType))
}

// ConsumeOTPAttempt increments attempts only while the OTP is unverified,
// unexpired and below maxAttempts. ErrNotFound means no attempt was left.
func (s *Store) ConsumeOTPAttempt(ctx context.Context, id uuid.UUID, maxAttempts int, now time.Time) (*OTPRequest, error) {
	return scanOTP(s.pool.QueryRow(ctx, `
		UPDATE otp_requests
		SET attempts = attempts + 1
		WHERE id = $1 AND verified = false AND attempts < $2 AND expires_at > $3
		RETURNING `+otpColumns,
		id, maxAttempts, now))
}

// MarkOTPVerified reports false when the row was already verified or superseded.
func (s *Store) MarkOTPVerified(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE otp_requests
		SET verified = true, verified_at = $2
		WHERE id = $1 AND verified = false
	`, id, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteExpiredOTPs removes rows with expires_at at or before now, the same
// boundary Verify treats as expired.
func (s *Store) DeleteExpiredOTPs(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM otp_requests WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
