package storage

import (
	"context"
	"fmt"
)

func (s *Store) GetDemographic(ctx context.Context, userID string) (*DemographicRecord, error) {
	var r DemographicRecord
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, first_name, last_name, date_of_birth, COALESCE(phone, ''), COALESCE(email, '')
		FROM demographic_records
		WHERE user_id = $1
	`, userID).Scan(&r.UserID, &r.FirstName, &r.LastName, &r.DateOfBirth, &r.Phone, &r.Email)
	if err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (s *Store) UpsertDemographic(ctx context.Context, r DemographicRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO demographic_records (user_id, first_name, last_name, date_of_birth, phone, email)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''))
		ON CONFLICT (user_id) DO UPDATE
		SET first_name = EXCLUDED.first_name, last_name = EXCLUDED.last_name,
			date_of_birth = EXCLUDED.date_of_birth, phone = EXCLUDED.phone, email = EXCLUDED.email
	`, r.UserID, r.FirstName, r.LastName, r.DateOfBirth, r.Phone, r.Email)
	return err
}

const partnerColumns = `id, name, status, api_key_prefix, api_key_hash, allowed_ips, created_at`

func (s *Store) ListPartners(ctx context.Context) ([]Partner, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+partnerColumns+` FROM partners ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Partner
	for rows.Next() {
		var p Partner
		if err := rows.Scan(&p.ID, &p.Name, &p.Status, &p.APIKeyPrefix, &p.APIKeyHash, &p.AllowedIPs, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) GetPartner(ctx context.Context, id string) (*Partner, error) {
	var p Partner
	err := s.pool.QueryRow(ctx, `SELECT `+partnerColumns+` FROM partners WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Status, &p.APIKeyPrefix, &p.APIKeyHash, &p.AllowedIPs, &p.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *Store) UpsertPartner(ctx context.Context, p Partner) error {
	if p.AllowedIPs == nil {
		p.AllowedIPs = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO partners (id, name, status, api_key_prefix, api_key_hash, allowed_ips, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, status = EXCLUDED.status, api_key_prefix = EXCLUDED.api_key_prefix,
			api_key_hash = EXCLUDED.api_key_hash, allowed_ips = EXCLUDED.allowed_ips
	`, p.ID, p.Name, p.Status, p.APIKeyPrefix, p.APIKeyHash, p.AllowedIPs)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("api key prefix already in use: %w", err)
		}
		return err
	}
	return nil
}

func (s *Store) GetPartnerByKeyPrefix(ctx context.Context, prefix string) (*Partner, error) {
	var p Partner
	err := s.pool.QueryRow(ctx, `SELECT `+partnerColumns+` FROM partners WHERE api_key_prefix = $1`, prefix).
		Scan(&p.ID, &p.Name, &p.Status, &p.APIKeyPrefix, &p.APIKeyHash, &p.AllowedIPs, &p.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}
