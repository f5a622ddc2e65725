package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"gomarket_pricewatch/internal/core/models"
)

func (s *Store) GetCredential(ctx context.Context, source models.Source) (*models.Credential, error) {
	query := `
		SELECT id, source, COALESCE(username, ''), COALESCE(password_encrypted, ''), COALESCE(access_token, ''),
			COALESCE(refresh_token, ''), token_expires_at, COALESCE(device_id, ''), additional_headers,
			is_active, last_login_at, updated_at
		FROM pricewatch.credentials WHERE source = $1
	`
	var c models.Credential
	var headers []byte
	err := s.db.QueryRowContext(ctx, query, source).Scan(&c.ID, &c.Source, &c.Username, &c.PasswordEncrypted,
		&c.AccessToken, &c.RefreshToken, &c.TokenExpiresAt, &c.DeviceID, &headers, &c.IsActive, &c.LastLoginAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get credential for %s: %w", source, err)
	}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &c.AdditionalHeaders); err != nil {
			return nil, fmt.Errorf("decode headers of %s credential: %w", source, err)
		}
	}
	return &c, nil
}

func (s *Store) SaveCredential(ctx context.Context, c *models.Credential) error {
	var headers any
	if len(c.AdditionalHeaders) > 0 {
		var err error
		if headers, err = marshalNullJSON(c.AdditionalHeaders); err != nil {
			return fmt.Errorf("encode headers of %s credential: %w", c.Source, err)
		}
	}
	query := `
		INSERT INTO pricewatch.credentials (source, username, password_encrypted, access_token, refresh_token,
			token_expires_at, device_id, additional_headers, is_active, last_login_at)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6, NULLIF($7, ''), $8::jsonb, $9, $10)
		ON CONFLICT (source) DO UPDATE SET
			username = EXCLUDED.username,
			password_encrypted = EXCLUDED.password_encrypted,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_expires_at = EXCLUDED.token_expires_at,
			device_id = EXCLUDED.device_id,
			additional_headers = EXCLUDED.additional_headers,
			is_active = EXCLUDED.is_active,
			last_login_at = EXCLUDED.last_login_at,
			updated_at = NOW()
	`
	_, err := s.db.ExecContext(ctx, query, c.Source, c.Username, c.PasswordEncrypted, c.AccessToken, c.RefreshToken,
		c.TokenExpiresAt, c.DeviceID, headers, c.IsActive, c.LastLoginAt)
	if err != nil {
		return fmt.Errorf("failed to save credential for %s: %w", c.Source, err)
	}
	return nil
}
