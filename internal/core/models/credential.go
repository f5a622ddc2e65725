package models

import "time"

// Credential - одна строка на источник. Пароль хранится только в зашифрованном виде.
type Credential struct {
	ID                int64             `db:"id" json:"id"`
	Source            Source            `db:"source_app" json:"source_app"`
	Username          string            `db:"username" json:"username"`
	PasswordEncrypted string            `db:"password_encrypted" json:"-"`
	AccessToken       string            `db:"access_token" json:"-"`
	RefreshToken      string            `db:"refresh_token" json:"-"`
	TokenExpiresAt    *time.Time        `db:"token_expires_at" json:"token_expires_at,omitempty"`
	DeviceID          string            `db:"device_id" json:"device_id,omitempty"`
	AdditionalHeaders map[string]string `db:"additional_headers" json:"additional_headers,omitempty"`
	IsActive          bool              `db:"is_active" json:"is_active"`
	LastLoginAt       *time.Time        `db:"last_login_at" json:"last_login_at,omitempty"`
	UpdatedAt         time.Time         `db:"updated_at" json:"updated_at"`
}
