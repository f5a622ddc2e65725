package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/juju/clock"

	"gomarket_pricewatch/internal/core/models"
	"gomarket_pricewatch/internal/storage"
	"gomarket_pricewatch/pkg/logger"
)

const (
	DefaultTokenBuffer = 5 * time.Minute
	DefaultTokenTTL    = time.Hour
)

// TokenManager хранит учетные данные и токены источников. Одна строка на источник.
type TokenManager struct {
	store  storage.CredentialStore
	cipher Cipher
	clock  clock.Clock
	buffer time.Duration
	log    logger.Logger

	mu    sync.Mutex
	locks map[models.Source]*sync.Mutex
}

func NewTokenManager(store storage.CredentialStore, cipher Cipher, clk clock.Clock, buffer time.Duration, log logger.Logger) *TokenManager {
	if clk == nil {
		clk = clock.WallClock
	}
	if buffer <= 0 {
		buffer = DefaultTokenBuffer
	}
	if cipher == nil {
		cipher = plainCipher{}
	}
	if log == nil {
		log = logger.Discard()
	}
	return &TokenManager{
		store:  store,
		cipher: cipher,
		clock:  clk,
		buffer: buffer,
		log:    log,
		locks:  make(map[models.Source]*sync.Mutex),
	}
}

// RefreshLock serializes token refresh for one source across concurrent callers.
func (tm *TokenManager) RefreshLock(source models.Source) *sync.Mutex {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	l, ok := tm.locks[source]
	if !ok {
		l = &sync.Mutex{}
		tm.locks[source] = l
	}
	return l
}

func (tm *TokenManager) Credential(ctx context.Context, source models.Source) (*models.Credential, error) {
	cred, err := tm.store.GetCredential(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("load credential for %s: %w", source, err)
	}
	return cred, nil
}

// IsTokenValid: token present and either without expiry or expiring later than now + buffer.
func (tm *TokenManager) IsTokenValid(ctx context.Context, source models.Source) (bool, error) {
	cred, err := tm.Credential(ctx, source)
	if err != nil || cred == nil || cred.AccessToken == "" {
		return false, err
	}
	if cred.TokenExpiresAt == nil {
		return true, nil
	}
	return cred.TokenExpiresAt.After(tm.clock.Now().Add(tm.buffer)), nil
}

func (tm *TokenManager) NeedsRefresh(ctx context.Context, source models.Source) (bool, error) {
	valid, err := tm.IsTokenValid(ctx, source)
	return !valid, err
}

// AccessToken returns the stored token, or "" when it is missing or already expired.
func (tm *TokenManager) AccessToken(ctx context.Context, source models.Source) (string, error) {
	cred, err := tm.Credential(ctx, source)
	if err != nil || cred == nil {
		return "", err
	}
	if cred.TokenExpiresAt != nil && cred.TokenExpiresAt.Before(tm.clock.Now()) {
		return "", nil
	}
	return cred.AccessToken, nil
}

// StoreTokens saves a token valid for expiresIn (DefaultTokenTTL when not positive).
func (tm *TokenManager) StoreTokens(ctx context.Context, source models.Source, access, refresh string, expiresIn time.Duration) error {
	if expiresIn <= 0 {
		expiresIn = DefaultTokenTTL
	}
	expiresAt := tm.clock.Now().Add(expiresIn)
	return tm.StoreTokensUntil(ctx, source, access, refresh, &expiresAt)
}

// StoreTokensUntil saves a token with an absolute expiry; nil means it never expires.
func (tm *TokenManager) StoreTokensUntil(ctx context.Context, source models.Source, access, refresh string, expiresAt *time.Time) error {
	cred, err := tm.credentialOrNew(ctx, source)
	if err != nil {
		return err
	}
	now := tm.clock.Now()
	cred.AccessToken = access
	cred.RefreshToken = refresh
	cred.TokenExpiresAt = expiresAt
	cred.LastLoginAt = &now
	if err := tm.store.SaveCredential(ctx, cred); err != nil {
		return fmt.Errorf("store tokens for %s: %w", source, err)
	}
	return nil
}

// InvalidateToken drops the cached token so the next run logs in again.
func (tm *TokenManager) InvalidateToken(ctx context.Context, source models.Source) error {
	cred, err := tm.Credential(ctx, source)
	if err != nil || cred == nil {
		return err
	}
	cred.AccessToken = ""
	cred.TokenExpiresAt = nil
	if err := tm.store.SaveCredential(ctx, cred); err != nil {
		return fmt.Errorf("invalidate token for %s: %w", source, err)
	}
	tm.log.Log("token for %s invalidated", source)
	return nil
}

// StoreCredential upserts login data, encrypting the password.
func (tm *TokenManager) StoreCredential(ctx context.Context, source models.Source, username, password, deviceID string) error {
	encrypted, err := tm.cipher.Encrypt(password)
	if err != nil {
		return fmt.Errorf("encrypt password for %s: %w", source, err)
	}
	cred, err := tm.credentialOrNew(ctx, source)
	if err != nil {
		return err
	}
	cred.Username = username
	cred.PasswordEncrypted = encrypted
	cred.IsActive = true
	if deviceID != "" {
		cred.DeviceID = deviceID
	}
	if err := tm.store.SaveCredential(ctx, cred); err != nil {
		return fmt.Errorf("store credential for %s: %w", source, err)
	}
	return nil
}

// Password decrypts the stored secret. The plaintext is never cached.
func (tm *TokenManager) Password(ctx context.Context, source models.Source) (string, error) {
	cred, err := tm.Credential(ctx, source)
	if err != nil {
		return "", err
	}
	if cred == nil || cred.PasswordEncrypted == "" {
		return "", nil
	}
	return tm.cipher.Decrypt(cred.PasswordEncrypted)
}

// SetDeviceID pins the fingerprint device id to the credential.
func (tm *TokenManager) SetDeviceID(ctx context.Context, source models.Source, deviceID string) error {
	cred, err := tm.credentialOrNew(ctx, source)
	if err != nil {
		return err
	}
	if cred.DeviceID == deviceID {
		return nil
	}
	cred.DeviceID = deviceID
	return tm.store.SaveCredential(ctx, cred)
}

func (tm *TokenManager) credentialOrNew(ctx context.Context, source models.Source) (*models.Credential, error) {
	cred, err := tm.Credential(ctx, source)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		cred = &models.Credential{Source: source, IsActive: true}
	}
	return cred, nil
}

// TokenExpiry reads the exp claim of a JWT without verifying its signature.
// It returns nil when the token is not a JWT or carries no expiry.
func TokenExpiry(token string) *time.Time {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil
	}
	if claims.ExpiresAt == nil {
		return nil
	}
	exp := claims.ExpiresAt.Time
	return &exp
}
