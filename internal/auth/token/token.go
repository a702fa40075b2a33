// Package token mints and validates the daemon's two token kinds: stateless
// JWT access tokens and stateful refresh tokens whose JTI is tracked in the
// store for revocation. The HMAC signing key is generated once, wrapped
// under the vault master key, and persisted in the internal_secrets table
// under the key "jwt-secret" so every daemon process derives the same key.
package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/chirino/vaulthalla/internal/crypto"
	"github.com/chirino/vaulthalla/internal/model"
	"github.com/chirino/vaulthalla/internal/registry/store"
)

// SigningKeySecretName is the internal_secrets key under which the JWT
// HMAC signing key is stored, wrapped under the master key. Exported so a
// master-key rewrap orchestrator can find and re-wrap it without this
// package's involvement.
const SigningKeySecretName = "jwt-secret"

// Claims is the access-token payload. SessionUUID binds the token back to
// the in-memory session.Manager table; UserID and RoleID record the user
// and process-wide role the token was minted for.
type Claims struct {
	jwt.RegisteredClaims
	UserID      uuid.UUID `json:"uid"`
	SessionUUID uuid.UUID `json:"sid"`
	RoleID      uuid.UUID `json:"rid"`
}

// Manager mints and validates tokens for one daemon process.
type Manager struct {
	store     store.Store
	masterKey []byte
	issuer    string
	accessTTL time.Duration
	refresh   time.Duration

	mu         sync.RWMutex
	signingKey []byte
}

// NewManager constructs a Manager. Call LoadOrCreateSigningKey before minting
// or validating anything.
func NewManager(st store.Store, masterKey []byte, issuer string, accessTTL, refreshTTL time.Duration) *Manager {
	return &Manager{store: st, masterKey: masterKey, issuer: issuer, accessTTL: accessTTL, refresh: refreshTTL}
}

// LoadOrCreateSigningKey loads the wrapped signing key from the store,
// unwrapping it under the master key, or generates and persists a fresh one
// if none exists yet.
func (m *Manager) LoadOrCreateSigningKey(ctx context.Context) error {
	secret, err := m.store.GetInternalSecret(ctx, SigningKeySecretName)
	if err == nil {
		key, err := crypto.Open(m.masterKey, secret.IV, secret.WrappedData)
		if err != nil {
			return fmt.Errorf("token: unwrapping signing key: %w", err)
		}
		m.mu.Lock()
		m.signingKey = key
		m.mu.Unlock()
		return nil
	}
	if _, ok := err.(*store.NotFoundError); !ok {
		return fmt.Errorf("token: loading signing key: %w", err)
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("token: generating signing key: %w", err)
	}
	iv, wrapped, err := crypto.Seal(m.masterKey, key)
	if err != nil {
		return fmt.Errorf("token: wrapping signing key: %w", err)
	}
	if err := m.store.PutInternalSecret(ctx, &model.InternalSecret{
		Key:         SigningKeySecretName,
		WrappedData: wrapped,
		IV:          iv,
	}); err != nil {
		return fmt.Errorf("token: persisting signing key: %w", err)
	}
	m.mu.Lock()
	m.signingKey = key
	m.mu.Unlock()
	return nil
}

func (m *Manager) key() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.signingKey
}

// MintAccessToken returns a signed, short-lived JWT bound to sessionUUID.
func (m *Manager) MintAccessToken(user *model.User, sessionUUID uuid.UUID) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTTL)),
			ID:        uuid.New().String(),
		},
		UserID:      user.ID,
		SessionUUID: sessionUUID,
		RoleID:      user.RoleID,
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(m.key())
}

// ParseAccessToken verifies signature and expiry and returns the claims.
func (m *Manager) ParseAccessToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.key(), nil
	}, jwt.WithIssuer(m.issuer))
	if err != nil {
		return nil, fmt.Errorf("token: invalid access token: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("token: invalid access token")
	}
	return claims, nil
}

// RefreshResult bundles a minted refresh token's wire form and its store
// record, which the caller persists via store.CreateRefreshToken or
// store.RotateRefreshToken.
type RefreshResult struct {
	Token  string
	Record *model.RefreshTokenRecord
}

// MintRefreshToken issues a new refresh JWT for userID, bound to a fresh
// JTI. The returned Record's HashedToken is a SHA-256 hash of the signed
// token, so the raw token is never stored at rest.
func (m *Manager) MintRefreshToken(userID uuid.UUID, ip, userAgent string) (*RefreshResult, error) {
	jti := uuid.New()
	now := time.Now()
	expiresAt := now.Add(m.refresh)
	claims := jwt.RegisteredClaims{
		Issuer:    m.issuer,
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		ID:        jti.String(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(m.key())
	if err != nil {
		return nil, fmt.Errorf("token: signing refresh token: %w", err)
	}
	return &RefreshResult{
		Token: signed,
		Record: &model.RefreshTokenRecord{
			JTI:         jti,
			UserID:      userID,
			HashedToken: HashRefreshToken(signed),
			IP:          ip,
			UserAgent:   userAgent,
			IssuedAt:    now,
			ExpiresAt:   expiresAt,
		},
	}, nil
}

// HashRefreshToken returns the hex SHA-256 digest of a signed refresh
// token, for comparison against RefreshTokenRecord.HashedToken. A refresh
// token carries 256 bits of HMAC-backed entropy already, so a fast hash
// (not Argon2id) is appropriate here: unlike a user password, it is never
// chosen by or memorable to a human, so offline brute force is infeasible.
func HashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ParseRefreshTokenUnverified extracts the JTI from a refresh token without
// checking the signature, so the caller can look up the stored record (and
// its hash) by JTI. The signature is checked separately, by
// VerifyRefreshSignature.
func ParseRefreshTokenUnverified(tokenString string) (jti uuid.UUID, err error) {
	claims := jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, &claims); err != nil {
		return uuid.Nil, fmt.Errorf("token: parsing refresh token: %w", err)
	}
	id, err := uuid.Parse(claims.ID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("token: refresh token missing jti: %w", err)
	}
	return id, nil
}

// VerifyRefreshSignature checks the refresh token's signature and expiry
// claims, independent of the store-side revocation check.
func (m *Manager) VerifyRefreshSignature(tokenString string) error {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.key(), nil
	}, jwt.WithIssuer(m.issuer))
	if err != nil {
		return fmt.Errorf("token: invalid refresh token: %w", err)
	}
	return nil
}
