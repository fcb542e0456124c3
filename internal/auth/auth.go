// Package auth issues and validates the HS256 tokens that guard the internal
// API surface. Public scan endpoints are unauthenticated; only operator
// endpoints (rescan, scheduler control) require a token.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "threatveil"

// DefaultTTL is the token lifetime when the caller does not specify one.
const DefaultTTL = 24 * time.Hour

// MaxTTL caps requested token lifetimes.
const MaxTTL = 30 * 24 * time.Hour

// ErrNoSecret is returned when the manager is constructed without a secret.
var ErrNoSecret = errors.New("auth: JWT secret not configured")

// Claims carries the token subject and its allowed scope.
type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"` // "internal" for operator tokens
}

// ScopeInternal marks tokens allowed to call operator endpoints.
const ScopeInternal = "internal"

// Manager signs and validates tokens with a shared HS256 secret.
type Manager struct {
	secret []byte
}

// NewManager creates a token manager. The secret must be non-empty.
func NewManager(secret string) (*Manager, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	return &Manager{secret: []byte(secret)}, nil
}

// Issue mints a token for subject with the given scope. A non-positive or
// excessive ttl falls back to the default.
func (m *Manager) Issue(subject, scope string, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 || ttl > MaxTTL {
		ttl = DefaultTTL
	}
	now := time.Now().UTC()
	exp := now.Add(ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{issuer},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.New().String(),
		},
		Scope: scope,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, exp, nil
}

// Validate parses a token and returns its claims.
func (m *Manager) Validate(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return m.secret, nil
		},
		jwt.WithAudience(issuer),
		jwt.WithIssuer(issuer),
	)
	if err != nil {
		return nil, fmt.Errorf("auth: validate token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("auth: invalid token claims")
	}
	return claims, nil
}

// ValidateInternal validates a token and requires the internal scope.
func (m *Manager) ValidateInternal(tokenStr string) (*Claims, error) {
	claims, err := m.Validate(tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.Scope != ScopeInternal {
		return nil, fmt.Errorf("auth: scope %q lacks internal access", claims.Scope)
	}
	return claims, nil
}
