package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManagerRequiresSecret(t *testing.T) {
	_, err := NewManager("")
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestIssueAndValidate(t *testing.T) {
	m, err := NewManager("test-secret")
	require.NoError(t, err)

	token, exp, err := m.Issue("ops@example.com", ScopeInternal, time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, time.Minute)

	claims, err := m.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", claims.Subject)
	assert.Equal(t, ScopeInternal, claims.Scope)
	assert.Equal(t, "threatveil", claims.Issuer)
}

func TestIssueTTLClamped(t *testing.T) {
	m, err := NewManager("test-secret")
	require.NoError(t, err)

	_, exp, err := m.Issue("ops", ScopeInternal, 0)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(DefaultTTL), exp, time.Minute)

	_, exp, err = m.Issue("ops", ScopeInternal, 365*24*time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(DefaultTTL), exp, time.Minute)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	m, err := NewManager("secret-a")
	require.NoError(t, err)
	other, err := NewManager("secret-b")
	require.NoError(t, err)

	token, _, err := m.Issue("ops", ScopeInternal, time.Hour)
	require.NoError(t, err)

	_, err = other.Validate(token)
	assert.Error(t, err)
}

func TestValidateRejectsExpired(t *testing.T) {
	m, err := NewManager("test-secret")
	require.NoError(t, err)

	now := time.Now().UTC().Add(-2 * time.Hour)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops",
			Issuer:    "threatveil",
			Audience:  jwt.ClaimStrings{"threatveil"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Scope: ScopeInternal,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = m.Validate(signed)
	assert.Error(t, err)
}

func TestValidateRejectsForeignAlgorithm(t *testing.T) {
	m, err := NewManager("test-secret")
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  "ops",
			Issuer:   "threatveil",
			Audience: jwt.ClaimStrings{"threatveil"},
		},
		Scope: ScopeInternal,
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = m.Validate(unsigned)
	assert.Error(t, err)
}

func TestValidateInternalScope(t *testing.T) {
	m, err := NewManager("test-secret")
	require.NoError(t, err)

	token, _, err := m.Issue("reader", "readonly", time.Hour)
	require.NoError(t, err)
	_, err = m.ValidateInternal(token)
	assert.ErrorContains(t, err, "lacks internal access")

	token, _, err = m.Issue("ops", ScopeInternal, time.Hour)
	require.NoError(t, err)
	claims, err := m.ValidateInternal(token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
}
