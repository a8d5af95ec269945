package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	m := NewJWTManager("secret", 1, 1)
	tok, err := m.GenerateToken(42, "")
	require.NoError(t, err)

	claims, err := m.VerifyToken(tok)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, RoleUser, claims.Role)
}

func TestReferralCodeIsNotAnAccessToken(t *testing.T) {
	m := NewJWTManager("secret", 1, 1)
	code, err := m.GenerateReferralCode(7)
	require.NoError(t, err)

	id, err := m.ParseReferralCode(code)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)

	_, err = m.VerifyToken(code)
	assert.ErrorIs(t, err, ErrInvalidToken)

	tok, err := m.GenerateToken(7, RoleAdmin)
	require.NoError(t, err)
	_, err = m.ParseReferralCode(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestWrongSecretRejected(t *testing.T) {
	tok, err := NewJWTManager("a", 1, 1).GenerateToken(1, RoleUser)
	require.NoError(t, err)
	_, err = NewJWTManager("b", 1, 1).VerifyToken(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
