package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/habedi/sessync/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestInspectToken(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signedToken(t, jwt.MapClaims{
		"sub":         "user-42",
		"exp":         exp.Unix(),
		"iat":         time.Now().Unix(),
		"permissions": []string{"listing:read", "order:write"},
	})

	info, err := auth.InspectToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", info.Subject)
	assert.True(t, info.ExpiresAt.Equal(exp))
	assert.Equal(t, []string{"listing:read", "order:write"}, info.Permissions)
	assert.False(t, info.Expired(time.Now()))
}

func TestInspectToken_ExpiredIsStillDecoded(t *testing.T) {
	token := signedToken(t, jwt.MapClaims{"sub": "u", "exp": time.Now().Add(-time.Minute).Unix()})

	info, err := auth.InspectToken(token)
	require.NoError(t, err)
	assert.True(t, info.Expired(time.Now()))
}

func TestInspectToken_Opaque(t *testing.T) {
	_, err := auth.InspectToken("opaque-access-token")
	assert.ErrorIs(t, err, auth.ErrNotJWT)
}
