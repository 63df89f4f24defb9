package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gigchat/pkg/errors"
)

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("irrelevant"))
	require.NoError(t, err)
	return token
}

func TestParseTokenReadsUserAndExpiry(t *testing.T) {
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	identity, err := ParseToken(signed(t, jwt.MapClaims{"uid": "u-42", "exp": exp.Unix()}))
	require.NoError(t, err)
	assert.Equal(t, "u-42", identity.UserID)
	assert.True(t, identity.ExpiresAt.Equal(exp))
}

func TestParseTokenPrefersUserIDClaim(t *testing.T) {
	identity, err := ParseToken(signed(t, jwt.MapClaims{"user_id": "a", "sub": "b"}))
	require.NoError(t, err)
	assert.Equal(t, "a", identity.UserID)
	assert.True(t, identity.ExpiresAt.IsZero())
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	_, err := ParseToken("not-a-token")
	assert.True(t, errors.Is(err, "UNAUTHORIZED"))

	_, err = ParseToken(signed(t, jwt.MapClaims{"email": "x@y"}))
	assert.True(t, errors.Is(err, "UNAUTHORIZED"))
}

func TestResolveIdentity(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	expired := signed(t, jwt.MapClaims{"sub": "u1", "exp": now.Add(-time.Minute).Unix()})
	_, err := ResolveIdentity(expired, "", now)
	assert.True(t, errors.Is(err, "UNAUTHORIZED"))

	valid := signed(t, jwt.MapClaims{"sub": "u1", "exp": now.Add(time.Hour).Unix()})
	identity, err := ResolveIdentity(valid, "override", now)
	require.NoError(t, err)
	assert.Equal(t, "override", identity.UserID)

	identity, err = ResolveIdentity("", "dev-user", now)
	require.NoError(t, err)
	assert.Equal(t, "dev-user", identity.UserID)
}
