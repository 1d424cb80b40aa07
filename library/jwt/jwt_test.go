package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestSignAndParse(t *testing.T) {
	j, err := New([]byte("test-secret"))
	require.NoError(t, err)

	signed, err := j.Sign(&UserClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		UserID:  "user-1",
		IsAdmin: true,
	})
	require.NoError(t, err)

	claims, err := j.Parse("Bearer " + signed)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserID)
	require.True(t, claims.IsAdmin)
}

func TestParseFallsBackToSubject(t *testing.T) {
	j, err := New([]byte("test-secret"))
	require.NoError(t, err)

	signed, err := j.Sign(&UserClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-2"},
	})
	require.NoError(t, err)

	claims, err := j.Parse(signed)
	require.NoError(t, err)
	require.Equal(t, "user-2", claims.UserID)
}

func TestParseRejects(t *testing.T) {
	j, err := New([]byte("test-secret"))
	require.NoError(t, err)
	other, err := New([]byte("other-secret"))
	require.NoError(t, err)

	expired, err := j.Sign(&UserClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
		UserID: "user-1",
	})
	require.NoError(t, err)
	_, err = j.Parse(expired)
	require.Error(t, err)

	foreign, err := other.Sign(&UserClaims{UserID: "user-1"})
	require.NoError(t, err)
	_, err = j.Parse(foreign)
	require.Error(t, err)

	anonymous, err := j.Sign(&UserClaims{})
	require.NoError(t, err)
	_, err = j.Parse(anonymous)
	require.Error(t, err)

	_, err = j.Parse("  ")
	require.Error(t, err)

	_, err = New(nil)
	require.Error(t, err)
}

func TestStripBearerPrefix(t *testing.T) {
	require.Equal(t, "abc", StripBearerPrefix("Bearer abc"))
	require.Equal(t, "abc", StripBearerPrefix("bearer   abc "))
	require.Equal(t, "abc", StripBearerPrefix("abc"))
	require.Equal(t, "", StripBearerPrefix("Bearer "))
}
