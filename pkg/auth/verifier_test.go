package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/config"
)

const testSecret = "test-signing-secret"

func signedToken(t *testing.T, secret, subject string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestVerify(t *testing.T) {
	v, err := New(config.AuthConfig{JWTSecret: testSecret})
	require.NoError(t, err)

	t.Run("valid token", func(t *testing.T) {
		user, err := v.Verify(signedToken(t, testSecret, "user-42"))
		require.NoError(t, err)
		assert.Equal(t, "user-42", user)
	})

	t.Run("empty token is anonymous", func(t *testing.T) {
		user, err := v.Verify("")
		require.NoError(t, err)
		assert.Empty(t, user)
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, err := v.Verify(signedToken(t, "other-secret", "user-42"))
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := v.Verify("not.a.jwt")
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("expired token", func(t *testing.T) {
		claims := jwt.RegisteredClaims{
			Subject:   "user-42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)
		_, err = v.Verify(token)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("missing subject", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}).SignedString([]byte(testSecret))
		require.NoError(t, err)
		_, err = v.Verify(token)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})
}

func TestVerifyHeader(t *testing.T) {
	v, err := New(config.AuthConfig{JWTSecret: testSecret})
	require.NoError(t, err)
	token := signedToken(t, testSecret, "user-7")

	user, err := v.VerifyHeader("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "user-7", user)

	user, err = v.VerifyHeader(token)
	require.NoError(t, err)
	assert.Equal(t, "user-7", user)
}

func TestMockMode(t *testing.T) {
	v, err := New(config.AuthConfig{MockMode: true})
	require.NoError(t, err)

	user, err := v.Verify("anything")
	require.NoError(t, err)
	assert.Equal(t, "dev-user", user)

	user, err = v.Verify("")
	require.NoError(t, err)
	assert.Empty(t, user)
}

func TestNewRequiresSecret(t *testing.T) {
	_, err := New(config.AuthConfig{})
	assert.Error(t, err)
}
