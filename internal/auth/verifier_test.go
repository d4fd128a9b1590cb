package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/pipeline-api/internal/config"
)

const testSecret = "test-secret-key-thats-32-characters-long"

func newTestVerifier(t *testing.T) Verifier {
	t.Helper()
	v, err := NewVerifier(config.AuthConfig{JWTSecret: testSecret})
	require.NoError(t, err)
	return v
}

func TestNewVerifier_RejectsShortSecret(t *testing.T) {
	t.Parallel()

	_, err := NewVerifier(config.AuthConfig{JWTSecret: "too-short"})
	require.Error(t, err)
}

func TestVerify_ValidToken(t *testing.T) {
	t.Parallel()

	token, err := SignToken(testSecret, Identity{
		UserID:   42,
		Username: "jsmith",
		Role:     "developer",
	}, time.Hour)
	require.NoError(t, err)

	identity, err := newTestVerifier(t).Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), identity.UserID)
	assert.Equal(t, "jsmith", identity.Username)
	assert.Equal(t, "developer", identity.Role)
}

func TestVerify_ExpiredToken(t *testing.T) {
	t.Parallel()

	// Expired well past the verifier's clock skew allowance.
	token, err := SignToken(testSecret, Identity{UserID: 42}, -time.Hour)
	require.NoError(t, err)

	_, err = newTestVerifier(t).Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerify_WrongKey(t *testing.T) {
	t.Parallel()

	token, err := SignToken("another-secret-key-32-chars-long!!", Identity{UserID: 42}, time.Hour)
	require.NoError(t, err)

	_, err = newTestVerifier(t).Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_Garbage(t *testing.T) {
	t.Parallel()

	_, err := newTestVerifier(t).Verify(context.Background(), "not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
