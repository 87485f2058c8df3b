package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParseJWT(t *testing.T) {
	t.Run("Round trip", func(t *testing.T) {
		token, err := GenerateJWT("secret", 7, "ADMIN", "admin@example.com", time.Hour)
		require.NoError(t, err)

		claims, err := ParseJWT("secret", token)
		require.NoError(t, err)
		assert.Equal(t, uint(7), claims.UserID)
		assert.Equal(t, "ADMIN", claims.Role)
		assert.Equal(t, "admin@example.com", claims.Email)
	})

	t.Run("Wrong secret", func(t *testing.T) {
		token, err := GenerateJWT("secret", 7, "USER", "u@example.com", time.Hour)
		require.NoError(t, err)

		_, err = ParseJWT("other", token)
		assert.Error(t, err)
	})

	t.Run("Expired", func(t *testing.T) {
		token, err := GenerateJWT("secret", 7, "USER", "u@example.com", -time.Minute)
		require.NoError(t, err)

		_, err = ParseJWT("secret", token)
		assert.Error(t, err)
	})

	t.Run("Missing secret", func(t *testing.T) {
		_, err := GenerateJWT("", 1, "USER", "", time.Hour)
		assert.ErrorIs(t, err, ErrMissingSecret)

		_, err = ParseJWT("", "token")
		assert.ErrorIs(t, err, ErrMissingSecret)
	})
}
