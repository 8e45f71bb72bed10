package validator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeValidator(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	v := NewCodeValidatorWithClock("test-secret", func() time.Time { return now })

	t.Run("valid code within window", func(t *testing.T) {
		issuedAt := now.Add(-1 * time.Hour)
		code := v.Generate("ch-bridge", issuedAt)
		require.NoError(t, v.Validate("ch-bridge", code, issuedAt, PosterCodeWindow))
	})

	t.Run("code for another challenge is rejected", func(t *testing.T) {
		issuedAt := now.Add(-1 * time.Hour)
		code := v.Generate("ch-bridge", issuedAt)
		assert.ErrorIs(t, v.Validate("ch-castle", code, issuedAt, PosterCodeWindow), ErrInvalidCode)
	})

	t.Run("tampered issue time is rejected", func(t *testing.T) {
		issuedAt := now.Add(-25 * time.Hour)
		code := v.Generate("ch-bridge", issuedAt)
		// Claiming a fresher issue time breaks the MAC before the window
		// check can even pass.
		assert.ErrorIs(t, v.Validate("ch-bridge", code, now.Add(-time.Minute), PosterCodeWindow), ErrInvalidCode)
	})

	t.Run("poster code expires after 24h", func(t *testing.T) {
		issuedAt := now.Add(-PosterCodeWindow - time.Second)
		code := v.Generate("ch-bridge", issuedAt)
		assert.ErrorIs(t, v.Validate("ch-bridge", code, issuedAt, PosterCodeWindow), ErrCodeExpired)
	})

	t.Run("short code expires almost immediately", func(t *testing.T) {
		issuedAt := now.Add(-3 * time.Minute)
		code := v.Generate("ch-bridge", issuedAt)
		assert.ErrorIs(t, v.Validate("ch-bridge", code, issuedAt, ShortCodeWindow), ErrCodeExpired)
		fresh := v.Generate("ch-bridge", now.Add(-time.Minute))
		assert.NoError(t, v.Validate("ch-bridge", fresh, now.Add(-time.Minute), ShortCodeWindow))
	})

	t.Run("future issue time is rejected", func(t *testing.T) {
		issuedAt := now.Add(time.Hour)
		code := v.Generate("ch-bridge", issuedAt)
		assert.ErrorIs(t, v.Validate("ch-bridge", code, issuedAt, PosterCodeWindow), ErrCodeExpired)
	})

	t.Run("different secrets disagree", func(t *testing.T) {
		other := NewCodeValidatorWithClock("other-secret", func() time.Time { return now })
		issuedAt := now.Add(-time.Hour)
		code := other.Generate("ch-bridge", issuedAt)
		assert.ErrorIs(t, v.Validate("ch-bridge", code, issuedAt, PosterCodeWindow), ErrInvalidCode)
	})
}
