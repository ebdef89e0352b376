package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, ":8085", cfg.HTTPAddr)
	assert.Equal(t, 2*time.Minute, cfg.GracePeriod)
	assert.Equal(t, 10*time.Minute, cfg.WaitingRoomTTL)
	assert.Equal(t, 5*time.Minute, cfg.InvitationTTL)
	assert.Equal(t, 4, cfg.MinMessagesForBalance)
	assert.InDelta(t, 0.7, cfg.ImbalanceThreshold, 1e-9)
	assert.Equal(t, 10, cfg.AvailablePartnersLimit)
	assert.False(t, cfg.Development())
}

func TestParseOverrides(t *testing.T) {
	t.Setenv("GRACE_PERIOD", "90s")
	t.Setenv("WAITING_ROOM_TTL", "3m")
	t.Setenv("APP_ENV", "development")
	t.Setenv("REDIS_DB", "2")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.GracePeriod)
	assert.Equal(t, 3*time.Minute, cfg.WaitingRoomTTL)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.True(t, cfg.Development())
}

func TestParseRequiresJWTSecretOutsideDevelopment(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET is required")

	t.Setenv("APP_ENV", "development")
	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, devJWTSecret, cfg.JWTSecret)
}

func TestParseRejectsInvalidWindows(t *testing.T) {
	t.Setenv("GRACE_PERIOD", "0s")
	t.Setenv("IMBALANCE_THRESHOLD", "1.5")

	_, err := Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GRACE_PERIOD")
	assert.Contains(t, err.Error(), "IMBALANCE_THRESHOLD")
}

func TestParseRejectsMalformedDuration(t *testing.T) {
	t.Setenv("TUTOR_TIMEOUT", "soon")

	_, err := Parse()
	require.Error(t, err)
}
