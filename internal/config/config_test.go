package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 10*time.Minute, cfg.LeaseTTL)
	assert.Equal(t, time.Minute, cfg.LeaseRenewInterval)
	assert.Equal(t, []string{"-f", "--ultra", "-22", "--progress"}, cfg.CompressorArgs)
	assert.Equal(t, ".zst", cfg.ArtifactSuffix)
	assert.Equal(t, time.Hour, cfg.BackoffMax)
	assert.Equal(t, 10, cfg.MaxConcurrent)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("LEASE_TTL", "30s")
	t.Setenv("MIN_FILE_SIZE", "1024")
	t.Setenv("VERIFY_MODE", "native")
	t.Setenv("HASH_ALGO", "blake3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.LeaseRenewInterval)
	assert.Equal(t, int64(1024), cfg.MinFileSize)
	assert.Equal(t, "native", cfg.VerifyMode)
}

func TestRenewIntervalMustBeShorterThanTTL(t *testing.T) {
	t.Setenv("LEASE_TTL", "10s")
	t.Setenv("LEASE_RENEW_INTERVAL", "10s")

	_, err := Load()
	require.Error(t, err)
}

func TestRejectsUnknownVerifyMode(t *testing.T) {
	t.Setenv("VERIFY_MODE", "magic")
	_, err := Load()
	require.Error(t, err)
}
