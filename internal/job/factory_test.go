package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"distributed-compressor/internal/config"
	"distributed-compressor/internal/coord"
	"distributed-compressor/internal/logger"
)

func TestFromConfig(t *testing.T) {
	cfg := config.Config{
		LeaseTTL:        time.Minute,
		LeasePrefix:     "compressing:",
		LogChannel:      "compression_logs",
		ProgressPrefix:  "compression_progress:",
		ProgressHistory: 10,
		ArtifactSuffix:  ".zst",
		VerifyMode:      "native",
		HashAlgo:        "blake3",
		BackoffInitial:  time.Second,
		BackoffMax:      time.Hour,
		WorkerID:        "node-1",
	}
	c, hub, err := FromConfig(cfg, coord.NewMemoryStore(), logger.Discard())
	require.NoError(t, err)
	require.NotNil(t, hub)
	assert.Equal(t, "compression_progress:/a", hub.Key("/a"))
	assert.Contains(t, c.Owner(), "node-1/")
	assert.Equal(t, Backoff{Initial: time.Second, Max: time.Hour}, c.backoff)

	cfg.LeaseRenewInterval = time.Minute
	_, _, err = FromConfig(cfg, coord.NewMemoryStore(), logger.Discard())
	assert.Error(t, err)
}
