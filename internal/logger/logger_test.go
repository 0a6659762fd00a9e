package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLoggerCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Format: "json", Output: &buf, Service: "worker"})

	log.WithFields(Fields{"path": "/data/a.log", "attempt": 2}).Info("lease acquired")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "lease acquired", entry["message"])
	assert.Equal(t, "worker", entry["service"])
	assert.Equal(t, "/data/a.log", entry["path"])
	assert.Equal(t, "info", entry["level"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})

	log.Info("hidden")
	assert.Zero(t, buf.Len())

	log.Warn("visible")
	assert.Contains(t, buf.String(), "visible")
}
