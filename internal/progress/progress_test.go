package progress

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"distributed-compressor/internal/coord"
	"distributed-compressor/internal/logger"
)

func TestProgressHistoryIsBounded(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(coord.NewMemoryStore(), "compression_logs", "compression_progress:", 3, logger.Discard())
	rep := hub.For("/data/a.log", nil)

	for i := 1; i <= 5; i++ {
		rep.Progress(ctx, fmt.Sprintf("%d%%", i*20))
	}

	got, err := hub.Recent(ctx, "/data/a.log", 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, strings.HasSuffix(got[0], "]: 100%"))
	assert.True(t, strings.HasSuffix(got[2], "]: 60%"))
}

func TestLogAndReplay(t *testing.T) {
	ctx := context.Background()
	store := coord.NewMemoryStore()
	hub := NewHub(store, "compression_logs", "compression_progress:", 10, logger.Discard())
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	hub.now = func() time.Time { return fixed }

	sub, err := store.Subscribe(ctx, "compression_logs")
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	rep := hub.For("/data/a.log", nil)
	rep.Progress(ctx, "first")
	rep.Progress(ctx, "second")
	rep.Progress(ctx, "third")
	rep.Replay(ctx, 2)

	assert.Equal(t, "[2025-01-02T03:04:05Z /data/a.log]: [2025-01-02T03:04:05Z]: second", <-sub.Messages())
	assert.Equal(t, "[2025-01-02T03:04:05Z /data/a.log]: [2025-01-02T03:04:05Z]: third", <-sub.Messages())
}

func TestListenStopsOnCancel(t *testing.T) {
	store := coord.NewMemoryStore()
	hub := NewHub(store, "logs", "p:", 10, nil)
	ctx, cancel := context.WithCancel(context.Background())

	got := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- hub.Listen(ctx, func(msg string) {
			select {
			case got <- msg:
			default:
			}
		})
	}()

	require.Eventually(t, func() bool {
		_ = store.Publish(context.Background(), "logs", "ping")
		select {
		case msg := <-got:
			return msg == "ping"
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
