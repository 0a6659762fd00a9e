package events

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"distributed-compressor/internal/logger"
)

type collector struct {
	mu    sync.Mutex
	items []Event
}

func (c *collector) add(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, ev)
	return nil
}

func (c *collector) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.items...)
}

func appendTo(t *testing.T, path, text string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(text)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func startTailer(t *testing.T, path string, filter Filter) (*collector, func()) {
	t.Helper()
	tl := NewTailer(path, logger.Discard())
	tl.PollMin = 5 * time.Millisecond
	tl.PollMax = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	c := &collector{}
	done := make(chan error, 1)
	go func() { done <- tl.Follow(ctx, filter, c.add) }()
	// Let the tailer open and seek to the end before the test appends.
	time.Sleep(50 * time.Millisecond)
	return c, func() {
		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)
	}
}

func TestTailerStartsAtEndAndFollows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "writer.log")
	require.NoError(t, os.WriteFile(path, []byte(`closing file="/old" written=9`+"\n"), 0o644))

	c, stop := startTailer(t, path, Filter{})
	defer stop()

	appendTo(t, path, "unrelated line\n")
	appendTo(t, path, `closing file="/data/a.log" written=2048`+"\n")

	require.Eventually(t, func() bool { return len(c.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, Event{Path: "/data/a.log", Size: 2048}, c.snapshot()[0])
}

func TestTailerHoldsPartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "writer.log")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	c, stop := startTailer(t, path, Filter{})
	defer stop()

	appendTo(t, path, `closing file="/data/b.l`)
	time.Sleep(80 * time.Millisecond)
	assert.Empty(t, c.snapshot())

	appendTo(t, path, `og" written=10`+"\n")
	require.Eventually(t, func() bool { return len(c.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, Event{Path: "/data/b.log", Size: 10}, c.snapshot()[0])
}

func TestTailerAppliesFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "writer.log")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	c, stop := startTailer(t, path, Filter{MinSize: 1024})
	defer stop()

	appendTo(t, path, `closing file="/small" written=12`+"\n"+`closing file="/big" written=4096`+"\n"+`closing file="/unknown"`+"\n")
	require.Eventually(t, func() bool { return len(c.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	got := c.snapshot()
	assert.Equal(t, "/big", got[0].Path)
	assert.Equal(t, "/unknown", got[1].Path)
}

func TestTailerRestartsAfterTruncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "writer.log")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	c, stop := startTailer(t, path, Filter{})
	defer stop()

	appendTo(t, path, "padding padding padding padding padding\n")
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`closing file="/after"`+"\n"), 0o644))

	require.Eventually(t, func() bool { return len(c.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "/after", c.snapshot()[0].Path)
}
