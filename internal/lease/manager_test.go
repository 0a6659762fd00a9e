package lease

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"distributed-compressor/internal/coord"
	"distributed-compressor/internal/logger"
)

func redisManager(t *testing.T, ttl time.Duration) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	m, err := NewManager(coord.NewRedisStore(client), "compressing:", ttl, ttl/10, logger.Discard())
	require.NoError(t, err)
	return m, mr
}

func TestAcquireIsMutuallyExclusive(t *testing.T) {
	m, _ := redisManager(t, time.Minute)
	ctx := context.Background()
	key := m.Key("/data/a.log")

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := m.Acquire(ctx, key, fmt.Sprintf("worker-%d", i), time.Minute)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestExpiredLeaseCanBeReacquired(t *testing.T) {
	m, mr := redisManager(t, 10*time.Second)
	ctx := context.Background()
	key := m.Key("/data/a.log")

	ok, err := m.Acquire(ctx, key, "crashed", 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(9 * time.Second)
	ok, err = m.Acquire(ctx, key, "other", 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "lease must not be acquirable before ttl elapses")

	mr.FastForward(2 * time.Second)
	ok, err = m.Acquire(ctx, key, "other", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	rec, found, err := m.Holder(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "other", rec.Owner)
}

func TestRenewIntervalMustBeBelowTTL(t *testing.T) {
	_, err := NewManager(coord.NewMemoryStore(), "", time.Second, time.Second, nil)
	require.Error(t, err)

	m, err := NewManager(coord.NewMemoryStore(), "", time.Second, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, m.interval)
}

func TestHoldRenewsAndReleases(t *testing.T) {
	store := coord.NewMemoryStore()
	m, err := NewManager(store, "compressing:", 150*time.Millisecond, 20*time.Millisecond, logger.Discard())
	require.NoError(t, err)
	ctx := context.Background()
	key := m.Key("/data/a.log")

	acquired, err := m.Hold(ctx, key, "w1", func(ctx context.Context, l *Lease) error {
		// Outlive the ttl several times over; renewal keeps the lease alive.
		time.Sleep(500 * time.Millisecond)
		ok, err := m.Acquire(ctx, key, "w2", time.Second)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.False(t, l.IsLost())
		return nil
	})
	require.NoError(t, err)
	assert.True(t, acquired)

	_, found, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found, "lease must be released after work")
}

func TestHoldDeniedWhenHeld(t *testing.T) {
	store := coord.NewMemoryStore()
	m, err := NewManager(store, "compressing:", time.Minute, time.Second, logger.Discard())
	require.NoError(t, err)
	ctx := context.Background()
	key := m.Key("/data/a.log")

	ok, err := m.Acquire(ctx, key, "w1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	called := false
	acquired, err := m.Hold(ctx, key, "w2", func(context.Context, *Lease) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, acquired)
	assert.False(t, called)
}

func TestHoldReleasesOnErrorAndPanic(t *testing.T) {
	store := coord.NewMemoryStore()
	m, err := NewManager(store, "compressing:", time.Minute, time.Second, logger.Discard())
	require.NoError(t, err)
	ctx := context.Background()
	key := m.Key("/data/a.log")

	boom := errors.New("boom")
	_, err = m.Hold(ctx, key, "w1", func(context.Context, *Lease) error { return boom })
	assert.ErrorIs(t, err, boom)
	_, found, _ := store.Get(ctx, key)
	assert.False(t, found)

	func() {
		defer func() { assert.NotNil(t, recover()) }()
		_, _ = m.Hold(ctx, key, "w1", func(context.Context, *Lease) error { panic("compressor crashed") })
	}()
	_, found, _ = store.Get(ctx, key)
	assert.False(t, found)
}

func TestLostLeaseIsDetectedAndNotReleased(t *testing.T) {
	store := coord.NewMemoryStore()
	m, err := NewManager(store, "compressing:", time.Second, 10*time.Millisecond, logger.Discard())
	require.NoError(t, err)
	ctx := context.Background()
	key := m.Key("/data/a.log")

	_, err = m.Hold(ctx, key, "w1", func(ctx context.Context, l *Lease) error {
		// Simulate expiry followed by another worker taking over.
		require.NoError(t, store.Delete(ctx, key))
		select {
		case <-l.Lost():
		case <-time.After(2 * time.Second):
			t.Fatal("renewer did not notice the lease vanished")
		}
		ok, err := m.Acquire(ctx, key, "w2", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		return nil
	})
	require.NoError(t, err)

	rec, found, err := m.Holder(ctx, key)
	require.NoError(t, err)
	require.True(t, found, "new owner's lease must survive")
	assert.Equal(t, "w2", rec.Owner)
}

func TestTakenOverLeaseIsNotRenewed(t *testing.T) {
	store := coord.NewMemoryStore()
	now := time.Now()
	var mu sync.Mutex
	store.Now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	m, err := NewManager(store, "compressing:", time.Minute, 10*time.Millisecond, logger.Discard())
	require.NoError(t, err)
	ctx := context.Background()
	key := m.Key("/data/a.log")

	_, err = m.Hold(ctx, key, "w1", func(ctx context.Context, l *Lease) error {
		// Expire w1 and hand the key to w2 before the renewer looks again.
		require.NoError(t, store.Delete(ctx, key))
		ok, err := store.SetIfAbsent(ctx, key, `{"owner":"w2"}`, 30*time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		select {
		case <-l.Lost():
		case <-time.After(2 * time.Second):
			t.Fatal("renewer kept extending a lease owned by w2")
		}
		return nil
	})
	require.NoError(t, err)

	// w2's own expiry still applies.
	mu.Lock()
	now = now.Add(31 * time.Second)
	mu.Unlock()
	_, found, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestReleaseSkipsSuccessor(t *testing.T) {
	store := coord.NewMemoryStore()
	m, err := NewManager(store, "compressing:", time.Minute, time.Second, logger.Discard())
	require.NoError(t, err)
	ctx := context.Background()
	key := m.Key("/data/a.log")

	ok, value, err := m.claim(ctx, key, "w1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	l := &Lease{Key: key, Owner: "w1", value: value, lost: make(chan struct{})}

	require.NoError(t, store.Delete(ctx, key))
	ok, err = m.Acquire(ctx, key, "w2", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	released, err := m.Release(ctx, l)
	require.NoError(t, err)
	assert.False(t, released)
	rec, found, err := m.Holder(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "w2", rec.Owner)
}

func TestNewOwnerIsUnique(t *testing.T) {
	assert.NotEqual(t, NewOwner("node-a"), NewOwner("node-a"))
}
