// Package lease provides TTL-bounded exclusive claims on job keys with
// background renewal.
package lease

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"distributed-compressor/internal/coord"
	"distributed-compressor/internal/logger"
	"distributed-compressor/internal/models"
)

// ErrLost is reported when the renewer finds the lease gone mid-work.
var ErrLost = errors.New("lease lost")

// Manager acquires, renews and releases leases in a coordination store.
type Manager struct {
	store    coord.Store
	prefix   string
	ttl      time.Duration
	interval time.Duration
	log      *logger.Logger
}

// NewManager validates that renewal happens strictly more often than expiry.
func NewManager(store coord.Store, prefix string, ttl, interval time.Duration, log *logger.Logger) (*Manager, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("lease ttl must be positive, got %s", ttl)
	}
	if interval <= 0 {
		interval = ttl / 10
	}
	if interval >= ttl {
		return nil, fmt.Errorf("renew interval %s must be shorter than ttl %s", interval, ttl)
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Manager{store: store, prefix: prefix, ttl: ttl, interval: interval, log: log}, nil
}

// Key derives the lease key for a job path.
func (m *Manager) Key(path string) string { return m.prefix + path }

// TTL returns the configured lease lifetime.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Acquire creates the lease only if no live lease exists. false means another
// holder has it; that is not an error.
func (m *Manager) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	ok, _, err := m.claim(ctx, key, owner, ttl)
	return ok, err
}

// claim is Acquire that also returns the stored value, which later renewals
// and the release compare against.
func (m *Manager) claim(ctx context.Context, key, owner string, ttl time.Duration) (bool, string, error) {
	host, _ := os.Hostname()
	rec, err := json.Marshal(models.LeaseRecord{
		Owner:      owner,
		Node:       host,
		PID:        os.Getpid(),
		AcquiredAt: time.Now().UTC(),
	})
	if err != nil {
		return false, "", fmt.Errorf("marshal lease record: %w", err)
	}
	ok, err := m.store.SetIfAbsent(ctx, key, string(rec), ttl)
	return ok, string(rec), err
}

// Renew extends l; false means the key expired or now belongs to someone else.
func (m *Manager) Renew(ctx context.Context, l *Lease, ttl time.Duration) (bool, error) {
	return m.store.RefreshIfEqual(ctx, l.Key, l.value, ttl)
}

// Release deletes l if it is still ours. false means it was already gone or
// taken over.
func (m *Manager) Release(ctx context.Context, l *Lease) (bool, error) {
	return m.store.DeleteIfEqual(ctx, l.Key, l.value)
}

// Holder returns the decoded record of the current holder, if any.
func (m *Manager) Holder(ctx context.Context, key string) (models.LeaseRecord, bool, error) {
	raw, ok, err := m.store.Get(ctx, key)
	if err != nil || !ok {
		return models.LeaseRecord{}, false, err
	}
	var rec models.LeaseRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return models.LeaseRecord{}, true, fmt.Errorf("decode lease %s: %w", key, err)
	}
	return rec, true, nil
}

// Lease is a held claim. Lost is closed once the renewer finds the key gone
// or owned by someone else.
type Lease struct {
	Key   string
	Owner string

	value    string
	lostOnce sync.Once
	lost     chan struct{}
}

// Lost is closed when the lease disappeared while held.
func (l *Lease) Lost() <-chan struct{} { return l.lost }

// IsLost reports whether the lease has been lost.
func (l *Lease) IsLost() bool {
	select {
	case <-l.lost:
		return true
	default:
		return false
	}
}

func (l *Lease) markLost() { l.lostOnce.Do(func() { close(l.lost) }) }

// Hold runs fn while holding the lease for key. It returns acquired=false
// without calling fn when the lease is held elsewhere. The renewer runs for
// exactly the lifetime of fn and is joined before the lease is released, on
// every exit path including panics. A lost lease is not released since it may
// already belong to another owner.
func (m *Manager) Hold(ctx context.Context, key, owner string, fn func(ctx context.Context, l *Lease) error) (acquired bool, err error) {
	ok, value, err := m.claim(ctx, key, owner, m.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}

	l := &Lease{Key: key, Owner: owner, value: value, lost: make(chan struct{})}
	renewCtx, stopRenew := context.WithCancel(context.WithoutCancel(ctx))
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.renewLoop(renewCtx, l)
	}()

	defer func() {
		stopRenew()
		wg.Wait()
		if l.IsLost() {
			m.log.WithFields(logger.Fields{"key": key, "owner": owner}).Warn("lease lost, skipping release")
			return
		}
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		released, rerr := m.Release(releaseCtx, l)
		if rerr != nil {
			m.log.WithError(rerr).WithField("key", key).Error("release lease")
			if err == nil {
				err = fmt.Errorf("release %s: %w", key, rerr)
			}
			return
		}
		if !released {
			m.log.WithFields(logger.Fields{"key": key, "owner": owner}).Warn("lease expired before release")
		}
	}()

	return true, fn(ctx, l)
}

func (m *Manager) renewLoop(ctx context.Context, l *Lease) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		ok, err := m.Renew(ctx, l, m.ttl)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// The lease survives until ttl; the next tick retries.
			m.log.WithError(err).WithField("key", l.Key).Warn("renew lease")
			continue
		}
		if !ok {
			m.log.WithFields(logger.Fields{"key": l.Key, "owner": l.Owner}).Error("lease lost during work")
			l.markLost()
			return
		}
	}
}

// NewOwner builds a unique owner token for this process.
func NewOwner(workerID string) string {
	if workerID == "" {
		workerID, _ = os.Hostname()
	}
	return fmt.Sprintf("%s/%d/%s", workerID, os.Getpid(), uuid.NewString())
}
