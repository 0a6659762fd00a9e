package coord

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used in single-process mode and tests.
// Expiry is evaluated lazily against Now.
type MemoryStore struct {
	mu    sync.Mutex
	keys  map[string]memEntry
	lists map[string][]string
	subs  map[string]map[*memSubscription]struct{}

	// Now is the clock used for expiry. Defaults to time.Now.
	Now func() time.Time
}

type memEntry struct {
	value   string
	expires time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys:  make(map[string]memEntry),
		lists: make(map[string][]string),
		subs:  make(map[string]map[*memSubscription]struct{}),
		Now:   time.Now,
	}
}

// live returns the entry if present and unexpired. Caller holds mu.
func (m *MemoryStore) live(key string) (memEntry, bool) {
	e, ok := m.keys[key]
	if !ok {
		return memEntry{}, false
	}
	if !e.expires.IsZero() && !m.Now().Before(e.expires) {
		delete(m.keys, key)
		return memEntry{}, false
	}
	return e, true
}

func (m *MemoryStore) SetIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live(key); ok {
		return false, nil
	}
	e := memEntry{value: value}
	if ttl > 0 {
		e.expires = m.Now().Add(ttl)
	}
	m.keys[key] = e
	return true, nil
}

func (m *MemoryStore) RefreshIfEqual(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok || e.value != value {
		return false, nil
	}
	e.expires = m.Now().Add(ttl)
	m.keys[key] = e
	return true, nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	return e.value, ok, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	delete(m.lists, key)
	return nil
}

func (m *MemoryStore) DeleteIfEqual(_ context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok || e.value != value {
		return false, nil
	}
	delete(m.keys, key)
	return true, nil
}

func (m *MemoryStore) PushTrim(_ context.Context, key, value string, max int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append([]string{value}, m.lists[key]...)
	if max > 0 && len(list) > max {
		list = list[:max]
	}
	m.lists[key] = list
	return nil
}

func (m *MemoryStore) Recent(_ context.Context, key string, n int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.lists[key]
	if n < len(list) {
		list = list[:n]
	}
	return append([]string(nil), list...), nil
}

// Publish never blocks; a subscriber whose buffer is full misses the message.
func (m *MemoryStore) Publish(_ context.Context, channel, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for sub := range m.subs[channel] {
		select {
		case sub.ch <- message:
		default:
		}
	}
	return nil
}

func (m *MemoryStore) Subscribe(_ context.Context, channel string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := &memSubscription{store: m, channel: channel, ch: make(chan string, 256)}
	if m.subs[channel] == nil {
		m.subs[channel] = make(map[*memSubscription]struct{})
	}
	m.subs[channel][sub] = struct{}{}
	return sub, nil
}

type memSubscription struct {
	store   *MemoryStore
	channel string
	ch      chan string
	once    sync.Once
}

func (s *memSubscription) Messages() <-chan string { return s.ch }

func (s *memSubscription) Close() error {
	s.once.Do(func() {
		s.store.mu.Lock()
		delete(s.store.subs[s.channel], s)
		s.store.mu.Unlock()
		close(s.ch)
	})
	return nil
}
