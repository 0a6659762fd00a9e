// Package coord defines the shared coordination store used for leases,
// progress history and log fan-out, with Redis and in-memory backends.
package coord

import (
	"context"
	"time"
)

// Store is the set of individually atomic primitives the compression core relies on.
type Store interface {
	// SetIfAbsent creates key with a TTL only when it does not exist.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// RefreshIfEqual resets the expiry of key only while it still holds value.
	// It reports false when the key is gone or holds something else.
	RefreshIfEqual(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, key string) error
	// DeleteIfEqual removes key only while it still holds value.
	DeleteIfEqual(ctx context.Context, key, value string) (bool, error)
	// PushTrim prepends value to a list and keeps only the newest max entries.
	PushTrim(ctx context.Context, key, value string, max int) error
	// Recent returns up to n list entries, newest first.
	Recent(ctx context.Context, key string, n int) ([]string, error)
	Publish(ctx context.Context, channel, message string) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Subscription delivers published messages until closed.
type Subscription interface {
	Messages() <-chan string
	Close() error
}
