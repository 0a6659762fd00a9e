// Package progress fans job diagnostics out to a log channel and keeps a
// bounded most-recent history per path. Nothing here is authoritative; write
// failures are logged and dropped.
package progress

import (
	"context"
	"fmt"
	"time"

	"distributed-compressor/internal/coord"
	"distributed-compressor/internal/logger"
)

// Hub is the shared publisher for all jobs of a process.
type Hub struct {
	store   coord.Store
	channel string
	prefix  string
	history int
	log     *logger.Logger

	now func() time.Time
}

// NewHub builds a hub publishing to channel and keeping history entries per path.
func NewHub(store coord.Store, channel, prefix string, history int, log *logger.Logger) *Hub {
	if history < 1 {
		history = 10
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Hub{store: store, channel: channel, prefix: prefix, history: history, log: log, now: time.Now}
}

// Key is the list key holding a path's progress history.
func (h *Hub) Key(path string) string { return h.prefix + path }

// Recent returns up to n history entries for path, newest first.
func (h *Hub) Recent(ctx context.Context, path string, n int) ([]string, error) {
	if n > h.history {
		n = h.history
	}
	return h.store.Recent(ctx, h.Key(path), n)
}

// Listen delivers every log-channel message to fn until ctx is done.
func (h *Hub) Listen(ctx context.Context, fn func(msg string)) error {
	sub, err := h.store.Subscribe(ctx, h.channel)
	if err != nil {
		return err
	}
	defer func() { _ = sub.Close() }()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sub.Messages():
			if !ok {
				return fmt.Errorf("subscription to %s closed", h.channel)
			}
			fn(msg)
		}
	}
}

// For returns the reporter for one job.
func (h *Hub) For(path string, log *logger.Logger) *Reporter {
	if log == nil {
		log = h.log.WithField("path", path)
	}
	return &Reporter{hub: h, path: path, log: log}
}

func (h *Hub) stamp() string { return h.now().Format(time.RFC3339) }

// Reporter publishes diagnostics for a single path.
type Reporter struct {
	hub  *Hub
	path string
	log  *logger.Logger
}

// Log publishes a message on the log channel.
func (r *Reporter) Log(ctx context.Context, msg string) {
	r.log.Info(msg)
	line := fmt.Sprintf("[%s %s]: %s", r.hub.stamp(), r.path, msg)
	if err := r.hub.store.Publish(ctx, r.hub.channel, line); err != nil {
		r.log.WithError(err).Debug("publish log")
	}
}

// Progress records a progress update in the bounded history.
func (r *Reporter) Progress(ctx context.Context, update string) {
	r.log.Debug(update)
	entry := fmt.Sprintf("[%s]: %s", r.hub.stamp(), update)
	if err := r.hub.store.PushTrim(ctx, r.hub.Key(r.path), entry, r.hub.history); err != nil {
		r.log.WithError(err).Debug("record progress")
	}
}

// Replay republishes the n most recent progress entries, oldest first.
func (r *Reporter) Replay(ctx context.Context, n int) {
	entries, err := r.hub.Recent(ctx, r.path, n)
	if err != nil {
		r.log.WithError(err).Debug("read progress")
		return
	}
	for i := len(entries) - 1; i >= 0; i-- {
		r.Log(ctx, entries[i])
	}
}
