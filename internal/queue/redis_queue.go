package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"distributed-compressor/internal/config"
	"distributed-compressor/internal/models"
)

// doneRetention bounds how long finished job metadata stays visible.
const doneRetention = time.Hour

// RedisQueue is an at-least-once job broker keyed by file path: a ready list,
// an in-flight set scored by visibility deadline, a scheduled set for delayed
// retries and a dead-letter list. In-flight members are per-delivery receipts,
// so two deliveries of the same path are tracked independently.
type RedisQueue struct {
	client        *redis.Client
	readyKey      string
	inflightKey   string
	scheduledKey  string
	jobMetaPrefix string
	dlqKey        string
	visibilityTTL time.Duration
}

// NewRedisQueue builds a queue on an existing client.
func NewRedisQueue(client *redis.Client, cfg config.Config) *RedisQueue {
	prefix := cfg.QueuePrefix
	if prefix == "" {
		prefix = "compress:"
	}
	visibility := cfg.VisibilityTimeout
	if visibility == 0 {
		visibility = 5 * time.Minute
	}
	return &RedisQueue{
		client:        client,
		readyKey:      prefix + "ready",
		inflightKey:   prefix + "inflight",
		scheduledKey:  prefix + "scheduled",
		jobMetaPrefix: prefix + "job:",
		dlqKey:        prefix + "dlq",
		visibilityTTL: visibility,
	}
}

// Delivery is one hand-out of a job. Receipt identifies it in the in-flight set.
type Delivery struct {
	Path    string
	Receipt string
}

// receiptSep separates the delivery token from the path inside a receipt.
// Tokens are UUIDs, so the first separator always ends the token.
const receiptSep = " "

// PathOf returns the path carried by a receipt.
func PathOf(receipt string) string {
	if _, path, ok := strings.Cut(receipt, receiptSep); ok {
		return path
	}
	return receipt
}

// Visibility is how long a dequeued job stays invisible without extension.
func (q *RedisQueue) Visibility() time.Duration { return q.visibilityTTL }

func (q *RedisQueue) metaKey(path string) string {
	return q.jobMetaPrefix + path
}

// Submit records discovery metadata and makes the job ready. Resubmitting a
// known path keeps its original discovery time and attempt count.
func (q *RedisQueue) Submit(ctx context.Context, path string, size int64, discoveredAt time.Time) error {
	key := q.metaKey(path)
	pipe := q.client.TxPipeline()
	pipe.HSetNX(ctx, key, "discovered_at", discoveredAt.UTC().Format(time.RFC3339Nano))
	pipe.HSetNX(ctx, key, "attempts", 0)
	pipe.HSet(ctx, key, "size", size, "status", models.StatusQueued, "updated_at", stamp())
	pipe.Persist(ctx, key)
	pipe.RPush(ctx, q.readyKey, path)
	_, err := pipe.Exec(ctx)
	return err
}

// Schedule defers a job until runAt.
func (q *RedisQueue) Schedule(ctx context.Context, path string, runAt time.Time) error {
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.metaKey(path), "status", models.StatusRetrying, "updated_at", stamp())
	pipe.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: path})
	_, err := pipe.Exec(ctx)
	return err
}

// PromoteScheduled moves due scheduled jobs into the ready list and returns how many moved.
func (q *RedisQueue) PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error) {
	res, err := moveDueScript.Run(ctx, q.client, []string{q.scheduledKey, q.readyKey}, now.UnixMilli(), limit).Result()
	if err != nil {
		return 0, err
	}
	ids, _ := res.([]interface{})
	return len(ids), nil
}

// DequeueWithLease pops the next ready job and marks the delivery in-flight
// until the visibility deadline. An empty Path means the queue was empty.
func (q *RedisQueue) DequeueWithLease(ctx context.Context) (Delivery, error) {
	token := uuid.NewString()
	res, err := dequeueScript.Run(ctx, q.client, []string{q.readyKey, q.inflightKey},
		time.Now().Add(q.visibilityTTL).UnixMilli(), token+receiptSep).Result()
	if errors.Is(err, redis.Nil) {
		return Delivery{}, nil
	}
	if err != nil {
		return Delivery{}, err
	}
	receipt, ok := res.(string)
	if !ok {
		return Delivery{}, fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return Delivery{Path: PathOf(receipt), Receipt: receipt}, nil
}

// ExtendVisibility pushes the delivery's in-flight deadline forward. It is a
// no-op once the delivery was acked or reclaimed.
func (q *RedisQueue) ExtendVisibility(ctx context.Context, d Delivery, extension time.Duration) error {
	return q.client.ZAddArgs(ctx, q.inflightKey, redis.ZAddArgs{
		XX:      true,
		Members: []redis.Z{{Score: float64(time.Now().Add(extension).UnixMilli()), Member: d.Receipt}},
	}).Err()
}

// Ack removes one delivery from in-flight tracking.
func (q *RedisQueue) Ack(ctx context.Context, d Delivery) error {
	return q.client.ZRem(ctx, q.inflightKey, d.Receipt).Err()
}

// Retry moves a delivery from in-flight to the scheduled set in one step.
// If the write fails the delivery stays in flight and visibility expiry
// redelivers it.
func (q *RedisQueue) Retry(ctx context.Context, d Delivery, runAt time.Time) error {
	return retryScript.Run(ctx, q.client,
		[]string{q.scheduledKey, q.metaKey(d.Path), q.inflightKey},
		runAt.UnixMilli(), d.Path, models.StatusRetrying, stamp(), d.Receipt,
	).Err()
}

// RequeueExpired returns deliveries whose visibility deadline passed to the
// ready list and reports the reclaimed paths.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	res, err := reclaimScript.Run(ctx, q.client, []string{q.inflightKey, q.readyKey}, now.UnixMilli(), limit, receiptSep).Result()
	if err != nil {
		return nil, err
	}
	raw, _ := res.([]interface{})
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func stamp() string { return time.Now().UTC().Format(time.RFC3339Nano) }

// Get loads the metadata recorded for path.
func (q *RedisQueue) Get(ctx context.Context, path string) (models.Job, bool, error) {
	fields, err := q.client.HGetAll(ctx, q.metaKey(path)).Result()
	if err != nil {
		return models.Job{}, false, err
	}
	if len(fields) == 0 {
		return models.Job{Path: path, Size: -1}, false, nil
	}
	j := models.Job{Path: path, Size: -1, Status: fields["status"]}
	if v, ok := fields["size"]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			j.Size = n
		}
	}
	if v, ok := fields["attempts"]; ok {
		j.Attempts, _ = strconv.Atoi(v)
	}
	if v, ok := fields["discovered_at"]; ok {
		j.DiscoveredAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	if v, ok := fields["updated_at"]; ok {
		j.UpdatedAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	j.LeaseToken = fields["lease_token"]
	if v, ok := fields["last_error"]; ok && v != "" {
		j.LastError = &v
	}
	return j, true, nil
}

// MarkRunning records that a worker picked the job up.
func (q *RedisQueue) MarkRunning(ctx context.Context, path, owner string) error {
	return q.client.HSet(ctx, q.metaKey(path),
		"status", models.StatusRunning,
		"lease_token", owner,
		"updated_at", stamp(),
	).Err()
}

// RecordAttempt stores the attempt count and last error after a failed attempt.
func (q *RedisQueue) RecordAttempt(ctx context.Context, path string, attempts int, lastErr string) error {
	return q.client.HSet(ctx, q.metaKey(path),
		"attempts", attempts,
		"last_error", lastErr,
		"updated_at", stamp(),
	).Err()
}

// MarkDone records a terminal status and lets the metadata expire.
func (q *RedisQueue) MarkDone(ctx context.Context, path, status string) error {
	key := q.metaKey(path)
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, key, "status", status, "updated_at", stamp())
	pipe.HDel(ctx, key, "lease_token")
	pipe.Expire(ctx, key, doneRetention)
	_, err := pipe.Exec(ctx)
	return err
}

// DeadLetter parks a job that must not be retried and drops its delivery
// from in-flight tracking in the same step. Its metadata is kept for
// inspection. A zero Receipt parks a job that is not in flight.
func (q *RedisQueue) DeadLetter(ctx context.Context, d Delivery, reason string) error {
	return deadLetterScript.Run(ctx, q.client,
		[]string{q.dlqKey, q.metaKey(d.Path), q.inflightKey},
		d.Path, models.StatusDeadLetter, reason, stamp(), d.Receipt,
	).Err()
}

// DeadLetters reads the oldest count dead-lettered paths.
func (q *RedisQueue) DeadLetters(ctx context.Context, count int64) ([]string, error) {
	return q.client.LRange(ctx, q.dlqKey, 0, count-1).Result()
}

// ReadyDepth returns the number of jobs waiting in the ready list.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey).Result()
}

// dequeueScript stores the popped path in flight under ARGV[2]..path.
var dequeueScript = redis.NewScript(`
local path = redis.call('LPOP', KEYS[1])
if path then
  local receipt = ARGV[2] .. path
  redis.call('ZADD', KEYS[2], ARGV[1], receipt)
  return receipt
end
return nil
`)

// moveDueScript moves members of a sorted set scored at or below ARGV[1]
// onto a list. Each member moves exactly once even with concurrent callers.
var moveDueScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
local moved = {}
for _, id in ipairs(due) do
  if redis.call('ZREM', KEYS[1], id) == 1 then
    redis.call('RPUSH', KEYS[2], id)
    table.insert(moved, id)
  end
end
return moved
`)

// reclaimScript is moveDueScript for receipts: the path after the first
// ARGV[3] is what goes back on the ready list.
var reclaimScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
local moved = {}
for _, receipt in ipairs(due) do
  if redis.call('ZREM', KEYS[1], receipt) == 1 then
    local sep = string.find(receipt, ARGV[3], 1, true)
    local path = receipt
    if sep then path = string.sub(receipt, sep + 1) end
    redis.call('RPUSH', KEYS[2], path)
    table.insert(moved, path)
  end
end
return moved
`)

// retryScript writes the schedule before dropping the receipt. A failed
// write aborts the script with the receipt still in flight.
var retryScript = redis.NewScript(`
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[2])
redis.call('HSET', KEYS[2], 'status', ARGV[3], 'updated_at', ARGV[4])
redis.call('HDEL', KEYS[2], 'lease_token')
if ARGV[5] ~= '' then redis.call('ZREM', KEYS[3], ARGV[5]) end
return 1
`)

// deadLetterScript follows retryScript's order: park first, then release.
var deadLetterScript = redis.NewScript(`
redis.call('RPUSH', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[2], 'status', ARGV[2], 'last_error', ARGV[3], 'updated_at', ARGV[4])
redis.call('HDEL', KEYS[2], 'lease_token')
if ARGV[5] ~= '' then redis.call('ZREM', KEYS[3], ARGV[5]) end
return 1
`)
