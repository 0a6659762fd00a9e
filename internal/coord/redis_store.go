package coord

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"distributed-compressor/internal/config"
)

// RedisStore implements Store on a single Redis deployment.
type RedisStore struct {
	client *redis.Client
}

// NewRedisClient opens a client for the configured deployment and checks it
// answers before returning.
func NewRedisClient(ctx context.Context, cfg config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
	}
	return client, nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Client exposes the underlying client for components sharing the connection pool.
func (s *RedisStore) Client() *redis.Client { return s.client }

func (s *RedisStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return ok, nil
}

var refreshIfEqualScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

var deleteIfEqualScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

func (s *RedisStore) RefreshIfEqual(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	n, err := refreshIfEqualScript.Run(ctx, s.client, []string{key}, value, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("refresh %s: %w", key, err)
	}
	return n == 1, nil
}

func (s *RedisStore) DeleteIfEqual(ctx context.Context, key, value string) (bool, error) {
	n, err := deleteIfEqualScript.Run(ctx, s.client, []string{key}, value).Int()
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", key, err)
	}
	return n == 1, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return v, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) PushTrim(ctx context.Context, key, value string, max int) error {
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, value)
	pipe.LTrim(ctx, key, 0, int64(max-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Recent(ctx context.Context, key string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	out, err := s.client.LRange(ctx, key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}
	return out, nil
}

func (s *RedisStore) Publish(ctx context.Context, channel, message string) error {
	if err := s.client.Publish(ctx, channel, message).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe blocks until Redis confirms the subscription so no message
// published after it returns is missed.
func (s *RedisStore) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := s.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	sub := &redisSubscription{ps: ps, out: make(chan string, 64), done: make(chan struct{})}
	go sub.pump()
	return sub, nil
}

type redisSubscription struct {
	ps   *redis.PubSub
	out  chan string
	done chan struct{}
	once sync.Once
}

func (r *redisSubscription) pump() {
	defer close(r.out)
	for msg := range r.ps.Channel() {
		select {
		case r.out <- msg.Payload:
		case <-r.done:
			return
		}
	}
}

func (r *redisSubscription) Messages() <-chan string { return r.out }

func (r *redisSubscription) Close() error {
	r.once.Do(func() { close(r.done) })
	return r.ps.Close()
}
