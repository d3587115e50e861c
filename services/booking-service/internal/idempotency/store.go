// Package idempotency replays the first successful response to a request
// carrying an Idempotency-Key, so a client retrying a booking after a
// timeout does not book twice.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrInFlight means another request with the same key has not finished.
	ErrInFlight = errors.New("request with this idempotency key is in progress")
)

type Record struct {
	Fingerprint string `json:"fingerprint"`
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

type Store interface {
	// Begin reserves key. It returns the stored record when key already
	// completed, or ErrInFlight while a reservation is outstanding.
	Begin(ctx context.Context, key, fingerprint string) (*Record, error)
	Complete(ctx context.Context, key string, rec Record) error
	Release(ctx context.Context, key string) error
}

type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration

	// reservations expire on their own if the holder dies mid-request
	lease time.Duration
}

func NewRedisStore(rdb redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{rdb: rdb, prefix: prefix, ttl: ttl, lease: time.Minute}
}

const pending = "pending"

func (s *RedisStore) Begin(ctx context.Context, key, fingerprint string) (*Record, error) {
	k := s.prefix + key
	ok, err := s.rdb.SetNX(ctx, k, pending, s.lease).Result()
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, nil
	}
	raw, err := s.rdb.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; let the caller retry.
		return nil, ErrInFlight
	}
	if err != nil {
		return nil, err
	}
	if string(raw) == pending {
		return nil, ErrInFlight
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *RedisStore) Complete(ctx context.Context, key string, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.prefix+key, raw, s.ttl).Err()
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.prefix+key).Err()
}

// ReadyCheck pings Redis.
func ReadyCheck(rdb redis.UniversalClient) func(context.Context) error {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}
