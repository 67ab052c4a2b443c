package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"checkpoint/internal/idempotency/models"
	"checkpoint/pkg/requestcontext"
)

const redisKeyPrefix = "idempotency:"

// RedisStore relies on key TTLs for expiry, so it needs no sweep. Values are
// "<state>:<fingerprint>".
type RedisStore struct {
	client redis.Cmdable
}

func NewRedis(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func encodeValue(state models.State, fingerprint string) string {
	return string(state) + ":" + fingerprint
}

func decodeValue(token, value string) (*models.Record, error) {
	state, fingerprint, ok := strings.Cut(value, ":")
	if !ok || !models.State(state).IsValid() {
		return nil, fmt.Errorf("malformed idempotency value for %s", token)
	}
	return &models.Record{Token: token, Fingerprint: fingerprint, State: models.State(state)}, nil
}

// Reserve retries once when the key expires between SETNX and GET.
func (s *RedisStore) Reserve(ctx context.Context, token, fingerprint string, now time.Time, lease time.Duration) (*models.Record, bool, error) {
	key := redisKeyPrefix + token
	for range 2 {
		ok, err := s.client.SetNX(ctx, key, encodeValue(models.StatePending, fingerprint), lease).Result()
		if err != nil {
			return nil, false, fmt.Errorf("reserve idempotency token: %w", err)
		}
		if ok {
			return &models.Record{
				Token:       token,
				Fingerprint: fingerprint,
				State:       models.StatePending,
				ExpiresAt:   now.Add(lease),
			}, true, nil
		}

		existing, err := s.load(ctx, token)
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return nil, false, fmt.Errorf("reserve idempotency token: %s keeps expiring", token)
}

func (s *RedisStore) load(ctx context.Context, token string) (*models.Record, error) {
	var (
		value *redis.StringCmd
		ttl   *redis.DurationCmd
	)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		value = pipe.Get(ctx, redisKeyPrefix+token)
		ttl = pipe.PTTL(ctx, redisKeyPrefix+token)
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("load idempotency token: %w", err)
	}
	record, err := decodeValue(token, value.Val())
	if err != nil {
		return nil, err
	}
	if ttl.Val() > 0 {
		record.ExpiresAt = requestcontext.Now(ctx).Add(ttl.Val())
	}
	return record, nil
}

func (s *RedisStore) Complete(ctx context.Context, token, fingerprint string, _ time.Time, ttl time.Duration) error {
	if err := s.client.Set(ctx, redisKeyPrefix+token, encodeValue(models.StateCompleted, fingerprint), ttl).Err(); err != nil {
		return fmt.Errorf("complete idempotency token: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+token).Err(); err != nil {
		return fmt.Errorf("release idempotency token: %w", err)
	}
	return nil
}
