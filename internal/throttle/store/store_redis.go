package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"checkpoint/internal/throttle/models"
	"checkpoint/pkg/requestcontext"
)

// RedisStore keeps failures in a sorted set scored by unix milliseconds and a
// block key that expires with the cooldown. Each step runs in a MULTI/EXEC
// block so a crash never leaves a set without its expiry.
type RedisStore struct {
	client redis.Cmdable
	member func(now time.Time) string
}

func NewRedis(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client, member: uniqueMember}
}

func failuresKey(key string) string { return key + ":failures" }
func blockKey(key string) string    { return key + ":blocked" }

// uniqueMember keeps concurrent failures in the same millisecond distinct.
func uniqueMember(now time.Time) string {
	return strconv.FormatInt(now.UnixNano(), 10) + ":" + uuid.NewString()
}

func toFailures(zs []redis.Z) []time.Time {
	out := make([]time.Time, 0, len(zs))
	for _, z := range zs {
		out = append(out, time.UnixMilli(int64(z.Score)).UTC())
	}
	return out
}

func (s *RedisStore) Get(ctx context.Context, key string) (*models.Record, error) {
	var (
		failures *redis.ZSliceCmd
		ttl      *redis.DurationCmd
	)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		failures = pipe.ZRangeWithScores(ctx, failuresKey(key), 0, -1)
		ttl = pipe.PTTL(ctx, blockKey(key))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get throttle record: %w", err)
	}

	if len(failures.Val()) == 0 && ttl.Val() <= 0 {
		return nil, nil
	}
	record := &models.Record{Key: key, Failures: toFailures(failures.Val())}
	if ttl.Val() > 0 {
		until := requestcontext.Now(ctx).Add(ttl.Val())
		record.BlockedUntil = &until
	}
	return record, nil
}

func (s *RedisStore) RecordFailure(ctx context.Context, key string, policy models.Policy, now time.Time) (*models.Record, bool, error) {
	fk := failuresKey(key)
	cutoff := strconv.FormatInt(now.Add(-policy.Window).UnixMilli(), 10)

	var window *redis.ZSliceCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, fk, "-inf", cutoff)
		pipe.ZAdd(ctx, fk, redis.Z{Score: float64(now.UnixMilli()), Member: s.member(now)})
		window = pipe.ZRangeWithScores(ctx, fk, 0, -1)
		pipe.PExpire(ctx, fk, policy.Window)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("record throttle failure: %w", err)
	}

	record := &models.Record{Key: key, Failures: toFailures(window.Val())}
	if len(record.Failures) < policy.MaxFailures {
		return record, false, nil
	}

	// SetNX keeps an existing block's deadline when concurrent failures race past the budget.
	var set *redis.BoolCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		set = pipe.SetNX(ctx, blockKey(key), strconv.FormatInt(now.Unix(), 10), policy.Cooldown)
		pipe.Del(ctx, fk)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("set throttle block: %w", err)
	}
	until := now.Add(policy.Cooldown)
	record.Failures = nil
	record.BlockedUntil = &until
	return record, set.Val(), nil
}

func (s *RedisStore) Clear(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, failuresKey(key), blockKey(key)).Err(); err != nil {
		return fmt.Errorf("clear throttle key: %w", err)
	}
	return nil
}
