package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "rostrum:checkpoint:"
	redisIndexKey  = "rostrum:checkpoints"
)

// RedisStore keeps checkpoint blobs as string values with a sorted-set
// recency index. With a TTL configured, values expire on their own and the
// index is swept of expired scores on each listing.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore wraps an existing client. A zero ttl keeps checkpoints
// until deleted.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func redisKey(id string) string {
	return redisKeyPrefix + id
}

// Write stores a new checkpoint blob. SETNX keeps existing values intact.
func (s *RedisStore) Write(ctx context.Context, id string, blob []byte) error {
	ok, err := s.client.SetNX(ctx, redisKey(id), blob, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	if !ok {
		return errExists(id)
	}

	err = s.client.ZAdd(ctx, redisIndexKey, redis.Z{
		Score:  float64(time.Now().UnixMilli()),
		Member: id,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to index checkpoint: %w", err)
	}
	return nil
}

// Read returns the blob for id.
func (s *RedisStore) Read(ctx context.Context, id string) ([]byte, error) {
	blob, err := s.client.Get(ctx, redisKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, errNotFound(id)
		}
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return blob, nil
}

// ListRecent returns checkpoint metadata newest-first.
func (s *RedisStore) ListRecent(ctx context.Context, limit int) ([]Meta, error) {
	if s.ttl > 0 {
		// Values past the TTL have expired; drop their index entries.
		cutoff := time.Now().Add(-s.ttl).UnixMilli()
		if err := s.client.ZRemRangeByScore(ctx, redisIndexKey, "-inf", fmt.Sprintf("%d", cutoff)).Err(); err != nil {
			return nil, fmt.Errorf("failed to sweep checkpoint index: %w", err)
		}
	}

	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	entries, err := s.client.ZRevRangeWithScores(ctx, redisIndexKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	metas := make([]Meta, 0, len(entries))
	for _, entry := range entries {
		id, ok := entry.Member.(string)
		if !ok {
			continue
		}
		metas = append(metas, Meta{
			ID:        id,
			CreatedAt: time.UnixMilli(int64(entry.Score)),
		})
	}
	return metas, nil
}

// Delete removes one checkpoint and its index entry.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, redisKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	if err := s.client.ZRem(ctx, redisIndexKey, id).Err(); err != nil {
		return fmt.Errorf("failed to unindex checkpoint: %w", err)
	}
	if n == 0 {
		return errNotFound(id)
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
