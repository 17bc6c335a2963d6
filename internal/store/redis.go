package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rendis/chatflow/pkg/schema"
)

// DefaultRedisPrefix namespaces every key written by RedisStore.
const DefaultRedisPrefix = "chatflow:"

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	KeyPrefix string        // default "chatflow:"
	TTL       time.Duration // 0 keeps snapshots forever
}

// RedisStore is a SnapshotStore backed by Redis. Snapshots are stored as JSON
// strings and finished threads are indexed in a sorted set scored by update
// time.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a snapshot store over an existing client.
func NewRedisStore(client redis.UniversalClient, opts RedisOptions) *RedisStore {
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix, ttl: opts.TTL}
}

// Ping checks that the server is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) snapshotKey(threadID string) string {
	return s.prefix + "snapshot:" + threadID
}

func (s *RedisStore) finishedKey() string {
	return s.prefix + "snapshots:finished"
}

func (s *RedisStore) Save(ctx context.Context, snap *schema.RuntimeSnapshot) error {
	if snap == nil || snap.ThreadID == "" {
		return schema.NewError(schema.ErrCodeValidation, "snapshot requires a thread id")
	}
	snap.UpdatedAt = timeOrNow(snap.UpdatedAt)
	data, err := schema.EncodeSnapshot(snap)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.snapshotKey(snap.ThreadID), data, s.ttl)
	if snap.Status.Terminal() {
		pipe.ZAdd(ctx, s.finishedKey(), redis.Z{Score: float64(snap.UpdatedAt.Unix()), Member: snap.ThreadID})
	} else {
		pipe.ZRem(ctx, s.finishedKey(), snap.ThreadID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.ThreadID, err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, threadID string) (*schema.RuntimeSnapshot, error) {
	data, err := s.client.Get(ctx, s.snapshotKey(threadID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storeNotFound("snapshot", threadID)
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", threadID, err)
	}
	return schema.DecodeSnapshot(data)
}

func (s *RedisStore) Delete(ctx context.Context, threadID string) error {
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, s.snapshotKey(threadID))
	pipe.ZRem(ctx, s.finishedKey(), threadID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", threadID, err)
	}
	if del.Val() == 0 {
		return storeNotFound("snapshot", threadID)
	}
	return nil
}

// ListFinished returns finished threads updated before olderThan. Entries
// whose snapshot already expired are dropped from the index.
func (s *RedisStore) ListFinished(ctx context.Context, olderThan time.Time) ([]string, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.finishedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(olderThan.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list finished snapshots: %w", err)
	}

	out := ids[:0]
	for _, id := range ids {
		n, err := s.client.Exists(ctx, s.snapshotKey(id)).Result()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			s.client.ZRem(ctx, s.finishedKey(), id)
			continue
		}
		out = append(out, id)
	}
	return out, nil
}
