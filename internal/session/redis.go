// ABOUTME: Redis session store driver with TTL and optimistic version checks
// ABOUTME: JSON documents under session:{tenant}:{user}, TTL refreshed on read

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix namespaces session documents.
const redisKeyPrefix = "session:"

// defaultRedisTTL bounds how long an idle conversation survives.
const defaultRedisTTL = 24 * time.Hour

// RedisStore persists sessions in Redis. The in-process keyed mutex still
// serializes local handlers; the version check on Save is a backstop
// against a second gateway process writing the same session.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	locks  *keyedMutex
	logger *slog.Logger
}

// NewRedisStore creates the redis driver around an established client.
func NewRedisStore(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisStore {
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &RedisStore{
		client: client,
		ttl:    ttl,
		locks:  newKeyedMutex(),
		logger: logger.With("component", "session-store", "driver", "redis"),
	}
}

func (r *RedisStore) redisKey(key string) string {
	return redisKeyPrefix + key
}

// Checkout acquires the key lock and loads the session, creating it lazily.
// TTL is refreshed on every read so active conversations never expire.
func (r *RedisStore) Checkout(ctx context.Context, tenantID, userID string) (*Session, func(), error) {
	key := Key(tenantID, userID)
	r.locks.Lock(key)
	release := func() { r.locks.Unlock(key) }

	val, err := r.client.Get(ctx, r.redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return newSession(tenantID, userID), release, nil
	}
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("loading session %s: %w", key, err)
	}

	var s Session
	if err := json.Unmarshal([]byte(val), &s); err != nil {
		release()
		return nil, nil, fmt.Errorf("decoding session %s: %w", key, err)
	}

	if err := r.client.Expire(ctx, r.redisKey(key), r.ttl).Err(); err != nil {
		r.logger.Warn("failed to refresh session TTL", "key", key, "error", err)
	}

	return &s, release, nil
}

// Save writes the session with an optimistic version check: the stored
// version must match the version the caller checked out.
func (r *RedisStore) Save(ctx context.Context, s *Session) error {
	key := r.redisKey(s.Key())

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			// First save of a lazily-created session.
		case err != nil:
			return fmt.Errorf("re-reading session: %w", err)
		default:
			var stored Session
			if err := json.Unmarshal([]byte(val), &stored); err != nil {
				return fmt.Errorf("decoding stored session: %w", err)
			}
			if stored.Version != s.Version {
				return ErrVersionConflict
			}
		}

		s.Version++
		s.UpdatedAt = time.Now().UTC()

		raw, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("encoding session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, r.ttl)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, ErrVersionConflict) {
		return fmt.Errorf("session %s: %w", s.Key(), ErrVersionConflict)
	}
	return err
}

// Reset deletes the session document.
func (r *RedisStore) Reset(ctx context.Context, tenantID, userID string) error {
	key := Key(tenantID, userID)
	r.locks.Lock(key)
	defer r.locks.Unlock(key)

	if err := r.client.Del(ctx, r.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("deleting session %s: %w", key, err)
	}

	r.logger.Info("session reset", "tenant_id", tenantID, "user_id", userID)
	return nil
}

// Close releases the redis client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
