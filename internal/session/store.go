// ABOUTME: Session store contract, per-key mutual exclusion, and driver factory
// ABOUTME: Guarantees at most one in-progress state transition per (tenant, user)

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voxleaf/concierge-gateway/internal/config"
)

// Store errors
var (
	// ErrVersionConflict is returned by Save when the stored session has
	// advanced past the caller's copy. Only the redis driver can observe
	// this across processes; within one process the keyed lock prevents it.
	ErrVersionConflict = errors.New("session version conflict")
)

// Store is the conversation session store. Checkout acquires the session's
// key lock, creating the session lazily; the returned release func must be
// called once the transition (and Save) is done.
type Store interface {
	Checkout(ctx context.Context, tenantID, userID string) (*Session, func(), error)
	Save(ctx context.Context, s *Session) error
	Reset(ctx context.Context, tenantID, userID string) error
	Close() error
}

// New selects and builds the configured driver.
func New(cfg config.SessionsConfig, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(logger), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		// Fail fast if redis is unreachable rather than on the first message.
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
		}

		return NewRedisStore(client, cfg.TTL, logger), nil
	default:
		return nil, fmt.Errorf("unknown session driver %q", cfg.Driver)
	}
}

// keyedMutex serializes work per session key. The lock table only grows;
// entries are one mutex per active conversation, which is small enough to
// keep for process lifetime.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock blocks until the key's mutex is held.
func (k *keyedMutex) Lock(key string) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
}

// Unlock releases the key's mutex.
func (k *keyedMutex) Unlock(key string) {
	k.mu.Lock()
	m := k.locks[key]
	k.mu.Unlock()

	if m != nil {
		m.Unlock()
	}
}
