// ABOUTME: Replay cache absorbing webhook re-deliveries of inbound messages
// ABOUTME: TTL plus max-entry bounded; oldest keys are evicted first

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// sweepInterval is how often the background sweeper drops expired keys.
const sweepInterval = time.Minute

type entry struct {
	seenAt  time.Time
	element *list.Element
}

// Cache remembers recently handled message keys so a re-delivered
// webhook payload never reaches the conversation engine twice.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*entry
	order      *list.List
	ttl        time.Duration
	maxEntries int
	done       chan struct{}
	closed     bool
}

// New creates a replay cache and starts its sweeper goroutine.
func New(ttl time.Duration, maxEntries int) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 10000
	}

	c := &Cache{
		entries:    make(map[string]*entry),
		order:      list.New(),
		ttl:        ttl,
		maxEntries: maxEntries,
		done:       make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Key builds the replay key for one inbound message.
func Key(tenantID, userID, messageID string) string {
	return tenantID + ":" + userID + ":" + messageID
}

// CheckAndMark reports whether the key was already seen, marking it in
// the same critical section so concurrent re-deliveries cannot both pass.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok && time.Since(e.seenAt) < c.ttl {
		return true
	}

	c.markLocked(key)
	return false
}

// Len returns the number of live keys.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) markLocked(key string) {
	now := time.Now()

	if e, ok := c.entries[key]; ok {
		e.seenAt = now
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}

	elem := c.order.PushBack(key)
	c.entries[key] = &entry{seenAt: now, element: elem}
}

func (c *Cache) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, key)
}

func (c *Cache) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.dropExpired()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) dropExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, e := range c.entries {
		if now.Sub(e.seenAt) > c.ttl {
			c.order.Remove(e.element)
			delete(c.entries, key)
		}
	}
}

// Close stops the sweeper. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
