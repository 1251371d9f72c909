// ABOUTME: Tests for the webhook replay cache
// ABOUTME: Covers TTL expiry, capacity eviction, atomicity, and goroutine shutdown

package dedupe

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestCheckAndMark_NewKey(t *testing.T) {
	c := New(5*time.Minute, 100)
	defer c.Close()

	assert.False(t, c.CheckAndMark(Key("t1", "u1", "m1")), "first delivery passes")
	assert.True(t, c.CheckAndMark(Key("t1", "u1", "m1")), "re-delivery is absorbed")
}

func TestCheckAndMark_KeysScopedPerConversation(t *testing.T) {
	c := New(5*time.Minute, 100)
	defer c.Close()

	assert.False(t, c.CheckAndMark(Key("t1", "u1", "m1")))
	assert.False(t, c.CheckAndMark(Key("t1", "u2", "m1")), "same message id, different user")
	assert.False(t, c.CheckAndMark(Key("t2", "u1", "m1")), "same message id, different tenant")
}

func TestCheckAndMark_Expiry(t *testing.T) {
	c := New(10*time.Millisecond, 100)
	defer c.Close()

	assert.False(t, c.CheckAndMark("k"))
	assert.True(t, c.CheckAndMark("k"))

	time.Sleep(20 * time.Millisecond)
	assert.False(t, c.CheckAndMark("k"), "expired key is treated as new")
}

func TestEviction_OldestFirst(t *testing.T) {
	c := New(5*time.Minute, 3)
	defer c.Close()

	c.CheckAndMark("a")
	c.CheckAndMark("b")
	c.CheckAndMark("c")
	c.CheckAndMark("d") // evicts a

	assert.False(t, c.CheckAndMark("a"), "oldest key was evicted")
	assert.True(t, c.CheckAndMark("b"))
	assert.True(t, c.CheckAndMark("c"))
	assert.True(t, c.CheckAndMark("d"))
}

func TestEviction_ReMarkMovesToBack(t *testing.T) {
	c := New(5*time.Minute, 3)
	defer c.Close()

	c.CheckAndMark("a")
	c.CheckAndMark("b")
	c.CheckAndMark("c")
	c.CheckAndMark("a") // re-seen, moves to the back
	c.CheckAndMark("d") // evicts b, not a

	assert.True(t, c.CheckAndMark("a"))
	assert.False(t, c.CheckAndMark("b"))
}

func TestCheckAndMark_Atomic(t *testing.T) {
	c := New(5*time.Minute, 100)
	defer c.Close()

	const workers = 100
	var wins int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(workers)

	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if !c.CheckAndMark("contested") {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins, "exactly one delivery passes")
}

func TestDropExpired(t *testing.T) {
	c := New(10*time.Millisecond, 100)
	defer c.Close()

	c.CheckAndMark("a")
	c.CheckAndMark("b")
	time.Sleep(20 * time.Millisecond)

	c.dropExpired()
	assert.Zero(t, c.Len())
}

func TestClose_StopsSweeper(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := New(5*time.Minute, 100)
	c.CheckAndMark("k")
	c.Close()
	c.Close() // idempotent
}
