package async

import (
	"sync"
	"testing"
	"time"

	wtest "github.com/teranos/watchtower/internal/testing"
)

// testClock advances by one second on every read, so consecutive creates
// always get distinct, increasing timestamps.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

// Peek returns the current time without advancing
func (c *testClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

type storeFactory struct {
	name string
	new  func(t *testing.T, clock *testClock) JobStore
}

// jobStores lists every JobStore implementation; contract tests run against each
func jobStores() []storeFactory {
	return []storeFactory{
		{"sqlite", func(t *testing.T, clock *testClock) JobStore {
			return NewStore(wtest.CreateTestDB(t)).WithClock(clock.Now)
		}},
		{"memory", func(t *testing.T, clock *testClock) JobStore {
			return NewMemoryStore().WithClock(clock.Now)
		}},
	}
}
