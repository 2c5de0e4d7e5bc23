package dedupe

import (
	"fmt"
	"testing"
	"time"
)

// fakeClock lets tests drive the cache's notion of now.
type fakeClock struct {
	at time.Time
}

func (f *fakeClock) now() time.Time          { return f.at }
func (f *fakeClock) advance(d time.Duration) { f.at = f.at.Add(d) }

func newTestCache(window time.Duration, maxSize int) (*Cache, *fakeClock) {
	clock := &fakeClock{at: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	c := New(window, maxSize)
	c.now = clock.now
	return c, clock
}

func TestSeenWithinWindow(t *testing.T) {
	c, clock := newTestCache(5*time.Second, 100)

	if c.Seen("fp") {
		t.Fatal("first observation must not be a duplicate")
	}
	clock.advance(2 * time.Second)
	if !c.Seen("fp") {
		t.Error("second observation within the window must be a duplicate")
	}
	if c.Seen("other") {
		t.Error("distinct fingerprint must not be a duplicate")
	}
}

func TestEntriesExpireAfterWindow(t *testing.T) {
	c, clock := newTestCache(5*time.Second, 100)

	c.Seen("fp")
	clock.advance(6 * time.Second)
	if c.Seen("fp") {
		t.Error("observation after the window must not be a duplicate")
	}
}

func TestHitDoesNotRefreshTimestamp(t *testing.T) {
	c, clock := newTestCache(5*time.Second, 100)

	c.Seen("fp")
	clock.advance(4 * time.Second)
	if !c.Seen("fp") {
		t.Fatal("expected duplicate within window")
	}
	// 6s after the first observation; the hit at 4s must not have extended it.
	clock.advance(2 * time.Second)
	if c.Seen("fp") {
		t.Error("duplicate hit must not extend the entry's lifetime")
	}
}

func TestOldestEvictedPastLimit(t *testing.T) {
	c, clock := newTestCache(time.Hour, 3)

	for i := 0; i < 3; i++ {
		c.Seen(fmt.Sprintf("fp-%d", i))
		clock.advance(time.Millisecond)
	}
	// Inserting past the limit evicts the oldest entry.
	c.Seen("fp-3")
	if c.Len() > 3 {
		t.Fatalf("cache exceeded limit: %d entries", c.Len())
	}
	if c.Seen("fp-0") {
		t.Error("oldest entry should have been evicted")
	}
	if !c.Seen("fp-3") {
		t.Error("newest entry should have been retained")
	}
}

func TestReset(t *testing.T) {
	c, _ := newTestCache(5*time.Second, 100)

	c.Seen("fp")
	c.Reset()
	if c.Seen("fp") {
		t.Error("reset cache must not remember fingerprints")
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 entry after re-observation, got %d", c.Len())
	}
}

func TestReconfigureChangesWindow(t *testing.T) {
	c, clock := newTestCache(5*time.Second, 100)

	c.Reconfigure(time.Minute, 10)
	c.now = clock.now

	c.Seen("fp")
	clock.advance(30 * time.Second)
	if !c.Seen("fp") {
		t.Error("expected duplicate under the widened window")
	}
}
