// Package dedupe implements a bounded, time-windowed fingerprint cache used
// to suppress redundant handling of an exchange that was just seen. It is
// advisory de-noising only; the persistence layer performs its own
// authoritative duplicate check at save time.
package dedupe

import (
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultWindow is the span within which two matching fingerprints are
	// considered the same logical event.
	DefaultWindow = 5 * time.Second

	// DefaultMaxEntries bounds the number of tracked fingerprints.
	DefaultMaxEntries = 100
)

// Cache maps content fingerprints to the time they were last observed.
// Each adapter instance owns its own Cache; the zero value is not usable,
// construct with New.
type Cache struct {
	mu      sync.Mutex
	window  time.Duration
	maxSize int
	seen    map[string]time.Time
	now     func() time.Time
}

// New returns a Cache with the given window and entry limit. Non-positive
// arguments fall back to the defaults.
func New(window time.Duration, maxSize int) *Cache {
	if window <= 0 {
		window = DefaultWindow
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxEntries
	}
	return &Cache{
		window:  window,
		maxSize: maxSize,
		seen:    make(map[string]time.Time),
		now:     time.Now,
	}
}

// Seen reports whether fingerprint was observed within the window. When it
// was not, the observation is recorded and false is returned. A hit does not
// refresh the stored timestamp.
func (c *Cache) Seen(fingerprint string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.purge(now)
	if _, ok := c.seen[fingerprint]; ok {
		return true
	}
	c.seen[fingerprint] = now
	c.evict()
	return false
}

// Reset drops all tracked fingerprints. Intended for test isolation and for
// configuration reloads that change the window.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = make(map[string]time.Time)
}

// Reconfigure applies a new window and entry limit and drops all tracked
// fingerprints. Non-positive arguments fall back to the defaults.
func (c *Cache) Reconfigure(window time.Duration, maxSize int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if window <= 0 {
		window = DefaultWindow
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxEntries
	}
	c.window = window
	c.maxSize = maxSize
	c.seen = make(map[string]time.Time)
}

// Len returns the number of currently tracked fingerprints.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// purge drops entries older than the window.
func (c *Cache) purge(now time.Time) {
	for fp, at := range c.seen {
		if now.Sub(at) > c.window {
			delete(c.seen, fp)
		}
	}
}

// evict removes oldest-timestamp entries until the size limit holds.
func (c *Cache) evict() {
	if len(c.seen) <= c.maxSize {
		return
	}
	type entry struct {
		fp string
		at time.Time
	}
	entries := make([]entry, 0, len(c.seen))
	for fp, at := range c.seen {
		entries = append(entries, entry{fp, at})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].at.Before(entries[j].at) })
	for i := 0; len(c.seen) > c.maxSize && i < len(entries); i++ {
		delete(c.seen, entries[i].fp)
	}
}

// Fingerprint derives a cache key from normalized content fields.
func Fingerprint(parts ...string) string {
	return strings.Join(parts, ":")
}
