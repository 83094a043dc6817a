package debounce

import (
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Key identifies a stream of duplicate events: one recording, one label.
type Key struct {
	RecordingID uint
	Label       string
}

func (k Key) String() string {
	return fmt.Sprintf("%d_%s", k.RecordingID, k.Label)
}

// LastSeenLookup is the durable fallback consulted on a cache miss.
type LastSeenLookup interface {
	LastIncidentTime(recordingID uint, className string) (time.Time, bool, error)
}

// Cache maps event keys to the timestamp of their last accepted incident.
// One instance is shared by every task loop in the process. Entries never
// expire; the key space is bounded by active recordings times labels.
type Cache struct {
	mu      sync.Mutex
	entries *gocache.Cache
}

func New() *Cache {
	return &Cache{entries: gocache.New(gocache.NoExpiration, 0)}
}

// ShouldSkip reports whether an event for key at now falls inside window of
// the last accepted one. On a miss the newest stored incident seeds the
// entry. A skipped event leaves the entry untouched.
func (c *Cache) ShouldSkip(lookup LastSeenLookup, key Key, now time.Time, window time.Duration) (bool, error) {
	last, ok := c.LastSeen(key)
	if !ok && lookup != nil {
		ts, found, err := lookup.LastIncidentTime(key.RecordingID, key.Label)
		if err != nil {
			return false, fmt.Errorf("debounce lookup for %s: %w", key, err)
		}
		if found {
			last, ok = c.seed(key, ts), true
		}
	}
	if !ok {
		return false, nil
	}
	return now.UTC().Sub(last) < window, nil
}

// Accept records ts as the last accepted event for key. Callers do this
// before persisting so a slow write cannot let a duplicate through.
func (c *Cache) Accept(key Key, ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Set(key.String(), ts.UTC(), gocache.NoExpiration)
}

func (c *Cache) LastSeen(key Key) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.get(key)
}

func (c *Cache) Len() int {
	return c.entries.ItemCount()
}

// seed stores a looked-up timestamp unless a loop accepted a newer one while
// the lookup ran, and returns whichever value is now current.
func (c *Cache) seed(key Key, ts time.Time) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.get(key); ok && !cur.Before(ts) {
		return cur
	}
	ts = ts.UTC()
	c.entries.Set(key.String(), ts, gocache.NoExpiration)
	return ts
}

func (c *Cache) get(key Key) (time.Time, bool) {
	v, ok := c.entries.Get(key.String())
	if !ok {
		return time.Time{}, false
	}
	return v.(time.Time), true
}
