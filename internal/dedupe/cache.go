// ABOUTME: TTL-bounded cache of recently accepted send requests, keyed by user and request id
// ABOUTME: Lets a client resend a frame after a dropped connection without posting twice

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Default window and capacity for send deduplication.
const (
	DefaultTTL     = 5 * time.Minute
	DefaultMaxSize = 100_000
)

type entry struct {
	key       string
	messageID string
	at        time.Time
	element   *list.Element
}

// Cache remembers which message a request produced. Entries expire after the
// TTL; when full, the oldest entry is evicted.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// New creates a cache. Non-positive arguments take the defaults.
func New(ttl time.Duration, maxSize int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Cache{
		entries: make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Key builds the cache key for a user's request.
func Key(userID, requestID string) string {
	return userID + "\x00" + requestID
}

// Lookup returns the message a key produced, if it is still within the window.
func (c *Cache) Lookup(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.now().Sub(e.at) >= c.ttl {
		c.removeLocked(e)
		return "", false
	}
	return e.messageID, true
}

// Reserve claims key for a send that is about to run. It reports false, with
// the message the key produced if known, when the key is already claimed or
// completed within the window. A pending claim has an empty message ID.
func (c *Cache) Reserve(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.entries[key]; ok {
		if now.Sub(e.at) < c.ttl {
			return e.messageID, false
		}
		c.removeLocked(e)
	}
	c.insertLocked(key, "", now)
	return "", true
}

// Release drops a pending claim so the request can be retried. Completed
// entries are left alone.
func (c *Cache) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok && e.messageID == "" {
		c.removeLocked(e)
	}
}

// Remember records that key produced messageID.
func (c *Cache) Remember(key, messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.entries[key]; ok {
		e.messageID = messageID
		e.at = now
		c.order.MoveToBack(e.element)
		return
	}
	c.insertLocked(key, messageID, now)
}

func (c *Cache) insertLocked(key, messageID string, now time.Time) {
	c.expireLocked(now)
	if len(c.entries) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			c.removeLocked(front.Value.(*entry))
		}
	}

	e := &entry{key: key, messageID: messageID, at: now}
	e.element = c.order.PushBack(e)
	c.entries[key] = e
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked(c.now())
	return len(c.entries)
}

// expireLocked drops expired entries from the front. Insertion order is
// refresh order, so the scan stops at the first live entry.
func (c *Cache) expireLocked(now time.Time) {
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		e := front.Value.(*entry)
		if now.Sub(e.at) < c.ttl {
			return
		}
		c.removeLocked(e)
	}
}

func (c *Cache) removeLocked(e *entry) {
	c.order.Remove(e.element)
	delete(c.entries, e.key)
}
