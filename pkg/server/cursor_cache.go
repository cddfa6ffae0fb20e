package server

import (
	"container/list"
	"sync"
	"time"

	"github.com/adfharrison1/go-reql/pkg/datum"
)

// openCursor is the undelivered remainder of a stream, keyed by the token of
// the query that produced it.
type openCursor struct {
	token     uint64
	rest      []datum.Datum
	batchSize int
	lastUsed  time.Time
}

// cursorCache holds the open cursors of a session. When full, the least
// recently used cursor is evicted; a CONTINUE for it then fails.
type cursorCache struct {
	mu       sync.Mutex
	capacity int
	list     *list.List
	cursors  map[uint64]*list.Element
	evicted  func(c *openCursor)
}

func newCursorCache(capacity int, evicted func(c *openCursor)) *cursorCache {
	return &cursorCache{
		capacity: capacity,
		list:     list.New(),
		cursors:  make(map[uint64]*list.Element),
		evicted:  evicted,
	}
}

// take removes and returns the cursor for token.
func (cc *cursorCache) take(token uint64) (*openCursor, bool) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	element, exists := cc.cursors[token]
	if !exists {
		return nil, false
	}
	delete(cc.cursors, token)
	cc.list.Remove(element)
	return element.Value.(*openCursor), true
}

// advance cuts the next batch off the cursor for token. The cursor stays
// cached while items remain and is dropped with its last batch.
func (cc *cursorCache) advance(token uint64) (batch []datum.Datum, more, ok bool) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	element, exists := cc.cursors[token]
	if !exists {
		return nil, false, false
	}
	c := element.Value.(*openCursor)
	if len(c.rest) <= c.batchSize {
		delete(cc.cursors, token)
		cc.list.Remove(element)
		return c.rest, false, true
	}
	batch = c.rest[:c.batchSize]
	c.rest = c.rest[c.batchSize:]
	c.lastUsed = time.Now()
	cc.list.MoveToFront(element)
	return batch, true, true
}

func (cc *cursorCache) put(c *openCursor) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	c.lastUsed = time.Now()
	if element, exists := cc.cursors[c.token]; exists {
		element.Value = c
		cc.list.MoveToFront(element)
		return
	}
	cc.cursors[c.token] = cc.list.PushFront(c)

	if cc.list.Len() > cc.capacity {
		cc.evictOldest()
	}
}

func (cc *cursorCache) evictOldest() {
	element := cc.list.Back()
	if element == nil {
		return
	}
	c := element.Value.(*openCursor)
	delete(cc.cursors, c.token)
	cc.list.Remove(element)
	if cc.evicted != nil {
		cc.evicted(c)
	}
}

func (cc *cursorCache) remove(token uint64) bool {
	_, ok := cc.take(token)
	return ok
}

func (cc *cursorCache) clear() int {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	n := cc.list.Len()
	cc.list.Init()
	cc.cursors = make(map[uint64]*list.Element)
	return n
}

func (cc *cursorCache) len() int {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.list.Len()
}
