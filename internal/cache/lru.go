package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/geovision/geovision-backend/internal/models"
)

// LRU is the in-process tier: recency eviction at a fixed capacity plus a
// TTL. Keys are the normalizer's canonical digests, so near-duplicate draws
// already collapse before they reach here.
type LRU struct {
	mu   sync.Mutex
	cap  int
	ttl  time.Duration
	lst  *list.List
	dict map[string]*list.Element
}

type entry struct {
	key string
	res *models.AnalysisResult
	exp time.Time
}

// NewLRU returns an empty cache tier with the given capacity and TTL.
func NewLRU(capacity int, ttl time.Duration) *LRU {
	return &LRU{
		cap:  capacity,
		ttl:  ttl,
		lst:  list.New(),
		dict: make(map[string]*list.Element),
	}
}

// Get returns the cached result for key, dropping it if the TTL has passed.
func (c *LRU) Get(_ context.Context, key string) (*models.AnalysisResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.dict[key]
	if !ok {
		return nil, false
	}
	it := e.Value.(entry)
	if time.Now().After(it.exp) {
		c.lst.Remove(e)
		delete(c.dict, key)
		return nil, false
	}
	c.lst.MoveToFront(e)
	return it.res, true
}

// Put stores the result under key, evicting the least recently used entries
// past capacity.
func (c *LRU) Put(_ context.Context, key string, res *models.AnalysisResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it := entry{key: key, res: res, exp: time.Now().Add(c.ttl)}
	if e, ok := c.dict[key]; ok {
		e.Value = it
		c.lst.MoveToFront(e)
		return
	}
	c.dict[key] = c.lst.PushFront(it)
	for c.lst.Len() > c.cap {
		back := c.lst.Back()
		if back == nil {
			break
		}
		old := back.Value.(entry)
		delete(c.dict, old.key)
		c.lst.Remove(back)
	}
}
