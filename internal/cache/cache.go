// Package cache maps canonical request keys to completed analysis results.
// Entries are immutable: the same key always resolves to the same answer, so
// eviction is purely a memory bound, never a correctness concern.
package cache

import (
	"context"
	"time"

	"github.com/geovision/geovision-backend/internal/logger"
	"github.com/geovision/geovision-backend/internal/models"
)

// Store is the read/write surface the orchestrator uses.
type Store interface {
	Get(ctx context.Context, key string) (*models.AnalysisResult, bool)
	Put(ctx context.Context, key string, res *models.AnalysisResult)
}

// Tiered fronts an optional backing store (Redis) with an in-process LRU.
// A missing or unreachable backing store degrades to memory-only.
type Tiered struct {
	mem     *LRU
	backing Store
}

// New builds the cache. redisURL may be empty; an unreachable Redis is
// logged and skipped so the service still starts.
func New(capacity int, ttl time.Duration, redisURL string) *Tiered {
	t := &Tiered{mem: NewLRU(capacity, ttl)}
	if redisURL == "" {
		return t
	}
	backing, err := openRedis(redisURL, ttl)
	if err != nil {
		logger.L().Warn("result cache running memory-only", "err", err)
		return t
	}
	t.backing = backing
	return t
}

// Get checks the memory tier first, then the backing store, refilling the
// memory tier on a backing hit.
func (t *Tiered) Get(ctx context.Context, key string) (*models.AnalysisResult, bool) {
	if res, ok := t.mem.Get(ctx, key); ok {
		return res, true
	}
	if t.backing == nil {
		return nil, false
	}
	res, ok := t.backing.Get(ctx, key)
	if ok {
		t.mem.Put(ctx, key, res)
	}
	return res, ok
}

// Put writes through to both tiers.
func (t *Tiered) Put(ctx context.Context, key string, res *models.AnalysisResult) {
	t.mem.Put(ctx, key, res)
	if t.backing != nil {
		t.backing.Put(ctx, key, res)
	}
}
