package cache

import (
	"context"
	"testing"
	"time"

	"github.com/geovision/geovision-backend/internal/models"
)

func result(tag string) *models.AnalysisResult {
	return &models.AnalysisResult{AnalysisType: "NDVI", Narration: tag}
}

func TestLRURoundTrip(t *testing.T) {
	c := NewLRU(4, time.Minute)
	ctx := context.Background()

	want := result("roundtrip")
	c.Put(ctx, "k1", want)

	got, ok := c.Get(ctx, "k1")
	if !ok {
		t.Fatalf("expected hit")
	}
	if got != want {
		t.Errorf("got a different result back")
	}
	if _, ok := c.Get(ctx, "absent"); ok {
		t.Errorf("unexpected hit for absent key")
	}
}

func TestLRUCapacityEviction(t *testing.T) {
	c := NewLRU(2, time.Minute)
	ctx := context.Background()

	c.Put(ctx, "a", result("a"))
	c.Put(ctx, "b", result("b"))
	// Touch "a" so "b" is the least recently used entry.
	if _, ok := c.Get(ctx, "a"); !ok {
		t.Fatalf("expected hit for a")
	}
	c.Put(ctx, "c", result("c"))

	if _, ok := c.Get(ctx, "b"); ok {
		t.Errorf("b should have been evicted")
	}
	if _, ok := c.Get(ctx, "a"); !ok {
		t.Errorf("a should have survived")
	}
	if _, ok := c.Get(ctx, "c"); !ok {
		t.Errorf("c should be present")
	}
}

func TestLRUTTLExpiry(t *testing.T) {
	c := NewLRU(4, 10*time.Millisecond)
	ctx := context.Background()

	c.Put(ctx, "k", result("k"))
	if _, ok := c.Get(ctx, "k"); !ok {
		t.Fatalf("expected hit before expiry")
	}
	time.Sleep(25 * time.Millisecond)
	if _, ok := c.Get(ctx, "k"); ok {
		t.Errorf("entry should have expired")
	}
}

func TestLRUOverwriteSameKey(t *testing.T) {
	c := NewLRU(2, time.Minute)
	ctx := context.Background()

	c.Put(ctx, "k", result("old"))
	c.Put(ctx, "k", result("new"))

	got, ok := c.Get(ctx, "k")
	if !ok {
		t.Fatalf("expected hit")
	}
	if got.Narration != "new" {
		t.Errorf("got %q, want the overwritten value", got.Narration)
	}
}

func TestTieredMemoryOnly(t *testing.T) {
	c := New(4, time.Minute, "")
	ctx := context.Background()

	if c.backing != nil {
		t.Fatalf("empty REDIS_URL should not configure a backing store")
	}

	want := result("tiered")
	c.Put(ctx, "k", want)
	got, ok := c.Get(ctx, "k")
	if !ok || got != want {
		t.Errorf("tiered cache lost the entry")
	}
}

func TestTieredUnreachableRedisDegrades(t *testing.T) {
	// Nothing listens on this port; construction must still succeed.
	c := New(4, time.Minute, "redis://127.0.0.1:1/0")
	if c.backing != nil {
		t.Errorf("unreachable redis should leave the cache memory-only")
	}

	ctx := context.Background()
	c.Put(ctx, "k", result("degraded"))
	if _, ok := c.Get(ctx, "k"); !ok {
		t.Errorf("memory tier should still work")
	}
}
