package cache

import (
	"fmt"
	"testing"
	"time"
)

func TestCacheGetSet(t *testing.T) {
	c := New(4, 0)
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected miss on empty cache")
	}
	c.Set("a", 1)
	v, ok := c.Get("a")
	if !ok || v.(int) != 1 {
		t.Fatalf("Get(a) = (%v,%v)", v, ok)
	}
	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Size != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestCacheEvictsOldest(t *testing.T) {
	c := New(2, 0)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a") // refresh a
	c.Set("c", 3)
	if _, ok := c.Get("b"); ok {
		t.Fatalf("expected b evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("expected a retained")
	}
	if _, ok := c.Get("c"); !ok {
		t.Fatalf("expected c retained")
	}
}

func TestCacheTTL(t *testing.T) {
	c := New(4, time.Minute)
	base := time.Now()
	c.now = func() time.Time { return base }
	c.Set("a", 1)
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("expected hit before expiry")
	}
	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected expiry")
	}
	if c.Stats().Size != 0 {
		t.Fatalf("expired entry not dropped")
	}
}

func TestCacheDeleteAndClear(t *testing.T) {
	c := New(8, 0)
	for i := 0; i < 4; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
	}
	c.Delete("k0")
	if _, ok := c.Get("k0"); ok {
		t.Fatalf("expected k0 deleted")
	}
	c.Clear()
	if c.Stats().Size != 0 {
		t.Fatalf("clear left %d entries", c.Stats().Size)
	}
}
