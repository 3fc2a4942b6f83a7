package lru

import (
	"sync"
	"testing"
	"time"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestBasicGetPut(t *testing.T) {
	c := New[string, int](2)

	c.Put("a", 1)
	c.Put("b", 2)

	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("expected a=1, got %v %v", v, ok)
	}
	if v, ok := c.Get("b"); !ok || v != 2 {
		t.Fatalf("expected b=2, got %v %v", v, ok)
	}
}

func TestEviction(t *testing.T) {
	c := New[string, int](2)

	c.Put("a", 1)
	c.Put("b", 2)
	c.Get("a") // "b" becomes LRU

	evKey, evVal, evicted := c.Put("c", 3)
	if !evicted || evKey != "b" || evVal != 2 {
		t.Fatalf("expected eviction of b=2, got key=%v val=%v evicted=%v", evKey, evVal, evicted)
	}
	if _, ok := c.Get("b"); ok {
		t.Fatal("expected 'b' to be evicted")
	}
	if v, ok := c.Get("c"); !ok || v != 3 {
		t.Fatalf("expected c=3, got %v %v", v, ok)
	}
}

func TestUpdateExisting(t *testing.T) {
	c := New[string, int](2)

	c.Put("a", 1)
	c.Put("b", 2)

	if _, _, evicted := c.Put("a", 10); evicted {
		t.Fatal("update should not evict")
	}
	if v, _ := c.Get("a"); v != 10 {
		t.Fatalf("expected a=10 after update, got %v", v)
	}
	if c.Len() != 2 {
		t.Fatalf("expected len=2, got %d", c.Len())
	}
}

func TestDeleteAndTake(t *testing.T) {
	c := New[string, int](2)

	c.Put("a", 1)
	c.Put("b", 2)

	if !c.Delete("a") {
		t.Fatal("expected delete to return true")
	}
	if c.Delete("a") {
		t.Fatal("expected delete of missing key to return false")
	}

	v, ok := c.Take("b")
	if !ok || v != 2 {
		t.Fatalf("expected take b=2, got %v %v", v, ok)
	}
	if _, ok := c.Take("b"); ok {
		t.Fatal("second take must miss")
	}
	if c.Len() != 0 {
		t.Fatalf("expected empty cache, got %d", c.Len())
	}
}

func TestPeekDoesNotPromote(t *testing.T) {
	c := New[string, int](2)

	c.Put("a", 1)
	c.Put("b", 2)

	if v, ok := c.Peek("a"); !ok || v != 1 {
		t.Fatalf("expected peek a=1, got %v %v", v, ok)
	}

	c.Put("c", 3)
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected 'a' evicted after peek")
	}
}

func TestKeysOrder(t *testing.T) {
	c := New[string, int](3)

	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)
	c.Get("a")

	keys := c.Keys()
	expected := []string{"a", "c", "b"}
	if len(keys) != len(expected) {
		t.Fatalf("expected %d keys, got %d", len(expected), len(keys))
	}
	for i, k := range expected {
		if keys[i] != k {
			t.Fatalf("keys[%d] expected %s, got %s", i, k, keys[i])
		}
	}
}

func TestClear(t *testing.T) {
	c := New[string, int](3)

	c.Put("a", 1)
	c.Put("b", 2)
	c.Clear()

	if c.Len() != 0 {
		t.Fatalf("expected len=0 after clear, got %d", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected empty cache after clear")
	}
}

func TestPanicOnZeroCapacity(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on zero capacity")
		}
	}()
	New[string, int](0)
}

func TestTTLExpiration(t *testing.T) {
	clk := &clock{now: time.Now()}
	c := New[string, int](10, WithTTL[string, int](100*time.Millisecond), WithClock[string, int](clk.Now))

	c.Put("a", 1)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("expected a=1 before expiry, got %v %v", v, ok)
	}

	clk.Advance(100 * time.Millisecond)
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected 'a' to be expired at its deadline")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry should be dropped on access, len=%d", c.Len())
	}
}

func TestTTLUpdateResetsDeadline(t *testing.T) {
	clk := &clock{now: time.Now()}
	c := New[string, int](10, WithTTL[string, int](100*time.Millisecond), WithClock[string, int](clk.Now))

	c.Put("a", 1)
	clk.Advance(80 * time.Millisecond)
	c.Put("a", 2)
	clk.Advance(70 * time.Millisecond)

	if v, ok := c.Get("a"); !ok || v != 2 {
		t.Fatalf("expected a=2 after TTL reset, got %v %v", v, ok)
	}
}

func TestPeekTakeAndKeysRespectExpiration(t *testing.T) {
	clk := &clock{now: time.Now()}
	c := New[string, int](10, WithTTL[string, int](time.Minute), WithClock[string, int](clk.Now))

	c.Put("old", 1)
	clk.Advance(30 * time.Second)
	c.Put("new", 2)
	clk.Advance(45 * time.Second)

	if _, ok := c.Peek("old"); ok {
		t.Fatal("expected Peek to miss an expired entry")
	}
	if _, ok := c.Take("old"); ok {
		t.Fatal("expected Take to miss an expired entry")
	}
	keys := c.Keys()
	if len(keys) != 1 || keys[0] != "new" {
		t.Fatalf("expected only 'new', got %v", keys)
	}
}

func TestPurge(t *testing.T) {
	clk := &clock{now: time.Now()}
	c := New[string, int](10, WithTTL[string, int](time.Minute), WithClock[string, int](clk.Now))

	c.Put("a", 1)
	c.Put("b", 2)
	clk.Advance(30 * time.Second)
	c.Put("c", 3)
	clk.Advance(31 * time.Second)

	if n := c.Purge(); n != 2 {
		t.Fatalf("expected 2 purged, got %d", n)
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 remaining, got %d", c.Len())
	}
}

func TestOnEvictCallback(t *testing.T) {
	var evictedKeys []string

	c := New[string, int](2, WithOnEvict[string, int](func(k string, v int) {
		evictedKeys = append(evictedKeys, k)
	}))

	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)
	c.Delete("b")

	if len(evictedKeys) != 1 || evictedKeys[0] != "a" {
		t.Fatalf("expected eviction callback for a only, got %v", evictedKeys)
	}
}

func TestOnEvictCalledOnExpiry(t *testing.T) {
	clk := &clock{now: time.Now()}
	var evictedKey string

	c := New[string, int](10,
		WithTTL[string, int](100*time.Millisecond),
		WithClock[string, int](clk.Now),
		WithOnEvict[string, int](func(k string, v int) { evictedKey = k }),
	)

	c.Put("a", 1)
	clk.Advance(200 * time.Millisecond)
	c.Get("a")

	if evictedKey != "a" {
		t.Fatalf("expected OnEvict for 'a' on expiry, got '%s'", evictedKey)
	}
}

func TestMetrics(t *testing.T) {
	clk := &clock{now: time.Now()}
	c := New[string, int](2, WithTTL[string, int](time.Second), WithClock[string, int](clk.Now))

	c.Put("a", 1)
	c.Put("b", 2)
	c.Get("a")
	c.Get("b")
	c.Get("missing")
	c.Put("c", 3)

	clk.Advance(2 * time.Second)
	c.Get("c")

	m := c.Metrics()
	if m.Hits != 2 || m.Misses != 2 || m.Evictions != 1 || m.Expirations != 1 {
		t.Fatalf("unexpected metrics %+v", m)
	}
	if r := m.HitRate(); r < 0.49 || r > 0.51 {
		t.Fatalf("expected 0.5 hit rate, got %f", r)
	}
	if (Metrics{}).HitRate() != 0 {
		t.Fatal("empty metrics should report zero hit rate")
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New[int, int](100)
	var wg sync.WaitGroup

	for g := 0; g < 10; g++ {
		wg.Add(2)
		go func(offset int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				c.Put(offset*1000+i, i)
			}
		}(g)
		go func(offset int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				c.Get(offset*1000 + i)
			}
		}(g)
	}
	wg.Wait()

	if c.Len() > 100 {
		t.Fatalf("capacity exceeded: %d", c.Len())
	}
}
