package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestPutGet(t *testing.T) {
	c := New(Options[string, string]{Capacity: 10})
	defer c.Close()

	c.Put("k", "v1")
	if got, ok := c.Get("k"); !ok || got != "v1" {
		t.Fatalf("Get = %q, %v; want v1, true", got, ok)
	}

	c.Put("k", "v2")
	if got, _ := c.Get("k"); got != "v2" {
		t.Fatalf("Put on existing key did not replace value: got %q", got)
	}
	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1", c.Len())
	}
}

func TestCapacityInvariant(t *testing.T) {
	c := New(Options[string, int]{Capacity: 7})
	defer c.Close()

	for i := 0; i < 100; i++ {
		c.Put(fmt.Sprintf("key%d", i), i)
		if n := len(c.Keys()); n > 7 {
			t.Fatalf("after %d puts, %d keys exceed capacity 7", i+1, n)
		}
	}
}

func TestLRUEviction(t *testing.T) {
	c := New(Options[string, string]{Capacity: 5})
	defer c.Close()

	for i := 0; i < 5; i++ {
		c.Put(fmt.Sprintf("key%d", i), fmt.Sprintf("value%d", i))
	}
	// Reverse the recency order: key4 becomes least recently used.
	for _, k := range []string{"key4", "key3", "key2", "key1", "key0"} {
		if _, ok := c.Get(k); !ok {
			t.Fatalf("warm-up Get(%s) missed", k)
		}
	}

	c.Put("key6", "value6")

	if _, ok := c.Get("key4"); ok {
		t.Error("key4 should have been evicted as least recently used")
	}
	if got, ok := c.Get("key0"); !ok || got != "value0" {
		t.Errorf("Get(key0) = %q, %v; want value0, true", got, ok)
	}
	if got, ok := c.Get("key6"); !ok || got != "value6" {
		t.Errorf("Get(key6) = %q, %v; want value6, true", got, ok)
	}
}

func TestIdleEviction(t *testing.T) {
	c := New(Options[string, string]{Capacity: 10, MaxIdle: 5 * time.Second})
	defer c.Close()

	base := time.Now()
	c.now = func() time.Time { return base }
	c.Put("key1", "value1")

	// Before the threshold the entry is alive.
	c.now = func() time.Time { return base.Add(4 * time.Second) }
	if _, ok := c.Get("key1"); !ok {
		t.Fatal("entry evicted before idle threshold")
	}

	// Past the threshold (idle resets on the access above).
	c.now = func() time.Time { return base.Add(10 * time.Second) }
	if _, ok := c.Get("key1"); ok {
		t.Error("entry survived past idle threshold")
	}
}

func TestMaxAgeBoundsHotEntries(t *testing.T) {
	c := New(Options[string, string]{
		Capacity: 10,
		MaxIdle:  5 * time.Second,
		MaxAge:   20 * time.Second,
	})
	defer c.Close()

	base := time.Now()
	c.now = func() time.Time { return base }
	c.Put("hot", "v")

	// Keep the entry hot: never idle longer than MaxIdle.
	for s := 2; s <= 20; s += 2 {
		c.now = func() time.Time { return base.Add(time.Duration(s) * time.Second) }
		if _, ok := c.Get("hot"); !ok {
			t.Fatalf("entry evicted at %ds, before its age bound", s)
		}
	}

	c.now = func() time.Time { return base.Add(21 * time.Second) }
	if _, ok := c.Get("hot"); ok {
		t.Error("continuously hit entry survived past MaxAge")
	}
}

func TestMaxAgeRestartsOnReplace(t *testing.T) {
	c := New(Options[string, string]{Capacity: 10, MaxAge: 10 * time.Second})
	defer c.Close()

	base := time.Now()
	c.now = func() time.Time { return base }
	c.Put("k", "v1")

	c.now = func() time.Time { return base.Add(8 * time.Second) }
	c.Put("k", "v2")

	c.now = func() time.Time { return base.Add(15 * time.Second) }
	if got, ok := c.Get("k"); !ok || got != "v2" {
		t.Fatalf("Get = %q, %v; replaced value should age from its own store", got, ok)
	}

	c.now = func() time.Time { return base.Add(19 * time.Second) }
	if _, ok := c.Get("k"); ok {
		t.Error("replaced value survived past its restarted age bound")
	}
}

func TestSweepEvictsAndNotifies(t *testing.T) {
	var mu sync.Mutex
	evicted := map[string]string{}

	c := New(Options[string, string]{
		Capacity: 10,
		MaxIdle:  5 * time.Second,
		OnEvict: func(k, v string) {
			mu.Lock()
			evicted[k] = v
			mu.Unlock()
		},
	})
	defer c.Close()

	base := time.Now()
	c.now = func() time.Time { return base }
	c.Put("stale", "s")
	c.Put("fresh", "f")

	c.now = func() time.Time { return base.Add(6 * time.Second) }
	c.Get("fresh") // refresh recency

	c.now = func() time.Time { return base.Add(8 * time.Second) }
	c.sweep()

	mu.Lock()
	defer mu.Unlock()
	if v, ok := evicted["stale"]; !ok || v != "s" {
		t.Errorf("eviction callback not invoked for stale entry: %v", evicted)
	}
	if _, ok := evicted["fresh"]; ok {
		t.Error("fresh entry swept despite recent access")
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

func TestCapacityEvictionNotifies(t *testing.T) {
	var got []string
	c := New(Options[string, int]{
		Capacity: 2,
		OnEvict:  func(k string, _ int) { got = append(got, k) },
	})
	defer c.Close()

	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)

	if len(got) != 1 || got[0] != "a" {
		t.Fatalf("evicted = %v, want [a]", got)
	}
}

func TestRemoveSkipsCallback(t *testing.T) {
	calls := 0
	c := New(Options[string, int]{Capacity: 4, OnEvict: func(string, int) { calls++ }})
	defer c.Close()

	c.Put("a", 1)
	if !c.Remove("a") {
		t.Fatal("Remove(a) = false")
	}
	if c.Remove("a") {
		t.Fatal("second Remove(a) = true")
	}
	if calls != 0 {
		t.Fatalf("explicit Remove invoked eviction callback %d times", calls)
	}
}

func TestCounters(t *testing.T) {
	c := New(Options[string, int]{Capacity: 4})
	defer c.Close()

	c.Put("a", 1)
	c.Get("a")
	c.Get("a")
	c.Get("missing")

	hits, misses := c.Stats()
	if hits != 2 || misses != 1 {
		t.Fatalf("Stats = %d hits, %d misses; want 2, 1", hits, misses)
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New(Options[int, int]{Capacity: 50})
	defer c.Close()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				k := (w*31 + i) % 200
				c.Put(k, i)
				c.Get(k)
			}
		}(w)
	}
	wg.Wait()

	if n := c.Len(); n > 50 {
		t.Fatalf("capacity invariant violated under contention: %d entries", n)
	}
}
