package tilecache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mmartin/tileserv/internal/tileid"
)

func key(id string, z uint8, x, y uint32) Key {
	return Key{SourceID: id, Coord: tileid.Coord{Z: z, X: x, Y: y}}
}

func TestGetOrInsertDedupesConcurrentCompute(t *testing.T) {
	c := New(Options{})
	var calls int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	results := make([]Tile, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			tile, err := c.GetOrInsert(key("s", 0, 0, 0), func() (Tile, error) {
				atomic.AddInt32(&calls, 1)
				time.Sleep(10 * time.Millisecond)
				return Tile{Data: []byte("x")}, nil
			})
			if err != nil {
				t.Error(err)
			}
			results[i] = tile
		}(i)
	}
	close(start)
	wg.Wait()
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("compute called %d times, want exactly 1", got)
	}
}

func TestGetOrInsertErrorNotMemoized(t *testing.T) {
	c := New(Options{})
	k := key("s", 0, 0, 0)
	_, err := c.GetOrInsert(k, func() (Tile, error) {
		return Tile{}, errBoom
	})
	if err != errBoom {
		t.Fatalf("expected errBoom, got %v", err)
	}
	if _, ok := c.Get(k); ok {
		t.Fatal("failed compute must not be memoized")
	}
}

type boomErr string

func (e boomErr) Error() string { return string(e) }

const errBoom = boomErr("boom")

func TestTTLExpiry(t *testing.T) {
	c := New(Options{TTL: 20 * time.Millisecond})
	k := key("s", 0, 0, 0)
	c.insert(k, Tile{Data: []byte("x")})
	time.Sleep(30 * time.Millisecond)
	c.Sync()
	if _, ok := c.Get(k); ok {
		t.Fatal("expected TTL expiry")
	}
}

func TestTTIExpiryResetsOnAccess(t *testing.T) {
	c := New(Options{TTI: 30 * time.Millisecond})
	k := key("s", 0, 0, 0)
	c.insert(k, Tile{Data: []byte("x")})

	time.Sleep(15 * time.Millisecond)
	if _, ok := c.Get(k); !ok {
		t.Fatal("expected hit before TTI elapses")
	}
	time.Sleep(15 * time.Millisecond)
	if _, ok := c.Get(k); !ok {
		t.Fatal("access should have reset the TTI clock")
	}
	time.Sleep(40 * time.Millisecond)
	c.Sync()
	if _, ok := c.Get(k); ok {
		t.Fatal("expected TTI expiry after idle period")
	}
}

func TestCombinedTTLAndTTITakesEarliestExpiry(t *testing.T) {
	c := New(Options{TTL: 20 * time.Millisecond, TTI: time.Hour})
	k := key("s", 0, 0, 0)
	c.insert(k, Tile{Data: []byte("x")})
	// Keep reading to reset TTI, but TTL is absolute from insert and
	// should win regardless.
	for i := 0; i < 3; i++ {
		time.Sleep(8 * time.Millisecond)
		c.Get(k)
	}
	time.Sleep(10 * time.Millisecond)
	c.Sync()
	if _, ok := c.Get(k); ok {
		t.Fatal("TTL should expire the entry even though TTI keeps getting reset")
	}
}

func TestNoExpiryOnlyEvictsOnSize(t *testing.T) {
	c := New(Options{MaxCapacityBytes: 10})
	c.insert(key("s", 0, 0, 0), Tile{Data: []byte("01234")})
	c.insert(key("s", 0, 1, 0), Tile{Data: []byte("56789")})
	if c.WeightedSize() != 10 {
		t.Fatalf("weighted size = %d, want 10", c.WeightedSize())
	}
	// A third insert exceeds capacity and must evict the oldest.
	c.insert(key("s", 0, 2, 0), Tile{Data: []byte("abcde")})
	if c.WeightedSize() > 10 {
		t.Fatalf("weighted size = %d exceeds capacity", c.WeightedSize())
	}
	if _, ok := c.Get(key("s", 0, 0, 0)); ok {
		t.Fatal("oldest entry should have been evicted")
	}
}

func TestInvalidateSource(t *testing.T) {
	c := New(Options{})
	c.insert(key("a", 0, 0, 0), Tile{Data: []byte("x")})
	c.insert(key("b", 0, 0, 0), Tile{Data: []byte("y")})
	c.InvalidateSource("a")
	if _, ok := c.Get(key("a", 0, 0, 0)); ok {
		t.Fatal("source a should be invalidated")
	}
	if _, ok := c.Get(key("b", 0, 0, 0)); !ok {
		t.Fatal("source b should remain")
	}
}

func TestInvalidateAll(t *testing.T) {
	c := New(Options{})
	c.insert(key("a", 0, 0, 0), Tile{Data: []byte("x")})
	c.InvalidateAll()
	if c.EntryCount() != 0 {
		t.Fatalf("entry count after InvalidateAll = %d, want 0", c.EntryCount())
	}
}
