package tilecache

import "testing"

func TestPutThenGetHits(t *testing.T) {
	c := New(1 << 20)
	owner := new(int)
	h := c.Put(owner, 0, 0, []byte("tile-bytes"))
	h.Release()

	got, ok := c.Get(owner, 0, 0)
	if !ok {
		t.Fatalf("expected cache hit")
	}
	defer got.Release()
	if string(got.Bytes()) != "tile-bytes" {
		t.Fatalf("got %q", got.Bytes())
	}
}

func TestGetMissReturnsFalse(t *testing.T) {
	c := New(1 << 20)
	if _, ok := c.Get(new(int), 1, 1); ok {
		t.Fatalf("expected miss on empty cache")
	}
}

func TestEvictionRespectsCapacity(t *testing.T) {
	c := New(10)
	owner := new(int)
	for i := 0; i < 5; i++ {
		h := c.Put(owner, i, 0, make([]byte, 4))
		h.Release()
	}
	if c.UsedBytes() > c.Capacity() {
		t.Fatalf("used %d exceeds capacity %d", c.UsedBytes(), c.Capacity())
	}
	if _, ok := c.Get(owner, 0, 0); ok {
		t.Fatalf("expected the oldest entry to have been evicted")
	}
	got, ok := c.Get(owner, 4, 0)
	if !ok {
		t.Fatalf("expected the most recent entry to survive eviction")
	}
	got.Release()
}

func TestPinnedEntrySurvivesEviction(t *testing.T) {
	c := New(10)
	owner := new(int)

	pinned := c.Put(owner, 0, 0, make([]byte, 4))
	for i := 1; i < 5; i++ {
		h := c.Put(owner, i, 0, make([]byte, 4))
		h.Release()
	}

	h2, ok := c.Get(owner, 0, 0)
	if !ok {
		t.Fatalf("expected pinned entry to survive eviction pressure")
	}
	h2.Release()
	pinned.Release()
}

func TestOwnerTokenScopesEntries(t *testing.T) {
	c := New(1 << 20)
	a, b := new(int), new(int)

	ha := c.Put(a, 0, 0, []byte("a"))
	ha.Release()
	hb := c.Put(b, 0, 0, []byte("b"))
	hb.Release()

	got, ok := c.Get(a, 0, 0)
	if !ok || string(got.Bytes()) != "a" {
		t.Fatalf("owner a: got %v, ok=%v", got, ok)
	}
	got.Release()
}

func TestReplacingAnEntryUpdatesByteAccounting(t *testing.T) {
	c := New(1 << 20)
	owner := new(int)

	h1 := c.Put(owner, 0, 0, make([]byte, 100))
	h1.Release()
	if c.UsedBytes() != 100 {
		t.Fatalf("used = %d, want 100", c.UsedBytes())
	}

	h2 := c.Put(owner, 0, 0, make([]byte, 40))
	h2.Release()
	if c.UsedBytes() != 40 {
		t.Fatalf("used after replace = %d, want 40", c.UsedBytes())
	}
}
