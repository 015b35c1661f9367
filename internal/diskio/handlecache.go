package diskio

import (
	"sync"

	"github.com/google/uuid"
)

// Cursor is one reusable decoder cursor over a slide's backing file.
// Cursors are never shared concurrently; a HandleCache hands one out
// to exactly one caller at a time.
type Cursor struct {
	ID   uuid.UUID
	File *File
}

// HandleCache is a bounded-by-workload, unbounded-by-count pool of
// idle Cursors over one underlying path. Take never blocks: it either
// reuses an idle cursor or opens a fresh one.
type HandleCache struct {
	path string

	mu   sync.Mutex
	idle []*Cursor
	all  []*Cursor
}

// NewHandleCache creates a handle cache for path. No file is opened
// until the first Take.
func NewHandleCache(path string) *HandleCache {
	return &HandleCache{path: path}
}

// Adopt registers an already-open File as a cursor owned by this
// cache, immediately idle for reuse. Used when the probe that decided
// to accept a file already opened it (formats.ProbeFile), so the
// resulting Slide's HandleCache takes over that File's lifetime
// instead of opening a redundant second one.
func (hc *HandleCache) Adopt(f *File) *Cursor {
	c := &Cursor{ID: uuid.New(), File: f}
	hc.mu.Lock()
	hc.all = append(hc.all, c)
	hc.idle = append(hc.idle, c)
	hc.mu.Unlock()
	return c
}

// Take returns an idle cursor, opening a fresh one if none is idle.
func (hc *HandleCache) Take() (*Cursor, error) {
	hc.mu.Lock()
	if n := len(hc.idle); n > 0 {
		c := hc.idle[n-1]
		hc.idle = hc.idle[:n-1]
		hc.mu.Unlock()
		return c, nil
	}
	hc.mu.Unlock()

	f, err := Open(hc.path)
	if err != nil {
		return nil, err
	}
	c := &Cursor{ID: uuid.New(), File: f}

	hc.mu.Lock()
	hc.all = append(hc.all, c)
	hc.mu.Unlock()
	return c, nil
}

// GiveBack returns a cursor to the free list for reuse.
func (hc *HandleCache) GiveBack(c *Cursor) {
	hc.mu.Lock()
	hc.idle = append(hc.idle, c)
	hc.mu.Unlock()
}

// Close destroys every cursor this cache has ever opened, idle or not.
// Callers must ensure no cursor is in use when Close is called.
func (hc *HandleCache) Close() error {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	var firstErr error
	for _, c := range hc.all {
		if err := c.File.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	hc.all = nil
	hc.idle = nil
	return firstErr
}

// Len reports the total number of cursors this cache has opened.
func (hc *HandleCache) Len() int {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	return len(hc.all)
}
