// Package querycache memoizes computed views against the store version.
//
// An entry is valid only while its stamped version equals the current store
// version, so a read never returns stale data: a mutation either invalidated
// the entry or moved the version past it. The cache never recomputes on its
// own. Callers compute on a miss and call Set, so new views need no cache
// changes.
package querycache

import (
	"github.com/mschirtzinger/tasksync/internal/state/views"
	"github.com/mschirtzinger/tasksync/internal/types"
)

// Versioner exposes the store's mutation counter.
type Versioner interface {
	Version() uint64
}

type entry struct {
	tasks   []*types.Task
	version uint64
}

// Stats counts cache traffic since creation.
type Stats struct {
	Hits          uint64
	Misses        uint64
	Stale         uint64 // misses caused by a version mismatch
	Invalidations uint64
	Entries       int
}

// Cache maps views to their last computed result. Owned by the mutation loop.
type Cache struct {
	source  Versioner
	entries map[views.View]entry
	stats   Stats
}

// New creates a cache validated against source.
func New(source Versioner) *Cache {
	return &Cache{
		source:  source,
		entries: make(map[views.View]entry),
	}
}

// Get returns the cached result for v, or false on a miss or a stale entry.
func (c *Cache) Get(v views.View) ([]*types.Task, bool) {
	e, ok := c.entries[v]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	if e.version != c.source.Version() {
		delete(c.entries, v)
		c.stats.Misses++
		c.stats.Stale++
		return nil, false
	}
	c.stats.Hits++
	return e.tasks, true
}

// Set stores tasks for v stamped with the current store version.
func (c *Cache) Set(v views.View, tasks []*types.Task) {
	c.entries[v] = entry{tasks: tasks, version: c.source.Version()}
}

// Invalidate drops the entry for v.
func (c *Cache) Invalidate(v views.View) {
	if _, ok := c.entries[v]; ok {
		delete(c.entries, v)
		c.stats.Invalidations++
	}
}

// InvalidateAll drops every entry.
func (c *Cache) InvalidateAll() {
	c.stats.Invalidations += uint64(len(c.entries))
	clear(c.entries)
}

// InvalidateMatching drops entries whose view satisfies pred.
func (c *Cache) InvalidateMatching(pred func(views.View) bool) {
	for v := range c.entries {
		if pred(v) {
			delete(c.entries, v)
			c.stats.Invalidations++
		}
	}
}

// Advance moves entries computed at version from to the current version,
// except those whose view satisfies affected, which are dropped. Call it
// right after a store mutation that started at version from. Entries older
// than from are dropped too.
func (c *Cache) Advance(from uint64, affected func(views.View) bool) {
	now := c.source.Version()
	for v, e := range c.entries {
		if e.version != from || affected(v) {
			delete(c.entries, v)
			c.stats.Invalidations++
			continue
		}
		e.version = now
		c.entries[v] = e
	}
}

// Len returns the number of stored entries, valid or not.
func (c *Cache) Len() int {
	return len(c.entries)
}

// Stats returns a copy of the traffic counters.
func (c *Cache) Stats() Stats {
	s := c.stats
	s.Entries = len(c.entries)
	return s
}
