// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

// Package cache is the read-optimized front for the fragment store.
//
// The hub refreshes the cache with the committed snapshot on every
// accepted mutation before the call returns, so a cached fragment is
// never silently stale: a read after a commit sees the new version or
// misses and falls through to the store. Eviction only ever costs a
// future miss, never staleness.
package cache

import (
	"fmt"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/conflux-foundation/conflux/lib/cid"
	"github.com/conflux-foundation/conflux/lib/fragment"
)

// DefaultCapacity is used when the configured capacity is zero.
const DefaultCapacity = 4096

// Cache holds recent fragment snapshots keyed by content ID, bounded
// by an LRU policy. Safe for concurrent use.
type Cache struct {
	// refreshMu serializes Refresh's version check against its
	// insert, so a slow read-fill cannot overwrite a newer snapshot
	// installed by a concurrent commit.
	refreshMu sync.Mutex
	lru       *lru.Cache[cid.ID, fragment.Fragment]

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// Stats is a point-in-time counter snapshot for the stats action and
// the viewer.
type Stats struct {
	Hits      uint64 `cbor:"hits" json:"hits"`
	Misses    uint64 `cbor:"misses" json:"misses"`
	Evictions uint64 `cbor:"evictions" json:"evictions"`
	Entries   int    `cbor:"entries" json:"entries"`
}

// New returns a cache bounded to capacity entries. A non-positive
// capacity selects DefaultCapacity.
func New(capacity int) (*Cache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &Cache{}
	backing, err := lru.NewWithEvict[cid.ID, fragment.Fragment](capacity, func(cid.ID, fragment.Fragment) {
		c.evictions.Add(1)
	})
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	c.lru = backing
	return c, nil
}

// Refresh installs the committed snapshot for its ID. Called by the
// hub after every commit (write-through) and after store fallthrough
// on a miss (read-fill). The cached version is monotonic: a snapshot
// older than what is already cached is ignored, which makes the
// read-fill path safe against racing commits.
func (c *Cache) Refresh(frag fragment.Fragment) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	if cached, ok := c.lru.Peek(frag.ID); ok && cached.Version >= frag.Version {
		return
	}
	c.lru.Add(frag.ID, frag)
}

// Get returns the cached snapshot, if any.
func (c *Cache) Get(id cid.ID) (fragment.Fragment, bool) {
	frag, ok := c.lru.Get(id)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return frag, ok
}

// Remove drops the entry for id, if present.
func (c *Cache) Remove(id cid.ID) {
	c.lru.Remove(id)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int { return c.lru.Len() }

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Entries:   c.lru.Len(),
	}
}
