// Copyright (C) 2026 pixlru Authors.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package memcache implements the in-memory bitmap cache: a map with
// a bounded strong tier, a weak tier, and optional fuzzy-key lookup.
//
// Go has no portable true weak reference prior to the weak package
// (go1.24, newer than this module's go.mod floor), so the weak tier
// is emulated with a reference-counted table instead: an entry
// demoted out of the strong tier stays in the weak tier until a Get
// that finds it there is matched by Release bringing its count back
// to zero, or until Put, Remove or Clear drops it. The weak tier has
// no size bound of its own.
package memcache

import (
	"container/list"
	"strings"
	"sync"

	"github.com/dchest/siphash"
)

// FuzzyKeyer folds a cache key down to a coarser bucket identity, so
// that near-duplicate keys (e.g. the same URI requested at two target
// sizes) can share one cached value. Correctness of the core does not
// depend on which folding is used.
type FuzzyKeyer interface {
	Fold(key string) uint64
}

// SiphashFuzzyKeyer folds a key by hashing everything up to the last
// '@' with a keyed siphash, so "uri@64x64" and "uri@128x128" fold to
// the same bucket. The key (K0, K1) keeps bucket identities from
// being predictable to whoever controls the URIs.
type SiphashFuzzyKeyer struct {
	K0, K1 uint64
}

func (f SiphashFuzzyKeyer) Fold(key string) uint64 {
	base := key
	if i := strings.LastIndexByte(key, '@'); i >= 0 {
		base = key[:i]
	}
	return siphash.Hash(f.K0, f.K1, []byte(base))
}

type strongEntry struct {
	key string
	val interface{}
}

type weakEntry struct {
	val      interface{}
	refcount int
}

// Cache is a bounded in-memory map with two tiers: a strong,
// LRU-bounded tier of maxStrong most-recently-used entries, and a
// weak (refcounted) tier that entries demote into on eviction from
// the strong tier. A Get that lands in the weak tier promotes the
// entry back into the strong tier and takes a reference; the weak
// entry is dropped once the last such reference is Released. An
// optional FuzzyKeyer lets lookups fall back to a coarser bucket when
// an exact key misses.
type Cache struct {
	mu sync.Mutex

	maxStrong   int
	strongOrder *list.List
	strongIndex map[string]*list.Element

	weak map[string]*weakEntry

	fuzzy     FuzzyKeyer
	foldIndex map[uint64]string
}

// New returns a Cache whose strong tier holds at most maxStrong
// entries. fuzzy may be nil to disable fuzzy-key lookups.
func New(maxStrong int, fuzzy FuzzyKeyer) *Cache {
	c := &Cache{
		maxStrong:   maxStrong,
		strongOrder: list.New(),
		strongIndex: make(map[string]*list.Element),
		weak:        make(map[string]*weakEntry),
		fuzzy:       fuzzy,
	}
	if fuzzy != nil {
		c.foldIndex = make(map[uint64]string)
	}
	return c
}

// Put inserts or replaces key's value in the strong tier, evicting
// the least-recently-used strong entry into the weak tier if the
// strong tier is now over maxStrong.
func (c *Cache) Put(key string, val interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.strongIndex[key]; ok {
		el.Value.(*strongEntry).val = val
		c.strongOrder.MoveToBack(el)
	} else {
		el := c.strongOrder.PushBack(&strongEntry{key: key, val: val})
		c.strongIndex[key] = el
	}
	delete(c.weak, key)
	if c.fuzzy != nil {
		c.foldIndex[c.fuzzy.Fold(key)] = key
	}
	c.evictLocked()
}

func (c *Cache) evictLocked() {
	for len(c.strongIndex) > c.maxStrong {
		front := c.strongOrder.Front()
		if front == nil {
			return
		}
		e := front.Value.(*strongEntry)
		c.strongOrder.Remove(front)
		delete(c.strongIndex, e.key)
		if we, ok := c.weak[e.key]; ok {
			we.val = e.val // re-demotion keeps outstanding references
		} else {
			c.weak[e.key] = &weakEntry{val: e.val}
		}
	}
}

// Get returns key's value if present in either tier. A value found
// in the weak tier is promoted back into the strong tier and has its
// reference count incremented; callers must call Release(key) once
// per Get after consuming the value (a no-op for strong-tier hits) so
// the weak entry can drain.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.getLocked(key); ok {
		return v, true
	}
	if c.fuzzy != nil {
		if real, ok := c.foldIndex[c.fuzzy.Fold(key)]; ok && real != key {
			return c.getLocked(real)
		}
	}
	return nil, false
}

func (c *Cache) getLocked(key string) (interface{}, bool) {
	if el, ok := c.strongIndex[key]; ok {
		c.strongOrder.MoveToBack(el)
		return el.Value.(*strongEntry).val, true
	}
	if we, ok := c.weak[key]; ok {
		we.refcount++
		el := c.strongOrder.PushBack(&strongEntry{key: key, val: we.val})
		c.strongIndex[key] = el
		c.evictLocked()
		return we.val, true
	}
	return nil, false
}

// Release drops one reference taken by a weak-tier Get, deleting the
// weak entry once its refcount returns to zero. Safe to call after
// any Get: a strong-tier hit takes no reference, and Release does
// nothing for a key with no weak entry. A key promoted by a weak-tier
// hit keeps its weak entry until released, so a Release after a later
// strong-tier hit on it still decrements that entry. Fuzzy keys
// resolve the same way they do in Get.
func (c *Cache) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	we, ok := c.weak[key]
	if !ok && c.fuzzy != nil {
		if real, ok2 := c.foldIndex[c.fuzzy.Fold(key)]; ok2 && real != key {
			key = real
			we, ok = c.weak[key]
		}
	}
	if !ok {
		return
	}
	we.refcount--
	if we.refcount <= 0 {
		delete(c.weak, key)
	}
}

// Remove deletes key from both tiers regardless of outstanding weak
// references.
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.strongIndex[key]; ok {
		c.strongOrder.Remove(el)
		delete(c.strongIndex, key)
	}
	delete(c.weak, key)
}

// Clear empties both tiers.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.strongOrder.Init()
	c.strongIndex = make(map[string]*list.Element)
	c.weak = make(map[string]*weakEntry)
	if c.fuzzy != nil {
		c.foldIndex = make(map[uint64]string)
	}
}

// Keys returns every key currently held in the strong tier, in
// least-to-most-recently-used order.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, c.strongOrder.Len())
	for el := c.strongOrder.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*strongEntry).key)
	}
	return keys
}
