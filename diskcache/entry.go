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

package diskcache

import "container/list"

// entry is the in-memory metadata for one cache key.
type entry struct {
	key           string
	lengths       []int64
	readable      bool
	currentEditor *Editor
	sequence      int64
}

func newEntry(key string, slots int) *entry {
	return &entry{key: key, lengths: make([]int64, slots)}
}

func (e *entry) size() int64 {
	var n int64
	for _, l := range e.lengths {
		n += l
	}
	return n
}

// visible reports whether the entry may be handed to a reader:
// readable and not presently being edited.
func (e *entry) visible() bool {
	return e.readable && e.currentEditor == nil
}

// entryTable is an insertion-ordered map from key to *entry with
// access-order semantics: get/touch move a key to the MRU end, and
// lru() yields eviction candidates from the LRU end. Mutation is
// serialized entirely by the enclosing Cache's lock; this
// type itself does no locking.
type entryTable struct {
	order *list.List // list.Element.Value is *entry
	index map[string]*list.Element
}

func newEntryTable() *entryTable {
	return &entryTable{
		order: list.New(),
		index: make(map[string]*list.Element),
	}
}

func (t *entryTable) len() int { return len(t.index) }

// get returns the entry for key, moving it to the MRU end, or nil
// if absent. moveToMRU controls whether this access counts as a
// touch; journal replay of REMOVE/CLEAN records still needs lookup
// without perturbing order mid-replay in some paths, so callers
// choose explicitly.
func (t *entryTable) get(key string, moveToMRU bool) *entry {
	el, ok := t.index[key]
	if !ok {
		return nil
	}
	if moveToMRU {
		t.order.MoveToBack(el)
	}
	return el.Value.(*entry)
}

// getOrCreate returns the existing entry for key, or creates and
// inserts one at the MRU end.
func (t *entryTable) getOrCreate(key string, slots int) *entry {
	if e := t.get(key, true); e != nil {
		return e
	}
	e := newEntry(key, slots)
	el := t.order.PushBack(e)
	t.index[key] = el
	return e
}

// touch moves an already-present key to the MRU end.
func (t *entryTable) touch(key string) {
	if el, ok := t.index[key]; ok {
		t.order.MoveToBack(el)
	}
}

func (t *entryTable) remove(key string) {
	if el, ok := t.index[key]; ok {
		t.order.Remove(el)
		delete(t.index, key)
	}
}

// lru calls f for each entry from the LRU end toward the MRU end,
// stopping early if f returns false. f must not mutate the table.
func (t *entryTable) lru(f func(e *entry) bool) {
	for el := t.order.Front(); el != nil; el = el.Next() {
		if !f(el.Value.(*entry)) {
			return
		}
	}
}

// all calls f for every entry in MRU-least-to-most order, used by
// journal compaction to emit records for live entries.
func (t *entryTable) all(f func(e *entry)) {
	for el := t.order.Front(); el != nil; el = el.Next() {
		f(el.Value.(*entry))
	}
}
