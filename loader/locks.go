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

package loader

import "sync"

// uriLockTable hands out a per-URI mutex so concurrent requests for
// the same URI serialize at the decode/download stage. Entries are
// refcounted and dropped once idle; a weakly-held map would do the
// same job, but Go has no weak maps before go1.24's weak package, and
// without the refcount the table would leak a mutex per ever-seen
// URI.
type uriLockTable struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	mu   sync.Mutex
	refs int
}

func newURILockTable() *uriLockTable {
	return &uriLockTable{locks: make(map[string]*refMutex)}
}

// acquire blocks until uri's mutex is held by this call, returning a
// release function that must be called exactly once.
func (t *uriLockTable) acquire(uri string) func() {
	t.mu.Lock()
	rm := t.locks[uri]
	if rm == nil {
		rm = &refMutex{}
		t.locks[uri] = rm
	}
	rm.refs++
	t.mu.Unlock()

	rm.mu.Lock()

	released := false
	return func() {
		if released {
			return
		}
		released = true
		rm.mu.Unlock()
		t.mu.Lock()
		rm.refs--
		if rm.refs == 0 {
			delete(t.locks, uri)
		}
		t.mu.Unlock()
	}
}
