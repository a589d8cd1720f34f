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

import "os"

// Editor is a transactional handle for creating or updating a single
// entry. Obtained from Cache.Edit; terminated by Commit
// or Abort, never both.
type Editor struct {
	cache       *Cache
	entry       *entry
	wasReadable bool
	written     []bool
	hasErrors   bool
	done        bool
}

func newEditor(c *Cache, e *entry) *Editor {
	return &Editor{
		cache:       c,
		entry:       e,
		wasReadable: e.readable,
		written:     make([]bool, len(e.lengths)),
	}
}

// NewWriter returns a write stream for slot i's dirty file, creating
// the cache directory if it is missing. The returned stream is
// fault-hiding: any write or close I/O error is swallowed and
// latches HasErrors on the editor instead of being returned, so a
// caller mid-copy never observes it; the failure surfaces only when
// Commit is called.
func (ed *Editor) NewWriter(slot int) *EditorWriter {
	if slot < 0 || slot >= len(ed.entry.lengths) {
		panic("diskcache: slot out of range")
	}
	ed.written[slot] = true
	if err := os.MkdirAll(ed.cache.dir, 0755); err != nil {
		ed.hasErrors = true
		return &EditorWriter{ed: ed}
	}
	f, err := os.OpenFile(dirtyFile(ed.cache.dir, ed.entry.key, slot), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		ed.hasErrors = true
		return &EditorWriter{ed: ed}
	}
	return &EditorWriter{ed: ed, f: f}
}

// HasErrors reports whether any write stream opened from this editor
// has latched an I/O error so far.
func (ed *Editor) HasErrors() bool { return ed.hasErrors }

// Commit publishes the edit if no write stream latched an error and,
// for an entry that was never committed before, every slot was
// written; otherwise it discards the edit like Abort and returns an
// IllegalState error. Slots of an already-readable entry that this
// edit did not write keep their previous value. Commit and Abort are each
// idempotent-safe to call once; a second call after either is a no-op
// returning an IllegalState error.
func (ed *Editor) Commit() error {
	return ed.cache.completeEdit(ed, !ed.hasErrors)
}

// Abort discards the edit, deleting any dirty files written so far.
// An entry that was readable before the edit keeps its previous value.
func (ed *Editor) Abort() error {
	return ed.cache.completeEdit(ed, false)
}

// EditorWriter is the fault-hiding write stream returned by
// Editor.NewWriter. It never returns a non-nil error from Write or
// Close; failures are latched on the owning Editor.
type EditorWriter struct {
	ed *Editor
	f  *os.File
}

func (w *EditorWriter) Write(p []byte) (int, error) {
	if w.f == nil {
		w.ed.hasErrors = true
		return len(p), nil
	}
	if _, err := w.f.Write(p); err != nil {
		w.ed.hasErrors = true
	}
	return len(p), nil
}

// Close flushes and closes the underlying file. Like Write, any
// failure is swallowed and latched rather than returned.
func (w *EditorWriter) Close() error {
	if w.f == nil {
		return nil
	}
	if err := w.f.Close(); err != nil {
		w.ed.hasErrors = true
	}
	return nil
}
