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

// Snapshot is a read-only view binding a key to a fixed set of slot
// files at a point in time, plus the entry's sequence number at that
// moment. Its file handles stay valid even if the entry
// is subsequently re-edited or evicted, because renaming a dirty file
// to clean never disturbs an already-open read handle.
type Snapshot struct {
	Key      string
	files    []*os.File
	lengths  []int64
	sequence int64
	closed   bool
}

// Len returns the committed byte length of slot i at the time the
// snapshot was taken.
func (s *Snapshot) Len(slot int) int64 { return s.lengths[slot] }

// Slots returns the number of value slots the snapshot carries.
func (s *Snapshot) Slots() int { return len(s.files) }

// File returns the open read handle for slot i.
func (s *Snapshot) File(slot int) *os.File { return s.files[slot] }

// Sequence returns the entry's sequence number as of this snapshot;
// passing it to Cache.EditIfCurrent rejects the edit if the entry has
// been committed again since.
func (s *Snapshot) Sequence() int64 { return s.sequence }

// Close releases every slot file handle. Safe to call more than once.
func (s *Snapshot) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var first error
	for _, f := range s.files {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
