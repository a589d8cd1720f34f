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

import (
	"bytes"
	"io"
	"os"
	"testing"
	"time"
)

func writeSlot(t *testing.T, ed *Editor, slot int, data []byte) {
	t.Helper()
	w := ed.NewWriter(slot)
	if _, err := w.Write(data); err != nil {
		t.Fatalf("write: %s", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %s", err)
	}
}

func readSnapshot(t *testing.T, snap *Snapshot, slot int) []byte {
	t.Helper()
	f := snap.File(slot)
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("seek: %s", err)
	}
	b, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("read: %s", err)
	}
	return b
}

func openTestCache(t *testing.T, opts Options) *Cache {
	t.Helper()
	dir := t.TempDir()
	if opts.Slots == 0 {
		opts.Slots = 1
	}
	if opts.MaxSize == 0 {
		opts.MaxSize = 1 << 20
	}
	if opts.MaxFileCount == 0 {
		opts.MaxFileCount = 1000
	}
	c, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("open: %s", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// Scenario 1: commit then read back exact bytes.
func TestGetAfterCommit(t *testing.T) {
	c := openTestCache(t, Options{AppVersion: 1})
	ed, err := c.Edit("abc")
	if err != nil {
		t.Fatalf("edit: %s", err)
	}
	payload := bytes.Repeat([]byte{0x41}, 500)
	writeSlot(t, ed, 0, payload)
	if err := ed.Commit(); err != nil {
		t.Fatalf("commit: %s", err)
	}
	snap, err := c.Get("abc")
	if err != nil {
		t.Fatalf("get: %s", err)
	}
	if snap == nil {
		t.Fatal("expected snapshot")
	}
	defer snap.Close()
	if snap.Len(0) != 500 {
		t.Fatalf("len = %d, want 500", snap.Len(0))
	}
	got := readSnapshot(t, snap, 0)
	if !bytes.Equal(got, payload) {
		t.Fatal("content mismatch")
	}
}

// Scenario 2: re-edit replaces the value; journal gains two CLEAN
// records, no compaction yet for a single key.
func TestReEditReplacesValue(t *testing.T) {
	c := openTestCache(t, Options{AppVersion: 1})
	ed, _ := c.Edit("abc")
	writeSlot(t, ed, 0, bytes.Repeat([]byte{1}, 500))
	if err := ed.Commit(); err != nil {
		t.Fatal(err)
	}
	ed2, err := c.Edit("abc")
	if err != nil {
		t.Fatalf("second edit: %s", err)
	}
	writeSlot(t, ed2, 0, bytes.Repeat([]byte{2}, 300))
	if err := ed2.Commit(); err != nil {
		t.Fatal(err)
	}
	snap, _ := c.Get("abc")
	defer snap.Close()
	if snap.Len(0) != 300 {
		t.Fatalf("len = %d, want 300", snap.Len(0))
	}
}

// Scenario 3: size bound eviction picks the LRU entry.
func TestTrimEvictsLRU(t *testing.T) {
	c := openTestCache(t, Options{AppVersion: 1, MaxSize: 1000, MaxFileCount: 100})
	ed, _ := c.Edit("a")
	writeSlot(t, ed, 0, bytes.Repeat([]byte{1}, 600))
	ed.Commit()
	ed2, _ := c.Edit("b")
	writeSlot(t, ed2, 0, bytes.Repeat([]byte{2}, 500))
	ed2.Commit()

	deadline := time.Now().Add(2 * time.Second)
	for c.Size() > 1000 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	sa, _ := c.Get("a")
	if sa != nil {
		sa.Close()
		t.Fatal("expected a to be evicted")
	}
	sb, err := c.Get("b")
	if err != nil || sb == nil {
		t.Fatal("expected b to remain")
	}
	sb.Close()
}

// Scenario 4: concurrent edit of the same key fails busy; after abort
// a fresh edit succeeds.
func TestEditBusyThenAbortFreesIt(t *testing.T) {
	c := openTestCache(t, Options{AppVersion: 1})
	ed1, err := c.Edit("x")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Edit("x"); !IsKind(err, Busy) {
		t.Fatalf("expected Busy, got %v", err)
	}
	if err := ed1.Abort(); err != nil {
		t.Fatalf("abort: %s", err)
	}
	ed2, err := c.Edit("x")
	if err != nil {
		t.Fatalf("edit after abort: %s", err)
	}
	ed2.Abort()
}

// Scenario 5: process-crash simulation: commit, then re-open a fresh
// Cache over the same directory and confirm the value survives.
func TestReopenPreservesCommittedEntries(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, Options{AppVersion: 1, Slots: 1, MaxSize: 1 << 20, MaxFileCount: 1000})
	if err != nil {
		t.Fatal(err)
	}
	ed, _ := c.Edit("z")
	writeSlot(t, ed, 0, bytes.Repeat([]byte{9}, 200))
	ed.Commit()
	c.Close()

	c2, err := Open(dir, Options{AppVersion: 1, Slots: 1, MaxSize: 1 << 20, MaxFileCount: 1000})
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Close()
	snap, err := c2.Get("z")
	if err != nil || snap == nil {
		t.Fatal("expected z to survive reopen")
	}
	defer snap.Close()
	if snap.Len(0) != 200 {
		t.Fatalf("len = %d, want 200", snap.Len(0))
	}
}

// Scenario 6: enough commits to force at least one compaction.
func TestCompactionShrinksJournal(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, Options{AppVersion: 1, Slots: 1, MaxSize: 1 << 30, MaxFileCount: 1 << 20})
	if err != nil {
		t.Fatal(err)
	}
	const n = 2500
	for i := 0; i < n; i++ {
		key := randomKey(i)
		ed, err := c.Edit(key)
		if err != nil {
			t.Fatalf("edit %d: %s", i, err)
		}
		writeSlot(t, ed, 0, []byte("x"))
		if err := ed.Commit(); err != nil {
			t.Fatalf("commit %d: %s", i, err)
		}
	}
	c.Flush()

	fi, err := os.Stat(journalPath(dir))
	if err != nil {
		t.Fatal(err)
	}
	// Every commit appends one DIRTY and one CLEAN line of roughly 20
	// bytes each; without compaction the journal would hold all of them.
	if fi.Size() >= int64(n)*40 {
		t.Fatalf("expected compaction to shrink journal, got %d bytes", fi.Size())
	}
	c.Close()
}

func randomKey(i int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 12)
	for j := range b {
		b[j] = alphabet[(i*7+j*13)%len(alphabet)]
	}
	return string(b)
}

func TestInvalidKeyRejected(t *testing.T) {
	c := openTestCache(t, Options{AppVersion: 1})
	if _, err := c.Edit("Has Uppercase"); !IsKind(err, InvalidArgument) {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
	if _, err := c.Get("toolong-012345678901234567890123456789012345678901234567890123456789"); !IsKind(err, InvalidArgument) {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestOpenRejectsBadBounds(t *testing.T) {
	dir := t.TempDir()
	if _, err := Open(dir, Options{AppVersion: 1, Slots: 1, MaxSize: 0, MaxFileCount: 10}); !IsKind(err, InvalidArgument) {
		t.Fatalf("expected InvalidArgument for zero maxSize, got %v", err)
	}
	if _, err := Open(dir, Options{AppVersion: 1, Slots: 1, MaxSize: 10, MaxFileCount: 0}); !IsKind(err, InvalidArgument) {
		t.Fatalf("expected InvalidArgument for zero maxFileCount, got %v", err)
	}
}

func TestEditAbortLeavesEntryUnchanged(t *testing.T) {
	c := openTestCache(t, Options{AppVersion: 1})
	ed, _ := c.Edit("k")
	writeSlot(t, ed, 0, []byte("hello"))
	ed.Commit()

	ed2, err := c.Edit("k")
	if err != nil {
		t.Fatal(err)
	}
	writeSlot(t, ed2, 0, []byte("goodbye, world"))
	if err := ed2.Abort(); err != nil {
		t.Fatalf("abort: %s", err)
	}

	snap, err := c.Get("k")
	if err != nil || snap == nil {
		t.Fatal("expected k to still be present")
	}
	defer snap.Close()
	got := readSnapshot(t, snap, 0)
	if string(got) != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestClearViaDelete(t *testing.T) {
	dir := t.TempDir()
	opts := Options{AppVersion: 1, Slots: 1, MaxSize: 1 << 20, MaxFileCount: 1000}
	c, err := Open(dir, opts)
	if err != nil {
		t.Fatal(err)
	}
	ed, _ := c.Edit("id")
	writeSlot(t, ed, 0, []byte("data"))
	ed.Commit()

	if err := c.Delete(); err != nil {
		t.Fatalf("delete: %s", err)
	}

	c2, err := Open(dir, opts)
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Close()
	snap, _ := c2.Get("id")
	if snap != nil {
		snap.Close()
		t.Fatal("expected empty cache after clear")
	}
}

func TestStaleEditRejected(t *testing.T) {
	c := openTestCache(t, Options{AppVersion: 1})
	ed, _ := c.Edit("s")
	writeSlot(t, ed, 0, []byte("v1"))
	ed.Commit()

	snap, err := c.Get("s")
	if err != nil || snap == nil {
		t.Fatal("expected snapshot")
	}
	seq := snap.Sequence()
	snap.Close()

	ed2, _ := c.Edit("s")
	writeSlot(t, ed2, 0, []byte("v2"))
	ed2.Commit()

	if _, err := c.EditIfCurrent("s", seq); !IsKind(err, Stale) {
		t.Fatalf("expected Stale, got %v", err)
	}
}

// A snapshot opened before a re-edit commits keeps
// reading the pre-edit bytes until closed, because the dirty-to-clean
// rename never disturbs an already-open read handle.
func TestSnapshotReadsPreEditBytes(t *testing.T) {
	c := openTestCache(t, Options{AppVersion: 1})
	ed, _ := c.Edit("p")
	writeSlot(t, ed, 0, []byte("old-bytes"))
	ed.Commit()

	snap, err := c.Get("p")
	if err != nil || snap == nil {
		t.Fatal("expected snapshot")
	}
	defer snap.Close()

	ed2, err := c.Edit("p")
	if err != nil {
		t.Fatal(err)
	}
	writeSlot(t, ed2, 0, []byte("new-bytes!"))
	if err := ed2.Commit(); err != nil {
		t.Fatal(err)
	}

	got := readSnapshot(t, snap, 0)
	if string(got) != "old-bytes" {
		t.Fatalf("snapshot observed post-edit bytes: %q", got)
	}

	snap2, _ := c.Get("p")
	defer snap2.Close()
	if got2 := readSnapshot(t, snap2, 0); string(got2) != "new-bytes!" {
		t.Fatalf("fresh snapshot should see the new value, got %q", got2)
	}
}

func TestClosedCacheRejectsOps(t *testing.T) {
	c := openTestCache(t, Options{AppVersion: 1})
	c.Close()
	if _, err := c.Get("k"); !IsKind(err, IllegalState) {
		t.Fatalf("expected IllegalState, got %v", err)
	}
	if _, err := c.Edit("k"); !IsKind(err, IllegalState) {
		t.Fatalf("expected IllegalState, got %v", err)
	}
}
