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
	"os"
	"path/filepath"
	"testing"
)

func TestJournalHeaderMismatchIsCorruption(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(journalPath(dir), []byte("not-the-magic\n1\n1\n1\n\n"), 0644); err != nil {
		t.Fatal(err)
	}
	_, _, _, _, err := openJournal(dir, 1, 1, nil)
	if err == nil {
		t.Fatal("expected corruption error")
	}
	if _, ok := err.(*errCorrupt); !ok {
		t.Fatalf("expected *errCorrupt, got %T: %v", err, err)
	}
}

func TestJournalTruncatedMidLineDoesNotPanicOpen(t *testing.T) {
	dir := t.TempDir()
	os.MkdirAll(dir, 0755)
	content := journalMagic + "\n" + journalVersion + "\n1\n1\n\nDIRTY abc"
	if err := os.WriteFile(journalPath(dir), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	// The line reader discards an unterminated final line, and
	// "DIRTY abc" with no trailing newline is exactly that case, so
	// replay never sees the record: openJournal returns no error and
	// the entry is absent.
	j, table, _, _, err := openJournal(dir, 1, 1, nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	defer j.close()
	if e := table.get("abc", false); e != nil {
		t.Fatal("unterminated record should not have been replayed")
	}
}

func TestJournalDanglingDirtyDroppedOnReplay(t *testing.T) {
	dir := t.TempDir()
	os.MkdirAll(dir, 0755)
	content := journalMagic + "\n" + journalVersion + "\n1\n1\n\nDIRTY abc\n"
	if err := os.WriteFile(journalPath(dir), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "abc.0.tmp"), []byte("partial"), 0644); err != nil {
		t.Fatal(err)
	}
	j, table, size, fileCount, err := openJournal(dir, 1, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer j.close()
	if e := table.get("abc", false); e != nil {
		t.Fatal("dangling DIRTY entry should have been dropped")
	}
	if size != 0 || fileCount != 0 {
		t.Fatalf("size=%d fileCount=%d, want 0,0", size, fileCount)
	}
	if _, err := os.Stat(filepath.Join(dir, "abc.0.tmp")); !os.IsNotExist(err) {
		t.Fatal("orphan dirty file should have been deleted")
	}
}

func TestJournalBkpIntermediateReconciledOnOpen(t *testing.T) {
	dir := t.TempDir()
	os.MkdirAll(dir, 0755)
	good := journalMagic + "\n" + journalVersion + "\n1\n1\n\nCLEAN abc 5\n"
	if err := os.WriteFile(journalBkpPath(dir), []byte(good), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "abc.0"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	j, table, size, fileCount, err := openJournal(dir, 1, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer j.close()
	if e := table.get("abc", false); e == nil || !e.readable {
		t.Fatal("expected abc to be replayed as readable from the bkp journal")
	}
	if size != 5 || fileCount != 1 {
		t.Fatalf("size=%d fileCount=%d, want 5,1", size, fileCount)
	}
	if _, err := os.Stat(journalPath(dir)); err != nil {
		t.Fatal("journal should exist after bkp rename")
	}
}
