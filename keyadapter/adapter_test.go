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

package keyadapter

import (
	"bytes"
	"io"
	"os"
	"testing"
)

func openTestAdapter(t *testing.T, compression string) *Adapter {
	t.Helper()
	a, err := Open(Options{
		Dir:          t.TempDir(),
		AppVersion:   1,
		MaxSize:      1 << 20,
		MaxFileCount: 1000,
		Compression:  compression,
	})
	if err != nil {
		t.Fatalf("open: %s", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestSaveGetRoundTrip(t *testing.T) {
	a := openTestAdapter(t, "")
	payload := bytes.Repeat([]byte("hello pixlru"), 100)
	ok, err := a.Save("https://example.com/a.png", bytes.NewReader(payload), int64(len(payload)), nil)
	if err != nil || !ok {
		t.Fatalf("save: ok=%v err=%v", ok, err)
	}
	f, err := a.Get("https://example.com/a.png")
	if err != nil || f == nil {
		t.Fatalf("get: f=%v err=%v", f, err)
	}
	defer f.Close()
	got, err := io.ReadAll(f)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("content mismatch")
	}
}

func TestSaveBitmapCompressedRoundTrip(t *testing.T) {
	for _, codec := range []string{"", "s2", "zstd"} {
		t.Run(codec, func(t *testing.T) {
			a := openTestAdapter(t, codec)
			data := bytes.Repeat([]byte{0xAB, 0xCD, 0x00, 0x00}, 4096)
			ok, err := a.SaveBitmap("img-1", data)
			if err != nil || !ok {
				t.Fatalf("savebitmap: ok=%v err=%v", ok, err)
			}
			got, err := a.GetBitmap("img-1")
			if err != nil {
				t.Fatalf("getbitmap: %s", err)
			}
			if !bytes.Equal(got, data) {
				t.Fatalf("round trip mismatch for codec %q", codec)
			}
		})
	}
}

func TestSaveCancelledByListener(t *testing.T) {
	a := openTestAdapter(t, "")
	payload := bytes.Repeat([]byte("x"), 1<<20)
	calls := 0
	ok, err := a.Save("id", bytes.NewReader(payload), int64(len(payload)), func(written, total int64) bool {
		calls++
		return calls < 2 // cancel after the first chunk is reported
	})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if ok {
		t.Fatal("expected cancellation to report not-saved")
	}
	f, err := a.Get("id")
	if err != nil {
		t.Fatal(err)
	}
	if f != nil {
		f.Close()
		t.Fatal("expected no entry after cancelled save")
	}
}

func TestClearRemovesEntries(t *testing.T) {
	a := openTestAdapter(t, "")
	a.Save("id", bytes.NewReader([]byte("data")), 4, nil)
	if err := a.Clear(); err != nil {
		t.Fatalf("clear: %s", err)
	}
	f, err := a.Get("id")
	if err != nil {
		t.Fatal(err)
	}
	if f != nil {
		f.Close()
		t.Fatal("expected empty cache after clear")
	}
}

func TestRemove(t *testing.T) {
	a := openTestAdapter(t, "")
	a.Save("id", bytes.NewReader([]byte("data")), 4, nil)
	ok, err := a.Remove("id")
	if err != nil || !ok {
		t.Fatalf("remove: ok=%v err=%v", ok, err)
	}
	f, err := a.Get("id")
	if err != nil || f != nil {
		if f != nil {
			f.Close()
		}
		t.Fatal("expected id to be gone")
	}
}

func TestReserveDirFallback(t *testing.T) {
	// An unopenable primary (a regular file where the directory should
	// be) falls back once to the reserve directory.
	tmp := t.TempDir()
	blocked := tmp + "/primary"
	if err := os.WriteFile(blocked, []byte("in the way"), 0644); err != nil {
		t.Fatal(err)
	}
	a, err := Open(Options{
		Dir:          blocked,
		ReserveDir:   tmp + "/reserve",
		AppVersion:   1,
		MaxSize:      1 << 20,
		MaxFileCount: 100,
	})
	if err != nil {
		t.Fatalf("open with reserve: %s", err)
	}
	defer a.Close()
	if ok, err := a.Save("id", bytes.NewReader([]byte("data")), 4, nil); err != nil || !ok {
		t.Fatalf("save via reserve dir: ok=%v err=%v", ok, err)
	}
}

func TestBaseAdapterSaveGetRemove(t *testing.T) {
	b, err := NewBaseAdapter(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Save("id", bytes.NewReader([]byte("raw"))); err != nil {
		t.Fatal(err)
	}
	f, err := b.Get("id")
	if err != nil || f == nil {
		t.Fatal("expected file")
	}
	got, _ := io.ReadAll(f)
	f.Close()
	if string(got) != "raw" {
		t.Fatalf("got %q", got)
	}
	if err := b.Remove("id"); err != nil {
		t.Fatal(err)
	}
	f2, err := b.Get("id")
	if err != nil || f2 != nil {
		t.Fatal("expected removal")
	}
}
