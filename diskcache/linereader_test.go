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
	"io"
	"strings"
	"testing"
)

func TestLineReaderLFAndCRLF(t *testing.T) {
	lr := newLineReader(strings.NewReader("one\ntwo\r\nthree\n"))
	want := []string{"one", "two", "three"}
	for _, w := range want {
		got, err := lr.readLine()
		if err != nil {
			t.Fatalf("readLine: %s", err)
		}
		if got != w {
			t.Fatalf("got %q, want %q", got, w)
		}
	}
	if _, err := lr.readLine(); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
	if lr.HadTrailingJunk() {
		t.Fatal("did not expect trailing junk")
	}
}

func TestLineReaderDiscardsUnterminatedTail(t *testing.T) {
	lr := newLineReader(strings.NewReader("complete\nincomplete"))
	line, err := lr.readLine()
	if err != nil || line != "complete" {
		t.Fatalf("got %q, %v", line, err)
	}
	if _, err := lr.readLine(); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
	if !lr.HadTrailingJunk() {
		t.Fatal("expected trailing junk to be flagged")
	}
}

func TestLineReaderEmptyInput(t *testing.T) {
	lr := newLineReader(strings.NewReader(""))
	if _, err := lr.readLine(); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
	if lr.HadTrailingJunk() {
		t.Fatal("empty input is not trailing junk")
	}
}
