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

import (
	"context"
	"io"
	"os"

	"github.com/pixlru/pixlru/keyadapter"
)

// Logger is the minimal logging contract this package depends on,
// matching diskcache.Logger: a single Printf method, nil discards.
type Logger interface {
	Printf(format string, args ...interface{})
}

func logf(l Logger, format string, args ...interface{}) {
	if l != nil {
		l.Printf(format, args...)
	}
}

// Downloader fetches the bytes backing uri. extras carries
// collaborator-specific request parameters (headers, auth) and may be
// nil. total is the expected payload length, 0 if unknown.
type Downloader interface {
	Download(ctx context.Context, uri string, extras map[string]string) (rc io.ReadCloser, total int64, err error)
}

// FuncDownloader adapts a plain function to Downloader, so a test or
// a one-off embedding can wire a fake without a dedicated type.
type FuncDownloader func(ctx context.Context, uri string, extras map[string]string) (io.ReadCloser, int64, error)

func (f FuncDownloader) Download(ctx context.Context, uri string, extras map[string]string) (io.ReadCloser, int64, error) {
	return f(ctx, uri, extras)
}

// Decoder turns raw bytes read from the network or disk cache into
// the displayable form. opts carries the target size/scale
// hints a real decoder would use to avoid over-allocating.
type Decoder interface {
	Decode(uri string, data []byte, opts Options) ([]byte, error)
}

// FuncDecoder adapts a plain function to Decoder.
type FuncDecoder func(uri string, data []byte, opts Options) ([]byte, error)

func (f FuncDecoder) Decode(uri string, data []byte, opts Options) ([]byte, error) {
	return f(uri, data, opts)
}

// DiskCache is the slice of keyadapter.Adapter's surface the loader
// depends on; *keyadapter.Adapter satisfies it directly. Declared as
// an interface so the engine can be tested against a fake and so the
// rest of the adapter's surface stays out of reach.
type DiskCache interface {
	Get(id string) (*os.File, error)
	Save(id string, r io.Reader, total int64, listener keyadapter.ProgressListener) (bool, error)
}

// MemCache is the slice of memcache.Cache's surface the loader
// depends on; *memcache.Cache satisfies it directly. Every value read
// through Get must be handed back with Release once consumed, so a
// cache with a weak tier can drop entries whose last reader is done.
type MemCache interface {
	Get(key string) (interface{}, bool)
	Put(key string, val interface{})
	Release(key string)
}

// Dispatcher posts fn to run on some designated thread (the
// platform's main/UI thread in a real embedding). nil Dispatcher is
// not valid; use SyncDispatcher for synchronous/test mode.
type Dispatcher interface {
	Post(fn func())
}

// SyncDispatcher runs every posted callable inline, for synchronous
// mode and for tests.
type SyncDispatcher struct{}

func (SyncDispatcher) Post(fn func()) { fn() }

// Listener receives the outcome of a single load/display task.
type Listener interface {
	// OnSuccess is called with the final, decoded (and optionally
	// post-processed) bytes once they're safe to display.
	OnSuccess(data []byte)
	// OnFailure is called with a kind-tagged failure.
	OnFailure(err *Error)
	// OnCancel is called when the task was cancelled before
	// producing a result (view reuse, collection, pause-then-cancel,
	// or interruption).
	OnCancel()
}
