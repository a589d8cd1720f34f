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

// Package keyadapter wraps diskcache.Cache with a mapping from
// free-form identifiers (URIs) to the cache's constrained key
// alphabet, buffered save/load helpers, and optional per-slot
// compression.
package keyadapter

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"os"

	"github.com/pixlru/pixlru/diskcache"
)

const (
	codecNone = 0
	codecS2   = 1
	codecZstd = 2
)

// ProgressListener is invoked periodically during Save with the
// number of bytes written so far and the expected total (0 if
// unknown). Returning false cancels the save.
type ProgressListener func(written, total int64) bool

// Options configures a new Adapter.
type Options struct {
	Dir string
	// ReserveDir, if set, is tried once when the cache at Dir cannot
	// be opened; failure there too is fatal. The cache is never split
	// across both directories.
	ReserveDir   string
	AppVersion   int64
	MaxSize      int64
	MaxFileCount int64
	Names        NameGenerator // defaults to NewBlake2bNameGenerator()
	Compression  string        // "", "s2", or "zstd"
	Logger       diskcache.Logger
}

// Adapter maps free-form identifiers onto a diskcache.Cache.
type Adapter struct {
	cache *diskcache.Cache
	names NameGenerator
	comp  Compressor

	// latched at construction so Clear's delete-then-reopen sequence
	// never reads a zeroed intermediate state.
	dir          string
	appVersion   int64
	maxSize      int64
	maxFileCount int64
	logger       diskcache.Logger
}

// Open constructs an Adapter backed by a fresh or existing single-slot
// diskcache.Cache at opts.Dir, falling back once to opts.ReserveDir if
// the primary directory cannot be opened.
func Open(opts Options) (*Adapter, error) {
	names := opts.Names
	if names == nil {
		names = NewBlake2bNameGenerator()
	}
	dir := opts.Dir
	dopts := diskcache.Options{
		AppVersion:   opts.AppVersion,
		Slots:        1,
		MaxSize:      opts.MaxSize,
		MaxFileCount: opts.MaxFileCount,
		Logger:       opts.Logger,
	}
	cache, err := diskcache.Open(dir, dopts)
	if err != nil && opts.ReserveDir != "" {
		dir = opts.ReserveDir
		cache, err = diskcache.Open(dir, dopts)
	}
	if err != nil {
		return nil, err
	}
	a := &Adapter{
		cache:        cache,
		names:        names,
		comp:         Compression(opts.Compression),
		dir:          dir,
		appVersion:   opts.AppVersion,
		maxSize:      opts.MaxSize,
		maxFileCount: opts.MaxFileCount,
		logger:       opts.Logger,
	}
	return a, nil
}

// Save streams r into the cache entry for id, reporting progress if
// listener is non-nil. total may be 0 if the length is unknown.
func (a *Adapter) Save(id string, r io.Reader, total int64, listener ProgressListener) (bool, error) {
	key := a.names.Generate(id)
	ed, err := a.cache.Edit(key)
	if err != nil {
		if diskcache.IsKind(err, diskcache.Busy) {
			return false, nil
		}
		return false, err
	}
	w := ed.NewWriter(0)
	bw := bufio.NewWriter(w)
	buf := make([]byte, 64*1024)
	var written int64
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			bw.Write(buf[:n]) // EditorWriter never returns a write error
			written += int64(n)
			if listener != nil && !listener(written, total) {
				bw.Flush()
				w.Close()
				ed.Abort()
				return false, nil
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			bw.Flush()
			w.Close()
			ed.Abort()
			return false, rerr
		}
	}
	bw.Flush()
	w.Close()
	if err := ed.Commit(); err != nil {
		return false, nil
	}
	return true, nil
}

// SaveBitmap compresses data (if the adapter was configured with a
// Compression codec) and commits it to slot 0 under a small header
// recording the codec and original length, so GetBitmap can recover
// the exact bytes regardless of what codec, if any, was used to
// write them.
func (a *Adapter) SaveBitmap(id string, data []byte) (bool, error) {
	key := a.names.Generate(id)
	ed, err := a.cache.Edit(key)
	if err != nil {
		if diskcache.IsKind(err, diskcache.Busy) {
			return false, nil
		}
		return false, err
	}
	w := ed.NewWriter(0)

	var hdr [9]byte
	var payload []byte
	if a.comp != nil {
		hdr[0] = codecFor(a.comp.Name())
		payload = a.comp.Compress(data, nil)
	} else {
		hdr[0] = codecNone
		payload = data
	}
	binary.BigEndian.PutUint64(hdr[1:], uint64(len(data)))
	w.Write(hdr[:])
	w.Write(payload)
	w.Close()

	if err := ed.Commit(); err != nil {
		return false, nil
	}
	return true, nil
}

func codecFor(name string) byte {
	switch name {
	case "s2":
		return codecS2
	case "zstd":
		return codecZstd
	default:
		return codecNone
	}
}

func decompressorFor(code byte) Decompressor {
	switch code {
	case codecS2:
		return Decompression("s2")
	case codecZstd:
		return Decompression("zstd")
	default:
		return nil
	}
}

// GetBitmap returns the decompressed bytes previously saved with
// SaveBitmap, or (nil, nil) if id is not cached.
func (a *Adapter) GetBitmap(id string) ([]byte, error) {
	key := a.names.Generate(id)
	snap, err := a.cache.Get(key)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, nil
	}
	defer snap.Close()
	f := snap.File(0)
	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	if len(raw) < 9 {
		return nil, errors.New("keyadapter: truncated bitmap record")
	}
	codec := raw[0]
	origLen := binary.BigEndian.Uint64(raw[1:9])
	payload := raw[9:]
	if codec == codecNone {
		return payload, nil
	}
	dc := decompressorFor(codec)
	if dc == nil {
		return nil, errors.New("keyadapter: unknown bitmap codec")
	}
	out := make([]byte, origLen)
	if err := dc.Decompress(payload, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns an open handle to the clean slot-0 file for id, for
// downstream out-of-band decoding, or (nil, nil) if absent. The
// handle is the snapshot's own, opened while the entry was known
// readable, so it stays valid even if a concurrent commit or trim
// replaces or unlinks the file before the caller reads it. The caller
// owns the handle and must close it.
func (a *Adapter) Get(id string) (*os.File, error) {
	key := a.names.Generate(id)
	snap, err := a.cache.Get(key)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, nil
	}
	return snap.File(0), nil
}

// Remove evicts id's cache entry, if any.
func (a *Adapter) Remove(id string) (bool, error) {
	key := a.names.Generate(id)
	return a.cache.Remove(key)
}

// Clear deletes and recreates the underlying cache using the
// parameters latched at Open.
func (a *Adapter) Clear() error {
	if err := a.cache.Delete(); err != nil {
		return err
	}
	cache, err := diskcache.Open(a.dir, diskcache.Options{
		AppVersion:   a.appVersion,
		Slots:        1,
		MaxSize:      a.maxSize,
		MaxFileCount: a.maxFileCount,
		Logger:       a.logger,
	})
	if err != nil {
		return err
	}
	a.cache = cache
	return nil
}

// Flush trims the underlying cache to its bounds and flushes its
// journal synchronously.
func (a *Adapter) Flush() error { return a.cache.Flush() }

// Stats reports the underlying cache's bookkeeping counters.
func (a *Adapter) Stats() diskcache.Stats { return a.cache.Stats() }

// Close releases the underlying cache.
func (a *Adapter) Close() error { return a.cache.Close() }
