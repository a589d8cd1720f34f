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

// Package diskcache implements a bounded, crash-safe, journaled
// on-disk key/value cache: atomic multi-slot entries, an
// access-ordered entry table, a write-ahead journal with compaction,
// and background trimming to a size and file-count bound.
//
// Values mutate exclusively through transactional Editors; readers
// hold Snapshots whose file handles stay valid across later edits.
// Every mutation appends a journal record, so a fresh Open replays
// the table exactly as the last process left it.
package diskcache

import (
	"errors"
	"os"
	"regexp"
	"sync"
	"sync/atomic"
)

var keyPattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidKey reports whether key matches the cache's key alphabet.
func ValidKey(key string) bool { return keyPattern.MatchString(key) }

// Logger is the minimal logging contract this package depends on. A
// nil Logger discards output. A single Printf method rather than a
// leveled/structured interface; what passes through here is internal
// diagnostic noise, not an observability surface.
type Logger interface {
	Printf(format string, args ...interface{})
}

func logf(l Logger, format string, args ...interface{}) {
	if l != nil {
		l.Printf(format, args...)
	}
}

// Options configures Cache.Open.
type Options struct {
	// AppVersion is folded into the journal header; bumping it
	// invalidates any existing on-disk cache for this directory.
	AppVersion int64
	// Slots is the fixed number of value slots per entry. Must
	// be >= 1.
	Slots int
	// MaxSize is the advisory total byte bound across all readable
	// entries' slot files.
	MaxSize int64
	// MaxFileCount is the advisory total bound on clean slot files.
	MaxFileCount int64
	// Logger receives diagnostic messages; nil discards them.
	Logger Logger
}

// Stats is a point-in-time snapshot of cache bookkeeping.
type Stats struct {
	Size       int64
	FileCount  int64
	EntryCount int
	Hits       int64
	Misses     int64
}

// Cache is the disk cache facade. The zero value is not
// usable; construct with Open.
type Cache struct {
	mu sync.Mutex

	dir          string
	appVersion   int64
	slots        int
	maxSize      int64
	maxFileCount int64
	logger       Logger

	journal *journal
	table   *entryTable

	size      int64
	fileCount int64
	nextSeq   int64

	closed bool

	dirLock *dirLock

	bg *bgQueue
	wg sync.WaitGroup

	hits, misses int64 // atomic
}

// Open opens (creating if necessary) a cache rooted at dir, replaying
// its journal. On replay failure the whole directory is deleted and
// the open retried once with a fresh empty cache.
func Open(dir string, opts Options) (*Cache, error) {
	if dir == "" {
		return nil, newErr("open", "", InvalidArgument, errors.New("empty directory"))
	}
	if opts.Slots < 1 {
		return nil, newErr("open", "", InvalidArgument, errors.New("slots must be >= 1"))
	}
	if opts.MaxSize <= 0 {
		return nil, newErr("open", "", InvalidArgument, errors.New("maxSize must be > 0"))
	}
	if opts.MaxFileCount <= 0 {
		return nil, newErr("open", "", InvalidArgument, errors.New("maxFileCount must be > 0"))
	}

	dl, err := lockDir(dir)
	if err != nil {
		return nil, newErr("open", "", Busy, err)
	}

	j, table, size, fileCount, err := openJournal(dir, opts.AppVersion, opts.Slots, opts.Logger)
	if err != nil {
		logf(opts.Logger, "diskcache: open %s failed, resetting: %s", dir, err)
		os.RemoveAll(dir)
		j, table, size, fileCount, err = openJournal(dir, opts.AppVersion, opts.Slots, opts.Logger)
		if err != nil {
			dl.unlock()
			return nil, newErr("open", "", Io, err)
		}
	}

	c := &Cache{
		dir:          dir,
		appVersion:   opts.AppVersion,
		slots:        opts.Slots,
		maxSize:      opts.MaxSize,
		maxFileCount: opts.MaxFileCount,
		logger:       opts.Logger,
		journal:      j,
		table:        table,
		size:         size,
		fileCount:    fileCount,
		dirLock:      dl,
		bg:           newBgQueue(),
	}
	// A replayed entry's sequence number is the count of its CLEAN
	// records in the journal, not the number it had before the reopen.
	// Seeding the counter above every replayed number keeps each
	// entry's sequence moving forward on its next commit, so snapshots
	// taken after this Open are checked correctly by EditIfCurrent. A
	// Snapshot taken before the reopen carries a number from the old
	// counter, and EditIfCurrent may accept or reject it regardless of
	// whether the entry changed.
	table.all(func(e *entry) {
		if e.sequence > c.nextSeq {
			c.nextSeq = e.sequence
		}
	})
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.bg.run()
	}()
	return c, nil
}

func (c *Cache) validateKey(op, key string) error {
	if !ValidKey(key) {
		return newErr(op, key, InvalidArgument, errors.New("key does not match [a-z0-9_-]{1,64}"))
	}
	return nil
}

// Get returns a Snapshot of key's current committed value, or
// (nil, nil) if key is absent, unreadable, or mid-edit.
func (c *Cache) Get(key string) (*Snapshot, error) {
	if err := c.validateKey("get", key); err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, newErr("get", key, IllegalState, errors.New("cache closed"))
	}
	e := c.table.get(key, false)
	if e == nil || !e.visible() {
		c.mu.Unlock()
		atomic.AddInt64(&c.misses, 1)
		return nil, nil
	}
	lengths := append([]int64(nil), e.lengths...)
	seq := e.sequence
	c.table.touch(key)
	c.mu.Unlock()

	files := make([]*os.File, c.slots)
	for i := 0; i < c.slots; i++ {
		f, err := os.Open(cleanFile(c.dir, key, i))
		if err != nil {
			for _, of := range files {
				if of != nil {
					of.Close()
				}
			}
			atomic.AddInt64(&c.misses, 1)
			return nil, nil
		}
		files[i] = f
	}
	atomic.AddInt64(&c.hits, 1)

	c.mu.Lock()
	if err := c.journal.appendRead(key); err != nil {
		logf(c.logger, "diskcache: append READ %s: %s", key, err)
	}
	needCompact := c.journal.needsCompaction(c.table.len())
	c.mu.Unlock()
	if needCompact {
		c.scheduleRebuild()
	}

	return &Snapshot{Key: key, files: files, lengths: lengths, sequence: seq}, nil
}

// Edit opens key for writing. It fails with Kind=Busy if key already
// has a live editor.
func (c *Cache) Edit(key string) (*Editor, error) {
	return c.edit(key, -1, false)
}

// EditIfCurrent is like Edit but additionally fails with Kind=Stale
// if the entry's sequence number no longer matches expectedSequence,
// i.e. the Snapshot the caller is working from has been superseded.
func (c *Cache) EditIfCurrent(key string, expectedSequence int64) (*Editor, error) {
	return c.edit(key, expectedSequence, true)
}

func (c *Cache) edit(key string, expectedSeq int64, checkSeq bool) (*Editor, error) {
	if err := c.validateKey("edit", key); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, newErr("edit", key, IllegalState, errors.New("cache closed"))
	}
	e := c.table.getOrCreate(key, c.slots)
	if e.currentEditor != nil {
		return nil, newErr("edit", key, Busy, nil)
	}
	if checkSeq && e.sequence != expectedSeq {
		return nil, newErr("edit", key, Stale, nil)
	}
	ed := newEditor(c, e)
	e.currentEditor = ed
	if err := c.journal.appendDirty(key); err != nil {
		e.currentEditor = nil
		return nil, newErr("edit", key, Io, err)
	}
	return ed, nil
}

// completeEdit finalizes a commit (success=true) or abort. Every path
// that does not publish the edit, an abort included, returns an
// IllegalState error.
func (c *Cache) completeEdit(ed *Editor, success bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ed.done {
		return newErr("commit", ed.entry.key, IllegalState, errors.New("editor already finalized"))
	}
	ed.done = true
	e := ed.entry
	if e.currentEditor != ed {
		return newErr("commit", e.key, IllegalState, errors.New("editor detached from entry"))
	}

	if success && !ed.wasReadable {
		for i := range ed.written {
			if !ed.written[i] {
				success = false
				break
			}
			if _, err := os.Stat(dirtyFile(c.dir, e.key, i)); err != nil {
				success = false
				break
			}
		}
	}

	var err error
	if success {
		for i := 0; i < c.slots; i++ {
			dirty := dirtyFile(c.dir, e.key, i)
			if _, statErr := os.Stat(dirty); statErr != nil {
				continue // slot unchanged by this edit
			}
			clean := cleanFile(c.dir, e.key, i)
			if renameErr := os.Rename(dirty, clean); renameErr != nil {
				logf(c.logger, "diskcache: rename %s: %s", dirty, renameErr)
				success = false
				break
			}
			fi, statErr := os.Stat(clean)
			if statErr != nil {
				success = false
				break
			}
			c.size += fi.Size() - e.lengths[i]
			c.fileCount++ // unconditional, even when replacing an existing clean file
			e.lengths[i] = fi.Size()
		}
	}

	if success {
		e.currentEditor = nil
		e.readable = true
		c.nextSeq++
		e.sequence = c.nextSeq
		c.table.touch(e.key)
		if jerr := c.journal.appendClean(e.key, e.lengths); jerr != nil {
			logf(c.logger, "diskcache: append CLEAN %s: %s", e.key, jerr)
		}
	} else {
		for i := 0; i < c.slots; i++ {
			os.Remove(dirtyFile(c.dir, e.key, i))
		}
		e.currentEditor = nil
		var jerr error
		if ed.wasReadable {
			// the previously committed value stays live
			jerr = c.journal.appendClean(e.key, e.lengths)
		} else {
			c.table.remove(e.key)
			jerr = c.journal.appendRemove(e.key)
		}
		if jerr != nil {
			logf(c.logger, "diskcache: append record for failed edit of %s: %s", e.key, jerr)
		}
		err = newErr("commit", e.key, IllegalState, errors.New("edit failed, changes discarded"))
	}

	needTrim := c.size > c.maxSize || c.fileCount > c.maxFileCount
	needRebuild := c.journal.needsCompaction(c.table.len())
	if needTrim || needRebuild {
		c.scheduleRebuildLocked()
	}
	if !success {
		return err
	}
	return nil
}

// Remove evicts key if present and not mid-edit, reporting whether it
// was evicted.
func (c *Cache) Remove(key string) (bool, error) {
	if err := c.validateKey("remove", key); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, newErr("remove", key, IllegalState, errors.New("cache closed"))
	}
	e := c.table.get(key, false)
	if e == nil || e.currentEditor != nil {
		return false, nil
	}
	c.removeEntryLocked(e)
	if err := c.journal.appendRemove(key); err != nil {
		return true, newErr("remove", key, Io, err)
	}
	return true, nil
}

// removeEntryLocked deletes an entry's clean files and drops it from
// the table; caller holds c.mu.
func (c *Cache) removeEntryLocked(e *entry) {
	for i := 0; i < c.slots; i++ {
		fp := cleanFile(c.dir, e.key, i)
		if fi, err := os.Stat(fp); err == nil {
			c.size -= fi.Size()
			c.fileCount--
			os.Remove(fp)
		}
	}
	c.table.remove(e.key)
}

// trimLocked removes LRU entries until both bounds hold, skipping any
// entry with a live editor.
func (c *Cache) trimLocked() {
	for c.size > c.maxSize || c.fileCount > c.maxFileCount {
		var victim *entry
		c.table.lru(func(e *entry) bool {
			if e.currentEditor != nil {
				return true // skip, keep scanning toward MRU
			}
			victim = e
			return false
		})
		if victim == nil {
			return // everything left has a live editor; can't make progress now
		}
		c.removeEntryLocked(victim)
		if err := c.journal.appendRemove(victim.key); err != nil {
			logf(c.logger, "diskcache: append REMOVE %s during trim: %s", victim.key, err)
		}
	}
}

func (c *Cache) rebuildIfNeededLocked() {
	if c.journal.needsCompaction(c.table.len()) {
		if err := c.journal.compact(c.table); err != nil {
			logf(c.logger, "diskcache: journal compaction failed: %s", err)
		}
	}
}

func (c *Cache) scheduleRebuildLocked() {
	c.bg.submit(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return
		}
		c.trimLocked()
		c.rebuildIfNeededLocked()
	})
}

func (c *Cache) scheduleRebuild() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.scheduleRebuildLocked()
	}
}

// Flush trims the cache to its bounds and flushes the journal
// synchronously.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return newErr("flush", "", IllegalState, errors.New("cache closed"))
	}
	c.trimLocked()
	c.rebuildIfNeededLocked()
	return c.journal.w.Flush()
}

// SetMaxSize changes the size bound at runtime and schedules a trim.
func (c *Cache) SetMaxSize(maxSize int64) error {
	if maxSize <= 0 {
		return newErr("setmaxsize", "", InvalidArgument, errors.New("maxSize must be > 0"))
	}
	c.mu.Lock()
	c.maxSize = maxSize
	closed := c.closed
	c.mu.Unlock()
	if !closed {
		c.scheduleRebuild()
	}
	return nil
}

// Close aborts every live editor, trims, flushes and closes the
// journal, and stops the background worker. Idempotent.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	var pending []*entry
	c.table.all(func(e *entry) {
		if e.currentEditor != nil {
			pending = append(pending, e)
		}
	})
	for _, e := range pending {
		ed := e.currentEditor
		e.currentEditor = nil
		if !ed.wasReadable {
			c.table.remove(e.key)
		}
		for i := 0; i < c.slots; i++ {
			os.Remove(dirtyFile(c.dir, e.key, i))
		}
		// best-effort; tearing down anyway
		if ed.wasReadable {
			c.journal.appendClean(e.key, e.lengths)
		} else {
			c.journal.appendRemove(e.key)
		}
	}
	c.trimLocked()
	c.rebuildIfNeededLocked()
	c.journal.close()
	c.closed = true
	c.mu.Unlock()

	c.bg.stop()
	c.wg.Wait()
	if c.dirLock != nil {
		c.dirLock.unlock()
	}
	return nil
}

// Delete closes the cache (if open) and recursively removes its
// directory.
func (c *Cache) Delete() error {
	c.Close()
	return os.RemoveAll(c.dir)
}

// Stats returns a point-in-time snapshot of cache bookkeeping.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:       c.size,
		FileCount:  c.fileCount,
		EntryCount: c.table.len(),
		Hits:       atomic.LoadInt64(&c.hits),
		Misses:     atomic.LoadInt64(&c.misses),
	}
}

// Size returns the current advisory total byte size.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// FileCount returns the current advisory clean-file count.
//
// FileCount may overcount across re-edits of the same entry: the
// commit path increments it by one per slot renamed-to-clean even
// when a clean file already existed for that slot before the edit.
func (c *Cache) FileCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fileCount
}
