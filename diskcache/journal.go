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
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"
)

const (
	journalMagic   = "pixlru.diskcache.Journal"
	journalVersion = "1"

	journalName    = "journal"
	journalTmpName = "journal.tmp"
	journalBkpName = "journal.bkp"

	opDirty  = "DIRTY"
	opClean  = "CLEAN"
	opRemove = "REMOVE"
	opRead   = "READ"
)

// errCorrupt signals that the journal could not be parsed and the
// whole cache directory must be reset.
type errCorrupt struct{ reason string }

func (e *errCorrupt) Error() string { return "diskcache: journal corrupt: " + e.reason }

// journal is the append-only write-ahead log of cache mutations.
// All mutation of the journal file happens under the owning Cache's
// lock; journal itself does no locking.
type journal struct {
	dir          string
	appVersion   int64
	slots        int
	f            *os.File
	w            *bufio.Writer
	lineCount    int
	redundantOps int
}

func journalPath(dir string) string    { return filepath.Join(dir, journalName) }
func journalTmpPath(dir string) string { return filepath.Join(dir, journalTmpName) }
func journalBkpPath(dir string) string { return filepath.Join(dir, journalBkpName) }

func writeHeader(w io.Writer, appVersion int64, slots int) error {
	_, err := fmt.Fprintf(w, "%s\n%s\n%d\n%d\n\n", journalMagic, journalVersion, appVersion, slots)
	return err
}

func readHeader(lr *lineReader, appVersion int64, slots int) error {
	magic, err := lr.readLine()
	if err != nil {
		return &errCorrupt{"missing header"}
	}
	if magic != journalMagic {
		return &errCorrupt{"bad magic"}
	}
	ver, err := lr.readLine()
	if err != nil || ver != journalVersion {
		return &errCorrupt{"bad format version"}
	}
	appVerLine, err := lr.readLine()
	if err != nil {
		return &errCorrupt{"missing app version"}
	}
	gotAppVer, err := strconv.ParseInt(appVerLine, 10, 64)
	if err != nil || gotAppVer != appVersion {
		return &errCorrupt{"app version mismatch"}
	}
	slotsLine, err := lr.readLine()
	if err != nil {
		return &errCorrupt{"missing slot count"}
	}
	gotSlots, err := strconv.Atoi(slotsLine)
	if err != nil || gotSlots != slots {
		return &errCorrupt{"slot count mismatch"}
	}
	blank, err := lr.readLine()
	if err != nil || blank != "" {
		return &errCorrupt{"non-blank fifth header line"}
	}
	return nil
}

// replayRecord applies one journal record to table.
func replayRecord(table *entryTable, slots int, line string) error {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return &errCorrupt{"truncated record"}
	}
	op, key := fields[0], fields[1]
	switch op {
	case opDirty:
		if len(fields) != 2 {
			return &errCorrupt{"malformed DIRTY"}
		}
		e := table.getOrCreate(key, slots)
		if e.currentEditor == nil {
			e.currentEditor = &Editor{entry: e}
		}
	case opRemove:
		if len(fields) != 2 {
			return &errCorrupt{"malformed REMOVE"}
		}
		table.remove(key)
	case opRead:
		if len(fields) != 2 {
			return &errCorrupt{"malformed READ"}
		}
		table.touch(key)
	case opClean:
		if len(fields) != 2+slots {
			return &errCorrupt{"malformed CLEAN"}
		}
		e := table.getOrCreate(key, slots)
		e.currentEditor = nil
		e.readable = true
		for i := 0; i < slots; i++ {
			n, err := strconv.ParseInt(fields[2+i], 10, 64)
			if err != nil {
				return &errCorrupt{"malformed CLEAN length"}
			}
			e.lengths[i] = n
		}
		e.sequence++
	default:
		return &errCorrupt{"unknown op " + op}
	}
	return nil
}

// openJournal performs the full open sequence: bkp/journal
// reconciliation, header validation, record replay into table,
// removal of dangling DIRTY entries and their files, and size/file
// count accounting for the remaining live entries. It returns the
// ready-to-append journal and the accumulated (size, fileCount).
func openJournal(dir string, appVersion int64, slots int, logger Logger) (*journal, *entryTable, int64, int64, error) {
	bkp := journalBkpPath(dir)
	jp := journalPath(dir)
	if _, err := os.Stat(bkp); err == nil {
		if _, err := os.Stat(jp); err != nil {
			if err := os.Rename(bkp, jp); err != nil {
				return nil, nil, 0, 0, err
			}
		} else {
			os.Remove(bkp)
		}
	}
	os.Remove(journalTmpPath(dir))

	table := newEntryTable()

	if _, err := os.Stat(jp); err != nil {
		// fresh cache: create directory and an empty journal.
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, nil, 0, 0, err
		}
		f, err := os.OpenFile(jp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return nil, nil, 0, 0, err
		}
		if err := writeHeader(f, appVersion, slots); err != nil {
			f.Close()
			return nil, nil, 0, 0, err
		}
		j := &journal{dir: dir, appVersion: appVersion, slots: slots, f: f, w: bufio.NewWriter(f)}
		return j, table, 0, 0, nil
	}

	rf, err := os.Open(jp)
	if err != nil {
		return nil, nil, 0, 0, err
	}
	lr := newLineReader(rf)
	if err := readHeader(lr, appVersion, slots); err != nil {
		rf.Close()
		return nil, nil, 0, 0, err
	}
	lineCount := 0
	for {
		line, err := lr.readLine()
		if err == io.EOF {
			break
		}
		if err != nil {
			rf.Close()
			return nil, nil, 0, 0, err
		}
		lineCount++
		if err := replayRecord(table, slots, line); err != nil {
			rf.Close()
			return nil, nil, 0, 0, err
		}
	}
	rf.Close()
	redundant := lineCount - table.len()
	if redundant < 0 {
		redundant = 0
	}

	// process journal: drop dangling DIRTY entries and their files;
	// sum clean-file sizes for the rest.
	var size, fileCount int64
	var dangling []string
	table.all(func(e *entry) {
		if e.currentEditor != nil {
			dangling = append(dangling, e.key)
			return
		}
		for i := 0; i < slots; i++ {
			fi, err := os.Stat(cleanFile(dir, e.key, i))
			if err != nil {
				return // corrupt entry's accounting is simply skipped
			}
			size += fi.Size()
			fileCount++
		}
	})
	for _, key := range dangling {
		for i := 0; i < slots; i++ {
			os.Remove(cleanFile(dir, key, i))
			os.Remove(dirtyFile(dir, key, i))
		}
		table.remove(key)
	}

	f, err := os.OpenFile(jp, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, 0, 0, err
	}
	j := &journal{dir: dir, appVersion: appVersion, slots: slots, f: f, w: bufio.NewWriter(f), lineCount: lineCount, redundantOps: redundant}
	return j, table, size, fileCount, nil
}

func (j *journal) appendLine(line string) error {
	if _, err := j.w.WriteString(line); err != nil {
		return err
	}
	if err := j.w.WriteByte('\n'); err != nil {
		return err
	}
	return j.w.Flush()
}

func (j *journal) appendDirty(key string) error {
	j.lineCount++
	j.redundantOps++
	return j.appendLine(opDirty + " " + key)
}

func (j *journal) appendClean(key string, lengths []int64) error {
	j.lineCount++
	j.redundantOps++
	var sb strings.Builder
	sb.WriteString(opClean)
	sb.WriteByte(' ')
	sb.WriteString(key)
	for _, l := range lengths {
		sb.WriteByte(' ')
		sb.WriteString(strconv.FormatInt(l, 10))
	}
	return j.appendLine(sb.String())
}

func (j *journal) appendRemove(key string) error {
	j.lineCount++
	j.redundantOps++
	return j.appendLine(opRemove + " " + key)
}

func (j *journal) appendRead(key string) error {
	j.lineCount++
	j.redundantOps++
	return j.appendLine(opRead + " " + key)
}

// needsCompaction reports whether the redundant-record count has
// reached the larger of 2000 and the live table size.
func (j *journal) needsCompaction(tableSize int) bool {
	threshold := tableSize
	if threshold < 2000 {
		threshold = 2000
	}
	return j.redundantOps >= threshold
}

// compact rewrites the journal to hold only the minimum set of
// records describing table's current state, via a temp file and
// crash-safe rename-through-bkp sequence.
func (j *journal) compact(table *entryTable) error {
	tmp := journalTmpPath(j.dir)
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := writeHeader(w, j.appVersion, j.slots); err != nil {
		f.Close()
		return err
	}
	keys := make([]string, 0, table.len())
	table.all(func(e *entry) { keys = append(keys, e.key) })
	slices.Sort(keys) // deterministic output makes compaction idempotent
	for _, k := range keys {
		e := table.get(k, false)
		var line string
		if e.currentEditor != nil {
			line = opDirty + " " + k
		} else {
			var sb strings.Builder
			sb.WriteString(opClean)
			sb.WriteByte(' ')
			sb.WriteString(k)
			for _, l := range e.lengths {
				sb.WriteByte(' ')
				sb.WriteString(strconv.FormatInt(l, 10))
			}
			line = sb.String()
		}
		if _, err := w.WriteString(line); err != nil {
			f.Close()
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	jp := journalPath(j.dir)
	bkp := journalBkpPath(j.dir)
	if _, err := os.Stat(jp); err == nil {
		if err := os.Rename(jp, bkp); err != nil {
			return err
		}
	}
	if err := os.Rename(tmp, jp); err != nil {
		return err
	}
	os.Remove(bkp)

	if j.f != nil {
		j.f.Close()
	}
	nf, err := os.OpenFile(jp, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	j.f = nf
	j.w = bufio.NewWriter(nf)
	j.lineCount = table.len()
	j.redundantOps = 0
	return nil
}

func (j *journal) close() error {
	if j.w != nil {
		j.w.Flush()
	}
	if j.f != nil {
		return j.f.Close()
	}
	return nil
}

func cleanFile(dir, key string, slot int) string {
	return filepath.Join(dir, fmt.Sprintf("%s.%d", key, slot))
}

func dirtyFile(dir, key string, slot int) string {
	return filepath.Join(dir, fmt.Sprintf("%s.%d.tmp", key, slot))
}
