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

package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/pixlru/pixlru/config"
	"github.com/pixlru/pixlru/keyadapter"
)

var (
	dashv    bool
	dashc    string
	dashd    string
	dasho    string
	dashz    string
	version  int64
	maxSize  int64
	maxFiles int64
)

const (
	mega = 1024 * 1024
	giga = 1024 * mega
)

func init() {
	flag.BoolVar(&dashv, "v", false, "verbose")
	flag.StringVar(&dashc, "c", "", "pipeline config file (yaml); overrides -d/-version/-size/-files/-z")
	flag.StringVar(&dashd, "d", "", "cache directory")
	flag.StringVar(&dasho, "o", "-", "output file (or - for stdout) for get")
	flag.StringVar(&dashz, "z", "", "bitmap compression codec (s2, zstd)")
	flag.Int64Var(&version, "version", 1, "application version baked into the journal header")
	flag.Int64Var(&maxSize, "size", giga, "maximum total cache size in bytes")
	flag.Int64Var(&maxFiles, "files", 10000, "maximum clean-file count")
}

func exitf(f string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, f, args...)
	os.Exit(1)
}

func logf(f string, args ...interface{}) {
	if dashv {
		log.Printf(f, args...)
	}
}

type stderrLogger struct{}

func (stderrLogger) Printf(f string, args ...interface{}) { log.Printf(f, args...) }

func openAdapter() *keyadapter.Adapter {
	opts := keyadapter.Options{
		Dir:          dashd,
		AppVersion:   version,
		MaxSize:      maxSize,
		MaxFileCount: maxFiles,
		Compression:  dashz,
	}
	if dashc != "" {
		c, err := config.LoadFile(dashc)
		if err != nil {
			exitf("%s\n", err)
		}
		opts.Dir = c.Cache.Dir
		opts.ReserveDir = c.Cache.ReserveDir
		opts.AppVersion = c.Cache.AppVersion
		opts.MaxSize = c.Cache.MaxSizeBytes
		opts.MaxFileCount = c.Cache.MaxFileCount
		opts.Compression = c.Cache.Compression
	}
	if opts.Dir == "" {
		exitf("no cache directory; pass -d or -c\n")
	}
	if dashv {
		opts.Logger = stderrLogger{}
	}
	a, err := keyadapter.Open(opts)
	if err != nil {
		exitf("opening cache at %s: %s\n", opts.Dir, err)
	}
	return a
}

// entry point for 'pixlructl stat'
func stat(a *keyadapter.Adapter) {
	s := a.Stats()
	fmt.Printf("entries:    %d\n", s.EntryCount)
	fmt.Printf("size:       %d\n", s.Size)
	fmt.Printf("file count: %d\n", s.FileCount)
	fmt.Printf("hits:       %d\n", s.Hits)
	fmt.Printf("misses:     %d\n", s.Misses)
}

func get(a *keyadapter.Adapter, id string) {
	f, err := a.Get(id)
	if err != nil {
		exitf("get %s: %s\n", id, err)
	}
	if f == nil {
		exitf("get %s: not cached\n", id)
	}
	defer f.Close()
	out := os.Stdout
	if dasho != "-" {
		out, err = os.Create(dasho)
		if err != nil {
			exitf("%s\n", err)
		}
		defer out.Close()
	}
	n, err := io.Copy(out, f)
	if err != nil {
		exitf("copying %s: %s\n", id, err)
	}
	logf("wrote %d bytes", n)
}

func put(a *keyadapter.Adapter, id, path string) {
	f, err := os.Open(path)
	if err != nil {
		exitf("%s\n", err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		exitf("%s\n", err)
	}
	ok, err := a.Save(id, f, fi.Size(), func(written, total int64) bool {
		logf("saved %d/%d bytes", written, total)
		return true
	})
	if err != nil {
		exitf("put %s: %s\n", id, err)
	}
	if !ok {
		exitf("put %s: not saved (entry busy?)\n", id)
	}
}

func rm(a *keyadapter.Adapter, id string) {
	ok, err := a.Remove(id)
	if err != nil {
		exitf("rm %s: %s\n", id, err)
	}
	if !ok {
		logf("%s was not cached", id)
	}
}

func gc(a *keyadapter.Adapter) {
	before := a.Stats()
	if err := a.Flush(); err != nil {
		exitf("gc: %s\n", err)
	}
	after := a.Stats()
	logf("gc: %d -> %d bytes, %d -> %d entries",
		before.Size, after.Size, before.EntryCount, after.EntryCount)
}

func clear(a *keyadapter.Adapter) {
	if err := a.Clear(); err != nil {
		exitf("clear: %s\n", err)
	}
}

func main() {
	log.SetFlags(0)
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintf(os.Stderr, "usage:\n")
		fmt.Fprintf(os.Stderr, "    %s [-d <dir> | -c <config>] stat\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "        print cache bookkeeping counters\n")
		fmt.Fprintf(os.Stderr, "    %s [-d <dir> | -c <config>] [-o <output>] get <id>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "        write a cached value to output\n")
		fmt.Fprintf(os.Stderr, "    %s [-d <dir> | -c <config>] put <id> <file>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "        warm the cache with a value from a file\n")
		fmt.Fprintf(os.Stderr, "    %s [-d <dir> | -c <config>] rm <id>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "        evict a single entry\n")
		fmt.Fprintf(os.Stderr, "    %s [-d <dir> | -c <config>] gc\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "        trim the cache to its bounds and compact the journal if it has enough redundant records\n")
		fmt.Fprintf(os.Stderr, "    %s [-d <dir> | -c <config>] clear\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "        delete every entry and reinitialize the cache\n")
		fmt.Fprintf(os.Stderr, "flag usage:\n")
		flag.Usage()
		os.Exit(1)
	}

	a := openAdapter()
	defer a.Close()

	switch args[0] {
	case "stat":
		if len(args) != 1 {
			exitf("usage: stat\n")
		}
		stat(a)
	case "get":
		if len(args) != 2 {
			exitf("usage: get <id>\n")
		}
		get(a, args[1])
	case "put":
		if len(args) != 3 {
			exitf("usage: put <id> <file>\n")
		}
		put(a, args[1], args[2])
	case "rm":
		if len(args) != 2 {
			exitf("usage: rm <id>\n")
		}
		rm(a, args[1])
	case "gc":
		if len(args) != 1 {
			exitf("usage: gc\n")
		}
		gc(a)
	case "clear":
		if len(args) != 1 {
			exitf("usage: clear\n")
		}
		clear(a)
	default:
		exitf("commands: stat, get, put, rm, gc, clear\n")
	}
}
