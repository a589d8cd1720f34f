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

// Package config declaratively wires a full pixlru pipeline
// (diskcache, keyadapter, memcache, and loader) from a YAML document:
// sigs.k8s.io/yaml unmarshals into plain structs and the structs
// construct concrete objects, with no dedicated config-schema
// library in between.
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/pixlru/pixlru/diskcache"
	"github.com/pixlru/pixlru/keyadapter"
	"github.com/pixlru/pixlru/loader"
	"github.com/pixlru/pixlru/memcache"
)

// Config is the top-level document unmarshalled from YAML.
type Config struct {
	Cache    CacheConfig    `json:"cache"`
	MemCache MemCacheConfig `json:"memCache"`
	Loader   LoaderConfig   `json:"loader"`
}

// CacheConfig parameterizes the on-disk journaled cache and its
// keyadapter wrapper.
type CacheConfig struct {
	Dir string `json:"dir"`
	// ReserveDir is tried once if Dir cannot be opened.
	ReserveDir   string `json:"reserveDir"`
	AppVersion   int64  `json:"appVersion"`
	MaxSizeBytes int64  `json:"maxSizeBytes"`
	MaxFileCount int64  `json:"maxFileCount"`
	// Compression selects a Compressor/Decompressor for
	// Adapter.SaveBitmap: "", "s2", or "zstd".
	Compression string `json:"compression"`
}

// MemCacheConfig parameterizes the in-memory bitmap cache.
type MemCacheConfig struct {
	MaxStrongEntries int  `json:"maxStrongEntries"`
	FuzzyKeys        bool `json:"fuzzyKeys"`
	// FuzzyKeyK0/K1 seed the siphash key used to fold near-duplicate
	// keys into one bucket when FuzzyKeys is true. Both zero is
	// accepted but not recommended for anything but tests.
	FuzzyKeyK0 uint64 `json:"fuzzyKeyK0"`
	FuzzyKeyK1 uint64 `json:"fuzzyKeyK1"`
}

// LoaderConfig parameterizes the load/display engine.
type LoaderConfig struct {
	CachedPoolSize       int `json:"cachedPoolSize"`
	UncachedPoolSize     int `json:"uncachedPoolSize"`
	SlowNetworkFactor    int `json:"slowNetworkFactor"`
	PauseCheckIntervalMS int `json:"pauseCheckIntervalMs"`
}

// Load reads and parses a YAML config document from r.
func Load(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	return &c, nil
}

// LoadFile reads and parses a YAML config document from path.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

// Pipeline bundles the constructed collaborators a fully wired
// pixlru deployment needs. Close releases the disk cache.
type Pipeline struct {
	Adapter  *keyadapter.Adapter
	MemCache *memcache.Cache
	Engine   *loader.Engine
}

// Close shuts down the loader engine and the disk cache adapter.
func (p *Pipeline) Close() error {
	if p.Engine != nil {
		p.Engine.Stop()
		p.Engine.Wait()
	}
	if p.Adapter != nil {
		return p.Adapter.Close()
	}
	return nil
}

// Logger is the minimal logging contract threaded through every
// constructed component; nil discards (matches diskcache.Logger,
// loader.Logger).
type Logger interface {
	Printf(format string, args ...interface{})
}

// Build constructs a Pipeline from c. downloader and decoder are
// supplied by the caller since they're platform-specific; dispatcher
// defaults to loader.SyncDispatcher if nil.
func Build(c *Config, downloader loader.Downloader, decoder loader.Decoder, dispatcher loader.Dispatcher, logger Logger) (*Pipeline, error) {
	if c.Cache.Dir == "" {
		return nil, fmt.Errorf("config: cache.dir must be set")
	}
	if c.Cache.MaxSizeBytes <= 0 {
		return nil, fmt.Errorf("config: cache.maxSizeBytes must be > 0")
	}
	if c.Cache.MaxFileCount <= 0 {
		return nil, fmt.Errorf("config: cache.maxFileCount must be > 0")
	}

	var dlog diskcache.Logger
	if logger != nil {
		dlog = logger
	}

	adapter, err := keyadapter.Open(keyadapter.Options{
		Dir:          c.Cache.Dir,
		ReserveDir:   c.Cache.ReserveDir,
		AppVersion:   c.Cache.AppVersion,
		MaxSize:      c.Cache.MaxSizeBytes,
		MaxFileCount: c.Cache.MaxFileCount,
		Compression:  c.Cache.Compression,
		Logger:       dlog,
	})
	if err != nil {
		return nil, fmt.Errorf("config: opening disk cache: %w", err)
	}

	maxStrong := c.MemCache.MaxStrongEntries
	if maxStrong < 1 {
		maxStrong = 256
	}
	var fuzzy memcache.FuzzyKeyer
	if c.MemCache.FuzzyKeys {
		fuzzy = memcache.SiphashFuzzyKeyer{K0: c.MemCache.FuzzyKeyK0, K1: c.MemCache.FuzzyKeyK1}
	}
	mc := memcache.New(maxStrong, fuzzy)

	var llog loader.Logger
	if logger != nil {
		llog = logger
	}
	pauseInterval := time.Duration(c.Loader.PauseCheckIntervalMS) * time.Millisecond
	engine := loader.New(loader.EngineOptions{
		MemCache:           mc,
		DiskCache:          adapter,
		Downloader:         downloader,
		Decoder:            decoder,
		Dispatcher:         dispatcher,
		CachedPoolSize:     c.Loader.CachedPoolSize,
		UncachedPoolSize:   c.Loader.UncachedPoolSize,
		SlowNetworkFactor:  c.Loader.SlowNetworkFactor,
		PauseCheckInterval: pauseInterval,
		Logger:             llog,
	})

	return &Pipeline{Adapter: adapter, MemCache: mc, Engine: engine}, nil
}
