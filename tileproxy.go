package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rubiojr/poiview/pkg/logger"
)

// Caching tile proxy for the QML map: memory cache with TTL, persistent
// disk cache, and in-flight request coalescing so a burst of viewport
// tiles hits the upstream once per tile.

const (
	defaultTileUpstream      = "https://cartodb-basemaps-a.global.ssl.fastly.net/rastertiles/voyager/%d/%d/%d@2x.png"
	defaultTileMemTTL        = 1 * time.Hour
	defaultTileMaxEntries    = 20000
	defaultTilePruneInterval = 3 * time.Minute
)

type tileKey struct{ z, x, y int }

type tileEntry struct {
	data    []byte
	fetched time.Time
}

type tileResult struct {
	data []byte
	err  error
}

type tileProxy struct {
	upstream   string
	memTTL     time.Duration
	maxEntries int
	diskDir    string
	pruneEvery time.Duration
	client     *http.Client

	mu       sync.Mutex
	cache    map[tileKey]*tileEntry
	inFlight map[tileKey][]chan tileResult

	hits     atomic.Uint64
	diskHits atomic.Uint64
	misses   atomic.Uint64
	waits    atomic.Uint64
	stored   atomic.Uint64
	errs     atomic.Uint64
	evicts   atomic.Uint64
}

// newTileProxy builds a proxy caching under cacheDir/tiles, with
// POIVIEW_TILE_* environment overrides (soft validation).
func newTileProxy(cacheDir string) *tileProxy {
	p := &tileProxy{
		upstream:   defaultTileUpstream,
		memTTL:     defaultTileMemTTL,
		maxEntries: defaultTileMaxEntries,
		diskDir:    filepath.Join(cacheDir, "tiles"),
		pruneEvery: defaultTilePruneInterval,
		client:     &http.Client{Timeout: 12 * time.Second},
		cache:      make(map[tileKey]*tileEntry),
		inFlight:   make(map[tileKey][]chan tileResult),
	}
	if v := os.Getenv("POIVIEW_TILE_UPSTREAM"); strings.Count(v, "%d") == 3 {
		p.upstream = v
	}
	if v := os.Getenv("POIVIEW_TILE_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= time.Minute {
			p.memTTL = d
		}
	}
	if v := os.Getenv("POIVIEW_TILE_CACHE_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 100 {
			p.maxEntries = n
		}
	}
	if v := os.Getenv("POIVIEW_TILE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			p.client = &http.Client{Timeout: d}
		}
	}
	_ = os.MkdirAll(p.diskDir, 0o755)
	go p.pruneLoop()
	return p
}

func (p *tileProxy) pruneLoop() {
	ticker := time.NewTicker(p.pruneEvery)
	defer ticker.Stop()
	for range ticker.C {
		p.pruneDisk()
	}
}

// pruneDisk trims the disk cache to maxEntries, oldest first.
func (p *tileProxy) pruneDisk() {
	type tileFile struct {
		path string
		mod  time.Time
	}
	var files []tileFile
	_ = filepath.WalkDir(p.diskDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			files = append(files, tileFile{path, info.ModTime()})
		}
		return nil
	})
	if len(files) <= p.maxEntries {
		return
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod.Before(files[j].mod) })
	for _, f := range files[:len(files)-p.maxEntries] {
		_ = os.Remove(f.path)
	}
}

func (p *tileProxy) diskPath(key tileKey) string {
	return filepath.Join(p.diskDir, strconv.Itoa(key.z), strconv.Itoa(key.x), fmt.Sprintf("%d.png", key.y))
}

func parseTilePath(path string) (tileKey, bool) {
	trim := strings.TrimPrefix(path, "/api/tiles/")
	parts := strings.Split(trim, "/")
	if len(parts) != 3 || !strings.HasSuffix(parts[2], ".png") {
		return tileKey{}, false
	}
	z, err1 := strconv.Atoi(parts[0])
	x, err2 := strconv.Atoi(parts[1])
	y, err3 := strconv.Atoi(strings.TrimSuffix(parts[2], ".png"))
	if err1 != nil || err2 != nil || err3 != nil || z < 0 || x < 0 || y < 0 {
		return tileKey{}, false
	}
	return tileKey{z, x, y}, true
}

func writeTile(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=120")
	_, _ = w.Write(data)
}

func (p *tileProxy) serveTile(w http.ResponseWriter, r *http.Request) {
	corsHeaders(w)
	key, ok := parseTilePath(r.URL.Path)
	if !ok {
		http.Error(w, "bad tile path", http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	if ent, ok := p.cache[key]; ok && time.Since(ent.fetched) < p.memTTL {
		data := ent.data
		p.mu.Unlock()
		p.hits.Add(1)
		writeTile(w, data)
		return
	}
	// Disk cache never expires; only counts cap it.
	if data, err := os.ReadFile(p.diskPath(key)); err == nil {
		p.mu.Unlock()
		p.hits.Add(1)
		p.diskHits.Add(1)
		writeTile(w, data)
		return
	}
	if waiters, ok := p.inFlight[key]; ok {
		ch := make(chan tileResult, 1)
		p.inFlight[key] = append(waiters, ch)
		p.mu.Unlock()
		res := <-ch
		if res.err != nil {
			http.Error(w, "upstream error", http.StatusBadGateway)
			return
		}
		p.waits.Add(1)
		writeTile(w, res.data)
		return
	}
	p.inFlight[key] = []chan tileResult{}
	p.mu.Unlock()
	p.misses.Add(1)

	data, err := p.fetchUpstream(key)
	if err != nil {
		p.errs.Add(1)
		p.settle(key, tileResult{err: err})
		logger.Debug("tile fetch z=%d x=%d y=%d failed: %v", key.z, key.x, key.y, err)
		http.Error(w, "upstream error", http.StatusBadGateway)
		return
	}
	p.store(key, data)
	p.settle(key, tileResult{data: data})
	writeTile(w, data)
}

func (p *tileProxy) fetchUpstream(key tileKey) ([]byte, error) {
	upURL := fmt.Sprintf(p.upstream, key.z, key.x, key.y)
	req, err := http.NewRequest(http.MethodGet, upURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "poiview tile proxy/1.0")
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// store caches in memory (evicting the oldest entry past the cap) and
// persists to disk with the temp-file + rename pattern.
func (p *tileProxy) store(key tileKey, data []byte) {
	p.mu.Lock()
	p.cache[key] = &tileEntry{data: data, fetched: time.Now()}
	if len(p.cache) > p.maxEntries {
		var oldest tileKey
		var oldestAt time.Time
		first := true
		for k, v := range p.cache {
			if first || v.fetched.Before(oldestAt) {
				first = false
				oldest, oldestAt = k, v.fetched
			}
		}
		delete(p.cache, oldest)
		p.evicts.Add(1)
	}
	p.mu.Unlock()

	final := p.diskPath(key)
	_ = os.MkdirAll(filepath.Dir(final), 0o755)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err == nil {
		if err := os.Rename(tmp, final); err == nil {
			p.stored.Add(1)
		}
	}
}

// settle delivers the fetch outcome to any coalesced waiters.
func (p *tileProxy) settle(key tileKey, res tileResult) {
	p.mu.Lock()
	waiters := p.inFlight[key]
	delete(p.inFlight, key)
	p.mu.Unlock()
	for _, ch := range waiters {
		ch <- res
	}
}

func (p *tileProxy) serveStats(w http.ResponseWriter, _ *http.Request) {
	p.mu.Lock()
	memEntries := len(p.cache)
	p.mu.Unlock()
	stats := map[string]any{
		"memory_cache_entries":     memEntries,
		"memory_cache_ttl_seconds": int(p.memTTL.Seconds()),
		"disk_cache_dir":           p.diskDir,
		"max_entries":              p.maxEntries,
		"cache_hits":               p.hits.Load(),
		"cache_disk_hits":          p.diskHits.Load(),
		"cache_misses":             p.misses.Load(),
		"cache_wait_hits":          p.waits.Load(),
		"tiles_stored":             p.stored.Load(),
		"errors":                   p.errs.Load(),
		"evictions":                p.evicts.Load(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}
