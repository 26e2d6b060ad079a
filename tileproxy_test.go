package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

func tileUpstream(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/png")
		fmt.Fprintf(w, "tile:%s", r.URL.Path)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestParseTilePath(t *testing.T) {
	cases := []struct {
		path string
		want tileKey
		ok   bool
	}{
		{"/api/tiles/12/2047/1362.png", tileKey{12, 2047, 1362}, true},
		{"/api/tiles/0/0/0.png", tileKey{0, 0, 0}, true},
		{"/api/tiles/12/2047.png", tileKey{}, false},
		{"/api/tiles/12/a/1362.png", tileKey{}, false},
		{"/api/tiles/12/2047/1362.jpg", tileKey{}, false},
		{"/api/tiles/-1/0/0.png", tileKey{}, false},
	}
	for _, c := range cases {
		key, ok := parseTilePath(c.path)
		if ok != c.ok || key != c.want {
			t.Fatalf("parseTilePath(%q) = %+v,%v want %+v,%v", c.path, key, ok, c.want, c.ok)
		}
	}
}

func TestTileProxyCachesInMemory(t *testing.T) {
	var hits atomic.Int32
	srv := tileUpstream(t, &hits)
	t.Setenv("POIVIEW_TILE_UPSTREAM", srv.URL+"/%d/%d/%d.png")

	p := newTileProxy(t.TempDir())

	get := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		p.serveTile(rec, httptest.NewRequest(http.MethodGet, "/api/tiles/12/100/200.png", nil))
		return rec
	}

	first := get()
	if first.Code != http.StatusOK {
		t.Fatalf("status %d", first.Code)
	}
	if got := first.Body.String(); got != "tile:/12/100/200.png" {
		t.Fatalf("body %q", got)
	}
	if first.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("content type %q", first.Header().Get("Content-Type"))
	}

	second := get()
	if second.Body.String() != first.Body.String() {
		t.Fatal("cached body differs")
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("upstream hit %d times for the same tile", got)
	}
	if p.hits.Load() != 1 || p.misses.Load() != 1 {
		t.Fatalf("counters hits=%d misses=%d", p.hits.Load(), p.misses.Load())
	}
}

func TestTileProxyServesFromDisk(t *testing.T) {
	var hits atomic.Int32
	srv := tileUpstream(t, &hits)
	t.Setenv("POIVIEW_TILE_UPSTREAM", srv.URL+"/%d/%d/%d.png")
	dir := t.TempDir()

	p := newTileProxy(dir)
	rec := httptest.NewRecorder()
	p.serveTile(rec, httptest.NewRequest(http.MethodGet, "/api/tiles/5/1/2.png", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if _, err := os.Stat(filepath.Join(dir, "tiles", "5", "1", "2.png")); err != nil {
		t.Fatalf("tile not persisted: %v", err)
	}

	// A fresh proxy with a cold memory cache finds the tile on disk.
	p2 := newTileProxy(dir)
	rec2 := httptest.NewRecorder()
	p2.serveTile(rec2, httptest.NewRequest(http.MethodGet, "/api/tiles/5/1/2.png", nil))
	if rec2.Body.String() != rec.Body.String() {
		t.Fatal("disk tile differs from fetched tile")
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("upstream refetched: %d hits", got)
	}
	if p2.diskHits.Load() != 1 {
		t.Fatalf("disk hit counter = %d", p2.diskHits.Load())
	}
}

func TestTileProxyBadPathAndUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	t.Setenv("POIVIEW_TILE_UPSTREAM", srv.URL+"/%d/%d/%d.png")

	p := newTileProxy(t.TempDir())

	rec := httptest.NewRecorder()
	p.serveTile(rec, httptest.NewRequest(http.MethodGet, "/api/tiles/bogus", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad path status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	p.serveTile(rec, httptest.NewRequest(http.MethodGet, "/api/tiles/3/1/1.png", nil))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("upstream failure status %d", rec.Code)
	}
	if p.errs.Load() != 1 {
		t.Fatalf("error counter = %d", p.errs.Load())
	}
}
