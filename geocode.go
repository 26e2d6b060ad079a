package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/muesli/gominatim"
	"github.com/rubiojr/poiview/pkg/logger"
	_ "modernc.org/sqlite"
)

// Nominatim-backed geocoder with a persistent sqlite response cache
// (indefinite retention) and a minimum inter-request interval, per the
// Nominatim usage policy. Only successful responses are cached, empty
// ones included; transient failures are not.

const (
	nominatimMinInterval = 400 * time.Millisecond
	geocodeFetchLimit    = 8
)

type nominatimGeocoder struct {
	server   string
	db       *sql.DB
	initOnce sync.Once

	throttleMu sync.Mutex
	lastCall   time.Time
}

// NewNominatimGeocoder opens (or creates) the geocode cache under
// cacheDir and returns a ready geocoder. A cache open failure is logged
// and degrades to uncached operation.
func NewNominatimGeocoder(server, cacheDir string) *nominatimGeocoder {
	g := &nominatimGeocoder{server: server}
	dbPath := filepath.Join(cacheDir, "geocode.sqlite")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		logger.Error("geocode cache open failed: %v", err)
		return g
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS geocode_cache (
		query TEXT PRIMARY KEY,
		json  TEXT NOT NULL,
		fetched_at TIMESTAMP NOT NULL
	)`); err != nil {
		logger.Error("geocode cache schema error: %v", err)
		_ = db.Close()
		return g
	}
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_geocode_cache_fetched_at ON geocode_cache(fetched_at)`)
	g.db = db
	return g
}

// Geocode returns the single best match for a query, or nil when the
// query matches nothing.
func (g *nominatimGeocoder) Geocode(ctx context.Context, query string) (*Location, error) {
	results, err := g.search(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	loc := results[0]
	return &loc, nil
}

// Suggest returns up to limit candidate locations for a partial query.
func (g *nominatimGeocoder) Suggest(ctx context.Context, query string, limit int) ([]Location, error) {
	if limit <= 0 {
		return nil, nil
	}
	results, err := g.search(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// search consults the cache first, then Nominatim. The fetch always asks
// for geocodeFetchLimit results so one cached payload serves both the
// best-match and the suggestion paths.
func (g *nominatimGeocoder) search(ctx context.Context, query string) ([]Location, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	if cached, ok := g.cacheGet(query); ok {
		logger.Debug("geocode cache hit for %q (%d results)", query, len(cached))
		return cached, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.throttle()
	g.initOnce.Do(func() {
		gominatim.SetServer(g.server)
	})

	q := gominatim.SearchQuery{Q: query, Limit: geocodeFetchLimit}
	res, err := q.Get()
	if err != nil {
		logger.Error("nominatim search error for %q: %v", query, err)
		return nil, err
	}

	results := make([]Location, 0, len(res))
	for _, r := range res {
		lat, _ := strconv.ParseFloat(r.Lat, 64)
		lon, _ := strconv.ParseFloat(r.Lon, 64)
		if r.DisplayName == "" {
			continue
		}
		results = append(results, Location{DisplayName: r.DisplayName, Lat: lat, Lon: lon})
	}

	g.cachePut(query, results)
	return results, nil
}

// throttle enforces the minimum interval between upstream calls.
func (g *nominatimGeocoder) throttle() {
	g.throttleMu.Lock()
	defer g.throttleMu.Unlock()
	if delta := time.Since(g.lastCall); delta < nominatimMinInterval {
		time.Sleep(nominatimMinInterval - delta)
	}
	g.lastCall = time.Now()
}

func (g *nominatimGeocoder) cacheGet(query string) ([]Location, bool) {
	if g.db == nil {
		return nil, false
	}
	var raw string
	err := g.db.QueryRow(`SELECT json FROM geocode_cache WHERE query = ?`, query).Scan(&raw)
	if err != nil {
		return nil, false
	}
	var results []Location
	if err := json.Unmarshal([]byte(raw), &results); err != nil {
		logger.Error("geocode cache unmarshal failed for %q: %v (ignoring)", query, err)
		return nil, false
	}
	return results, true
}

func (g *nominatimGeocoder) cachePut(query string, results []Location) {
	if g.db == nil {
		return
	}
	b, err := json.Marshal(results)
	if err != nil {
		return
	}
	_, _ = g.db.Exec(`INSERT OR REPLACE INTO geocode_cache(query, json, fetched_at) VALUES(?,?,CURRENT_TIMESTAMP)`, query, string(b))
}

// Close releases the cache handle.
func (g *nominatimGeocoder) Close() {
	if g.db != nil {
		_ = g.db.Close()
	}
}
