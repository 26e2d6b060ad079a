package main

import (
	"context"
	"testing"
)

func TestGeocodeServedFromCache(t *testing.T) {
	// server URL is never contacted: the cache answers first.
	g := NewNominatimGeocoder("https://nominatim.invalid", t.TempDir())
	defer g.Close()
	if g.db == nil {
		t.Fatal("cache db not opened")
	}

	cached := []Location{
		{DisplayName: "Paris, Île-de-France, France", Lat: 48.8566, Lon: 2.3522},
		{DisplayName: "Paris, Texas, United States", Lat: 33.6609, Lon: -95.5555},
	}
	g.cachePut("paris", cached)

	loc, err := g.Geocode(context.Background(), "paris")
	if err != nil {
		t.Fatalf("Geocode: %v", err)
	}
	if loc == nil || loc.DisplayName != cached[0].DisplayName {
		t.Fatalf("best match = %+v", loc)
	}
	if loc.Lat != 48.8566 || loc.Lon != 2.3522 {
		t.Fatalf("coords = %.4f,%.4f", loc.Lat, loc.Lon)
	}

	// Whitespace trims to the same cache key.
	loc2, err := g.Geocode(context.Background(), "  paris  ")
	if err != nil || loc2 == nil || *loc2 != *loc {
		t.Fatalf("trimmed lookup: %+v, %v", loc2, err)
	}
}

func TestGeocodeCachedEmptyResult(t *testing.T) {
	g := NewNominatimGeocoder("https://nominatim.invalid", t.TempDir())
	defer g.Close()

	// An empty result set is cached too; it must come back as a clean
	// no-match, not an error.
	g.cachePut("xyzzy", []Location{})
	loc, err := g.Geocode(context.Background(), "xyzzy")
	if err != nil {
		t.Fatalf("Geocode: %v", err)
	}
	if loc != nil {
		t.Fatalf("match for cached miss: %+v", loc)
	}
}

func TestGeocodeBlankQuery(t *testing.T) {
	g := NewNominatimGeocoder("https://nominatim.invalid", t.TempDir())
	defer g.Close()

	loc, err := g.Geocode(context.Background(), "   ")
	if err != nil || loc != nil {
		t.Fatalf("blank query: %+v, %v", loc, err)
	}
}

func TestSuggestLimitsResults(t *testing.T) {
	g := NewNominatimGeocoder("https://nominatim.invalid", t.TempDir())
	defer g.Close()

	many := make([]Location, 0, 8)
	for i := 0; i < 8; i++ {
		many = append(many, Location{DisplayName: "Springfield", Lat: float64(i), Lon: float64(i)})
	}
	g.cachePut("springfield", many)

	got, err := g.Suggest(context.Background(), "springfield", 3)
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("%d suggestions, want 3", len(got))
	}

	if got, _ := g.Suggest(context.Background(), "springfield", 0); got != nil {
		t.Fatalf("limit 0 returned %d results", len(got))
	}
}

func TestGeocodeCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	g := NewNominatimGeocoder("https://nominatim.invalid", dir)
	g.cachePut("lyon", []Location{{DisplayName: "Lyon, France", Lat: 45.764, Lon: 4.8357}})
	g.Close()

	// The cache persists across geocoder instances.
	g2 := NewNominatimGeocoder("https://nominatim.invalid", dir)
	defer g2.Close()
	results, ok := g2.cacheGet("lyon")
	if !ok || len(results) != 1 || results[0].DisplayName != "Lyon, France" {
		t.Fatalf("cacheGet = %+v, %v", results, ok)
	}
}
