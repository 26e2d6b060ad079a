package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Overpass-backed POI fetcher: amenity nodes within a radius of a point.
// The POI id is the OSM node id, the category the amenity tag value.

const defaultOverpassServer = "https://overpass-api.de"

type overpassFetcher struct {
	server string
	client *http.Client
}

func NewOverpassFetcher(server string) *overpassFetcher {
	if server == "" {
		server = defaultOverpassServer
	}
	return &overpassFetcher{
		server: server,
		client: &http.Client{Timeout: 12 * time.Second},
	}
}

type overpassResponse struct {
	Elements []struct {
		Type string            `json:"type"`
		ID   int64             `json:"id"`
		Lat  float64           `json:"lat"`
		Lon  float64           `json:"lon"`
		Tags map[string]string `json:"tags"`
	} `json:"elements"`
}

func (f *overpassFetcher) FetchNearby(ctx context.Context, lat, lon float64, radiusMeters int) ([]PointOfInterest, error) {
	query := fmt.Sprintf(`[out:json];node(around:%d,%.6f,%.6f)["amenity"];out;`, radiusMeters, lat, lon)
	reqURL := f.server + "/api/interpreter?data=" + url.QueryEscape(query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "poiview/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("overpass: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("overpass: status %d", resp.StatusCode)
	}

	var decoded overpassResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("overpass: %w", err)
	}

	pois := make([]PointOfInterest, 0, len(decoded.Elements))
	for _, e := range decoded.Elements {
		if e.Type != "node" {
			continue
		}
		pois = append(pois, PointOfInterest{
			ID:       e.ID,
			Lat:      e.Lat,
			Lon:      e.Lon,
			Name:     e.Tags["name"],
			Category: e.Tags["amenity"],
		})
	}
	return pois, nil
}
