package main

import (
	"encoding/json"
	"net/http"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/rubiojr/poiview/pkg/logger"
)

// Local HTTP API consumed by the QML map shell. Uses Go 1.22
// method-aware ServeMux patterns.

func corsHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// handlePostSearch commits a search directly (enter key / suggestion
// click), bypassing the debouncer.
func handlePostSearch(rec *ViewReconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		corsHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		var req struct {
			Query string `json:"query"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.Query) == "" {
			http.Error(w, "query required", http.StatusBadRequest)
			return
		}
		logger.Debug("POST /api/search query=%q", req.Query)
		rec.SubmitSearch(req.Query)
		writeJSON(w, map[string]any{"accepted": true, "query": req.Query})
	}
}

// handlePostSearchInput feeds raw keystrokes into the debouncer.
func handlePostSearchInput(deb *SearchDebouncer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		corsHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		var req struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
		deb.Input(req.Text)
		w.WriteHeader(http.StatusAccepted)
	}
}

// handlePostViewport receives pan completions from the QML map.
func handlePostViewport(bridge *sceneMap) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		corsHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		var req struct {
			Lat float64 `json:"lat"`
			Lon float64 `json:"lon"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
		bridge.ReportViewport(req.Lat, req.Lon)
		w.WriteHeader(http.StatusAccepted)
	}
}

func handleGetState(rec *ViewReconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		corsHeaders(w)
		writeJSON(w, rec.Snapshot())
	}
}

func handleGetScene(bridge *sceneMap) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		corsHeaders(w)
		zoom := 0
		if zStr := r.URL.Query().Get("zoom"); zStr != "" {
			if z, err := strconv.Atoi(zStr); err == nil && z >= 0 {
				zoom = z
			}
		}
		writeJSON(w, bridge.Scene(zoom))
	}
}

// handleGetSuggest returns geocode candidates for a partial query through
// the cached geocoder.
func handleGetSuggest(g *nominatimGeocoder, limit int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		corsHeaders(w)
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			writeJSON(w, map[string]any{"query": "", "suggestions": []Location{}})
			return
		}
		results, err := g.Suggest(r.Context(), q, limit)
		if err != nil {
			// Suggestion failures never surface as view errors.
			logger.Debug("/api/suggest error for %q: %v", q, err)
		}
		if results == nil {
			results = []Location{}
		}
		writeJSON(w, map[string]any{"query": q, "suggestions": results})
	}
}

func handleGetVersion(w http.ResponseWriter, _ *http.Request) {
	corsHeaders(w)
	info := map[string]any{
		"go_version": runtime.Version(),
		"go_os":      runtime.GOOS,
		"go_arch":    runtime.GOARCH,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info["go_module"] = bi.Path
		if bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info["app_version"] = bi.Main.Version
		}
	}
	writeJSON(w, info)
}

// RegisterAPI wires every endpoint of the local API.
func RegisterAPI(mux *http.ServeMux, rec *ViewReconciler, deb *SearchDebouncer, bridge *sceneMap, geocoder *nominatimGeocoder, proxy *tileProxy, cfg Config) {
	if mux == nil {
		mux = http.DefaultServeMux
	}

	mux.HandleFunc("OPTIONS /api/search", handlePostSearch(rec))
	mux.HandleFunc("POST /api/search", handlePostSearch(rec))
	mux.HandleFunc("OPTIONS /api/search/input", handlePostSearchInput(deb))
	mux.HandleFunc("POST /api/search/input", handlePostSearchInput(deb))

	mux.HandleFunc("OPTIONS /api/map/viewport", handlePostViewport(bridge))
	mux.HandleFunc("POST /api/map/viewport", handlePostViewport(bridge))
	mux.HandleFunc("GET /api/map/scene", handleGetScene(bridge))

	mux.HandleFunc("GET /api/state", handleGetState(rec))
	mux.HandleFunc("GET /api/suggest", handleGetSuggest(geocoder, cfg.SuggestLimit))

	mux.HandleFunc("GET /api/tiles/stats", proxy.serveStats)
	mux.HandleFunc("GET /api/tiles/", proxy.serveTile)

	mux.HandleFunc("GET /api/version", handleGetVersion)
}
