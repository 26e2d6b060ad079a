package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type apiHarness struct {
	mux      *http.ServeMux
	geocoder *fakeGeocoder
	fetcher  *fakeFetcher
	bridge   *sceneMap
	rec      *ViewReconciler
	nom      *nominatimGeocoder
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	cfg := testConfig()

	h := &apiHarness{
		mux:      http.NewServeMux(),
		geocoder: newFakeGeocoder(),
		fetcher:  newFakeFetcher(),
		bridge:   newSceneMap(),
	}
	renderer := NewMarkerRenderer(cfg.ClusterThreshold, ClusterConfig{GridPx: cfg.ClusterGridPx, MaxZoom: cfg.ClusterMaxZoom})
	h.rec = NewViewReconciler(h.geocoder, h.fetcher, h.bridge, renderer, cfg)
	h.bridge.OnViewportMoved(h.rec.OnViewportMoved)
	t.Cleanup(h.rec.Teardown)

	h.nom = NewNominatimGeocoder("https://nominatim.invalid", t.TempDir())
	t.Cleanup(h.nom.Close)

	deb := NewSearchDebouncer(cfg.DebounceInterval, h.rec.SubmitSearch)
	t.Cleanup(deb.Close)

	RegisterAPI(h.mux, h.rec, deb, h.bridge, h.nom, newTileProxy(t.TempDir()), cfg)
	return h
}

func (h *apiHarness) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.mux.ServeHTTP(rec, req)
	return rec
}

func TestAPISearchValidation(t *testing.T) {
	h := newAPIHarness(t)

	if res := h.do(http.MethodPost, "/api/search", `{"query": "  "}`); res.Code != http.StatusBadRequest {
		t.Fatalf("blank query status %d", res.Code)
	}
	if res := h.do(http.MethodPost, "/api/search", `{"query`); res.Code != http.StatusBadRequest {
		t.Fatalf("bad JSON status %d", res.Code)
	}

	res := h.do(http.MethodPost, "/api/search", `{"query": "Paris"}`)
	if res.Code != http.StatusOK {
		t.Fatalf("search status %d: %s", res.Code, res.Body.String())
	}
	if gc := expectGeocodeCall(t, h.geocoder); gc.query != "Paris" {
		t.Fatalf("geocode query %q", gc.query)
	}
}

func TestAPIStateReflectsReconciler(t *testing.T) {
	h := newAPIHarness(t)

	res := h.do(http.MethodGet, "/api/state", "")
	if res.Code != http.StatusOK {
		t.Fatalf("status %d", res.Code)
	}
	var state ViewState
	if err := json.Unmarshal(res.Body.Bytes(), &state); err != nil {
		t.Fatalf("state decode: %v", err)
	}
	if state.Offline || state.Loading || state.Location != nil {
		t.Fatalf("initial state %+v", state)
	}
	if state.POIs == nil {
		t.Fatal("pois serialized as null")
	}

	h.rec.SubmitSearch("Paris")
	expectGeocodeCall(t, h.geocoder).reply <- geocodeReply{loc: &paris}
	expectFetchCall(t, h.fetcher).reply <- fetchReply{pois: makePOIs(2)}
	waitFor(t, "state to settle", func() bool { return len(h.rec.Snapshot().POIs) == 2 })

	res = h.do(http.MethodGet, "/api/state", "")
	if err := json.Unmarshal(res.Body.Bytes(), &state); err != nil {
		t.Fatalf("state decode: %v", err)
	}
	if state.Location == nil || state.Location.DisplayName != "Paris, France" || len(state.POIs) != 2 {
		t.Fatalf("settled state %+v", state)
	}
}

func TestAPIViewportTriggersFetch(t *testing.T) {
	h := newAPIHarness(t)

	res := h.do(http.MethodPost, "/api/map/viewport", `{"lat": 41.0, "lon": 2.1}`)
	if res.Code != http.StatusAccepted {
		t.Fatalf("viewport status %d", res.Code)
	}
	fc := expectFetchCall(t, h.fetcher)
	if fc.lat != 41.0 || fc.lon != 2.1 {
		t.Fatalf("fetch at %.2f,%.2f", fc.lat, fc.lon)
	}
	fc.reply <- fetchReply{pois: makePOIs(1)}
}

func TestAPISceneEndpoint(t *testing.T) {
	h := newAPIHarness(t)

	h.rec.SubmitSearch("Paris")
	expectGeocodeCall(t, h.geocoder).reply <- geocodeReply{loc: &paris}
	expectFetchCall(t, h.fetcher).reply <- fetchReply{pois: makePOIs(3)}
	waitFor(t, "scene markers", func() bool { return len(h.bridge.Scene(12).Markers) == 4 })

	res := h.do(http.MethodGet, "/api/map/scene?zoom=12", "")
	if res.Code != http.StatusOK {
		t.Fatalf("status %d", res.Code)
	}
	var scene mapScene
	if err := json.Unmarshal(res.Body.Bytes(), &scene); err != nil {
		t.Fatalf("scene decode: %v", err)
	}
	if scene.Center == nil || scene.Center.Lat != paris.Lat {
		t.Fatalf("scene center %+v", scene.Center)
	}
	if len(scene.Markers) != 4 {
		t.Fatalf("%d scene markers, want 4", len(scene.Markers))
	}
}

func TestAPISuggest(t *testing.T) {
	h := newAPIHarness(t)

	res := h.do(http.MethodGet, "/api/suggest?q=", "")
	var body struct {
		Query       string     `json:"query"`
		Suggestions []Location `json:"suggestions"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("suggest decode: %v", err)
	}
	if body.Suggestions == nil || len(body.Suggestions) != 0 {
		t.Fatalf("empty query suggestions: %+v", body.Suggestions)
	}

	// Primed cache keeps the handler off the network.
	h.nom.cachePut("par", []Location{
		{DisplayName: "Paris, France", Lat: 48.8566, Lon: 2.3522},
		{DisplayName: "Parma, Italy", Lat: 44.8015, Lon: 10.3279},
	})
	res = h.do(http.MethodGet, "/api/suggest?q=par", "")
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("suggest decode: %v", err)
	}
	if len(body.Suggestions) != 2 || body.Suggestions[0].DisplayName != "Paris, France" {
		t.Fatalf("suggestions %+v", body.Suggestions)
	}
}

func TestAPIVersionAndCORS(t *testing.T) {
	h := newAPIHarness(t)

	res := h.do(http.MethodGet, "/api/version", "")
	if res.Code != http.StatusOK {
		t.Fatalf("version status %d", res.Code)
	}
	var info map[string]any
	if err := json.Unmarshal(res.Body.Bytes(), &info); err != nil {
		t.Fatalf("version decode: %v", err)
	}
	if _, ok := info["go_version"]; !ok {
		t.Fatal("go_version missing")
	}

	for _, path := range []string{"/api/search", "/api/search/input", "/api/map/viewport"} {
		pre := h.do(http.MethodOptions, path, "")
		if pre.Code != http.StatusNoContent {
			t.Fatalf("preflight %s status %d", path, pre.Code)
		}
		if pre.Header().Get("Access-Control-Allow-Origin") != "*" {
			t.Fatalf("CORS header missing on %s", path)
		}
	}
}

func TestAPIDebouncedInput(t *testing.T) {
	h := newAPIHarness(t)

	for _, text := range []string{"p", "pa", "par", "paris"} {
		if res := h.do(http.MethodPost, "/api/search/input", `{"text": "`+text+`"}`); res.Code != http.StatusAccepted {
			t.Fatalf("input status %d", res.Code)
		}
	}

	// Only the last keystroke survives the quiet window.
	select {
	case gc := <-h.geocoder.calls:
		if gc.query != "paris" {
			t.Fatalf("committed %q", gc.query)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("debounced search never committed")
	}
}
