package main

import (
	"context"
	"strings"
	"sync"

	"github.com/rubiojr/poiview/pkg/logger"
)

// View synchronization core.
//
// The reconciler owns the view state (current location, current POI set,
// loading/error flags) and sequences every search cycle:
//
//	geocode -> recenter map -> fetch POIs -> render markers
//
// Triggers arrive concurrently (debounced input, map pans, the refresh
// timer, connectivity flips) and network completions arrive out of order.
// A single monotonic generation counter tags every issued request; a
// completion is applied only if its generation is still the latest, so a
// slow response can never overwrite the state of a newer cycle.
//
// Cancellation is logical only: superseded requests are not aborted on the
// wire, their results are discarded on arrival. Responses are idempotent
// reads, so letting them finish is harmless.

// Location is a geocoder best match. Immutable; replaced wholesale by a
// newer successful geocode.
type Location struct {
	DisplayName string  `json:"display_name"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
}

// PointOfInterest is one tagged place from the POI endpoint, keyed by the
// provider's node id.
type PointOfInterest struct {
	ID       int64   `json:"id"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Name     string  `json:"name,omitempty"`
	Category string  `json:"category"`
}

// ErrorKind classifies the single user-visible error slot. None of these
// are fatal; the map stays interactive and previous markers stay rendered.
type ErrorKind string

const (
	ErrNoResults      ErrorKind = "no_results"
	ErrGeocodeFailed  ErrorKind = "geocode_failed"
	ErrPOIFetchFailed ErrorKind = "poi_fetch_failed"
)

// Geocoder resolves a free-text query to a single best match.
// A nil Location with a nil error means the query matched nothing.
type Geocoder interface {
	Geocode(ctx context.Context, query string) (*Location, error)
}

// POIFetcher resolves a coordinate and radius to a set of points of
// interest.
type POIFetcher interface {
	FetchNearby(ctx context.Context, lat, lon float64, radiusMeters int) ([]PointOfInterest, error)
}

// ViewState is the reconciler's owned state, snapshotted for the UI.
type ViewState struct {
	Location    *Location         `json:"location,omitempty"`
	POIs        []PointOfInterest `json:"pois"`
	Loading     bool              `json:"loading"`
	LastError   ErrorKind         `json:"last_error,omitempty"`
	Offline     bool              `json:"offline"`
	ActiveQuery string            `json:"active_query,omitempty"`
	Generation  uint64            `json:"generation"`
}

// ViewReconciler owns the view state and the map widget handle. All
// mutation happens under mu; async completions re-enter through the
// apply* methods which check their generation before touching anything.
type ViewReconciler struct {
	geocoder Geocoder
	fetcher  POIFetcher
	mapw     MapWidget
	renderer *MarkerRenderer
	refresh  *RefreshScheduler

	radiusMeters int
	recenterZoom int

	mu          sync.Mutex
	generation  uint64
	location    *Location
	pois        []PointOfInterest
	loading     bool
	lastError   ErrorKind
	offline     bool
	activeQuery string
	torndown    bool
}

// NewViewReconciler wires the core against its collaborators. The refresh
// scheduler is owned by the reconciler and armed from POI-fetch
// completions.
func NewViewReconciler(g Geocoder, f POIFetcher, mapw MapWidget, renderer *MarkerRenderer, cfg Config) *ViewReconciler {
	r := &ViewReconciler{
		geocoder:     g,
		fetcher:      f,
		mapw:         mapw,
		renderer:     renderer,
		radiusMeters: cfg.POIRadiusMeters,
		recenterZoom: cfg.RecenterZoom,
	}
	r.refresh = NewRefreshScheduler(cfg.RefreshInterval, r.refreshTick)
	return r
}

// SubmitSearch starts a new search cycle. Blank queries and queries while
// offline are no-ops.
func (r *ViewReconciler) SubmitSearch(query string) {
	query = strings.TrimSpace(query)
	if query == "" {
		return
	}

	r.mu.Lock()
	if r.torndown || r.offline {
		offline := r.offline
		r.mu.Unlock()
		logger.Debug("search %q rejected (offline=%v)", query, offline)
		return
	}
	r.generation++
	gen := r.generation
	r.loading = true
	r.lastError = ""
	r.activeQuery = query
	r.mu.Unlock()

	logger.Debug("search %q issued gen=%d", query, gen)
	go func() {
		loc, err := r.geocoder.Geocode(context.Background(), query)
		r.applyGeocode(gen, loc, err)
	}()
}

// OnViewportMoved re-fetches POIs around the new viewport center. It does
// not alter the current location: panning and searching share the fetch
// path but are ordered by the same generation counter, so neither can
// stomp a newer cycle of the other.
func (r *ViewReconciler) OnViewportMoved(lat, lon float64) {
	r.mu.Lock()
	if r.torndown || r.offline {
		r.mu.Unlock()
		return
	}
	r.generation++
	gen := r.generation
	r.loading = true
	r.mu.Unlock()

	logger.Debug("viewport moved to %.5f,%.5f gen=%d", lat, lon, gen)
	r.issuePOIFetch(gen, lat, lon)
}

// SetOffline flips the offline flag. Going offline suppresses new
// requests only; in-flight work is left to the generation check. Coming
// back online does not auto-retry anything.
func (r *ViewReconciler) SetOffline(offline bool) {
	r.mu.Lock()
	r.offline = offline
	r.mu.Unlock()
	if offline {
		logger.Info("connectivity lost, suppressing new requests")
	} else {
		logger.Info("connectivity restored")
	}
}

// Snapshot returns a copy of the current view state.
func (r *ViewReconciler) Snapshot() ViewState {
	r.mu.Lock()
	defer r.mu.Unlock()
	pois := make([]PointOfInterest, len(r.pois))
	copy(pois, r.pois)
	return ViewState{
		Location:    r.location,
		POIs:        pois,
		Loading:     r.loading,
		LastError:   r.lastError,
		Offline:     r.offline,
		ActiveQuery: r.activeQuery,
		Generation:  r.generation,
	}
}

// Teardown cancels the refresh timer, invalidates all in-flight work and
// releases map marker handles. Idempotent.
func (r *ViewReconciler) Teardown() {
	r.mu.Lock()
	if r.torndown {
		r.mu.Unlock()
		return
	}
	r.torndown = true
	r.generation++ // orphan anything still in flight
	r.location = nil
	r.pois = nil
	r.loading = false
	r.mu.Unlock()

	r.refresh.Stop()
	r.renderer.Clear(r.mapw)
}

// applyGeocode is the geocode completion path. Stale generations are
// discarded before any state is touched.
func (r *ViewReconciler) applyGeocode(gen uint64, loc *Location, err error) {
	r.mu.Lock()
	if r.torndown || gen != r.generation {
		r.mu.Unlock()
		logger.Debug("geocode result gen=%d discarded (stale)", gen)
		return
	}
	if err != nil {
		r.lastError = ErrGeocodeFailed
		r.loading = false
		r.mu.Unlock()
		logger.Error("geocode failed: %v", err)
		return
	}
	if loc == nil {
		r.lastError = ErrNoResults
		r.location = nil
		r.loading = false
		r.mu.Unlock()
		// No location left to refresh against.
		r.refresh.Disarm()
		return
	}
	r.location = loc
	r.lastError = ""
	lat, lon := loc.Lat, loc.Lon
	r.mu.Unlock()

	logger.Debug("geocoded to %q (%.5f,%.5f) gen=%d", loc.DisplayName, lat, lon, gen)
	// Routed through the renderer so a recenter from a superseded cycle
	// landing late cannot move the viewport back.
	r.renderer.Recenter(r.mapw, gen, lat, lon, r.recenterZoom)
	// Same generation on purpose: the POI fetch belongs to this cycle.
	r.issuePOIFetch(gen, lat, lon)
}

func (r *ViewReconciler) issuePOIFetch(gen uint64, lat, lon float64) {
	go func() {
		pois, err := r.fetcher.FetchNearby(context.Background(), lat, lon, r.radiusMeters)
		r.applyPOIs(gen, pois, err)
	}()
}

// applyPOIs is the POI completion path. On success the POI set is
// replaced wholesale and markers re-rendered; on failure the previous
// markers stay on screen. Either way a completed cycle re-arms the
// refresh timer, so the 30s wait measures from completion rather than
// from issuance.
func (r *ViewReconciler) applyPOIs(gen uint64, pois []PointOfInterest, err error) {
	r.mu.Lock()
	if r.torndown || gen != r.generation {
		r.mu.Unlock()
		logger.Debug("poi result gen=%d discarded (stale)", gen)
		return
	}
	if err != nil {
		r.lastError = ErrPOIFetchFailed
		r.loading = false
		hasLocation := r.location != nil
		offline := r.offline
		r.mu.Unlock()
		logger.Error("poi fetch failed: %v", err)
		if hasLocation && !offline {
			r.refresh.Arm()
		}
		return
	}
	r.pois = pois
	r.loading = false
	r.lastError = ""
	loc := r.location
	offline := r.offline
	rendered := make([]PointOfInterest, len(pois))
	copy(rendered, pois)
	r.mu.Unlock()

	logger.Debug("applied %d pois gen=%d", len(rendered), gen)
	// The widget call runs outside mu; the renderer's own watermark
	// discards this render if a newer generation got there first.
	r.renderer.Render(r.mapw, gen, loc, rendered)
	if loc != nil && !offline {
		r.refresh.Arm()
	}
}

// refreshTick re-fetches POIs for the current location. Fired by the
// refresh scheduler; while offline or without a location the tick is
// dropped and the timer stays disarmed until the next completed fetch.
func (r *ViewReconciler) refreshTick() {
	r.mu.Lock()
	if r.torndown || r.offline || r.location == nil {
		r.mu.Unlock()
		return
	}
	r.generation++
	gen := r.generation
	lat, lon := r.location.Lat, r.location.Lon
	r.loading = true
	r.mu.Unlock()

	logger.Debug("refresh tick gen=%d", gen)
	r.issuePOIFetch(gen, lat, lon)
}
