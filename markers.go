package main

import (
	"fmt"
	"html"
	"sync"
)

// MarkerStyle selects the widget-side marker appearance.
type MarkerStyle string

const (
	StyleLocation MarkerStyle = "location"
	StylePOI      MarkerStyle = "poi"
)

// Marker is one map marker primitive. The popup HTML is revealed on
// hover by the widget.
type Marker struct {
	Lat   float64     `json:"lat"`
	Lon   float64     `json:"lon"`
	Style MarkerStyle `json:"style"`
	Popup string      `json:"popup,omitempty"`
}

// ClusterPoint is one input point for a cluster layer.
type ClusterPoint struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Name string  `json:"name"`
}

// ClusterConfig holds the fixed clustering knobs: grid cell size in
// screen pixels and the zoom level above which clusters fully expand.
type ClusterConfig struct {
	GridPx  int `json:"grid_px"`
	MaxZoom int `json:"max_zoom"`
}

// MapWidget is the narrow surface of the external map collaborator. The
// production implementation is the QML scene bridge; tests use a fake.
type MapWidget interface {
	SetCenter(lat, lon float64, zoom int)
	AddMarker(m Marker) int
	RemoveMarker(id int)
	SetPopup(id int, popupHTML string)
	SetClusterLayer(points []ClusterPoint, cfg ClusterConfig)
	ClearClusterLayer()
}

// MarkerRenderer translates view state into widget primitives. It is a
// pure function of (location, POIs): every render first removes the
// markers of the previous render, so a superseded generation can never
// leave orphans behind.
//
// Widget calls happen outside the reconciler's state lock, so the
// renderer keeps its own generation watermark: a call tagged with a
// generation older than one already applied to the widget is discarded
// under the renderer's mutex. Without this a render that passed the
// reconciler's check could be preempted and land after a newer cycle's,
// leaving the widget showing superseded markers.
type MarkerRenderer struct {
	threshold int
	cluster   ClusterConfig

	mu      sync.Mutex
	gen     uint64
	handles []int
}

func NewMarkerRenderer(threshold int, cluster ClusterConfig) *MarkerRenderer {
	return &MarkerRenderer{threshold: threshold, cluster: cluster}
}

// Recenter moves the widget viewport unless a newer generation has
// already touched it.
func (r *MarkerRenderer) Recenter(mapw MapWidget, gen uint64, lat, lon float64, zoom int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen < r.gen {
		return
	}
	r.gen = gen
	mapw.SetCenter(lat, lon, zoom)
}

// Render replaces the widget's marker set with one derived from the given
// state: a highlighted marker at the location plus either one marker per
// POI or, past the threshold, a cluster layer. Renders from superseded
// generations are dropped.
func (r *MarkerRenderer) Render(mapw MapWidget, gen uint64, loc *Location, pois []PointOfInterest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen < r.gen {
		return
	}
	r.gen = gen

	for _, id := range r.handles {
		mapw.RemoveMarker(id)
	}
	r.handles = r.handles[:0]
	mapw.ClearClusterLayer()

	if loc != nil {
		id := mapw.AddMarker(Marker{Lat: loc.Lat, Lon: loc.Lon, Style: StyleLocation})
		mapw.SetPopup(id, fmt.Sprintf("<b>%s</b>", html.EscapeString(loc.DisplayName)))
		r.handles = append(r.handles, id)
	}

	if len(pois) > r.threshold {
		points := make([]ClusterPoint, 0, len(pois))
		for _, p := range pois {
			points = append(points, ClusterPoint{Lat: p.Lat, Lon: p.Lon, Name: poiLabel(p)})
		}
		mapw.SetClusterLayer(points, r.cluster)
		return
	}

	for _, p := range pois {
		id := mapw.AddMarker(Marker{Lat: p.Lat, Lon: p.Lon, Style: StylePOI})
		mapw.SetPopup(id, poiPopup(p))
		r.handles = append(r.handles, id)
	}
}

// Clear removes everything this renderer has put on the widget and pins
// the watermark: an in-flight render resolving after teardown cannot
// re-add markers.
func (r *MarkerRenderer) Clear(mapw MapWidget) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen = ^uint64(0)
	for _, id := range r.handles {
		mapw.RemoveMarker(id)
	}
	r.handles = r.handles[:0]
	mapw.ClearClusterLayer()
}

// poiLabel returns the POI name or a category-derived placeholder.
func poiLabel(p PointOfInterest) string {
	if p.Name != "" {
		return p.Name
	}
	if p.Category != "" {
		return "unnamed " + p.Category
	}
	return "unnamed place"
}

func poiPopup(p PointOfInterest) string {
	label := html.EscapeString(poiLabel(p))
	if p.Category == "" {
		return fmt.Sprintf("<b>%s</b>", label)
	}
	return fmt.Sprintf("<b>%s</b><br>%s", label, html.EscapeString(p.Category))
}
