package main

import (
	"html"
	"sync"
)

// sceneMap is the production MapWidget: instead of driving Qt objects
// directly it keeps a serializable scene that the QML map polls over the
// local HTTP API (GET /api/map/scene), the same split the upstream QML
// shell uses for waypoints and clusters. Pan events flow the other way
// through ReportViewport (POST /api/map/viewport).
type sceneMap struct {
	mu            sync.Mutex
	rev           uint64
	nextID        int
	markers       map[int]Marker
	order         []int
	clusterPoints []ClusterPoint
	clusterCfg    ClusterConfig
	hasCenter     bool
	centerLat     float64
	centerLon     float64
	centerZoom    int

	onViewport func(lat, lon float64)
}

func newSceneMap() *sceneMap {
	return &sceneMap{markers: make(map[int]Marker)}
}

func (s *sceneMap) SetCenter(lat, lon float64, zoom int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hasCenter = true
	s.centerLat, s.centerLon, s.centerZoom = lat, lon, zoom
	s.rev++
}

func (s *sceneMap) AddMarker(m Marker) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.markers[id] = m
	s.order = append(s.order, id)
	s.rev++
	return id
}

func (s *sceneMap) RemoveMarker(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markers[id]; !ok {
		return
	}
	delete(s.markers, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.rev++
}

func (s *sceneMap) SetPopup(id int, popupHTML string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markers[id]
	if !ok {
		return
	}
	m.Popup = popupHTML
	s.markers[id] = m
	s.rev++
}

func (s *sceneMap) SetClusterLayer(points []ClusterPoint, cfg ClusterConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clusterPoints = append([]ClusterPoint(nil), points...)
	s.clusterCfg = cfg
	s.rev++
}

func (s *sceneMap) ClearClusterLayer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clusterPoints == nil {
		return
	}
	s.clusterPoints = nil
	s.rev++
}

// OnViewportMoved registers the pan callback. A nil callback detaches.
func (s *sceneMap) OnViewportMoved(cb func(lat, lon float64)) {
	s.mu.Lock()
	s.onViewport = cb
	s.mu.Unlock()
}

// ReportViewport forwards a completed pan from the QML map.
func (s *sceneMap) ReportViewport(lat, lon float64) {
	s.mu.Lock()
	cb := s.onViewport
	s.mu.Unlock()
	if cb != nil {
		cb(lat, lon)
	}
}

type scenePoint struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Zoom int     `json:"zoom"`
}

type mapScene struct {
	Rev       uint64        `json:"rev"`
	Center    *scenePoint   `json:"center,omitempty"`
	Markers   []Marker      `json:"markers"`
	Clusters  []ClusterCell `json:"clusters,omitempty"`
	Clustered bool          `json:"clustered"`
}

// Scene materializes the current scene for the given viewport zoom. An
// active cluster layer is expanded with the grid math: aggregate cells at
// low zoom, individual markers once zoom passes the configured max.
func (s *sceneMap) Scene(zoom int) mapScene {
	s.mu.Lock()
	defer s.mu.Unlock()

	scene := mapScene{Rev: s.rev, Markers: []Marker{}}
	if s.hasCenter {
		scene.Center = &scenePoint{Lat: s.centerLat, Lon: s.centerLon, Zoom: s.centerZoom}
	}
	for _, id := range s.order {
		scene.Markers = append(scene.Markers, s.markers[id])
	}
	if len(s.clusterPoints) == 0 {
		return scene
	}

	scene.Clustered = true
	if zoom > s.clusterCfg.MaxZoom {
		for _, p := range s.clusterPoints {
			scene.Markers = append(scene.Markers, pointMarker(p))
		}
		return scene
	}
	singles, cells := clusterGrid(s.clusterPoints, zoom, s.clusterCfg.GridPx)
	for _, p := range singles {
		scene.Markers = append(scene.Markers, pointMarker(p))
	}
	scene.Clusters = cells
	return scene
}

func pointMarker(p ClusterPoint) Marker {
	return Marker{Lat: p.Lat, Lon: p.Lon, Style: StylePOI, Popup: "<b>" + html.EscapeString(p.Name) + "</b>"}
}
