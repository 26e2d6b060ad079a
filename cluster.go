package main

import (
	"fmt"
	"math"
)

// Web-mercator grid clustering. Points are projected to world pixel
// coordinates at the requested zoom and bucketed into grid cells;
// single-occupant cells stay individual points, the rest collapse into a
// count marker at the bounding-box center of the cell.

// ClusterCell is an aggregate marker: a count at the centroid of its
// member points.
type ClusterCell struct {
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Count int     `json:"count"`
}

type clusterBucket struct {
	sumLat, sumLon float64
	minX, maxX     float64
	minY, maxY     float64
	points         []ClusterPoint
}

// clusterGrid buckets points at the given zoom. gridPx is the cell edge
// in screen pixels; smaller cells split clusters apart sooner.
func clusterGrid(points []ClusterPoint, zoom, gridPx int) (singles []ClusterPoint, cells []ClusterCell) {
	if zoom < 0 {
		zoom = 0
	}
	if gridPx <= 0 {
		gridPx = 60
	}

	scale := 256.0 * math.Exp2(float64(zoom))
	buckets := make(map[string]*clusterBucket)
	for _, p := range points {
		x, y := projectWorldPx(p.Lat, p.Lon, scale)
		key := fmt.Sprintf("%d:%d", int(x/float64(gridPx)), int(y/float64(gridPx)))
		b := buckets[key]
		if b == nil {
			b = &clusterBucket{minX: x, maxX: x, minY: y, maxY: y}
			buckets[key] = b
		}
		b.minX = math.Min(b.minX, x)
		b.maxX = math.Max(b.maxX, x)
		b.minY = math.Min(b.minY, y)
		b.maxY = math.Max(b.maxY, y)
		b.sumLat += p.Lat
		b.sumLon += p.Lon
		b.points = append(b.points, p)
	}

	for _, b := range buckets {
		if len(b.points) == 1 {
			singles = append(singles, b.points[0])
			continue
		}
		lat, lon := unprojectWorldPx((b.minX+b.maxX)/2, (b.minY+b.maxY)/2, scale)
		cells = append(cells, ClusterCell{Lat: lat, Lon: lon, Count: len(b.points)})
	}
	return singles, cells
}

// projectWorldPx maps lat/lon to world pixel coordinates at the given
// scale (256 * 2^zoom).
func projectWorldPx(lat, lon, scale float64) (x, y float64) {
	sinLat := math.Sin(lat * math.Pi / 180)
	x = (lon + 180.0) / 360.0 * scale
	y = (0.5 - math.Log((1+sinLat)/(1-sinLat))/(4*math.Pi)) * scale
	return x, y
}

// unprojectWorldPx is the inverse of projectWorldPx.
func unprojectWorldPx(x, y, scale float64) (lat, lon float64) {
	lon = (x/scale)*360.0 - 180.0
	lat = math.Atan(math.Sinh(math.Pi*(1-2*y/scale))) * 180.0 / math.Pi
	return lat, lon
}
