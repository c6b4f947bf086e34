package domain

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
)

// HaversineKm returns the great-circle distance between two coordinates in kilometres.
func HaversineKm(a, b Coordinate) float64 {
	return geo.DistanceHaversine(a.Point(), b.Point()) / 1000
}

// MatchRegion returns the region whose centroid is nearest to point.
// Exact ties keep the first region in input order. O(n) per query.
func MatchRegion(point Coordinate, regions []Region) (Region, error) {
	if len(regions) == 0 {
		return Region{}, ErrNoRegions
	}

	best := 0
	bestDist := math.Inf(1)
	for i, r := range regions {
		d := HaversineKm(point, r.Centroid)
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return regions[best], nil
}

// WithinTolerance reports whether point lies inside an axis-aligned box of
// ±tolerance degrees around center. This approximates municipality membership
// without polygon data.
func WithinTolerance(center Coordinate, toleranceDeg float64, point Coordinate) bool {
	return math.Abs(point.Lat-center.Lat) <= toleranceDeg &&
		math.Abs(point.Lon-center.Lon) <= toleranceDeg
}

// ContainsPoint reports true point-in-polygon containment for polygonal geometries.
// Non-polygonal geometries never contain a point.
func ContainsPoint(g orb.Geometry, point Coordinate) bool {
	p := point.Point()
	switch geom := g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(geom, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(geom, p)
	case orb.Bound:
		return geom.Contains(p)
	default:
		return false
	}
}
