// Package dataset holds the curated offline monitoring regions and the
// critical-point feed shipped with the service.
package dataset

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/guihirsch/orbee.online-sub002/internal/domain"
)

//go:embed santa_cruz_do_sul.geojson
var regionsGeoJSON []byte

// CriticalPoints is the default critical-point feed (GeoJSON FeatureCollection
// with a collection-level "metadata" member).
//
//go:embed critical_points.geojson
var CriticalPoints []byte

// Area describes the municipality covered by a registry.
type Area struct {
	IBGECode     string
	Name         string
	State        string
	Center       domain.Coordinate
	ToleranceDeg float64
}

// Registry is an immutable set of monitoring regions inside one area.
type Registry struct {
	area    Area
	regions []domain.Region
}

// NewRegistry builds a registry. Regions keep their input order, which
// decides distance ties.
func NewRegistry(area Area, regions []domain.Region) *Registry {
	rs := make([]domain.Region, len(regions))
	copy(rs, regions)
	return &Registry{area: area, regions: rs}
}

// Load parses the embedded Santa Cruz do Sul dataset.
func Load() (*Registry, error) {
	return Parse(regionsGeoJSON)
}

// Parse reads a region FeatureCollection with a "municipality" foreign member.
func Parse(data []byte) (*Registry, error) {
	var meta struct {
		Municipality struct {
			IBGECode     string     `json:"ibge_code"`
			Name         string     `json:"name"`
			State        string     `json:"state"`
			Center       [2]float64 `json:"center"` // [lon, lat]
			ToleranceDeg float64    `json:"tolerance_deg"`
		} `json:"municipality"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse dataset metadata: %w", err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parse dataset features: %w", err)
	}

	regions := make([]domain.Region, 0, len(fc.Features))
	for _, f := range fc.Features {
		r, err := regionFromFeature(f)
		if err != nil {
			return nil, err
		}
		regions = append(regions, r)
	}
	if len(regions) == 0 {
		return nil, errors.New("dataset has no regions")
	}

	m := meta.Municipality
	area := Area{
		IBGECode:     m.IBGECode,
		Name:         m.Name,
		State:        m.State,
		Center:       domain.Coordinate{Lat: m.Center[1], Lon: m.Center[0]},
		ToleranceDeg: m.ToleranceDeg,
	}
	return NewRegistry(area, regions), nil
}

func regionFromFeature(f *geojson.Feature) (domain.Region, error) {
	poly, ok := f.Geometry.(orb.Polygon)
	if !ok {
		return domain.Region{}, fmt.Errorf("region %v: geometry must be a Polygon, got %s", f.ID, f.Geometry.GeoJSONType())
	}
	id := f.Properties.MustString("id", "")
	if id == "" {
		return domain.Region{}, errors.New("region without id")
	}
	return NewRegion(
		id,
		f.Properties.MustString("name", id),
		poly,
		f.Properties.MustFloat64("ndvi", 0),
		f.Properties.MustString("description", ""),
	), nil
}

// NewRegion derives the centroid and status of a region polygon.
func NewRegion(id, name string, poly orb.Polygon, ndvi float64, description string) domain.Region {
	if name == "" {
		name = id
	}
	centroid, _ := planar.CentroidArea(poly)
	return domain.Region{
		ID:          id,
		Name:        name,
		Centroid:    domain.CoordinateFromPoint(centroid),
		Polygon:     poly,
		NDVI:        ndvi,
		Status:      domain.StatusForNDVI(ndvi),
		Description: description,
	}
}

// Area returns the municipality the registry covers.
func (r *Registry) Area() Area { return r.area }

// Regions returns a copy of the registry's regions.
func (r *Registry) Regions() []domain.Region {
	out := make([]domain.Region, len(r.regions))
	copy(out, r.regions)
	return out
}

// Covers reports whether c falls inside the area's tolerance box.
func (r *Registry) Covers(c domain.Coordinate) bool {
	return domain.WithinTolerance(r.area.Center, r.area.ToleranceDeg, c)
}

// Match returns the nearest region when c is covered by the registry.
func (r *Registry) Match(c domain.Coordinate) (domain.Region, bool) {
	if !r.Covers(c) {
		return domain.Region{}, false
	}
	region, err := domain.MatchRegion(c, r.regions)
	if err != nil {
		return domain.Region{}, false
	}
	return region, true
}
