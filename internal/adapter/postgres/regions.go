// Package postgres loads the monitoring region registry from PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/guihirsch/orbee.online-sub002/internal/dataset"
	"github.com/guihirsch/orbee.online-sub002/internal/domain"
)

// ErrAreaNotFound is returned when the configured municipality has no row.
var ErrAreaNotFound = errors.New("postgres: monitoring area not found")

const areaQuery = `
	SELECT ibge_code, name, state, center_lon, center_lat, tolerance_deg
	FROM monitoring_areas
	WHERE ibge_code = $1
`

const regionsQuery = `
	SELECT id, name, ndvi, COALESCE(description, ''), geometry::text
	FROM monitoring_regions
	WHERE area_code = $1
	ORDER BY position, id
`

// Querier is the subset of pgxpool.Pool used by the repository.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// RegionRepository reads regions stored as GeoJSON polygons.
type RegionRepository struct {
	db Querier
}

// NewRegionRepository wraps a pool (or any Querier).
func NewRegionRepository(db Querier) *RegionRepository {
	return &RegionRepository{db: db}
}

// LoadRegistry builds a registry for the municipality with the given IBGE code.
func (r *RegionRepository) LoadRegistry(ctx context.Context, areaCode string) (*dataset.Registry, error) {
	var (
		area     dataset.Area
		lon, lat float64
	)
	err := r.db.QueryRow(ctx, areaQuery, areaCode).Scan(
		&area.IBGECode, &area.Name, &area.State, &lon, &lat, &area.ToleranceDeg,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAreaNotFound, areaCode)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query area: %w", err)
	}
	area.Center = domain.Coordinate{Lat: lat, Lon: lon}

	rows, err := r.db.Query(ctx, regionsQuery, areaCode)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query regions: %w", err)
	}
	defer rows.Close()

	var regions []domain.Region
	for rows.Next() {
		var (
			id, name, description, geom string
			ndvi                        float64
		)
		if err := rows.Scan(&id, &name, &ndvi, &description, &geom); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan region row: %w", err)
		}
		poly, err := parsePolygon(geom)
		if err != nil {
			return nil, fmt.Errorf("postgres: region %s: %w", id, err)
		}
		regions = append(regions, dataset.NewRegion(id, name, poly, ndvi, description))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to iterate regions: %w", err)
	}
	if len(regions) == 0 {
		return nil, fmt.Errorf("postgres: area %s has no regions", areaCode)
	}
	return dataset.NewRegistry(area, regions), nil
}

func parsePolygon(raw string) (orb.Polygon, error) {
	g, err := geojson.UnmarshalGeometry([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("parse geometry: %w", err)
	}
	poly, ok := g.Geometry().(orb.Polygon)
	if !ok {
		return nil, fmt.Errorf("geometry must be a Polygon, got %s", g.Type)
	}
	return poly, nil
}
