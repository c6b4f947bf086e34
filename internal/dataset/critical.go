package dataset

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/guihirsch/orbee.online-sub002/internal/domain"
)

// FeedMetadata is the collection-level summary published with a critical-point feed.
type FeedMetadata struct {
	GeneratedAt         string `json:"generated_at"`
	TotalCriticalPoints int    `json:"total_critical_points"`
	TotalModeratePoints int    `json:"total_moderate_points"`
}

// Feed is a parsed critical-point feed.
type Feed struct {
	Metadata   FeedMetadata
	Collection *geojson.FeatureCollection
	Points     []domain.CriticalPoint
}

// ParseCriticalPoints reads a Point FeatureCollection with a "metadata" member.
// Features that are not points are skipped.
func ParseCriticalPoints(data []byte) (*Feed, error) {
	var meta struct {
		Metadata FeedMetadata `json:"metadata"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse feed metadata: %w", err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parse feed features: %w", err)
	}

	feed := &Feed{Metadata: meta.Metadata, Collection: fc}
	for _, f := range fc.Features {
		p, ok := f.Geometry.(orb.Point)
		if !ok {
			continue
		}
		feed.Points = append(feed.Points, domain.CriticalPoint{
			ID:          f.Properties.MustString("id", fmt.Sprint(f.ID)),
			Coordinate:  domain.CoordinateFromPoint(p),
			Severity:    domain.Severity(f.Properties.MustString("severity", string(domain.SeverityModerate))),
			NDVI:        f.Properties.MustFloat64("ndvi", 0),
			Description: f.Properties.MustString("description", ""),
		})
	}
	return feed, nil
}

// LoadCriticalPoints parses the embedded feed.
func LoadCriticalPoints() (*Feed, error) {
	return ParseCriticalPoints(CriticalPoints)
}

// Find returns the point with the given id.
func (f *Feed) Find(id string) (domain.CriticalPoint, bool) {
	for _, p := range f.Points {
		if p.ID == id {
			return p, true
		}
	}
	return domain.CriticalPoint{}, false
}

// Near returns alerts for the points within radiusKm of c, closest first.
func (f *Feed) Near(c domain.Coordinate, radiusKm float64) []domain.Alert {
	alerts := []domain.Alert{}
	for _, p := range f.Points {
		d := domain.HaversineKm(c, p.Coordinate)
		if d > radiusKm {
			continue
		}
		alerts = append(alerts, domain.Alert{
			ID:          p.ID,
			Coordinate:  p.Coordinate,
			Severity:    p.Severity,
			NDVI:        p.NDVI,
			DistanceKm:  float64(int(d*100+0.5)) / 100,
			Description: p.Description,
		})
	}
	sort.SliceStable(alerts, func(i, j int) bool { return alerts[i].DistanceKm < alerts[j].DistanceKm })
	return alerts
}

// Within returns the points that fall inside g, in feed order.
func (f *Feed) Within(g orb.Geometry) []domain.CriticalPoint {
	out := []domain.CriticalPoint{}
	for _, p := range f.Points {
		if domain.ContainsPoint(g, p.Coordinate) {
			out = append(out, p)
		}
	}
	return out
}
