package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/paulmach/orb"
)

var (
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	ErrNoRegions         = errors.New("no regions to match against")
)

const dateLayout = "2006-01-02"

// Coordinate is a WGS-84 latitude/longitude pair.
type Coordinate struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// Validate reports whether the coordinate lies within the valid WGS-84 ranges.
func (c Coordinate) Validate() error {
	if !finite(c.Lat) || !finite(c.Lon) {
		return fmt.Errorf("%w: non-finite value (%g, %g)", ErrInvalidCoordinate, c.Lat, c.Lon)
	}
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("%w: latitude %g out of range [-90, 90]", ErrInvalidCoordinate, c.Lat)
	}
	if c.Lon < -180 || c.Lon > 180 {
		return fmt.Errorf("%w: longitude %g out of range [-180, 180]", ErrInvalidCoordinate, c.Lon)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Point converts to orb's (lon, lat) ordering.
func (c Coordinate) Point() orb.Point {
	return orb.Point{c.Lon, c.Lat}
}

// CoordinateFromPoint is the inverse of Coordinate.Point.
func CoordinateFromPoint(p orb.Point) Coordinate {
	return Coordinate{Lat: p.Lat(), Lon: p.Lon()}
}

// QualityTier grades an observation by cloud contamination.
type QualityTier string

const (
	QualityHigh   QualityTier = "high"
	QualityMedium QualityTier = "medium"
)

// QualityForCloud maps a cloud-coverage percentage to a quality tier.
func QualityForCloud(cloudPct float64) QualityTier {
	if cloudPct < 20 {
		return QualityHigh
	}
	return QualityMedium
}

// NDVISample is one observation in a time series.
type NDVISample struct {
	Date          time.Time   // UTC midnight
	NDVI          float64     // 0.0–1.0
	Quality       QualityTier // derived from cloud coverage when absent
	CloudCoverage float64     // percent, 0–100
}

type sampleJSON struct {
	Date          string      `json:"date"`
	NDVI          float64     `json:"ndvi"`
	Quality       QualityTier `json:"quality"`
	CloudCoverage float64     `json:"cloud_coverage"`
}

func (s NDVISample) MarshalJSON() ([]byte, error) {
	return json.Marshal(sampleJSON{
		Date:          s.Date.Format(dateLayout),
		NDVI:          s.NDVI,
		Quality:       s.Quality,
		CloudCoverage: s.CloudCoverage,
	})
}

func (s *NDVISample) UnmarshalJSON(data []byte) error {
	var raw sampleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d, err := ParseDay(raw.Date)
	if err != nil {
		return err
	}
	*s = NDVISample{Date: d, NDVI: raw.NDVI, Quality: raw.Quality, CloudCoverage: raw.CloudCoverage}
	return nil
}

// ParseDay accepts a YYYY-MM-DD date or an RFC 3339 timestamp and truncates it to a UTC day.
func ParseDay(s string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Day(t), nil
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// RegionStatus classifies a monitoring region by its NDVI.
type RegionStatus string

const (
	StatusExcellent RegionStatus = "excellent"
	StatusGood      RegionStatus = "good"
	StatusModerate  RegionStatus = "moderate"
	StatusPoor      RegionStatus = "poor"
)

// StatusForNDVI derives a region status from its NDVI.
func StatusForNDVI(ndvi float64) RegionStatus {
	switch {
	case ndvi >= 0.7:
		return StatusExcellent
	case ndvi >= 0.5:
		return StatusGood
	case ndvi >= 0.3:
		return StatusModerate
	default:
		return StatusPoor
	}
}

// Region is a named monitoring area with a representative NDVI.
// Regions are immutable once loaded.
type Region struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Centroid    Coordinate   `json:"centroid"`
	Polygon     orb.Polygon  `json:"-"`
	NDVI        float64      `json:"ndvi"`
	Status      RegionStatus `json:"status"`
	Description string       `json:"description,omitempty"`
}

// RecoveryPlan is the vegetation recovery plan attached to a municipality.
type RecoveryPlan struct {
	ID        string       `json:"id"`
	IBGECode  string       `json:"ibge_code"`
	Title     string       `json:"title"`
	Summary   string       `json:"summary,omitempty"`
	Actions   []PlanAction `json:"actions,omitempty"`
	UpdatedAt time.Time    `json:"updated_at,omitempty"`
}

// PlanAction is a single recommended intervention within a plan.
type PlanAction struct {
	Title    string  `json:"title"`
	Priority string  `json:"priority,omitempty"`
	AreaHa   float64 `json:"area_ha,omitempty"`
}

// Municipality identifies an AOI by its IBGE code.
type Municipality struct {
	IBGECode string        `json:"ibge_code"`
	Name     string        `json:"name"`
	State    string        `json:"state"`
	Boundary orb.Geometry  `json:"-"`
	Plan     *RecoveryPlan `json:"plan,omitempty"`
}

// Severity of a critical point.
type Severity string

const (
	SeverityModerate Severity = "moderate"
	SeverityCritical Severity = "critical"
)

// CriticalPoint is a location flagged for vegetation loss.
type CriticalPoint struct {
	ID          string     `json:"id"`
	Coordinate  Coordinate `json:"coordinate"`
	Severity    Severity   `json:"severity"`
	NDVI        float64    `json:"ndvi"`
	Description string     `json:"description,omitempty"`
}

// Freshness is a coarse summary of which cached resources exist for a municipality.
type Freshness string

const (
	FreshnessComplete Freshness = "complete"
	FreshnessPartial  Freshness = "partial"
	FreshnessNone     Freshness = "none"
)

// CacheStatus reports backend cache availability per resource.
type CacheStatus struct {
	Geometry  bool      `json:"geometry"`
	Plan      bool      `json:"plan"`
	NDVI      bool      `json:"ndvi"`
	Freshness Freshness `json:"freshness"`
}

// DeriveFreshness computes Freshness from the availability flags.
func (s CacheStatus) DeriveFreshness() Freshness {
	n := 0
	for _, ok := range []bool{s.Geometry, s.Plan, s.NDVI} {
		if ok {
			n++
		}
	}
	switch n {
	case 3:
		return FreshnessComplete
	case 0:
		return FreshnessNone
	default:
		return FreshnessPartial
	}
}

// NDVIReading is the point-in-time NDVI answer for a coordinate.
type NDVIReading struct {
	NDVI          float64      `json:"ndvi"`
	Date          time.Time    `json:"-"`
	Quality       QualityTier  `json:"quality"`
	CloudCoverage float64      `json:"cloud_coverage"`
	Region        string       `json:"region,omitempty"`
	Status        RegionStatus `json:"status,omitempty"`
	Description   string       `json:"description,omitempty"`
}

func (r NDVIReading) MarshalJSON() ([]byte, error) {
	type alias NDVIReading
	return json.Marshal(struct {
		alias
		Date string `json:"date"`
	}{alias: alias(r), Date: r.Date.Format(dateLayout)})
}

// Alert is an active vegetation alert near a queried point.
type Alert struct {
	ID          string     `json:"id"`
	Coordinate  Coordinate `json:"coordinate"`
	Severity    Severity   `json:"severity"`
	NDVI        float64    `json:"ndvi"`
	DistanceKm  float64    `json:"distance_km"`
	Description string     `json:"description,omitempty"`
}

// SearchSource selects which backend provider answers municipality search and geometry.
type SearchSource string

const (
	SourceOSM   SearchSource = "osm"
	SourceIBGE  SearchSource = "ibge"
	SourceLocal SearchSource = "local"
)

// Valid reports whether s is a known search source.
func (s SearchSource) Valid() bool {
	switch s {
	case SourceOSM, SourceIBGE, SourceLocal:
		return true
	}
	return false
}
