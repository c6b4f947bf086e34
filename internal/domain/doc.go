// Package domain models vegetation-index (NDVI) observations and the regions
// they are resolved against.
//
// # Data Sources
//
// NDVI values come from four places, in decreasing order of authority:
//
//   - the Orbee backend (Sentinel-2 derived series, served over REST),
//   - an in-process cache of earlier backend answers,
//   - a curated offline dataset of monitoring regions (demo municipality),
//   - a synthetic model generated locally when nothing else answers.
//
// Every resolved value carries its [Provenance] so callers can flag degraded
// confidence instead of guessing.
//
// # NDVI Conventions
//
// NDVI is clamped to [0, 1] for every value leaving this package. Negative
// indices (water, bare rock) are not meaningful for vegetation-health queries
// and are dropped from series rather than clamped.
//
// Sample dates are calendar days in UTC. A series holds at most one sample per
// day; when the backend returns duplicates the last one wins.
//
// Quality tier:
//
//	high    cloud coverage < 20%
//	medium  everything else
//
// Region status (monitoring regions):
//
//	≥0.7 excellent | ≥0.5 good | ≥0.3 moderate | <0.3 poor
//
// Vegetation health (point queries):
//
//	>0.6 healthy | >0.4 moderate | ≤0.4 poor
//
// # Statistics
//
// Percent change compares the last two samples. When the previous value is
// zero the change is undefined and [Statistics.PercentChange] is nil.
//
// # Geometry
//
// Coordinates are WGS-84. Internally geometries use github.com/paulmach/orb,
// which orders points as (lon, lat). [Coordinate.Point] performs the swap.
package domain
