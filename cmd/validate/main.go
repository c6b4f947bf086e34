// Command validate performs offline integrity checks on the map and region
// assets the service ships with: the region dataset, the critical-point
// feed, the optional raster mosaic and an optional genseries fixture.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -feed data/critical_points.geojson \
//	  -raster data/mosaic.tif \
//	  -series data/fixtures/series.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/guihirsch/orbee.online-sub002/internal/dataset"
	"github.com/guihirsch/orbee.online-sub002/internal/domain"
	"github.com/guihirsch/orbee.online-sub002/internal/mapview"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	feedPath := flag.String("feed", "", "critical-point feed (default: embedded feed)")
	rasterPath := flag.String("raster", "", "GeoTIFF mosaic to probe (optional)")
	seriesPath := flag.String("series", "", "genseries fixture to check (optional)")
	flag.Parse()

	os.Exit(run(*feedPath, *rasterPath, *seriesPath))
}

func run(feedPath, rasterPath, seriesPath string) int {
	fmt.Println("=== NDVI Asset Validation ===")
	fmt.Println()

	reg, err := dataset.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load dataset: %v\n", err)
		return 1
	}

	feedData := dataset.CriticalPoints
	if feedPath != "" {
		feedData, err = os.ReadFile(feedPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: read feed: %v\n", err)
			return 1
		}
	}

	phases := []*phase{
		validateRegions(reg),
		validateFeed(feedData, reg),
	}
	if rasterPath != "" {
		phases = append(phases, validateRaster(rasterPath))
	}
	if seriesPath != "" {
		phases = append(phases, validateSeries(seriesPath, reg))
	}

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// validateRegions checks that every region is well formed and that its own
// centroid resolves back to it.
func validateRegions(reg *dataset.Registry) *phase {
	p := &phase{name: "Region dataset"}
	seen := map[string]bool{}
	for _, r := range reg.Regions() {
		if seen[r.ID] {
			p.errorf("duplicate region id %q", r.ID)
		}
		seen[r.ID] = true
		if r.NDVI < 0 || r.NDVI > 1 {
			p.errorf("region %s: ndvi %g out of range", r.ID, r.NDVI)
		}
		if err := r.Centroid.Validate(); err != nil {
			p.errorf("region %s: %v", r.ID, err)
		}
		if !reg.Covers(r.Centroid) {
			p.errorf("region %s: centroid outside area tolerance", r.ID)
			continue
		}
		if got, ok := reg.Match(r.Centroid); !ok || got.ID != r.ID {
			p.errorf("region %s: centroid matches %q", r.ID, got.ID)
		}
	}
	return p
}

// validateFeed checks the critical-point feed against its own metadata.
func validateFeed(data []byte, reg *dataset.Registry) *phase {
	p := &phase{name: "Critical-point feed"}
	feed, err := dataset.ParseCriticalPoints(data)
	if err != nil {
		p.errorf("parse: %v", err)
		return p
	}

	var critical, moderate int
	seen := map[string]bool{}
	for _, cp := range feed.Points {
		if cp.ID == "" {
			p.errorf("point without id at %.5f, %.5f", cp.Coordinate.Lat, cp.Coordinate.Lon)
		}
		if seen[cp.ID] {
			p.errorf("duplicate point id %q", cp.ID)
		}
		seen[cp.ID] = true

		switch cp.Severity {
		case domain.SeverityCritical:
			critical++
		case domain.SeverityModerate:
			moderate++
		default:
			p.errorf("point %s: unknown severity %q", cp.ID, cp.Severity)
		}
		if cp.NDVI < 0 || cp.NDVI > 1 {
			p.errorf("point %s: ndvi %g out of range", cp.ID, cp.NDVI)
		}
		if err := cp.Coordinate.Validate(); err != nil {
			p.errorf("point %s: %v", cp.ID, err)
		} else if !reg.Covers(cp.Coordinate) {
			p.errorf("point %s: outside area %s", cp.ID, reg.Area().Name)
		}
	}

	if critical != feed.Metadata.TotalCriticalPoints {
		p.errorf("metadata reports %d critical points, feed has %d", feed.Metadata.TotalCriticalPoints, critical)
	}
	if moderate != feed.Metadata.TotalModeratePoints {
		p.errorf("metadata reports %d moderate points, feed has %d", feed.Metadata.TotalModeratePoints, moderate)
	}
	return p
}

func validateRaster(path string) *phase {
	p := &phase{name: "Raster mosaic"}
	info, err := mapview.ProbeRaster(path)
	if err != nil {
		p.errorf("probe %s: %v", path, err)
		return p
	}
	fmt.Printf("Raster: %dx%d\n", info.Width, info.Height)
	return p
}

// seriesFixture mirrors the genseries output.
type seriesFixture struct {
	Seed    uint64 `json:"seed"`
	Days    int    `json:"days"`
	End     string `json:"end"`
	Regions []struct {
		RegionID string `json:"region_id"`
		Series   struct {
			Samples []domain.NDVISample `json:"samples"`
		} `json:"series"`
	} `json:"regions"`
}

func validateSeries(path string, reg *dataset.Registry) *phase {
	p := &phase{name: "Series fixture"}
	data, err := os.ReadFile(path)
	if err != nil {
		p.errorf("read: %v", err)
		return p
	}
	var fx seriesFixture
	if err := json.Unmarshal(data, &fx); err != nil {
		p.errorf("parse: %v", err)
		return p
	}
	end, err := domain.ParseDay(fx.End)
	if err != nil {
		p.errorf("end date: %v", err)
		return p
	}

	known := map[string]domain.Region{}
	for _, r := range reg.Regions() {
		known[r.ID] = r
	}
	for _, rs := range fx.Regions {
		region, ok := known[rs.RegionID]
		if !ok {
			p.errorf("unknown region %q", rs.RegionID)
			continue
		}
		samples := rs.Series.Samples
		if len(samples) == 0 {
			p.errorf("region %s: empty series", rs.RegionID)
			continue
		}
		for i, s := range samples {
			if s.NDVI < 0 || s.NDVI > 1 {
				p.errorf("region %s: sample %d ndvi %g out of range", rs.RegionID, i, s.NDVI)
			}
			if i > 0 && !s.Date.After(samples[i-1].Date) {
				p.errorf("region %s: sample %d not after previous day", rs.RegionID, i)
			}
			if s.Date.After(end) {
				p.errorf("region %s: sample %d after end %s", rs.RegionID, i, fx.End)
			}
		}
		if last := samples[len(samples)-1].NDVI; !floatEq(last, region.NDVI) {
			p.errorf("region %s: latest ndvi %g, dataset has %g", rs.RegionID, last, region.NDVI)
		}
	}
	return p
}

func floatEq(a, b float64) bool {
	const eps = 1e-9
	d := a - b
	return d < eps && d > -eps
}
