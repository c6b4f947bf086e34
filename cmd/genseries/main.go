// Command genseries writes a deterministic synthetic NDVI fixture for every
// region of the embedded dataset. Seeded output is stable across runs, so the
// fixture can back golden-file tests and offline demos.
//
// Usage:
//
//	go run ./cmd/genseries -seed 42 -days 90 -end 2024-06-15 -out data/fixtures/series.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/guihirsch/orbee.online-sub002/internal/dataset"
	"github.com/guihirsch/orbee.online-sub002/internal/domain"
)

// regionSeries is one region's generated series.
type regionSeries struct {
	RegionID   string             `json:"region_id"`
	RegionName string             `json:"region_name"`
	Centroid   domain.Coordinate  `json:"centroid"`
	Series     *domain.TimeSeries `json:"series"`
}

// fixture is the file layout shared with cmd/validate.
type fixture struct {
	Seed    uint64         `json:"seed"`
	Days    int            `json:"days"`
	End     string         `json:"end"`
	Regions []regionSeries `json:"regions"`
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	seed := flag.Uint64("seed", 42, "synthesizer seed")
	days := flag.Int("days", domain.DefaultPeriodDays, "series length in days")
	end := flag.String("end", "", "last day of the series (YYYY-MM-DD, default today)")
	out := flag.String("out", "", "output path for the JSON fixture")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}
	if *days <= 0 {
		return fmt.Errorf("-days must be positive, got %d", *days)
	}

	endDay := domain.Day(time.Now())
	if *end != "" {
		d, err := domain.ParseDay(*end)
		if err != nil {
			return fmt.Errorf("parse -end: %w", err)
		}
		endDay = d
	}

	reg, err := dataset.Load()
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}

	fx := buildFixture(reg.Regions(), *seed, *days, endDay)

	data, err := json.MarshalIndent(fx, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(*out), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(*out, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write fixture: %w", err)
	}

	log.Printf("wrote %d region series (%d days, seed %d) to %s", len(fx.Regions), *days, *seed, *out)
	return nil
}

// buildFixture anchors each region's series on its dataset NDVI. Regions are
// generated in order from one synthesizer, so the output depends only on the
// seed, the region list and the end day.
func buildFixture(regions []domain.Region, seed uint64, days int, end time.Time) fixture {
	synth := domain.NewSynthesizer(&seed)
	fx := fixture{Seed: seed, Days: days, End: end.Format("2006-01-02")}
	for _, r := range regions {
		fx.Regions = append(fx.Regions, regionSeries{
			RegionID:   r.ID,
			RegionName: r.Name,
			Centroid:   r.Centroid,
			Series:     domain.NewTimeSeries(synth.SeriesAround(r.Centroid, r.NDVI, days, end)),
		})
	}
	return fx
}
