package domain

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// SampleInterval is the spacing between synthetic samples (Sentinel-2 revisit time).
const SampleInterval = 5 * 24 * time.Hour

// Synthesizer produces plausible NDVI values when no real data is available.
//
//	ndvi(t) = clamp01(base(lat) * seasonal(month) * noise)
//
// base decreases smoothly from the equator to the poles, seasonal is a yearly
// sinusoid peaking in local summer and noise is a ±5% perturbation.
type Synthesizer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSynthesizer returns a synthesizer. A nil seed draws a random one, so
// consecutive processes produce different series; pass a seed for
// reproducible output.
func NewSynthesizer(seed *uint64) *Synthesizer {
	var s1, s2 uint64
	if seed != nil {
		s1, s2 = *seed, *seed^0x9e3779b97f4a7c15
	} else {
		s1, s2 = rand.Uint64(), rand.Uint64()
	}
	return &Synthesizer{rng: rand.New(rand.NewPCG(s1, s2))}
}

// Value returns a synthetic NDVI for a coordinate on a given day.
func (s *Synthesizer) Value(c Coordinate, day time.Time) float64 {
	s.mu.Lock()
	noise := 0.95 + s.rng.Float64()*0.1
	s.mu.Unlock()
	return clamp01(baseForLatitude(c.Lat) * seasonal(c.Lat, day.Month()) * noise)
}

// Cloud returns a synthetic cloud-coverage percentage.
func (s *Synthesizer) Cloud() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return roundTo(s.rng.Float64()*40, 1)
}

// Reading synthesizes a point-in-time reading for today.
func (s *Synthesizer) Reading(c Coordinate, now time.Time) NDVIReading {
	day := Day(now)
	cloud := s.Cloud()
	return NDVIReading{
		NDVI:          roundTo(s.Value(c, day), 3),
		Date:          day,
		Quality:       QualityForCloud(cloud),
		CloudCoverage: cloud,
	}
}

// Series synthesizes samples covering the last days days up to now.
func (s *Synthesizer) Series(c Coordinate, days int, now time.Time) []NDVISample {
	end := Day(now)
	start := end.AddDate(0, 0, -days)
	var out []NDVISample
	for d := start.Add(SampleInterval); !d.After(end); d = d.Add(SampleInterval) {
		cloud := s.Cloud()
		out = append(out, NDVISample{
			Date:          d,
			NDVI:          roundTo(s.Value(c, d), 3),
			Quality:       QualityForCloud(cloud),
			CloudCoverage: cloud,
		})
	}
	return out
}

// SeriesAround synthesizes a series whose latest value is anchored to ndvi.
// Used to give curated regions a plausible history.
func (s *Synthesizer) SeriesAround(c Coordinate, ndvi float64, days int, now time.Time) []NDVISample {
	samples := s.Series(c, days, now)
	if len(samples) == 0 {
		return samples
	}
	last := samples[len(samples)-1].NDVI
	if last == 0 {
		last = 1
	}
	scale := ndvi / last
	for i := range samples {
		samples[i].NDVI = roundTo(clamp01(samples[i].NDVI*scale), 3)
	}
	samples[len(samples)-1].NDVI = clamp01(ndvi)
	return samples
}

func baseForLatitude(lat float64) float64 {
	// 0.75 at the equator, 0.35 at the poles.
	return 0.35 + 0.4*math.Cos(lat*math.Pi/180)
}

func seasonal(lat float64, month time.Month) float64 {
	phase := float64(month-1) / 12 * 2 * math.Pi
	amp := 0.15 * math.Sin(phase-math.Pi/2) // peaks in July
	if lat < 0 {
		amp = -amp // southern summer peaks in January
	}
	return 1 + amp
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
