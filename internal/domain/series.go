package domain

import (
	"encoding/json"
	"sort"
	"sync"
)

// Period is a named look-back window for time-series queries.
type Period string

const (
	Period30d  Period = "30d"
	Period90d  Period = "90d"
	Period180d Period = "180d"
	Period1y   Period = "1y"
)

// Valid reports whether p is one of the named periods.
func (p Period) Valid() bool {
	switch p {
	case Period30d, Period90d, Period180d, Period1y:
		return true
	}
	return false
}

// DefaultPeriodDays applies to unrecognized periods.
const DefaultPeriodDays = 90

// PeriodToDays maps a period to its length in days.
func PeriodToDays(p Period) int {
	switch p {
	case Period30d:
		return 30
	case Period90d:
		return 90
	case Period180d:
		return 180
	case Period1y:
		return 365
	default:
		return DefaultPeriodDays
	}
}

// TimeSeries is an ordered NDVI series with lazily computed statistics.
// Samples are strictly increasing by day. Statistics are rebuilt from scratch
// after every mutation.
type TimeSeries struct {
	mu      sync.Mutex
	samples []NDVISample
	stats   *Statistics
	dirty   bool
}

// NewTimeSeries normalizes samples into a valid series.
func NewTimeSeries(samples []NDVISample) *TimeSeries {
	return &TimeSeries{samples: normalizeSamples(samples), dirty: true}
}

// Samples returns a copy of the series samples.
func (ts *TimeSeries) Samples() []NDVISample {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := make([]NDVISample, len(ts.samples))
	copy(out, ts.samples)
	return out
}

// Len returns the number of samples.
func (ts *TimeSeries) Len() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.samples)
}

// Append adds samples and re-normalizes the series.
func (ts *TimeSeries) Append(samples ...NDVISample) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	merged := make([]NDVISample, 0, len(ts.samples)+len(samples))
	merged = append(merged, ts.samples...)
	merged = append(merged, samples...)
	ts.samples = normalizeSamples(merged)
	ts.dirty = true
}

// Replace swaps the whole series.
func (ts *TimeSeries) Replace(samples []NDVISample) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.samples = normalizeSamples(samples)
	ts.dirty = true
}

// Statistics returns the current summary, or nil for an empty series.
func (ts *TimeSeries) Statistics() *Statistics {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.dirty {
		ts.stats = ComputeStatistics(ts.samples)
		ts.dirty = false
	}
	return ts.stats
}

func (ts *TimeSeries) MarshalJSON() ([]byte, error) {
	samples := ts.Samples()
	return json.Marshal(struct {
		Samples    []NDVISample `json:"samples"`
		Statistics *Statistics  `json:"statistics"`
	}{Samples: samples, Statistics: ts.Statistics()})
}

// normalizeSamples sorts by day, keeps the last sample per day and drops
// out-of-range values.
func normalizeSamples(in []NDVISample) []NDVISample {
	valid := make([]NDVISample, 0, len(in))
	for _, s := range in {
		if s.NDVI < 0 || s.NDVI > 1 || s.CloudCoverage < 0 || s.CloudCoverage > 100 {
			continue
		}
		s.Date = Day(s.Date)
		if s.Quality == "" {
			s.Quality = QualityForCloud(s.CloudCoverage)
		}
		valid = append(valid, s)
	}

	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].Date.Before(valid[j].Date)
	})

	out := valid[:0]
	for _, s := range valid {
		if n := len(out); n > 0 && out[n-1].Date.Equal(s.Date) {
			out[n-1] = s
			continue
		}
		out = append(out, s)
	}
	return out
}
