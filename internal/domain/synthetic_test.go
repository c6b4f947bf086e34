package domain

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, time.October, 15, 9, 0, 0, 0, time.UTC)

func TestSynthesizer_SeededIsReproducible(t *testing.T) {
	seed := uint64(42)
	c := Coordinate{Lat: -29.7, Lon: -52.4}

	a := NewSynthesizer(&seed).Series(c, 90, fixedNow)
	b := NewSynthesizer(&seed).Series(c, 90, fixedNow)

	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("seeded series differ (-first +second):\n%s", diff)
	}
}

func TestSynthesizer_SeriesInvariants(t *testing.T) {
	synth := NewSynthesizer(nil)

	for _, lat := range []float64{-89, -29.7, 0, 45, 89} {
		c := Coordinate{Lat: lat, Lon: 10}
		samples := synth.Series(c, 365, fixedNow)
		require.NotEmpty(t, samples)

		for i, s := range samples {
			assert.GreaterOrEqual(t, s.NDVI, 0.0)
			assert.LessOrEqual(t, s.NDVI, 1.0)
			assert.GreaterOrEqual(t, s.CloudCoverage, 0.0)
			assert.LessOrEqual(t, s.CloudCoverage, 100.0)
			assert.Equal(t, QualityForCloud(s.CloudCoverage), s.Quality)
			if i > 0 {
				assert.True(t, s.Date.After(samples[i-1].Date))
			}
		}
		assert.False(t, samples[len(samples)-1].Date.After(Day(fixedNow)))
	}
}

func TestSynthesizer_SeriesLengthFollowsPeriod(t *testing.T) {
	synth := NewSynthesizer(nil)
	c := Coordinate{Lat: 10, Lon: 10}

	assert.Len(t, synth.Series(c, 30, fixedNow), 6)
	assert.Len(t, synth.Series(c, 90, fixedNow), 18)
	assert.Len(t, synth.Series(c, 365, fixedNow), 73)
}

func TestSynthesizer_SeriesAroundAnchorsLatestValue(t *testing.T) {
	seed := uint64(7)
	samples := NewSynthesizer(&seed).SeriesAround(Coordinate{Lat: -29.7, Lon: -52.4}, 0.35, 90, fixedNow)
	require.NotEmpty(t, samples)

	assert.InDelta(t, 0.35, samples[len(samples)-1].NDVI, 1e-9)
	stats := ComputeStatistics(samples)
	require.NotNil(t, stats)
	assert.InDelta(t, 0.35, stats.Current, 1e-9)
}

func TestSynthesizer_ReadingInRange(t *testing.T) {
	synth := NewSynthesizer(nil)
	r := synth.Reading(Coordinate{Lat: 60, Lon: 20}, fixedNow)

	assert.GreaterOrEqual(t, r.NDVI, 0.0)
	assert.LessOrEqual(t, r.NDVI, 1.0)
	assert.Equal(t, Day(fixedNow), r.Date)
}

func TestClassifyHealth(t *testing.T) {
	tests := []struct {
		ndvi float64
		want HealthStatus
	}{
		{0.9, HealthHealthy},
		{0.61, HealthHealthy},
		{0.6, HealthModerate},
		{0.41, HealthModerate},
		{0.4, HealthPoor},
		{0, HealthPoor},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyHealth(tt.ndvi), "ndvi=%v", tt.ndvi)
	}
}

func TestBuildHealthReport_UsesFixedTable(t *testing.T) {
	r := BuildHealthReport(0.5, TrendDown)

	assert.Equal(t, HealthModerate, r.Status)
	assert.Equal(t, TrendDown, r.Trend)
	assert.Equal(t, Recommendations(HealthModerate), r.Recommendations)

	r.Recommendations[0] = "mutated"
	assert.NotEqual(t, "mutated", Recommendations(HealthModerate)[0])
}

func TestStatusForNDVI(t *testing.T) {
	assert.Equal(t, StatusExcellent, StatusForNDVI(0.75))
	assert.Equal(t, StatusGood, StatusForNDVI(0.55))
	assert.Equal(t, StatusModerate, StatusForNDVI(0.35))
	assert.Equal(t, StatusPoor, StatusForNDVI(0.1))
}

func TestCacheStatus_DeriveFreshness(t *testing.T) {
	assert.Equal(t, FreshnessComplete, CacheStatus{Geometry: true, Plan: true, NDVI: true}.DeriveFreshness())
	assert.Equal(t, FreshnessPartial, CacheStatus{Geometry: true}.DeriveFreshness())
	assert.Equal(t, FreshnessNone, CacheStatus{}.DeriveFreshness())
}
