package domain

import "math"

// Trend is the direction of the most recent change in a series.
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// Statistics summarizes a time series.
type Statistics struct {
	Current  float64 `json:"current"`
	Previous float64 `json:"previous"`
	Average  float64 `json:"average"`
	Max      float64 `json:"max"`
	Min      float64 `json:"min"`
	Trend    Trend   `json:"trend"`
	// PercentChange is nil when Previous is zero.
	PercentChange *float64 `json:"percent_change"`
}

// ComputeStatistics summarizes samples in order. Returns nil for an empty slice.
func ComputeStatistics(samples []NDVISample) *Statistics {
	if len(samples) == 0 {
		return nil
	}

	current := samples[len(samples)-1].NDVI
	previous := current
	if len(samples) > 1 {
		previous = samples[len(samples)-2].NDVI
	}

	sum := 0.0
	maxV, minV := samples[0].NDVI, samples[0].NDVI
	for _, s := range samples {
		sum += s.NDVI
		maxV = math.Max(maxV, s.NDVI)
		minV = math.Min(minV, s.NDVI)
	}

	stats := &Statistics{
		Current:  current,
		Previous: previous,
		Average:  sum / float64(len(samples)),
		Max:      maxV,
		Min:      minV,
		Trend:    trendOf(current, previous),
	}
	if previous != 0 {
		pct := roundTo((current-previous)/previous*100, 1)
		stats.PercentChange = &pct
	}
	return stats
}

func trendOf(current, previous float64) Trend {
	switch {
	case current > previous:
		return TrendUp
	case current < previous:
		return TrendDown
	default:
		return TrendStable
	}
}

func roundTo(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
