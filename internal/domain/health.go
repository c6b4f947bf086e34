package domain

// HealthStatus classifies vegetation health at a point.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthModerate HealthStatus = "moderate"
	HealthPoor     HealthStatus = "poor"
)

// HealthReport is the classified vegetation health for a coordinate.
type HealthReport struct {
	Status          HealthStatus `json:"health_status"`
	NDVI            float64      `json:"ndvi"`
	Trend           Trend        `json:"trend"`
	Recommendations []string     `json:"recommendations"`
}

var recommendations = map[HealthStatus][]string{
	HealthHealthy: {
		"Maintain current land management practices",
		"Keep monitoring monthly to detect early changes",
		"Protect riparian buffers and existing canopy",
	},
	HealthModerate: {
		"Investigate causes of reduced vegetation vigor",
		"Consider targeted replanting with native species",
		"Increase monitoring frequency to every two weeks",
	},
	HealthPoor: {
		"Prioritize the area for ecological restoration",
		"Check for erosion, burning or illegal clearing",
		"Engage local authorities and landowners on a recovery plan",
	},
}

// ClassifyHealth maps an NDVI value to a health status.
func ClassifyHealth(ndvi float64) HealthStatus {
	switch {
	case ndvi > 0.6:
		return HealthHealthy
	case ndvi > 0.4:
		return HealthModerate
	default:
		return HealthPoor
	}
}

// Recommendations returns the fixed advice list for a status.
func Recommendations(status HealthStatus) []string {
	recs := recommendations[status]
	out := make([]string, len(recs))
	copy(out, recs)
	return out
}

// Valid reports whether s is a known health status.
func (s HealthStatus) Valid() bool {
	_, ok := recommendations[s]
	return ok
}

// BuildHealthReport classifies ndvi and attaches the recommendation table entry.
func BuildHealthReport(ndvi float64, trend Trend) HealthReport {
	status := ClassifyHealth(ndvi)
	return HealthReport{
		Status:          status,
		NDVI:            ndvi,
		Trend:           trend,
		Recommendations: Recommendations(status),
	}
}
