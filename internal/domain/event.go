package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// readingNamespace scopes reading IDs so they never collide with other UUIDv5 users.
var readingNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://orbee.online/ndvi/readings"))

// ReadingEvent is a region NDVI observation published by the monitor.
type ReadingEvent struct {
	ID          string       `json:"id"`
	RegionID    string       `json:"region_id"`
	RegionName  string       `json:"region_name"`
	Centroid    Coordinate   `json:"centroid"`
	NDVI        float64      `json:"ndvi"`
	Status      RegionStatus `json:"status"`
	Source      Provenance   `json:"source"`
	Approximate bool         `json:"approximate"`
	ObservedOn  string       `json:"observed_on"` // YYYY-MM-DD
	PublishedAt time.Time    `json:"published_at"`
}

// ReadingID derives a deterministic ID from the region and observation day,
// so re-publishing the same day's reading is idempotent downstream.
func ReadingID(regionID string, day time.Time) string {
	return uuid.NewSHA1(readingNamespace, []byte(fmt.Sprintf("%s|%s", regionID, Day(day).Format(dateLayout)))).String()
}

// NewReadingEvent builds the event for a resolved reading of region.
func NewReadingEvent(region Region, res Resolved[NDVIReading], publishedAt time.Time) ReadingEvent {
	day := res.Value.Date
	if day.IsZero() {
		day = Day(res.ResolvedAt)
	}
	return ReadingEvent{
		ID:          ReadingID(region.ID, day),
		RegionID:    region.ID,
		RegionName:  region.Name,
		Centroid:    region.Centroid,
		NDVI:        res.Value.NDVI,
		Status:      StatusForNDVI(res.Value.NDVI),
		Source:      res.Source,
		Approximate: res.Approximate(),
		ObservedOn:  Day(day).Format(dateLayout),
		PublishedAt: publishedAt.UTC(),
	}
}
