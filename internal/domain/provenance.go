package domain

import (
	"encoding/json"
	"time"
)

// Provenance names the tier that produced a resolved value.
type Provenance string

const (
	SourceLive      Provenance = "live"
	SourceCached    Provenance = "cached"
	SourceDataset   Provenance = "dataset"
	SourceSynthetic Provenance = "synthetic"
)

// ApproximateNotice is shown alongside any value that did not come from the live backend.
const ApproximateNotice = "data may be approximate"

// Resolved wraps a value with the tier that produced it.
type Resolved[T any] struct {
	Source     Provenance
	Value      T
	Staleness  time.Duration // age of a cached value; zero otherwise
	ResolvedAt time.Time
}

// Approximate reports whether downstream consumers should flag degraded confidence.
func (r Resolved[T]) Approximate() bool {
	return r.Source != SourceLive
}

func (r Resolved[T]) MarshalJSON() ([]byte, error) {
	out := struct {
		Source           Provenance `json:"source"`
		Approximate      bool       `json:"approximate"`
		Notice           string     `json:"notice,omitempty"`
		StalenessSeconds float64    `json:"staleness_seconds,omitempty"`
		ResolvedAt       time.Time  `json:"resolved_at"`
		Data             T          `json:"data"`
	}{
		Source:           r.Source,
		Approximate:      r.Approximate(),
		StalenessSeconds: r.Staleness.Seconds(),
		ResolvedAt:       r.ResolvedAt,
		Data:             r.Value,
	}
	if out.Approximate {
		out.Notice = ApproximateNotice
	}
	return json.Marshal(out)
}
