// Package resolver answers NDVI queries through an ordered chain of tiers:
// curated dataset, fresh cache, live backend, stale cache and finally a
// synthetic model. Every answer carries the tier that produced it. Tier
// failures are logged and counted, never returned.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/guihirsch/orbee.online-sub002/internal/adapter/cache"
	"github.com/guihirsch/orbee.online-sub002/internal/domain"
	"github.com/guihirsch/orbee.online-sub002/internal/observability"
)

// LiveSource is the remote NDVI backend.
type LiveSource interface {
	CurrentNDVI(ctx context.Context, at domain.Coordinate) (domain.NDVIReading, error)
	TimeSeries(ctx context.Context, at domain.Coordinate, days int) ([]domain.NDVISample, error)
	VegetationHealth(ctx context.Context, at domain.Coordinate) (domain.HealthReport, error)
	Alerts(ctx context.Context, at domain.Coordinate, radiusKm float64) ([]domain.Alert, error)
}

// Regions is the curated offline region registry.
type Regions interface {
	Match(c domain.Coordinate) (domain.Region, bool)
	Regions() []domain.Region
}

// AlertFeed derives alerts from a local critical-point feed.
type AlertFeed interface {
	Near(c domain.Coordinate, radiusKm float64) []domain.Alert
}

// Cache stores resolved values with the time they were stored.
type Cache interface {
	Get(key string) (cache.Entry, bool)
	Put(key string, value any)
}

// Config wires a Resolver. Regions, Live and Feed are optional; a nil
// value skips the tier.
type Config struct {
	Regions     Regions
	Live        LiveSource
	Feed        AlertFeed
	Cache       Cache
	Synth       *domain.Synthesizer
	Clock       clockwork.Clock
	Logger      *slog.Logger
	Metrics     *observability.Metrics
	LiveTimeout time.Duration
	CacheTTL    time.Duration
}

// Resolver implements the tiered NDVI resolution chain.
type Resolver struct {
	regions     Regions
	live        LiveSource
	feed        AlertFeed
	cache       Cache
	synth       *domain.Synthesizer
	clock       clockwork.Clock
	logger      *slog.Logger
	metrics     *observability.Metrics
	liveTimeout time.Duration
	cacheTTL    time.Duration
}

// New creates a Resolver. Missing clock, cache and synthesizer get defaults.
func New(cfg Config) *Resolver {
	r := &Resolver{
		regions:     cfg.Regions,
		live:        cfg.Live,
		feed:        cfg.Feed,
		cache:       cfg.Cache,
		synth:       cfg.Synth,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		liveTimeout: cfg.LiveTimeout,
		cacheTTL:    cfg.CacheTTL,
	}
	if r.clock == nil {
		r.clock = clockwork.NewRealClock()
	}
	if r.cache == nil {
		r.cache = cache.New(1000, r.clock)
	}
	if r.synth == nil {
		r.synth = domain.NewSynthesizer(nil)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.metrics == nil {
		r.metrics = observability.NewMetricsForTesting()
	}
	if r.liveTimeout <= 0 {
		r.liveTimeout = 5 * time.Second
	}
	if r.cacheTTL <= 0 {
		r.cacheTTL = 15 * time.Minute
	}
	return r
}

// CurrentNDVI resolves the point-in-time NDVI for c.
func (r *Resolver) CurrentNDVI(ctx context.Context, c domain.Coordinate) domain.Resolved[domain.NDVIReading] {
	return resolve(ctx, r, chain[domain.NDVIReading]{
		op:  "current",
		key: fmt.Sprintf("current:%.4f,%.4f", c.Lat, c.Lon),
		dataset: func(now time.Time) (domain.NDVIReading, bool) {
			region, ok := r.match(c)
			if !ok {
				return domain.NDVIReading{}, false
			}
			return domain.NDVIReading{
				NDVI:        region.NDVI,
				Date:        domain.Day(now),
				Quality:     domain.QualityHigh,
				Region:      region.Name,
				Status:      region.Status,
				Description: region.Description,
			}, true
		},
		live: func(ctx context.Context) (domain.NDVIReading, error) {
			return r.live.CurrentNDVI(ctx, c)
		},
		validate: validateReading,
		synthetic: func(now time.Time) domain.NDVIReading {
			return r.synth.Reading(c, now)
		},
	})
}

// TimeSeries resolves the NDVI history for c over period. Unknown periods
// fall back to 90 days.
func (r *Resolver) TimeSeries(ctx context.Context, c domain.Coordinate, period domain.Period) domain.Resolved[*domain.TimeSeries] {
	days := domain.PeriodToDays(period)
	res := resolve(ctx, r, chain[[]domain.NDVISample]{
		op:  "timeseries",
		key: fmt.Sprintf("timeseries:%.4f,%.4f:%d", c.Lat, c.Lon, days),
		dataset: func(now time.Time) ([]domain.NDVISample, bool) {
			region, ok := r.match(c)
			if !ok {
				return nil, false
			}
			return r.synth.SeriesAround(c, region.NDVI, days, now), true
		},
		live: func(ctx context.Context) ([]domain.NDVISample, error) {
			samples, err := r.live.TimeSeries(ctx, c, days)
			if err != nil {
				return nil, err
			}
			// Cache the normalized form.
			return domain.NewTimeSeries(samples).Samples(), nil
		},
		validate: func(samples []domain.NDVISample) error {
			if len(samples) == 0 {
				return errors.New("empty series")
			}
			return nil
		},
		synthetic: func(now time.Time) []domain.NDVISample {
			return r.synth.Series(c, days, now)
		},
	})

	return domain.Resolved[*domain.TimeSeries]{
		Source:     res.Source,
		Value:      domain.NewTimeSeries(res.Value),
		Staleness:  res.Staleness,
		ResolvedAt: res.ResolvedAt,
	}
}

// VegetationHealth resolves the classified vegetation health for c.
func (r *Resolver) VegetationHealth(ctx context.Context, c domain.Coordinate) domain.Resolved[domain.HealthReport] {
	return resolve(ctx, r, chain[domain.HealthReport]{
		op:  "health",
		key: fmt.Sprintf("health:%.4f,%.4f", c.Lat, c.Lon),
		dataset: func(_ time.Time) (domain.HealthReport, bool) {
			region, ok := r.match(c)
			if !ok {
				return domain.HealthReport{}, false
			}
			return domain.BuildHealthReport(region.NDVI, domain.TrendStable), true
		},
		live: func(ctx context.Context) (domain.HealthReport, error) {
			report, err := r.live.VegetationHealth(ctx, c)
			if err != nil {
				return report, err
			}
			if report.Trend == "" {
				report.Trend = domain.TrendStable
			}
			if len(report.Recommendations) == 0 {
				report.Recommendations = domain.Recommendations(report.Status)
			}
			return report, nil
		},
		validate: func(h domain.HealthReport) error {
			if !h.Status.Valid() {
				return fmt.Errorf("unknown health status %q", h.Status)
			}
			return checkNDVI(h.NDVI)
		},
		synthetic: func(now time.Time) domain.HealthReport {
			stats := domain.ComputeStatistics(r.synth.Series(c, domain.PeriodToDays(domain.Period30d), now))
			if stats == nil {
				return domain.BuildHealthReport(r.synth.Reading(c, now).NDVI, domain.TrendStable)
			}
			return domain.BuildHealthReport(stats.Current, stats.Trend)
		},
	})
}

// Alerts resolves active alerts within radiusKm of c. The synthetic tier
// falls back to the local critical-point feed, which may be empty.
func (r *Resolver) Alerts(ctx context.Context, c domain.Coordinate, radiusKm float64) domain.Resolved[[]domain.Alert] {
	return resolve(ctx, r, chain[[]domain.Alert]{
		op:  "alerts",
		key: fmt.Sprintf("alerts:%.4f,%.4f:%g", c.Lat, c.Lon, radiusKm),
		dataset: func(_ time.Time) ([]domain.Alert, bool) {
			if r.feed == nil {
				return nil, false
			}
			if _, ok := r.match(c); !ok {
				return nil, false
			}
			return r.feed.Near(c, radiusKm), true
		},
		live: func(ctx context.Context) ([]domain.Alert, error) {
			alerts, err := r.live.Alerts(ctx, c, radiusKm)
			if alerts == nil && err == nil {
				alerts = []domain.Alert{}
			}
			return alerts, err
		},
		validate: func(alerts []domain.Alert) error {
			for _, a := range alerts {
				if err := checkNDVI(a.NDVI); err != nil {
					return fmt.Errorf("alert %s: %w", a.ID, err)
				}
			}
			return nil
		},
		synthetic: func(_ time.Time) []domain.Alert {
			if r.feed == nil {
				return []domain.Alert{}
			}
			return r.feed.Near(c, radiusKm)
		},
	})
}

// MatchRegion returns the curated region covering c, if any.
func (r *Resolver) MatchRegion(c domain.Coordinate) (domain.Region, bool) {
	return r.match(c)
}

// Regions lists the curated regions, or nil when no registry is configured.
func (r *Resolver) Regions() []domain.Region {
	if r.regions == nil {
		return nil
	}
	return r.regions.Regions()
}

// CheckReadiness reports ready once a region registry with at least one region is loaded.
func (r *Resolver) CheckReadiness(_ context.Context) error {
	if r.regions == nil || len(r.regions.Regions()) == 0 {
		return errors.New("region registry not loaded")
	}
	return nil
}

func (r *Resolver) match(c domain.Coordinate) (domain.Region, bool) {
	if r.regions == nil {
		return domain.Region{}, false
	}
	return r.regions.Match(c)
}

func validateReading(v domain.NDVIReading) error {
	return checkNDVI(v.NDVI)
}

func checkNDVI(v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("ndvi %g outside [0, 1]", v)
	}
	return nil
}
