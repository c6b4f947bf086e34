package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/guihirsch/orbee.online-sub002/internal/domain"
	"github.com/guihirsch/orbee.online-sub002/internal/observability"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

const (
	initialBackoff     = 200 * time.Millisecond
	maxBackoff         = 5 * time.Second
	defaultConcurrency = 4
)

// Source resolves readings for the known regions.
type Source interface {
	Regions() []domain.Region
	CurrentNDVI(ctx context.Context, c domain.Coordinate) domain.Resolved[domain.NDVIReading]
}

// BatchPublisher writes a batch of readings to the destination.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, events []domain.ReadingEvent) error
}

// Config wires a Monitor. Zero values get defaults.
type Config struct {
	Source      Source
	Publisher   BatchPublisher
	Clock       clockwork.Clock
	Logger      *slog.Logger
	Metrics     *observability.Metrics
	Interval    time.Duration
	Concurrency int
}

// Monitor periodically resolves every region's current NDVI and publishes
// the readings as one batch.
type Monitor struct {
	source      Source
	publisher   BatchPublisher
	clock       clockwork.Clock
	logger      *slog.Logger
	metrics     *observability.Metrics
	interval    time.Duration
	concurrency int
	ready       atomic.Bool
}

func New(cfg Config) *Monitor {
	m := &Monitor{
		source:      cfg.Source,
		publisher:   cfg.Publisher,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		interval:    cfg.Interval,
		concurrency: cfg.Concurrency,
	}
	if m.clock == nil {
		m.clock = clockwork.NewRealClock()
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.metrics == nil {
		m.metrics = observability.NewMetricsForTesting()
	}
	if m.interval <= 0 {
		m.interval = time.Hour
	}
	if m.concurrency <= 0 {
		m.concurrency = defaultConcurrency
	}
	return m
}

// CheckReadiness returns nil once a batch has been published.
func (m *Monitor) CheckReadiness(_ context.Context) error {
	if !m.ready.Load() {
		return errors.New("monitor has not published any readings yet")
	}
	return nil
}

// Run executes a cycle immediately and then once per interval until ctx is
// cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("monitor started", "interval", m.interval, "concurrency", m.concurrency)
	m.metrics.MonitorRunning.Set(1)
	defer m.metrics.MonitorRunning.Set(0)

	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if !m.runCycle(ctx) {
			m.logger.Info("monitor stopping", "reason", ctx.Err())
			return nil
		}
		select {
		case <-ctx.Done():
			m.logger.Info("monitor stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
		}
	}
}

// runCycle resolves and publishes one batch. Returns false if the monitor should stop.
func (m *Monitor) runCycle(ctx context.Context) bool {
	start := m.clock.Now()

	events, err := m.collect(ctx)
	if err != nil {
		return false
	}
	if len(events) == 0 {
		m.logger.Warn("no regions to monitor")
		return true
	}

	backoff := initialBackoff
	for {
		err := m.publisher.PublishBatch(ctx, events)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return false
		}
		m.metrics.PublishErrors.Inc()
		m.logger.Error("publish readings failed", "error", err, "batch_size", len(events), "retry_in", backoff)
		if !m.sleep(ctx, backoff) {
			return false
		}
		backoff = nextBackoff(backoff, maxBackoff)
	}

	m.metrics.ReadingsPublished.Add(float64(len(events)))
	m.metrics.MonitorCycle.Observe(m.clock.Since(start).Seconds())
	m.ready.Store(true)
	m.logger.Debug("readings published", "count", len(events))
	return true
}

// collect resolves every region with bounded concurrency. Resolution always
// yields a value, so only cancellation aborts the batch.
func (m *Monitor) collect(ctx context.Context) ([]domain.ReadingEvent, error) {
	regions := m.source.Regions()
	events := make([]domain.ReadingEvent, len(regions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i, region := range regions {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := m.source.CurrentNDVI(gctx, region.Centroid)
			events[i] = domain.NewReadingEvent(region, res, m.clock.Now())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return events, nil
}

func (m *Monitor) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := m.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}
