package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/guihirsch/orbee.online-sub002/internal/domain"
)

// chain describes how one operation is answered by each tier.
type chain[T any] struct {
	op        string
	key       string
	dataset   func(now time.Time) (T, bool)
	live      func(ctx context.Context) (T, error)
	validate  func(T) error
	synthetic func(now time.Time) T
}

func resolve[T any](ctx context.Context, r *Resolver, c chain[T]) domain.Resolved[T] {
	now := r.clock.Now()
	result := func(src domain.Provenance, v T, staleness time.Duration) domain.Resolved[T] {
		r.metrics.Resolutions.WithLabelValues(c.op, string(src)).Inc()
		return domain.Resolved[T]{Source: src, Value: v, Staleness: staleness, ResolvedAt: now}
	}

	if v, ok := c.dataset(now); ok {
		return result(domain.SourceDataset, v, 0)
	}

	entry, cached := r.cache.Get(c.key)
	var cachedValue T
	if cached {
		cachedValue, cached = entry.Value.(T)
	}
	if cached && entry.Age(now) <= r.cacheTTL {
		r.metrics.CacheLookups.WithLabelValues(c.op, "hit").Inc()
		return result(domain.SourceCached, cachedValue, entry.Age(now))
	}
	if cached {
		r.metrics.CacheLookups.WithLabelValues(c.op, "stale").Inc()
	} else {
		r.metrics.CacheLookups.WithLabelValues(c.op, "miss").Inc()
	}

	if r.live != nil {
		v, err := fetchLive(ctx, r, c)
		if err == nil {
			r.cache.Put(c.key, v)
			return result(domain.SourceLive, v, 0)
		}
		r.metrics.TierFailures.WithLabelValues(c.op, "live").Inc()
		r.logger.Warn("resolution tier failed", "operation", c.op, "tier", "live", "error", err)
	}

	if cached {
		return result(domain.SourceCached, cachedValue, entry.Age(now))
	}

	return result(domain.SourceSynthetic, c.synthetic(now), 0)
}

func fetchLive[T any](ctx context.Context, r *Resolver, c chain[T]) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, r.liveTimeout)
	defer cancel()

	v, err := c.live(ctx)
	if err != nil {
		return v, err
	}
	if err := c.validate(v); err != nil {
		return v, fmt.Errorf("unusable %s response: %w", c.op, err)
	}
	return v, nil
}
