// Package aoi finds municipalities by name and loads the boundary and
// recovery plan of the one the user selects.
//
// Searches are debounced: every SetQuery restarts the window and bumps a
// generation counter. A response is applied only while its generation is
// still current, so a slow answer to an old query can never overwrite the
// results of a newer one. Selections follow the same rule with their own
// counter: only the most recent Select stores its result and fires OnSelect.
package aoi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb/geojson"

	"github.com/guihirsch/orbee.online-sub002/internal/domain"
	"github.com/guihirsch/orbee.online-sub002/internal/observability"
)

const (
	// DefaultDebounce is the quiet period after the last keystroke before searching.
	DefaultDebounce = 300 * time.Millisecond
	// MinQueryLength is the minimum number of characters that triggers a search.
	MinQueryLength = 2
)

var (
	// ErrClosed is returned by operations on a closed Loader.
	ErrClosed = errors.New("aoi: loader closed")
	// ErrSuperseded is returned by a Select overtaken by a newer one.
	ErrSuperseded = errors.New("aoi: selection superseded")
)

// Backend is the subset of the REST backend the loader needs.
type Backend interface {
	SearchMunicipalities(ctx context.Context, q string, source domain.SearchSource) ([]domain.Municipality, error)
	MunicipalityGeometry(ctx context.Context, m domain.Municipality, source domain.SearchSource) (*geojson.Feature, error)
	RecoveryPlan(ctx context.Context, code string, source domain.SearchSource) (*domain.RecoveryPlan, error)
	CacheStatus(ctx context.Context, code string) (domain.CacheStatus, error)
	PrefetchCache(ctx context.Context, code string) error
	InvalidateCache(ctx context.Context, code string) error
}

// Selection is a loaded AOI. Municipality.Plan is nil when the plan could not be fetched.
type Selection struct {
	Municipality domain.Municipality
	Feature      *geojson.Feature
}

// Callbacks receive loader events. Any of them may be nil. They run on the
// loader's goroutines, serialized, and must not call Select or Close
// synchronously.
type Callbacks struct {
	OnResults func(query string, results []domain.Municipality)
	OnSelect  func(Selection)
	OnError   func(error)
}

// Config wires a Loader.
type Config struct {
	Backend   Backend
	Callbacks Callbacks
	Source    domain.SearchSource
	Debounce  time.Duration
	Clock     clockwork.Clock
	Logger    *slog.Logger
	Metrics   *observability.Metrics
}

// Loader supervises municipality search and AOI selection.
type Loader struct {
	backend  Backend
	cb       Callbacks
	debounce time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics

	mu       sync.Mutex
	query    string
	source   domain.SearchSource
	gen      uint64
	timer    clockwork.Timer
	cancel   context.CancelFunc
	results  []domain.Municipality
	selected *Selection

	selGen    uint64
	selCancel context.CancelFunc

	// deliverMu serializes callbacks with Close so none fire after it returns.
	deliverMu sync.Mutex
	closed    atomic.Bool
}

// New creates a Loader. The source defaults to IBGE.
func New(cfg Config) *Loader {
	l := &Loader{
		backend:  cfg.Backend,
		cb:       cfg.Callbacks,
		debounce: cfg.Debounce,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		source:   cfg.Source,
	}
	if l.debounce <= 0 {
		l.debounce = DefaultDebounce
	}
	if l.clock == nil {
		l.clock = clockwork.NewRealClock()
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	if l.metrics == nil {
		l.metrics = observability.NewMetricsForTesting()
	}
	if !l.source.Valid() {
		l.source = domain.SourceIBGE
	}
	return l
}

// SetQuery records a keystroke. A search runs once the query has been
// stable for the debounce window and is at least MinQueryLength characters.
func (l *Loader) SetQuery(q string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed.Load() {
		return
	}
	l.query = q
	l.restartLocked()
}

// SetSource switches the search provider and re-runs the current query.
func (l *Loader) SetSource(src domain.SearchSource) error {
	if !src.Valid() {
		return fmt.Errorf("unknown search source %q", src)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed.Load() {
		return ErrClosed
	}
	if src == l.source {
		return nil
	}
	l.source = src
	l.restartLocked()
	return nil
}

// Source returns the active search provider.
func (l *Loader) Source() domain.SearchSource {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.source
}

// Results returns the latest applied search results.
func (l *Loader) Results() []domain.Municipality {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Municipality, len(l.results))
	copy(out, l.results)
	return out
}

// Selected returns the last successful selection, if any.
func (l *Loader) Selected() (Selection, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.selected == nil {
		return Selection{}, false
	}
	return *l.selected, true
}

// restartLocked invalidates any pending or in-flight search and schedules a
// new one for the current query. Callers hold l.mu.
func (l *Loader) restartLocked() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.gen++

	if utf8.RuneCountInString(strings.TrimSpace(l.query)) < MinQueryLength {
		l.results = nil
		return
	}

	gen := l.gen
	l.timer = l.clock.AfterFunc(l.debounce, func() { l.search(gen) })
}

func (l *Loader) search(gen uint64) {
	l.mu.Lock()
	if gen != l.gen || l.closed.Load() {
		l.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.timer = nil
	q, src := strings.TrimSpace(l.query), l.source
	l.mu.Unlock()
	defer cancel()

	l.metrics.SearchRequests.Inc()
	results, err := l.backend.SearchMunicipalities(ctx, q, src)

	l.mu.Lock()
	if gen != l.gen || l.closed.Load() {
		l.mu.Unlock()
		l.metrics.SearchDiscarded.Inc()
		l.logger.Debug("discarding superseded search", "query", q)
		return
	}
	l.cancel = nil
	if err == nil {
		l.results = results
	}
	l.mu.Unlock()

	if err != nil {
		l.logger.Warn("municipality search failed", "query", q, "source", src, "error", err)
		l.deliver(func() {
			if l.cb.OnError != nil {
				l.cb.OnError(fmt.Errorf("search %q: %w", q, err))
			}
		})
		return
	}
	l.deliver(func() {
		if l.cb.OnResults != nil {
			l.cb.OnResults(q, results)
		}
	})
}

// Select loads the boundary of m and then, best-effort, its recovery plan.
// A geometry failure aborts the selection; a plan failure yields Plan == nil.
// Starting a Select cancels any earlier one still in flight, which then
// returns ErrSuperseded without storing its result or firing callbacks.
func (l *Loader) Select(ctx context.Context, m domain.Municipality) (Selection, error) {
	l.mu.Lock()
	if l.closed.Load() {
		l.mu.Unlock()
		return Selection{}, ErrClosed
	}
	if l.selCancel != nil {
		l.selCancel()
	}
	l.selGen++
	gen, src := l.selGen, l.source
	ctx, cancel := context.WithCancel(ctx)
	l.selCancel = cancel
	l.mu.Unlock()
	defer cancel()

	feature, err := l.backend.MunicipalityGeometry(ctx, m, src)
	if err == nil && (feature == nil || feature.Geometry == nil) {
		err = errors.New("empty geometry")
	}
	if err != nil {
		if !l.currentSelect(gen) {
			return Selection{}, l.discardSelect(m)
		}
		err = fmt.Errorf("load geometry for %s: %w", m.IBGECode, err)
		l.logger.Error("aoi selection failed", "ibge_code", m.IBGECode, "error", err)
		l.deliver(func() {
			if l.cb.OnError != nil {
				l.cb.OnError(err)
			}
		})
		return Selection{}, err
	}

	plan, err := l.backend.RecoveryPlan(ctx, m.IBGECode, src)
	if err != nil {
		l.logger.Warn("recovery plan unavailable", "ibge_code", m.IBGECode, "error", err)
		plan = nil
	}

	m.Boundary = feature.Geometry
	m.Plan = plan
	sel := Selection{Municipality: m, Feature: feature}

	l.mu.Lock()
	if gen != l.selGen || l.closed.Load() {
		l.mu.Unlock()
		return Selection{}, l.discardSelect(m)
	}
	l.selected = &sel
	l.selCancel = nil
	l.mu.Unlock()

	l.deliver(func() {
		if l.cb.OnSelect != nil {
			l.cb.OnSelect(sel)
		}
	})
	return sel, nil
}

func (l *Loader) currentSelect(gen uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return gen == l.selGen && !l.closed.Load()
}

func (l *Loader) discardSelect(m domain.Municipality) error {
	l.metrics.SelectDiscarded.Inc()
	l.logger.Debug("discarding superseded selection", "ibge_code", m.IBGECode)
	if l.closed.Load() {
		return ErrClosed
	}
	return ErrSuperseded
}

// CacheStatus reports the backend cache state for a municipality.
func (l *Loader) CacheStatus(ctx context.Context, code string) (domain.CacheStatus, error) {
	status, err := l.backend.CacheStatus(ctx, code)
	if err != nil {
		return domain.CacheStatus{}, fmt.Errorf("cache status for %s: %w", code, err)
	}
	return status, nil
}

// Prefetch asks the backend to warm its cache for a municipality.
func (l *Loader) Prefetch(ctx context.Context, code string) error {
	if err := l.backend.PrefetchCache(ctx, code); err != nil {
		return fmt.Errorf("prefetch cache for %s: %w", code, err)
	}
	l.logger.Info("municipality cache prefetch requested", "ibge_code", code)
	return nil
}

// InvalidateCache drops the backend cache for a municipality.
func (l *Loader) InvalidateCache(ctx context.Context, code string) error {
	if err := l.backend.InvalidateCache(ctx, code); err != nil {
		return fmt.Errorf("invalidate cache for %s: %w", code, err)
	}
	l.logger.Info("municipality cache invalidated", "ibge_code", code)
	return nil
}

// Close stops pending timers and cancels in-flight searches and selections. No callback
// fires after Close returns.
func (l *Loader) Close() {
	l.mu.Lock()
	l.closed.Store(true)
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	if l.selCancel != nil {
		l.selCancel()
		l.selCancel = nil
	}
	l.gen++
	l.selGen++
	l.mu.Unlock()

	// Wait for a callback already in progress.
	l.deliverMu.Lock()
	defer l.deliverMu.Unlock()
}

func (l *Loader) deliver(fn func()) {
	l.deliverMu.Lock()
	defer l.deliverMu.Unlock()
	if l.closed.Load() {
		return
	}
	fn()
}
