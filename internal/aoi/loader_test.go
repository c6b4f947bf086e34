package aoi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guihirsch/orbee.online-sub002/internal/domain"
	"github.com/guihirsch/orbee.online-sub002/internal/observability"
)

const waitFor = 2 * time.Second

var (
	santaCruz = domain.Municipality{IBGECode: "4316808", Name: "Santa Cruz do Sul", State: "RS"}
	venancio  = domain.Municipality{IBGECode: "4322608", Name: "Venâncio Aires", State: "RS"}
)

type searchCall struct {
	query  string
	source domain.SearchSource
}

type fakeBackend struct {
	mu       sync.Mutex
	searches []searchCall
	// block, when set, holds the search for the given query until released.
	block map[string]chan struct{}

	// geometryBlock, when set, holds the geometry load for the given code
	// until released, ignoring cancellation.
	geometryBlock   map[string]chan struct{}
	geometryStarted chan string
	geometryCtxErrs map[string]error

	geometryErr error
	planErr     error
	invalidated []string
	prefetched  []string
}

func (f *fakeBackend) SearchMunicipalities(_ context.Context, q string, src domain.SearchSource) ([]domain.Municipality, error) {
	f.mu.Lock()
	f.searches = append(f.searches, searchCall{query: q, source: src})
	ch := f.block[q]
	f.mu.Unlock()
	if ch != nil {
		<-ch
	}
	return []domain.Municipality{{IBGECode: "q:" + q, Name: q}}, nil
}

func (f *fakeBackend) MunicipalityGeometry(ctx context.Context, m domain.Municipality, _ domain.SearchSource) (*geojson.Feature, error) {
	f.mu.Lock()
	ch := f.geometryBlock[m.IBGECode]
	f.mu.Unlock()
	if f.geometryStarted != nil {
		f.geometryStarted <- m.IBGECode
	}
	if ch != nil {
		<-ch
		f.mu.Lock()
		if f.geometryCtxErrs == nil {
			f.geometryCtxErrs = make(map[string]error)
		}
		f.geometryCtxErrs[m.IBGECode] = ctx.Err()
		f.mu.Unlock()
	}
	if f.geometryErr != nil {
		return nil, f.geometryErr
	}
	return geojson.NewFeature(orb.Polygon{{{-52.5, -29.8}, {-52.3, -29.8}, {-52.3, -29.6}, {-52.5, -29.8}}}), nil
}

func (f *fakeBackend) RecoveryPlan(_ context.Context, code string, _ domain.SearchSource) (*domain.RecoveryPlan, error) {
	if f.planErr != nil {
		return nil, f.planErr
	}
	return &domain.RecoveryPlan{ID: "plan-1", IBGECode: code, Title: "Restore riparian forest"}, nil
}

func (f *fakeBackend) CacheStatus(_ context.Context, _ string) (domain.CacheStatus, error) {
	s := domain.CacheStatus{Geometry: true, Plan: true, NDVI: true}
	s.Freshness = s.DeriveFreshness()
	return s, nil
}

func (f *fakeBackend) PrefetchCache(_ context.Context, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefetched = append(f.prefetched, code)
	return nil
}

func (f *fakeBackend) InvalidateCache(_ context.Context, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, code)
	return nil
}

func (f *fakeBackend) searchCalls() []searchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]searchCall, len(f.searches))
	copy(out, f.searches)
	return out
}

type recorder struct {
	mu       sync.Mutex
	results  []string
	selected []Selection
	errs     []error
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnResults: func(q string, _ []domain.Municipality) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.results = append(r.results, q)
		},
		OnSelect: func(s Selection) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.selected = append(r.selected, s)
		},
		OnError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
	}
}

func (r *recorder) queries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.results...)
}

func (r *recorder) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func newTestLoader(t *testing.T, backend *fakeBackend) (*Loader, *clockwork.FakeClock, *recorder, *observability.Metrics) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	rec := &recorder{}
	metrics := observability.NewMetricsForTesting()
	l := New(Config{
		Backend:   backend,
		Callbacks: rec.callbacks(),
		Clock:     clock,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:   metrics,
	})
	t.Cleanup(l.Close)
	return l, clock, rec, metrics
}

func TestSetQuery_ShortQueryNeverSearches(t *testing.T) {
	backend := &fakeBackend{}
	l, clock, _, _ := newTestLoader(t, backend)

	l.SetQuery("s")
	clock.Advance(time.Second)
	l.SetQuery("  a  ")
	clock.Advance(time.Second)

	assert.Never(t, func() bool { return len(backend.searchCalls()) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestSetQuery_DebouncedToSingleRequest(t *testing.T) {
	backend := &fakeBackend{}
	l, clock, rec, metrics := newTestLoader(t, backend)

	for _, q := range []string{"sa", "san", "sant", "santa"} {
		l.SetQuery(q)
		clock.Advance(100 * time.Millisecond)
	}
	assert.Empty(t, backend.searchCalls(), "no request inside the debounce window")

	clock.Advance(DefaultDebounce)

	require.Eventually(t, func() bool { return len(rec.queries()) == 1 }, waitFor, 5*time.Millisecond)
	calls := backend.searchCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "santa", calls[0].query)
	assert.Equal(t, domain.SourceIBGE, calls[0].source)
	assert.Equal(t, []domain.Municipality{{IBGECode: "q:santa", Name: "santa"}}, l.Results())
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.SearchRequests), 0)
}

func TestSetQuery_SupersededResponseIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	backend := &fakeBackend{block: map[string]chan struct{}{"santa": release}}
	l, clock, rec, metrics := newTestLoader(t, backend)

	l.SetQuery("santa")
	clock.Advance(DefaultDebounce)
	require.Eventually(t, func() bool { return len(backend.searchCalls()) == 1 }, waitFor, 5*time.Millisecond)

	// A newer keystroke arrives while the first search is still in flight.
	l.SetQuery("santa cruz")
	close(release)
	require.Eventually(t, func() bool { return testutil.ToFloat64(metrics.SearchDiscarded) == 1 }, waitFor, 5*time.Millisecond)
	assert.Empty(t, rec.queries())
	assert.Empty(t, l.Results())

	clock.Advance(DefaultDebounce)
	require.Eventually(t, func() bool { return len(rec.queries()) == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{"santa cruz"}, rec.queries())
}

func TestSetQuery_ShorteningClearsResults(t *testing.T) {
	backend := &fakeBackend{}
	l, clock, rec, _ := newTestLoader(t, backend)

	l.SetQuery("porto")
	clock.Advance(DefaultDebounce)
	require.Eventually(t, func() bool { return len(rec.queries()) == 1 }, waitFor, 5*time.Millisecond)
	require.Len(t, l.Results(), 1)

	l.SetQuery("p")
	assert.Empty(t, l.Results())
}

func TestSetSource_ForcesResearch(t *testing.T) {
	backend := &fakeBackend{}
	l, clock, rec, _ := newTestLoader(t, backend)

	l.SetQuery("santa")
	clock.Advance(DefaultDebounce)
	require.Eventually(t, func() bool { return len(rec.queries()) == 1 }, waitFor, 5*time.Millisecond)

	require.NoError(t, l.SetSource(domain.SourceOSM))
	assert.Equal(t, domain.SourceOSM, l.Source())
	clock.Advance(DefaultDebounce)
	require.Eventually(t, func() bool { return len(rec.queries()) == 2 }, waitFor, 5*time.Millisecond)

	calls := backend.searchCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, searchCall{query: "santa", source: domain.SourceOSM}, calls[1])
}

func TestSetSource_SameSourceIsNoop(t *testing.T) {
	backend := &fakeBackend{}
	l, clock, _, _ := newTestLoader(t, backend)

	l.SetQuery("santa")
	clock.Advance(DefaultDebounce)
	require.Eventually(t, func() bool { return len(backend.searchCalls()) == 1 }, waitFor, 5*time.Millisecond)

	require.NoError(t, l.SetSource(domain.SourceIBGE))
	clock.Advance(DefaultDebounce)
	assert.Never(t, func() bool { return len(backend.searchCalls()) > 1 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestSetSource_RejectsUnknown(t *testing.T) {
	l, _, _, _ := newTestLoader(t, &fakeBackend{})
	require.Error(t, l.SetSource("google"))
}

func TestSelect_GeometryAndPlan(t *testing.T) {
	l, _, rec, _ := newTestLoader(t, &fakeBackend{})

	sel, err := l.Select(context.Background(), santaCruz)
	require.NoError(t, err)

	_, ok := sel.Municipality.Boundary.(orb.Polygon)
	assert.True(t, ok)
	require.NotNil(t, sel.Municipality.Plan)
	assert.Equal(t, "plan-1", sel.Municipality.Plan.ID)

	rec.mu.Lock()
	assert.Len(t, rec.selected, 1)
	rec.mu.Unlock()

	got, ok := l.Selected()
	require.True(t, ok)
	assert.Equal(t, santaCruz.IBGECode, got.Municipality.IBGECode)
}

func TestSelect_PlanFailureDegradesToNilPlan(t *testing.T) {
	l, _, rec, _ := newTestLoader(t, &fakeBackend{planErr: errors.New("plan service down")})

	sel, err := l.Select(context.Background(), santaCruz)
	require.NoError(t, err)
	assert.NotNil(t, sel.Municipality.Boundary)
	assert.Nil(t, sel.Municipality.Plan)
	assert.Empty(t, rec.errors())
}

func TestSelect_GeometryFailureAborts(t *testing.T) {
	geomErr := errors.New("geometry service down")
	l, _, rec, _ := newTestLoader(t, &fakeBackend{geometryErr: geomErr})

	_, err := l.Select(context.Background(), santaCruz)
	require.ErrorIs(t, err, geomErr)

	require.Len(t, rec.errors(), 1)
	assert.ErrorIs(t, rec.errors()[0], geomErr)
	rec.mu.Lock()
	assert.Empty(t, rec.selected)
	rec.mu.Unlock()

	_, ok := l.Selected()
	assert.False(t, ok)
}

func TestSelect_SupersededSelectionIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	backend := &fakeBackend{
		geometryBlock:   map[string]chan struct{}{santaCruz.IBGECode: release},
		geometryStarted: make(chan string, 2),
	}
	l, _, rec, metrics := newTestLoader(t, backend)

	type outcome struct {
		sel Selection
		err error
	}
	first := make(chan outcome, 1)
	go func() {
		sel, err := l.Select(context.Background(), santaCruz)
		first <- outcome{sel, err}
	}()
	require.Equal(t, santaCruz.IBGECode, <-backend.geometryStarted)

	second, err := l.Select(context.Background(), venancio)
	require.NoError(t, err)
	assert.Equal(t, venancio.IBGECode, second.Municipality.IBGECode)

	close(release)
	var got outcome
	select {
	case got = <-first:
	case <-time.After(waitFor):
		t.Fatal("superseded select never returned")
	}
	require.ErrorIs(t, got.err, ErrSuperseded)
	assert.Nil(t, got.sel.Feature)

	backend.mu.Lock()
	assert.ErrorIs(t, backend.geometryCtxErrs[santaCruz.IBGECode], context.Canceled)
	backend.mu.Unlock()

	sel, ok := l.Selected()
	require.True(t, ok)
	assert.Equal(t, venancio.IBGECode, sel.Municipality.IBGECode)

	rec.mu.Lock()
	require.Len(t, rec.selected, 1)
	assert.Equal(t, venancio.IBGECode, rec.selected[0].Municipality.IBGECode)
	rec.mu.Unlock()
	assert.Empty(t, rec.errors())
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.SelectDiscarded), 0)
}

func TestCachePassThrough(t *testing.T) {
	backend := &fakeBackend{}
	l, _, _, _ := newTestLoader(t, backend)

	status, err := l.CacheStatus(context.Background(), santaCruz.IBGECode)
	require.NoError(t, err)
	assert.Equal(t, domain.FreshnessComplete, status.Freshness)

	require.NoError(t, l.InvalidateCache(context.Background(), santaCruz.IBGECode))
	assert.Equal(t, []string{santaCruz.IBGECode}, backend.invalidated)

	require.NoError(t, l.Prefetch(context.Background(), santaCruz.IBGECode))
	assert.Equal(t, []string{santaCruz.IBGECode}, backend.prefetched)
}

func TestClose_StopsPendingSearchAndCallbacks(t *testing.T) {
	backend := &fakeBackend{}
	l, clock, rec, _ := newTestLoader(t, backend)

	l.SetQuery("santa")
	l.Close()
	clock.Advance(DefaultDebounce)

	assert.Never(t, func() bool { return len(backend.searchCalls()) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Empty(t, rec.queries())

	_, err := l.Select(context.Background(), santaCruz)
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, l.SetSource(domain.SourceOSM), ErrClosed)
}
