package httpadapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb/geojson"

	"github.com/guihirsch/orbee.online-sub002/internal/aoi"
	"github.com/guihirsch/orbee.online-sub002/internal/domain"
)

var ibgeCodePattern = regexp.MustCompile(`^[0-9]{7}$`)

// AOIService searches municipalities and loads the selected area of interest.
type AOIService interface {
	SetQuery(q string)
	SetSource(src domain.SearchSource) error
	Source() domain.SearchSource
	Results() []domain.Municipality
	Select(ctx context.Context, m domain.Municipality) (aoi.Selection, error)
	CacheStatus(ctx context.Context, code string) (domain.CacheStatus, error)
	Prefetch(ctx context.Context, code string) error
	InvalidateCache(ctx context.Context, code string) error
}

type aoiResponse struct {
	IBGECode       string                 `json:"ibge_code"`
	Name           string                 `json:"name,omitempty"`
	State          string                 `json:"state,omitempty"`
	Source         domain.SearchSource    `json:"source"`
	Plan           *domain.RecoveryPlan   `json:"plan"`
	Geometry       *geojson.Feature       `json:"geometry"`
	CriticalPoints []domain.CriticalPoint `json:"critical_points"`
}

type searchResponse struct {
	Source  domain.SearchSource   `json:"source"`
	Results []domain.Municipality `json:"results"`
}

func (s *Server) mountAOI(r chi.Router) {
	r.Post("/search", s.handleAOIQuery)
	r.Get("/search", s.handleAOIResults)
	r.Route("/{ibge_code:[0-9]{7}}", func(cr chi.Router) {
		cr.Get("/", s.handleAOISelect)
		cr.Get("/cache", s.handleCacheStatus)
		cr.Post("/cache", s.handleCachePrefetch)
		cr.Delete("/cache", s.handleCacheInvalidate)
	})
}

// handleAOIQuery feeds a keystroke to the debounced search. Results are
// read back from GET /aoi/search once the debounce window has passed.
func (s *Server) handleAOIQuery(w http.ResponseWriter, r *http.Request) {
	if !s.applySource(w, r) {
		return
	}
	q := r.URL.Query().Get("q")
	s.aoi.SetQuery(q)
	writeJSON(w, http.StatusAccepted, map[string]any{"query": q, "source": s.aoi.Source()})
}

func (s *Server) handleAOIResults(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, searchResponse{Source: s.aoi.Source(), Results: s.aoi.Results()})
}

func (s *Server) handleAOISelect(w http.ResponseWriter, r *http.Request) {
	if !s.applySource(w, r) {
		return
	}
	sel, ok := s.selectAOI(w, r, chi.URLParam(r, "ibge_code"))
	if !ok {
		return
	}

	points := []domain.CriticalPoint{}
	if s.feed != nil {
		points = s.feed.Within(sel.Municipality.Boundary)
	}
	m := sel.Municipality
	writeJSON(w, http.StatusOK, aoiResponse{
		IBGECode:       m.IBGECode,
		Name:           m.Name,
		State:          m.State,
		Source:         s.aoi.Source(),
		Plan:           m.Plan,
		Geometry:       sel.Feature,
		CriticalPoints: points,
	})
}

func (s *Server) handleCacheStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.aoi.CacheStatus(r.Context(), chi.URLParam(r, "ibge_code"))
	if err != nil {
		s.logger.Warn("cache status failed", "error", err)
		writeError(w, http.StatusBadGateway, "cache status unavailable")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleCachePrefetch(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "ibge_code")
	if err := s.aoi.Prefetch(r.Context(), code); err != nil {
		s.logger.Warn("cache prefetch failed", "error", err)
		writeError(w, http.StatusBadGateway, "cache prefetch failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"ibge_code": code})
}

func (s *Server) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if err := s.aoi.InvalidateCache(r.Context(), chi.URLParam(r, "ibge_code")); err != nil {
		s.logger.Warn("cache invalidation failed", "error", err)
		writeError(w, http.StatusBadGateway, "cache invalidation failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// applySource switches the search provider when ?source= is present,
// writing a 400 for unknown providers.
func (s *Server) applySource(w http.ResponseWriter, r *http.Request) bool {
	v := r.URL.Query().Get("source")
	if v == "" {
		return true
	}
	src := domain.SearchSource(v)
	if !src.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid source %q", v))
		return false
	}
	if err := s.aoi.SetSource(src); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return false
	}
	return true
}

// selectAOI loads the boundary and plan for code, writing the error
// response itself on failure.
func (s *Server) selectAOI(w http.ResponseWriter, r *http.Request, code string) (aoi.Selection, bool) {
	m := domain.Municipality{IBGECode: code, Name: r.URL.Query().Get("name")}
	sel, err := s.aoi.Select(r.Context(), m)
	switch {
	case err == nil:
		return sel, true
	case errors.Is(err, aoi.ErrSuperseded):
		writeError(w, http.StatusConflict, "selection superseded by a newer request")
	case errors.Is(err, aoi.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "aoi loader closed")
	default:
		writeError(w, http.StatusBadGateway, fmt.Sprintf("municipality %s unavailable", code))
	}
	return aoi.Selection{}, false
}
