package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/guihirsch/orbee.online-sub002/internal/domain"
	"github.com/guihirsch/orbee.online-sub002/internal/mapview"
)

const (
	defaultAlertRadiusKm = 5.0
	mosaicURL            = "/map/mosaic.tif"
	styleName            = "orbee-ndvi"
)

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	c, ok := coordinateParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.service.CurrentNDVI(r.Context(), c))
}

func (s *Server) handleTimeSeries(w http.ResponseWriter, r *http.Request) {
	c, ok := coordinateParam(w, r)
	if !ok {
		return
	}
	period := domain.Period(r.URL.Query().Get("period"))
	if period == "" {
		period = domain.Period90d
	}
	if !period.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid period %q", period))
		return
	}
	writeJSON(w, http.StatusOK, s.service.TimeSeries(r.Context(), c, period))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	c, ok := coordinateParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.service.VegetationHealth(r.Context(), c))
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	c, ok := coordinateParam(w, r)
	if !ok {
		return
	}
	radius := defaultAlertRadiusKm
	if v := r.URL.Query().Get("radius"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "radius must be a positive number of kilometres")
			return
		}
		radius = parsed
	}
	writeJSON(w, http.StatusOK, s.service.Alerts(r.Context(), c, radius))
}

func (s *Server) handleRegionMatch(w http.ResponseWriter, r *http.Request) {
	c, ok := coordinateParam(w, r)
	if !ok {
		return
	}
	region, found := s.service.MatchRegion(c)
	if !found {
		writeError(w, http.StatusNotFound, "no region contains the coordinate")
		return
	}
	writeJSON(w, http.StatusOK, region)
}

// handleMapStyle mounts a fresh viewer on a style document per request.
func (s *Server) handleMapStyle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	base := mapview.BaseStandard
	if v := q.Get("base"); v != "" {
		base = mapview.BaseLayer(v)
	}
	if !base.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid base layer %q", base))
		return
	}

	doc := mapview.NewStyleDocument(styleName, mapview.Camera{Center: s.mapCfg.Center})
	viewer := mapview.NewViewer(mapview.Options{
		Center:       s.mapCfg.Center,
		Base:         base,
		Feed:         s.mapCfg.Feed,
		RasterPath:   s.mapCfg.RasterPath,
		RasterURL:    mosaicURL,
		RasterBounds: s.mapCfg.RasterBounds,
		Logger:       s.logger,
		Metrics:      s.metrics,
	})
	if err := viewer.Mount(r.Context(), doc); err != nil {
		s.logger.Error("mount map viewer failed", "error", err)
		writeError(w, http.StatusInternalServerError, "map unavailable")
		return
	}
	if code := q.Get("aoi"); code != "" {
		if !s.showAOI(w, r, viewer, code) {
			return
		}
	}
	if focus := q.Get("focus"); focus != "" && !viewer.HandleClick(focus) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("critical point %q not found", focus))
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// showAOI selects the municipality and draws its boundary on the viewer.
func (s *Server) showAOI(w http.ResponseWriter, r *http.Request, viewer *mapview.Viewer, code string) bool {
	if s.aoi == nil {
		writeError(w, http.StatusNotFound, "aoi lookup not configured")
		return false
	}
	if !ibgeCodePattern.MatchString(code) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid ibge code %q", code))
		return false
	}
	if !s.applySource(w, r) {
		return false
	}
	sel, ok := s.selectAOI(w, r, code)
	if !ok {
		return false
	}
	if err := viewer.ShowAOI(sel.Feature); err != nil {
		s.logger.Error("draw aoi failed", "ibge_code", code, "error", err)
		writeError(w, http.StatusInternalServerError, "map unavailable")
		return false
	}
	return true
}

func (s *Server) handleMosaic(w http.ResponseWriter, r *http.Request) {
	if s.mapCfg.RasterPath == "" {
		writeError(w, http.StatusNotFound, "no raster mosaic configured")
		return
	}
	w.Header().Set("Content-Type", "image/tiff")
	http.ServeFile(w, r, s.mapCfg.RasterPath)
}

// coordinateParam parses latitude/longitude query params, writing a 400 on failure.
func coordinateParam(w http.ResponseWriter, r *http.Request) (domain.Coordinate, bool) {
	c, err := parseCoordinate(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return domain.Coordinate{}, false
	}
	return c, true
}

func parseCoordinate(r *http.Request) (domain.Coordinate, error) {
	q := r.URL.Query()
	latStr, lonStr := q.Get("latitude"), q.Get("longitude")
	if latStr == "" || lonStr == "" {
		return domain.Coordinate{}, errors.New("latitude and longitude are required")
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return domain.Coordinate{}, fmt.Errorf("%w: latitude %q", domain.ErrInvalidCoordinate, latStr)
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		return domain.Coordinate{}, fmt.Errorf("%w: longitude %q", domain.ErrInvalidCoordinate, lonStr)
	}
	c := domain.Coordinate{Lat: lat, Lon: lon}
	if err := c.Validate(); err != nil {
		return domain.Coordinate{}, err
	}
	return c, nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
