package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/guihirsch/orbee.online-sub002/internal/domain"
	"github.com/guihirsch/orbee.online-sub002/internal/observability"
	"github.com/paulmach/orb/geojson"
)

// ErrNotFound is returned when the backend answers 404 for a resource.
var ErrNotFound = errors.New("backend: resource not found")

// Client talks to the Orbee REST backend. It is the live tier of the
// resolver and the transport of the AOI loader.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a backend client. An empty token sends no Authorization header.
func NewClient(baseURL, token string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		token: token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: baseURL,
		metrics: metrics,
		logger:  logger,
	}
}

// SearchMunicipalities finds municipalities whose name matches q.
func (c *Client) SearchMunicipalities(ctx context.Context, q string, source domain.SearchSource) ([]domain.Municipality, error) {
	params := url.Values{"q": {q}, "source": {string(source)}}

	var resp searchResponse
	if err := c.getJSON(ctx, "search", "/geo/search?"+params.Encode(), &resp); err != nil {
		return nil, err
	}

	out := make([]domain.Municipality, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, domain.Municipality{IBGECode: r.IBGECode, Name: r.Name, State: r.State})
	}
	return out, nil
}

// MunicipalityGeometry fetches the boundary of a municipality.
// The backend may answer with a Feature, a FeatureCollection or a bare geometry.
func (c *Client) MunicipalityGeometry(ctx context.Context, m domain.Municipality, source domain.SearchSource) (*geojson.Feature, error) {
	params := url.Values{"source": {string(source)}, "q": {m.Name}}
	path := fmt.Sprintf("/geo/municipalities/%s/geometry?%s", url.PathEscape(m.IBGECode), params.Encode())

	body, err := c.get(ctx, "geometry", path)
	if err != nil {
		return nil, err
	}
	return parseGeometry(body)
}

// RecoveryPlan fetches the recovery plan for a municipality.
func (c *Client) RecoveryPlan(ctx context.Context, code string, source domain.SearchSource) (*domain.RecoveryPlan, error) {
	params := url.Values{"source": {string(source)}}
	path := fmt.Sprintf("/plan/municipality/%s?%s", url.PathEscape(code), params.Encode())

	var plan domain.RecoveryPlan
	if err := c.getJSON(ctx, "plan", path, &plan); err != nil {
		return nil, err
	}
	if plan.IBGECode == "" {
		plan.IBGECode = code
	}
	return &plan, nil
}

// CurrentNDVI fetches the latest NDVI observation for a point.
func (c *Client) CurrentNDVI(ctx context.Context, at domain.Coordinate) (domain.NDVIReading, error) {
	var resp currentResponse
	if err := c.getJSON(ctx, "ndvi_current", "/ndvi/current?"+coordParams(at).Encode(), &resp); err != nil {
		return domain.NDVIReading{}, err
	}

	reading := domain.NDVIReading{
		NDVI:          resp.NDVI,
		Quality:       resp.Quality,
		CloudCoverage: resp.CloudCoverage,
	}
	if resp.Date != "" {
		d, err := domain.ParseDay(resp.Date)
		if err != nil {
			return domain.NDVIReading{}, fmt.Errorf("decode current ndvi: %w", err)
		}
		reading.Date = d
	}
	if reading.Quality == "" {
		reading.Quality = domain.QualityForCloud(reading.CloudCoverage)
	}
	return reading, nil
}

// TimeSeries fetches the NDVI history covering the last days for a point.
func (c *Client) TimeSeries(ctx context.Context, at domain.Coordinate, days int) ([]domain.NDVISample, error) {
	params := coordParams(at)
	params.Set("days", strconv.Itoa(days))

	var resp seriesResponse
	if err := c.getJSON(ctx, "ndvi_timeseries", "/ndvi/timeseries?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// VegetationHealth fetches the backend's health classification for a point.
func (c *Client) VegetationHealth(ctx context.Context, at domain.Coordinate) (domain.HealthReport, error) {
	var report domain.HealthReport
	if err := c.getJSON(ctx, "ndvi_health", "/ndvi/health?"+coordParams(at).Encode(), &report); err != nil {
		return domain.HealthReport{}, err
	}
	return report, nil
}

// Alerts fetches active alerts within radiusKm of a point.
func (c *Client) Alerts(ctx context.Context, at domain.Coordinate, radiusKm float64) ([]domain.Alert, error) {
	params := coordParams(at)
	params.Set("radius", strconv.FormatFloat(radiusKm, 'f', -1, 64))

	var resp alertsResponse
	if err := c.getJSON(ctx, "ndvi_alerts", "/ndvi/alerts?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.Alerts, nil
}

// CacheStatus reports which resources the backend has cached for a municipality.
func (c *Client) CacheStatus(ctx context.Context, code string) (domain.CacheStatus, error) {
	var status domain.CacheStatus
	path := fmt.Sprintf("/cache/municipality/%s/status", url.PathEscape(code))
	if err := c.getJSON(ctx, "cache_status", path, &status); err != nil {
		return domain.CacheStatus{}, err
	}
	status.Freshness = status.DeriveFreshness()
	return status, nil
}

// PrefetchCache asks the backend to populate its cache for a municipality.
func (c *Client) PrefetchCache(ctx context.Context, code string) error {
	path := fmt.Sprintf("/cache/municipality/%s/fetch", url.PathEscape(code))
	_, err := c.get(ctx, "cache_fetch", path)
	return err
}

// InvalidateCache drops every cached resource for a municipality.
func (c *Client) InvalidateCache(ctx context.Context, code string) error {
	path := fmt.Sprintf("/cache/municipality/%s", url.PathEscape(code))
	_, err := c.do(ctx, http.MethodDelete, "cache_invalidate", path)
	return err
}

func (c *Client) getJSON(ctx context.Context, endpoint, path string, v any) error {
	body, err := c.get(ctx, endpoint, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, endpoint, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, endpoint, path)
}

func (c *Client) do(ctx context.Context, method, endpoint, path string) ([]byte, error) {
	start := time.Now()
	body, err := c.roundTrip(ctx, method, path)
	c.metrics.BackendDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

	outcome := "success"
	if err != nil {
		outcome = "error"
		c.logger.Debug("backend request failed", "endpoint", endpoint, "error", err)
	}
	c.metrics.BackendRequests.WithLabelValues(endpoint, outcome).Inc()
	return body, err
}

func (c *Client) roundTrip(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("backend API error: status %d: %s", resp.StatusCode, body)
	}
	return body, nil
}

func coordParams(at domain.Coordinate) url.Values {
	return url.Values{
		"latitude":  {strconv.FormatFloat(at.Lat, 'f', 6, 64)},
		"longitude": {strconv.FormatFloat(at.Lon, 'f', 6, 64)},
	}
}

func parseGeometry(body []byte) (*geojson.Feature, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("decode geometry response: %w", err)
	}

	switch probe.Type {
	case "Feature":
		f, err := geojson.UnmarshalFeature(body)
		if err != nil {
			return nil, fmt.Errorf("decode geometry feature: %w", err)
		}
		return f, nil
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(body)
		if err != nil {
			return nil, fmt.Errorf("decode geometry collection: %w", err)
		}
		if len(fc.Features) == 0 {
			return nil, errors.New("geometry collection is empty")
		}
		return fc.Features[0], nil
	default:
		g, err := geojson.UnmarshalGeometry(body)
		if err != nil {
			return nil, fmt.Errorf("decode geometry: %w", err)
		}
		return geojson.NewFeature(g.Geometry()), nil
	}
}

// Backend API response types.

type searchResponse struct {
	Results []searchResult `json:"results"`
}

type searchResult struct {
	IBGECode string `json:"ibge_code"`
	Name     string `json:"name"`
	State    string `json:"state"`
}

type currentResponse struct {
	NDVI          float64            `json:"ndvi"`
	Date          string             `json:"date"`
	Quality       domain.QualityTier `json:"quality"`
	CloudCoverage float64            `json:"cloud_coverage"`
}

type seriesResponse struct {
	Data []domain.NDVISample `json:"data"`
}

type alertsResponse struct {
	Alerts []domain.Alert `json:"alerts"`
}
