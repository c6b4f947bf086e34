// Package mapview drives an interactive NDVI map: base layers, an optional
// raster mosaic, the critical-point overlay and the selected AOI. The Viewer
// owns the lifecycle and talks to the map through the Surface interface.
package mapview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/guihirsch/orbee.online-sub002/internal/dataset"
	"github.com/guihirsch/orbee.online-sub002/internal/domain"
	"github.com/guihirsch/orbee.online-sub002/internal/observability"
)

// State is the viewer lifecycle stage.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// BaseLayer selects the background imagery.
type BaseLayer string

const (
	BaseStandard  BaseLayer = "standard"
	BaseSatellite BaseLayer = "satellite"
)

// Valid reports whether b is a known base layer.
func (b BaseLayer) Valid() bool {
	return b == BaseStandard || b == BaseSatellite
}

const (
	layerStandard  = "base-standard"
	layerSatellite = "base-satellite"
	layerMosaic    = "ndvi-mosaic"
	layerCritical  = "critical-points"
	layerAOIFill   = "aoi-fill"
	layerAOILine   = "aoi-line"
	sourceAOI      = "aoi"
	sourceCritical = "critical-points"

	// FocusZoom is the zoom level used when flying to a critical point.
	FocusZoom    = 16
	flyDuration  = 1500 * time.Millisecond
	defaultZoom  = 12
	mosaicAlpha  = 0.7
	standardURL  = "https://tile.openstreetmap.org/{z}/{x}/{y}.png"
	satelliteURL = "https://server.arcgisonline.com/ArcGIS/rest/services/World_Imagery/MapServer/tile/{z}/{y}/{x}"
)

var (
	ErrDestroyed = errors.New("mapview: viewer destroyed")
	ErrNotReady  = errors.New("mapview: viewer not ready")
)

// Options configures a Viewer. Feed and RasterPath are optional overlays.
type Options struct {
	Center     domain.Coordinate
	Zoom       float64
	Base       BaseLayer
	Feed       []byte
	RasterPath string
	RasterURL  string
	// RasterBounds places the mosaic on the map.
	RasterBounds orb.Bound
	Logger       *slog.Logger
	Metrics      *observability.Metrics
}

// Legend holds the marker counts published with the critical-point feed.
type Legend struct {
	Critical int `json:"critical"`
	Moderate int `json:"moderate"`
}

// RasterInfo describes a successfully attached mosaic.
type RasterInfo struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Viewer is the map lifecycle state machine.
type Viewer struct {
	opts    Options
	logger  *slog.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	state   State
	surface Surface
	base    BaseLayer
	feed    *dataset.Feed
	legend  Legend
	raster  *RasterInfo
	hovered string
}

// NewViewer creates an unmounted viewer.
func NewViewer(opts Options) *Viewer {
	if opts.Zoom == 0 {
		opts.Zoom = defaultZoom
	}
	if !opts.Base.Valid() {
		opts.Base = BaseStandard
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewMetricsForTesting()
	}
	return &Viewer{
		opts:    opts,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		base:    opts.Base,
	}
}

// State returns the lifecycle stage.
func (v *Viewer) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Mount attaches the viewer to s. Mounting an initializing or ready viewer
// is a no-op, so sources and layers are attached exactly once. Optional
// overlays that fail are logged and skipped. If the base layers cannot be
// attached or ctx is done, s is removed and the viewer stays unmounted.
func (v *Viewer) Mount(ctx context.Context, s Surface) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch v.state {
	case StateInitializing, StateReady:
		return nil
	case StateDestroyed:
		return ErrDestroyed
	}
	v.state = StateInitializing
	v.surface = s

	if err := v.attachBaseLayers(); err != nil {
		v.abortMountLocked()
		return fmt.Errorf("attach base layers: %w", err)
	}

	if err := ctx.Err(); err != nil {
		v.abortMountLocked()
		return err
	}
	s.FlyTo(Camera{Center: v.opts.Center, Zoom: v.opts.Zoom})

	v.attachRaster()
	v.attachCriticalPoints()

	v.state = StateReady
	v.logger.Debug("map viewer ready", "base", v.base, "critical_points", v.legend.Critical, "moderate_points", v.legend.Moderate)
	return nil
}

// abortMountLocked tears down whatever a failed Mount attached, so the
// surface is not left half-built and the viewer can mount again.
func (v *Viewer) abortMountLocked() {
	v.surface.Remove()
	v.surface = nil
	v.state = StateUninitialized
}

func (v *Viewer) attachBaseLayers() error {
	s := v.surface
	if err := s.AddSource(layerStandard, Source{
		Type: "raster", Tiles: []string{standardURL}, TileSize: 256,
		Attribution: "© OpenStreetMap contributors",
	}); err != nil {
		return err
	}
	if err := s.AddSource(layerSatellite, Source{
		Type: "raster", Tiles: []string{satelliteURL}, TileSize: 256,
		Attribution: "Tiles © Esri",
	}); err != nil {
		return err
	}
	if err := s.AddLayer(Layer{ID: layerStandard, Type: "raster", Source: layerStandard, Visible: v.base == BaseStandard}); err != nil {
		return err
	}
	return s.AddLayer(Layer{ID: layerSatellite, Type: "raster", Source: layerSatellite, Visible: v.base == BaseSatellite})
}

func (v *Viewer) attachRaster() {
	if v.opts.RasterPath == "" {
		return
	}
	info, err := ProbeRaster(v.opts.RasterPath)
	if err == nil && v.opts.RasterBounds.IsZero() {
		err = errors.New("raster bounds not configured")
	}
	if err == nil {
		err = v.addMosaic()
	}
	if err != nil {
		v.metrics.OverlayFailures.WithLabelValues("raster").Inc()
		v.logger.Warn("raster overlay skipped", "path", v.opts.RasterPath, "error", err)
		return
	}
	v.raster = &info
	v.surface.SetMetadata("orbee:raster", info)
}

func (v *Viewer) addMosaic() error {
	b := v.opts.RasterBounds
	url := v.opts.RasterURL
	if url == "" {
		url = "/map/mosaic.tif"
	}
	// Corners clockwise from top-left, as [lon, lat].
	coords := [][2]float64{
		{b.Min.Lon(), b.Max.Lat()},
		{b.Max.Lon(), b.Max.Lat()},
		{b.Max.Lon(), b.Min.Lat()},
		{b.Min.Lon(), b.Min.Lat()},
	}
	if err := v.surface.AddSource(layerMosaic, Source{Type: "image", URL: url, Coordinates: coords}); err != nil {
		return err
	}
	return v.surface.AddLayer(Layer{
		ID: layerMosaic, Type: "raster", Source: layerMosaic, Visible: true,
		Paint: map[string]any{"raster-opacity": mosaicAlpha},
	})
}

func (v *Viewer) attachCriticalPoints() {
	if len(v.opts.Feed) == 0 {
		return
	}
	feed, err := dataset.ParseCriticalPoints(v.opts.Feed)
	if err == nil {
		err = v.addCriticalLayer(feed.Collection)
	}
	if err != nil {
		v.metrics.OverlayFailures.WithLabelValues("critical_points").Inc()
		v.logger.Warn("critical point overlay skipped", "error", err)
		return
	}
	v.feed = feed
	v.legend = Legend{
		Critical: feed.Metadata.TotalCriticalPoints,
		Moderate: feed.Metadata.TotalModeratePoints,
	}
	v.surface.SetMetadata("orbee:legend", v.legend)
}

func (v *Viewer) addCriticalLayer(fc *geojson.FeatureCollection) error {
	s := v.surface
	if err := s.AddImage(criticalIconID, markerIcon(criticalIconSize, criticalColor)); err != nil {
		return err
	}
	if err := s.AddImage(moderateIconID, markerIcon(moderateIconSize, moderateColor)); err != nil {
		return err
	}
	if err := s.AddSource(sourceCritical, Source{Type: "geojson", Data: fc}); err != nil {
		return err
	}
	return s.AddLayer(Layer{
		ID: layerCritical, Type: "symbol", Source: sourceCritical, Visible: true,
		Layout: map[string]any{
			"icon-image": []any{"match", []any{"get", "severity"},
				string(domain.SeverityCritical), criticalIconID,
				moderateIconID},
			"icon-size": []any{"case",
				[]any{"==", []any{"get", "severity"}, string(domain.SeverityCritical)}, 1.0,
				0.8},
			"icon-allow-overlap": true,
		},
	})
}

// SetBaseLayer switches the background. Exactly one base layer is visible
// afterwards; repeating the current choice changes nothing.
func (v *Viewer) SetBaseLayer(b BaseLayer) error {
	if !b.Valid() {
		return fmt.Errorf("unknown base layer %q", b)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == StateDestroyed {
		return ErrDestroyed
	}
	v.base = b
	if v.state != StateReady {
		return nil
	}

	show, hide := layerStandard, layerSatellite
	if b == BaseSatellite {
		show, hide = layerSatellite, layerStandard
	}
	// Hide first so both are never visible at once.
	if err := v.surface.SetVisibility(hide, false); err != nil {
		return err
	}
	return v.surface.SetVisibility(show, true)
}

// Base returns the selected base layer.
func (v *Viewer) Base() BaseLayer {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.base
}

// Legend returns the critical-point counts, zero when the feed is missing.
func (v *Viewer) Legend() Legend {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.legend
}

// Raster returns the attached mosaic, if any.
func (v *Viewer) Raster() (RasterInfo, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.raster == nil {
		return RasterInfo{}, false
	}
	return *v.raster, true
}

// HandleHover opens the popup for a critical point. Unknown ids and events
// outside the Ready state are ignored.
func (v *Viewer) HandleHover(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.pointLocked(id)
	if !ok {
		return false
	}
	v.hovered = id
	v.surface.ShowPopup(Popup{
		FeatureID: p.ID,
		At:        p.Coordinate,
		Lines: []string{
			fmt.Sprintf("Severity: %s", p.Severity),
			fmt.Sprintf("NDVI: %.2f", p.NDVI),
			p.Description,
			fmt.Sprintf("Coordinates: %.5f, %.5f", p.Coordinate.Lat, p.Coordinate.Lon),
		},
	})
	return true
}

// HandleLeave closes the hover popup.
func (v *Viewer) HandleLeave() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != StateReady || v.hovered == "" {
		return
	}
	v.hovered = ""
	v.surface.RemovePopup()
}

// HandleClick flies the camera to a critical point.
func (v *Viewer) HandleClick(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.pointLocked(id)
	if !ok {
		return false
	}
	v.surface.FlyTo(Camera{Center: p.Coordinate, Zoom: FocusZoom, Animate: true, Duration: flyDuration})
	return true
}

func (v *Viewer) pointLocked(id string) (domain.CriticalPoint, bool) {
	if v.state != StateReady || v.feed == nil {
		return domain.CriticalPoint{}, false
	}
	return v.feed.Find(id)
}

// ShowAOI draws a municipality boundary beneath the critical points and
// centres the camera on it. Calling it again replaces the previous AOI.
func (v *Viewer) ShowAOI(f *geojson.Feature) error {
	if f == nil || f.Geometry == nil {
		return errors.New("aoi feature has no geometry")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != StateReady {
		return ErrNotReady
	}

	fc := geojson.NewFeatureCollection().Append(f)
	if v.surface.HasLayer(layerAOIFill) {
		if err := v.surface.SetSourceData(sourceAOI, fc); err != nil {
			return err
		}
	} else if err := v.addAOILayers(fc); err != nil {
		return err
	}

	v.surface.FlyTo(Camera{Center: domain.CoordinateFromPoint(f.Geometry.Bound().Center()), Zoom: defaultZoom, Animate: true, Duration: flyDuration})
	return nil
}

func (v *Viewer) addAOILayers(fc *geojson.FeatureCollection) error {
	before := ""
	if v.surface.HasLayer(layerCritical) {
		before = layerCritical
	}
	if err := v.surface.AddSource(sourceAOI, Source{Type: "geojson", Data: fc}); err != nil {
		return err
	}
	if err := v.surface.AddLayer(Layer{
		ID: layerAOIFill, Type: "fill", Source: sourceAOI, Visible: true, Before: before,
		Paint: map[string]any{"fill-color": "#16a34a", "fill-opacity": 0.15},
	}); err != nil {
		return err
	}
	return v.surface.AddLayer(Layer{
		ID: layerAOILine, Type: "line", Source: sourceAOI, Visible: true, Before: before,
		Paint: map[string]any{"line-color": "#15803d", "line-width": 2},
	})
}

// Unmount removes the surface. Events after Unmount are ignored.
func (v *Viewer) Unmount() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == StateDestroyed {
		return
	}
	if v.surface != nil {
		v.surface.Remove()
	}
	v.state = StateDestroyed
	v.surface = nil
	v.feed = nil
	v.hovered = ""
}
