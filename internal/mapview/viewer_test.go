package mapview

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"

	"github.com/guihirsch/orbee.online-sub002/internal/dataset"
	"github.com/guihirsch/orbee.online-sub002/internal/domain"
	"github.com/guihirsch/orbee.online-sub002/internal/observability"
)

var center = domain.Coordinate{Lat: -29.72, Lon: -52.43}

var areaBounds = orb.Bound{Min: orb.Point{-52.58, -29.87}, Max: orb.Point{-52.28, -29.57}}

func testOptions(m *observability.Metrics) Options {
	return Options{
		Center:  center,
		Feed:    dataset.CriticalPoints,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics: m,
	}
}

func mounted(t *testing.T, opts Options) (*Viewer, *StyleDocument) {
	t.Helper()
	v := NewViewer(opts)
	doc := NewStyleDocument("test", Camera{})
	require.NoError(t, v.Mount(context.Background(), doc))
	require.Equal(t, StateReady, v.State())
	return v, doc
}

func writeTIFF(t *testing.T) string {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 8, 4))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 7)
	}
	path := filepath.Join(t.TempDir(), "mosaic.tif")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, tiff.Encode(f, img, nil))
	require.NoError(t, f.Close())
	return path
}

// visibilityProbe fails the test if both base layers are ever visible at once.
type visibilityProbe struct {
	*StyleDocument
	t *testing.T
}

func (p *visibilityProbe) SetVisibility(id string, visible bool) error {
	if err := p.StyleDocument.SetVisibility(id, visible); err != nil {
		return err
	}
	std, _ := p.Layer(layerStandard)
	sat, _ := p.Layer(layerSatellite)
	assert.False(p.t, std.Visible && sat.Visible, "both base layers visible")
	return nil
}

func TestMount_AttachesLayersInOrder(t *testing.T) {
	_, doc := mounted(t, testOptions(observability.NewMetricsForTesting()))

	assert.Equal(t, []string{layerStandard, layerSatellite, layerCritical}, doc.LayerIDs())
	cam := doc.Camera()
	assert.Equal(t, center, cam.Center)
	assert.InDelta(t, float64(defaultZoom), cam.Zoom, 0)
	assert.False(t, cam.Animate)
}

func TestMount_SecondMountIsNoop(t *testing.T) {
	v, doc := mounted(t, testOptions(observability.NewMetricsForTesting()))
	before := doc.LayerIDs()

	require.NoError(t, v.Mount(context.Background(), doc))
	assert.Equal(t, before, doc.LayerIDs())

	other := NewStyleDocument("other", Camera{})
	require.NoError(t, v.Mount(context.Background(), other))
	assert.Empty(t, other.LayerIDs())
	assert.Equal(t, StateReady, v.State())
}

func TestMount_AfterUnmountFails(t *testing.T) {
	v, doc := mounted(t, testOptions(observability.NewMetricsForTesting()))
	v.Unmount()

	assert.True(t, doc.Removed())
	assert.Equal(t, StateDestroyed, v.State())
	require.ErrorIs(t, v.Mount(context.Background(), NewStyleDocument("again", Camera{})), ErrDestroyed)
}

func TestMount_CancelledContext(t *testing.T) {
	v := NewViewer(testOptions(observability.NewMetricsForTesting()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	doc := NewStyleDocument("x", Camera{})
	require.ErrorIs(t, v.Mount(ctx, doc), context.Canceled)
	assert.Equal(t, StateUninitialized, v.State())
	assert.True(t, doc.Removed())
	assert.Empty(t, doc.LayerIDs())
}

// layerRejectingSurface refuses one layer id to break Mount half way through.
type layerRejectingSurface struct {
	*StyleDocument
	reject string
}

func (s *layerRejectingSurface) AddLayer(layer Layer) error {
	if layer.ID == s.reject {
		return errors.New("layer rejected")
	}
	return s.StyleDocument.AddLayer(layer)
}

func TestMount_BaseLayerFailureRemovesSurface(t *testing.T) {
	v := NewViewer(testOptions(observability.NewMetricsForTesting()))
	broken := &layerRejectingSurface{StyleDocument: NewStyleDocument("broken", Camera{}), reject: layerSatellite}

	err := v.Mount(context.Background(), broken)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "attach base layers")
	assert.Equal(t, StateUninitialized, v.State())
	assert.True(t, broken.Removed())
	assert.Empty(t, broken.LayerIDs())
	assert.False(t, v.HandleClick("cp-002"))

	doc := NewStyleDocument("retry", Camera{})
	require.NoError(t, v.Mount(context.Background(), doc))
	assert.Equal(t, StateReady, v.State())
	assert.Equal(t, []string{layerStandard, layerSatellite, layerCritical}, doc.LayerIDs())
}

func TestMount_MissingRasterDoesNotBlockReady(t *testing.T) {
	m := observability.NewMetricsForTesting()
	opts := testOptions(m)
	opts.RasterPath = filepath.Join(t.TempDir(), "does-not-exist.tif")
	opts.RasterBounds = areaBounds

	v, doc := mounted(t, opts)

	_, ok := v.Raster()
	assert.False(t, ok)
	assert.False(t, doc.HasLayer(layerMosaic))
	assert.True(t, doc.HasLayer(layerCritical))
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.OverlayFailures.WithLabelValues("raster")), 0)
}

func TestMount_CorruptRasterIsSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.tif")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a tiff"), 0o600))

	opts := testOptions(observability.NewMetricsForTesting())
	opts.RasterPath = path
	opts.RasterBounds = areaBounds

	_, doc := mounted(t, opts)
	assert.False(t, doc.HasLayer(layerMosaic))
}

func TestMount_RasterAttachedBelowMarkers(t *testing.T) {
	opts := testOptions(observability.NewMetricsForTesting())
	opts.RasterPath = writeTIFF(t)
	opts.RasterBounds = areaBounds

	v, doc := mounted(t, opts)

	info, ok := v.Raster()
	require.True(t, ok)
	assert.Equal(t, RasterInfo{Width: 8, Height: 4}, info)
	assert.Equal(t, []string{layerStandard, layerSatellite, layerMosaic, layerCritical}, doc.LayerIDs())

	src, ok := doc.Source(layerMosaic)
	require.True(t, ok)
	assert.Equal(t, "image", src.Type)
	assert.Equal(t, [2]float64{-52.58, -29.57}, src.Coordinates[0])
}

func TestMount_RasterWithoutBoundsIsSkipped(t *testing.T) {
	opts := testOptions(observability.NewMetricsForTesting())
	opts.RasterPath = writeTIFF(t)

	v, _ := mounted(t, opts)
	_, ok := v.Raster()
	assert.False(t, ok)
}

func TestMount_BrokenFeedKeepsViewerUsable(t *testing.T) {
	m := observability.NewMetricsForTesting()
	opts := testOptions(m)
	opts.Feed = []byte(`{"type":`)

	v, doc := mounted(t, opts)

	assert.False(t, doc.HasLayer(layerCritical))
	assert.Equal(t, Legend{}, v.Legend())
	assert.False(t, v.HandleHover("cp-001"))
	require.NoError(t, v.SetBaseLayer(BaseSatellite))
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.OverlayFailures.WithLabelValues("critical_points")), 0)
}

func TestLegendFromFeedMetadata(t *testing.T) {
	v, _ := mounted(t, testOptions(observability.NewMetricsForTesting()))
	assert.Equal(t, Legend{Critical: 3, Moderate: 3}, v.Legend())
}

func TestCriticalLayerExpressions(t *testing.T) {
	_, doc := mounted(t, testOptions(observability.NewMetricsForTesting()))

	layer, ok := doc.Layer(layerCritical)
	require.True(t, ok)
	assert.Equal(t, "symbol", layer.Type)
	assert.Equal(t,
		[]any{"match", []any{"get", "severity"}, "critical", criticalIconID, moderateIconID},
		layer.Layout["icon-image"])
	assert.Equal(t, "case", layer.Layout["icon-size"].([]any)[0])

	crit, ok := doc.Image(criticalIconID)
	require.True(t, ok)
	assert.Equal(t, criticalIconSize, crit.Bounds().Dx())
	mod, ok := doc.Image(moderateIconID)
	require.True(t, ok)
	assert.Equal(t, moderateIconSize, mod.Bounds().Dx())
}

func TestSetBaseLayer_NeverBothVisible(t *testing.T) {
	v := NewViewer(testOptions(observability.NewMetricsForTesting()))
	probe := &visibilityProbe{StyleDocument: NewStyleDocument("probe", Camera{}), t: t}
	require.NoError(t, v.Mount(context.Background(), probe))

	for _, b := range []BaseLayer{BaseSatellite, BaseSatellite, BaseStandard, BaseSatellite, BaseStandard, BaseStandard} {
		require.NoError(t, v.SetBaseLayer(b))
		std, _ := probe.Layer(layerStandard)
		sat, _ := probe.Layer(layerSatellite)
		assert.Equal(t, b == BaseStandard, std.Visible)
		assert.Equal(t, b == BaseSatellite, sat.Visible)
		assert.Equal(t, b, v.Base())
	}
}

func TestSetBaseLayer_BeforeMountAppliesOnMount(t *testing.T) {
	v := NewViewer(testOptions(observability.NewMetricsForTesting()))
	require.NoError(t, v.SetBaseLayer(BaseSatellite))

	doc := NewStyleDocument("x", Camera{})
	require.NoError(t, v.Mount(context.Background(), doc))
	sat, _ := doc.Layer(layerSatellite)
	std, _ := doc.Layer(layerStandard)
	assert.True(t, sat.Visible)
	assert.False(t, std.Visible)
}

func TestSetBaseLayer_Invalid(t *testing.T) {
	v, _ := mounted(t, testOptions(observability.NewMetricsForTesting()))
	require.Error(t, v.SetBaseLayer("terrain"))
}

func TestHoverLeaveClick(t *testing.T) {
	v, doc := mounted(t, testOptions(observability.NewMetricsForTesting()))

	require.True(t, v.HandleHover("cp-001"))
	popup, ok := doc.Popup()
	require.True(t, ok)
	assert.Equal(t, "cp-001", popup.FeatureID)
	assert.Contains(t, popup.Lines, "Severity: critical")
	assert.Contains(t, popup.Lines, "NDVI: 0.12")
	assert.Contains(t, popup.Lines, "Coordinates: -29.70680, -52.39210")

	v.HandleLeave()
	_, ok = doc.Popup()
	assert.False(t, ok)

	require.True(t, v.HandleClick("cp-004"))
	cam := doc.Camera()
	assert.InDelta(t, float64(FocusZoom), cam.Zoom, 0)
	assert.True(t, cam.Animate)
	assert.InDelta(t, -29.7433, cam.Center.Lat, 1e-9)

	assert.False(t, v.HandleClick("unknown"))
}

func TestEventsIgnoredAfterUnmount(t *testing.T) {
	v, doc := mounted(t, testOptions(observability.NewMetricsForTesting()))
	v.Unmount()
	v.Unmount()

	assert.False(t, v.HandleHover("cp-001"))
	assert.False(t, v.HandleClick("cp-002"))
	v.HandleLeave()
	_, ok := doc.Popup()
	assert.False(t, ok)
	require.ErrorIs(t, v.SetBaseLayer(BaseSatellite), ErrDestroyed)
}

func TestShowAOI(t *testing.T) {
	v, doc := mounted(t, testOptions(observability.NewMetricsForTesting()))
	square := geojson.NewFeature(orb.Polygon{{{-52.5, -29.8}, {-52.3, -29.8}, {-52.3, -29.6}, {-52.5, -29.6}, {-52.5, -29.8}}})

	require.NoError(t, v.ShowAOI(square))
	assert.Equal(t,
		[]string{layerStandard, layerSatellite, layerAOIFill, layerAOILine, layerCritical},
		doc.LayerIDs())
	cam := doc.Camera()
	assert.InDelta(t, -29.7, cam.Center.Lat, 1e-9)
	assert.InDelta(t, -52.4, cam.Center.Lon, 1e-9)

	// A second AOI replaces the data without re-adding layers.
	other := geojson.NewFeature(orb.Polygon{{{-51.3, -30.1}, {-51.1, -30.1}, {-51.1, -29.9}, {-51.3, -30.1}}})
	require.NoError(t, v.ShowAOI(other))
	assert.Len(t, doc.LayerIDs(), 5)
	src, ok := doc.Source(sourceAOI)
	require.True(t, ok)
	assert.Same(t, other, src.Data.(*geojson.FeatureCollection).Features[0])
}

func TestShowAOI_RequiresReady(t *testing.T) {
	v := NewViewer(testOptions(observability.NewMetricsForTesting()))
	f := geojson.NewFeature(orb.Point{0, 0})
	require.ErrorIs(t, v.ShowAOI(f), ErrNotReady)
	require.Error(t, v.ShowAOI(nil))
}

func TestStyleDocumentJSON(t *testing.T) {
	v, doc := mounted(t, testOptions(observability.NewMetricsForTesting()))
	require.NoError(t, v.SetBaseLayer(BaseSatellite))
	require.True(t, v.HandleClick("cp-002"))

	data, err := json.Marshal(doc)
	require.NoError(t, err)

	var style struct {
		Version int                        `json:"version"`
		Center  [2]float64                 `json:"center"`
		Zoom    float64                    `json:"zoom"`
		Sources map[string]json.RawMessage `json:"sources"`
		Layers  []struct {
			ID     string         `json:"id"`
			Layout map[string]any `json:"layout"`
		} `json:"layers"`
		Metadata map[string]json.RawMessage `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(data, &style))

	assert.Equal(t, 8, style.Version)
	assert.InDelta(t, -52.4302, style.Center[0], 1e-9)
	assert.InDelta(t, float64(FocusZoom), style.Zoom, 0)
	assert.Contains(t, style.Sources, sourceCritical)
	require.Len(t, style.Layers, 3)
	assert.Equal(t, "none", style.Layers[0].Layout["visibility"])
	assert.Equal(t, "visible", style.Layers[1].Layout["visibility"])

	var legend Legend
	require.NoError(t, json.Unmarshal(style.Metadata["orbee:legend"], &legend))
	assert.Equal(t, Legend{Critical: 3, Moderate: 3}, legend)
	assert.Contains(t, string(style.Metadata["orbee:images"]), "data:image/png;base64,")
}

func TestMarkerIcon(t *testing.T) {
	img := markerIcon(criticalIconSize, criticalColor)

	assert.Equal(t, color.RGBA{}, img.RGBAAt(0, 0), "corners stay transparent")

	mid := img.RGBAAt(criticalIconSize/2, criticalIconSize/2)
	assert.InDelta(t, float64(criticalColor.R), float64(mid.R), 2)
	assert.InDelta(t, float64(criticalColor.G), float64(mid.G), 2)
	assert.InDelta(t, 255, float64(mid.A), 2)

	ring := img.RGBAAt(criticalIconSize/2, 1)
	assert.GreaterOrEqual(t, ring.G, uint8(0xf0), "ring is white")
}

func TestStyleDocument_RejectsDuplicates(t *testing.T) {
	doc := NewStyleDocument("dup", Camera{})
	require.NoError(t, doc.AddSource("s", Source{Type: "geojson"}))
	require.Error(t, doc.AddSource("s", Source{Type: "geojson"}))
	require.NoError(t, doc.AddLayer(Layer{ID: "l", Type: "fill", Source: "s"}))
	require.Error(t, doc.AddLayer(Layer{ID: "l", Type: "fill", Source: "s"}))
	require.Error(t, doc.AddLayer(Layer{ID: "m", Type: "fill", Source: "missing"}))
	require.Error(t, doc.SetVisibility("missing", true))

	doc.Remove()
	require.Error(t, doc.AddSource("t", Source{Type: "geojson"}))
	assert.Empty(t, doc.LayerIDs())
}
