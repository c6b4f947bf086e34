package mapview

import (
	"image"
	"time"

	"github.com/guihirsch/orbee.online-sub002/internal/domain"
)

// Surface is the drawing target of a Viewer: a map library instance or an
// in-memory style document.
type Surface interface {
	AddSource(id string, src Source) error
	SetSourceData(id string, data any) error
	AddLayer(layer Layer) error
	HasLayer(id string) bool
	SetVisibility(layerID string, visible bool) error
	AddImage(id string, img image.Image) error
	SetMetadata(key string, value any)
	ShowPopup(p Popup)
	RemovePopup()
	FlyTo(c Camera)
	Remove()
}

// Source is a map data source in MapLibre terms.
type Source struct {
	Type        string       `json:"type"`
	Tiles       []string     `json:"tiles,omitempty"`
	TileSize    int          `json:"tileSize,omitempty"`
	URL         string       `json:"url,omitempty"`
	Coordinates [][2]float64 `json:"coordinates,omitempty"`
	Data        any          `json:"data,omitempty"`
	Attribution string       `json:"attribution,omitempty"`
}

// Layer is a style layer. Before names the layer it is inserted under;
// empty appends on top.
type Layer struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Source  string         `json:"source,omitempty"`
	Layout  map[string]any `json:"layout,omitempty"`
	Paint   map[string]any `json:"paint,omitempty"`
	Visible bool           `json:"-"`
	Before  string         `json:"-"`
}

// Popup is the hover card for a critical point.
type Popup struct {
	FeatureID string            `json:"feature_id"`
	At        domain.Coordinate `json:"at"`
	Lines     []string          `json:"lines"`
}

// Camera is a map viewpoint. Duration applies when Animate is set.
type Camera struct {
	Center   domain.Coordinate `json:"center"`
	Zoom     float64           `json:"zoom"`
	Animate  bool              `json:"animate"`
	Duration time.Duration     `json:"-"`
}
