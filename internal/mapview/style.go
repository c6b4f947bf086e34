package mapview

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"sort"
	"sync"
)

var errRemoved = errors.New("mapview: surface removed")

// StyleDocument is an in-memory Surface that renders a MapLibre style
// document. It rejects duplicate sources, layers and images, so a
// double-attached overlay surfaces as an error.
type StyleDocument struct {
	mu       sync.Mutex
	name     string
	sources  map[string]Source
	order    []string // source insertion order
	layers   []Layer
	images   map[string]image.Image
	metadata map[string]any
	popup    *Popup
	camera   Camera
	removed  bool
}

// NewStyleDocument creates an empty document centred on camera.
func NewStyleDocument(name string, camera Camera) *StyleDocument {
	return &StyleDocument{
		name:     name,
		sources:  make(map[string]Source),
		images:   make(map[string]image.Image),
		metadata: make(map[string]any),
		camera:   camera,
	}
}

func (d *StyleDocument) AddSource(id string, src Source) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.removed {
		return errRemoved
	}
	if _, ok := d.sources[id]; ok {
		return fmt.Errorf("source %q already exists", id)
	}
	d.sources[id] = src
	d.order = append(d.order, id)
	return nil
}

func (d *StyleDocument) SetSourceData(id string, data any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.removed {
		return errRemoved
	}
	src, ok := d.sources[id]
	if !ok {
		return fmt.Errorf("source %q not found", id)
	}
	src.Data = data
	d.sources[id] = src
	return nil
}

func (d *StyleDocument) AddLayer(layer Layer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.removed {
		return errRemoved
	}
	if d.indexOf(layer.ID) >= 0 {
		return fmt.Errorf("layer %q already exists", layer.ID)
	}
	if layer.Source != "" {
		if _, ok := d.sources[layer.Source]; !ok {
			return fmt.Errorf("layer %q references unknown source %q", layer.ID, layer.Source)
		}
	}

	at := len(d.layers)
	if i := d.indexOf(layer.Before); layer.Before != "" && i >= 0 {
		at = i
	}
	d.layers = append(d.layers, Layer{})
	copy(d.layers[at+1:], d.layers[at:])
	d.layers[at] = layer
	return nil
}

func (d *StyleDocument) HasLayer(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.indexOf(id) >= 0
}

func (d *StyleDocument) SetVisibility(layerID string, visible bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.removed {
		return errRemoved
	}
	i := d.indexOf(layerID)
	if i < 0 {
		return fmt.Errorf("layer %q not found", layerID)
	}
	d.layers[i].Visible = visible
	return nil
}

func (d *StyleDocument) AddImage(id string, img image.Image) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.removed {
		return errRemoved
	}
	if _, ok := d.images[id]; ok {
		return fmt.Errorf("image %q already exists", id)
	}
	d.images[id] = img
	return nil
}

func (d *StyleDocument) SetMetadata(key string, value any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.metadata[key] = value
}

func (d *StyleDocument) ShowPopup(p Popup) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.popup = &p
}

func (d *StyleDocument) RemovePopup() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.popup = nil
}

func (d *StyleDocument) FlyTo(c Camera) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.camera = c
}

// Remove detaches everything. Later mutations fail.
func (d *StyleDocument) Remove() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removed = true
	d.sources = make(map[string]Source)
	d.order = nil
	d.layers = nil
	d.images = make(map[string]image.Image)
	d.popup = nil
}

// Layer returns a copy of the layer with the given id.
func (d *StyleDocument) Layer(id string) (Layer, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i := d.indexOf(id); i >= 0 {
		return d.layers[i], true
	}
	return Layer{}, false
}

// LayerIDs lists layers bottom to top.
func (d *StyleDocument) LayerIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, len(d.layers))
	for i, l := range d.layers {
		ids[i] = l.ID
	}
	return ids
}

// Source returns the source with the given id.
func (d *StyleDocument) Source(id string) (Source, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sources[id]
	return s, ok
}

// Image returns a registered image.
func (d *StyleDocument) Image(id string) (image.Image, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	img, ok := d.images[id]
	return img, ok
}

// Popup returns the open popup, if any.
func (d *StyleDocument) Popup() (Popup, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.popup == nil {
		return Popup{}, false
	}
	return *d.popup, true
}

// Camera returns the current viewpoint.
func (d *StyleDocument) Camera() Camera {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.camera
}

// Removed reports whether Remove was called.
func (d *StyleDocument) Removed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.removed
}

func (d *StyleDocument) indexOf(id string) int {
	for i, l := range d.layers {
		if l.ID == id {
			return i
		}
	}
	return -1
}

type styleImage struct {
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	PixelRatio int    `json:"pixelRatio"`
	Data       string `json:"data"`
}

// MarshalJSON renders a MapLibre style (version 8). Images, popup, camera
// animation and custom metadata go under the free-form "metadata" member.
func (d *StyleDocument) MarshalJSON() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sources := make(map[string]Source, len(d.sources))
	for _, id := range d.order {
		sources[id] = d.sources[id]
	}

	layers := make([]map[string]any, 0, len(d.layers))
	for _, l := range d.layers {
		layout := map[string]any{}
		for k, v := range l.Layout {
			layout[k] = v
		}
		layout["visibility"] = "none"
		if l.Visible {
			layout["visibility"] = "visible"
		}
		out := map[string]any{"id": l.ID, "type": l.Type, "layout": layout}
		if l.Source != "" {
			out["source"] = l.Source
		}
		if len(l.Paint) > 0 {
			out["paint"] = l.Paint
		}
		layers = append(layers, out)
	}

	ids := make([]string, 0, len(d.images))
	for id := range d.images {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	images := make(map[string]styleImage, len(ids))
	for _, id := range ids {
		img := d.images[id]
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode image %q: %w", id, err)
		}
		b := img.Bounds()
		images[id] = styleImage{
			Width:      b.Dx(),
			Height:     b.Dy(),
			PixelRatio: 1,
			Data:       "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
		}
	}

	metadata := map[string]any{"orbee:images": images, "orbee:animate": d.camera.Animate}
	for k, v := range d.metadata {
		metadata[k] = v
	}
	if d.popup != nil {
		metadata["orbee:popup"] = d.popup
	}
	if d.camera.Animate {
		metadata["orbee:duration_ms"] = d.camera.Duration.Milliseconds()
	}

	return json.Marshal(map[string]any{
		"version":  8,
		"name":     d.name,
		"center":   [2]float64{d.camera.Center.Lon, d.camera.Center.Lat},
		"zoom":     d.camera.Zoom,
		"sources":  sources,
		"layers":   layers,
		"metadata": metadata,
	})
}
