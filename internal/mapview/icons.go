package mapview

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/vector"
)

const (
	criticalIconID   = "critical-point"
	moderateIconID   = "moderate-point"
	criticalIconSize = 24
	moderateIconSize = 16
	iconBorder       = 2
)

var (
	criticalColor = color.RGBA{R: 0xdc, G: 0x26, B: 0x26, A: 0xff}
	moderateColor = color.RGBA{R: 0xea, G: 0xb3, B: 0x08, A: 0xff}
	borderColor   = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
)

// markerIcon draws a filled circle with a white ring on a transparent square.
func markerIcon(size int, fill color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	c := float32(size) / 2
	fillCircle(img, c, c, c, borderColor)
	fillCircle(img, c, c, c-iconBorder, fill)
	return img
}

// fillCircle rasterizes a circle approximated by four cubic Béziers.
func fillCircle(dst draw.Image, cx, cy, r float32, col color.Color) {
	const k = 0.5522847 // control-point distance for a quarter circle
	b := dst.Bounds()
	z := vector.NewRasterizer(b.Dx(), b.Dy())
	z.MoveTo(cx+r, cy)
	z.CubeTo(cx+r, cy+k*r, cx+k*r, cy+r, cx, cy+r)
	z.CubeTo(cx-k*r, cy+r, cx-r, cy+k*r, cx-r, cy)
	z.CubeTo(cx-r, cy-k*r, cx-k*r, cy-r, cx, cy-r)
	z.CubeTo(cx+k*r, cy-r, cx+r, cy-k*r, cx+r, cy)
	z.ClosePath()
	z.Draw(dst, b, image.NewUniform(col), image.Point{})
}
