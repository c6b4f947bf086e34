package mapview

import (
	"fmt"
	"os"

	"golang.org/x/image/tiff"
)

// ProbeRaster checks that path is a readable TIFF mosaic without decoding
// pixels. *os.File implements io.ReaderAt, so only the header is read.
func ProbeRaster(path string) (RasterInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return RasterInfo{}, fmt.Errorf("open raster: %w", err)
	}
	defer f.Close()

	cfg, err := tiff.DecodeConfig(f)
	if err != nil {
		return RasterInfo{}, fmt.Errorf("decode raster header: %w", err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return RasterInfo{}, fmt.Errorf("raster %s is empty", path)
	}
	return RasterInfo{Width: cfg.Width, Height: cfg.Height}, nil
}
