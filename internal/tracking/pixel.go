package tracking

import (
	"bytes"
	"fmt"
	"image/color"

	"github.com/disintegration/imaging"
)

// PixelContentType is the media type of Pixel output.
const PixelContentType = "image/png"

// Pixel renders the 1x1 fully transparent image served by the open endpoint.
// PNG keeps the alpha channel; GIF encoding would quantize it away.
func Pixel() ([]byte, error) {
	img := imaging.New(1, 1, color.NRGBA{})

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode tracking pixel: %w", err)
	}
	return buf.Bytes(), nil
}

// MustPixel is like Pixel but panics on error. It is meant for startup.
func MustPixel() []byte {
	b, err := Pixel()
	if err != nil {
		panic(err)
	}
	return b
}
