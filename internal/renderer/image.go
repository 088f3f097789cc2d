package renderer

import (
	"bytes"
	"encoding/base64"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/disintegration/imaging"
)

// maxRasterHeight keeps one GS v 0 block within what cheap printers buffer
const maxRasterHeight = 1024

// PrintImage sends img as a centered GS v 0 raster block. Images wider than
// the paper are scaled down, never up.
func (e *Encoder) PrintImage(img image.Image) {
	img = fitWidth(img, e.dots)
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width == 0 || height == 0 {
		return
	}
	if height > maxRasterHeight {
		img = imaging.Resize(img, 0, maxRasterHeight, imaging.Lanczos)
		bounds = img.Bounds()
		width = bounds.Dx()
		height = bounds.Dy()
	}

	bytesPerLine := (width + 7) / 8
	bitmap := imageToBitmap(img)

	e.SetAlignment(AlignCenter)

	// GS v 0 m xL xH yL yH d1...dk
	e.buffer.WriteByte(GS)
	e.buffer.WriteByte('v')
	e.buffer.WriteByte('0')
	e.buffer.WriteByte(0) // normal density
	e.buffer.WriteByte(byte(bytesPerLine & 0xFF))
	e.buffer.WriteByte(byte((bytesPerLine >> 8) & 0xFF))
	e.buffer.WriteByte(byte(height & 0xFF))
	e.buffer.WriteByte(byte((height >> 8) & 0xFF))
	e.buffer.Write(bitmap)

	e.LineFeed()
	e.SetAlignment(AlignLeft)
}

func fitWidth(img image.Image, dots int) image.Image {
	if dots > 0 && img.Bounds().Dx() > dots {
		img = imaging.Resize(img, dots, 0, imaging.Lanczos)
	}
	return imaging.Grayscale(img)
}

// imageToBitmap converts an image to a 1-bit bitmap, MSB first
func imageToBitmap(img image.Image) []byte {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	bytesPerLine := (width + 7) / 8
	bitmap := make([]byte, bytesPerLine*height)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, a := img.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()
			if a < 0x8000 {
				continue // transparent prints as paper
			}

			// Threshold at 50%
			if (r+g+b)/3 < 0x8000 {
				bitmap[y*bytesPerLine+x/8] |= 1 << (7 - x%8)
			}
		}
	}

	return bitmap
}

// DecodeLogo decodes a base64 PNG or JPEG. Data URLs are accepted.
func DecodeLogo(encoded string) (image.Image, bool) {
	if encoded == "" {
		return nil, false
	}
	if strings.HasPrefix(encoded, "data:") {
		if _, payload, ok := strings.Cut(encoded, ","); ok {
			encoded = payload
		}
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, false
	}
	return img, true
}
