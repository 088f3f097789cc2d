package renderer

import (
	"image"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/code128"
	"github.com/skip2/go-qrcode"
)

const (
	barcodeHeight     = 80
	barcodeModuleDots = 2
	qrSizeDots        = 192
)

// barcodeImage renders value as CODE128 at two dots per module. It reports
// false when the value cannot be encoded or would not fit the paper.
func barcodeImage(value string, dots int) (image.Image, bool) {
	if value == "" {
		return nil, false
	}

	code, err := code128.Encode(value)
	if err != nil {
		return nil, false
	}

	width := code.Bounds().Dx() * barcodeModuleDots
	if dots > 0 && width > dots {
		return nil, false
	}

	scaled, err := barcode.Scale(code, width, barcodeHeight)
	if err != nil {
		return nil, false
	}
	return scaled, true
}

// qrImage renders value as a medium-recovery QR code
func qrImage(value string, dots int) (image.Image, bool) {
	if value == "" {
		return nil, false
	}

	size := qrSizeDots
	if dots > 0 && size > dots {
		size = dots
	}

	code, err := qrcode.New(value, qrcode.Medium)
	if err != nil {
		return nil, false
	}
	return code.Image(size), true
}
