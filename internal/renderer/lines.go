package renderer

import (
	"image"
	"strings"
)

// Align is the horizontal placement of a text line
type Align int

const (
	AlignLeft Align = iota
	AlignCenter
	AlignRight
)

// Line is one element of a receipt. The set of variants is closed.
type Line interface {
	encode(e *Encoder)
}

// Init resets the printer mid-document
type Init struct{}

// Text is a styled line. DoubleSize wins over DoubleHeight.
type Text struct {
	Text         string
	Align        Align
	Bold         bool
	DoubleHeight bool
	DoubleSize   bool
}

// TwoCol is a label/value row with the value flush right
type TwoCol struct {
	Left  string
	Right string
	Bold  bool
}

// Divider is a full-width rule. Zero Char means '-'.
type Divider struct {
	Char rune
}

// Feed advances blank lines. Zero Lines means one.
type Feed struct {
	Lines int
}

// Cut is an explicit cut. The encoder appends its own trailer regardless.
type Cut struct{}

// Image prints a raster image scaled to the paper's dot width
type Image struct {
	Img image.Image
}

// Barcode prints Value as CODE128
type Barcode struct {
	Value string
}

// QR prints Value as a QR code
type QR struct {
	Value string
}

// Drawer pulses the cash drawer
type Drawer struct{}

func (Init) encode(e *Encoder) {
	e.Initialize()
	e.SetDefaultLineSpacing()
}

func (t Text) encode(e *Encoder) {
	e.SetAlignment(t.Align)
	e.SetBold(t.Bold)
	switch {
	case t.DoubleSize:
		e.SetTextSize(2, 2)
	case t.DoubleHeight:
		e.SetTextSize(1, 2)
	default:
		e.SetTextSize(1, 1)
	}
	e.WriteText(t.Text)
	e.LineFeed()
	e.ResetStyle()
}

func (t TwoCol) encode(e *Encoder) {
	e.SetAlignment(AlignLeft)
	e.SetBold(t.Bold)
	e.WriteText(formatTwoColumn(t.Left, t.Right, e.width))
	e.LineFeed()
	e.ResetStyle()
}

func (d Divider) encode(e *Encoder) {
	char := d.Char
	if char == 0 {
		char = '-'
	}
	e.SetAlignment(AlignLeft)
	e.WriteText(strings.Repeat(string(char), e.width))
	e.LineFeed()
	e.ResetStyle()
}

func (f Feed) encode(e *Encoder) {
	n := f.Lines
	if n < 1 {
		n = 1
	}
	e.Feed(n)
}

func (Cut) encode(e *Encoder) {
	e.Cut()
}

func (i Image) encode(e *Encoder) {
	if i.Img == nil {
		return
	}
	e.PrintImage(i.Img)
}

func (b Barcode) encode(e *Encoder) {
	img, ok := barcodeImage(b.Value, e.dots)
	if !ok {
		return
	}
	e.PrintImage(img)
}

func (q QR) encode(e *Encoder) {
	img, ok := qrImage(q.Value, e.dots)
	if !ok {
		return
	}
	e.PrintImage(img)
}

func (Drawer) encode(e *Encoder) {
	e.buffer.Write(DrawerKick())
}
