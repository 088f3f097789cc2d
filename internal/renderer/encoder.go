// Package renderer turns receipt lines into ESC/POS byte sequences
package renderer

import (
	"bytes"
)

// ESC/POS control bytes
const (
	ESC byte = 0x1B
	GS  byte = 0x1D
	LF  byte = 0x0A
)

// trailerFeedLines is the blank advance before the closing cut.
const trailerFeedLines = 3

// Trailer is appended by Encode after the caller's lines.
var Trailer = []byte{ESC, 'd', trailerFeedLines, GS, 'V', 0x00}

// Encoder generates ESC/POS commands for one paper width
type Encoder struct {
	buffer *bytes.Buffer
	width  int // characters per line
	dots   int // raster dots per line
}

// NewEncoder creates an encoder for paperWidth. Unknown widths fall back to
// 58mm so encoding stays total.
func NewEncoder(paperWidth string) *Encoder {
	width, err := CharsPerLine(paperWidth)
	if err != nil {
		paperWidth = Paper58
		width, _ = CharsPerLine(paperWidth)
	}
	dots, _ := DotsPerLine(paperWidth)

	return &Encoder{
		buffer: new(bytes.Buffer),
		width:  width,
		dots:   dots,
	}
}

// Width returns the configured characters per line.
func (e *Encoder) Width() int {
	return e.width
}

// Encode renders lines into a complete print job: initialization and
// default line spacing first, the feed+cut trailer last.
func (e *Encoder) Encode(lines []Line) []byte {
	e.buffer.Reset()

	e.Initialize()
	e.SetDefaultLineSpacing()

	for _, line := range lines {
		if line == nil {
			continue
		}
		line.encode(e)
	}

	e.buffer.Write(Trailer)

	out := make([]byte, e.buffer.Len())
	copy(out, e.buffer.Bytes())
	return out
}

// Encode is a helper for one-off encoding.
func Encode(paperWidth string, lines []Line) []byte {
	return NewEncoder(paperWidth).Encode(lines)
}

// Initialize sends ESC @
func (e *Encoder) Initialize() {
	e.buffer.WriteByte(ESC)
	e.buffer.WriteByte('@')
}

// SetDefaultLineSpacing sends ESC 2
func (e *Encoder) SetDefaultLineSpacing() {
	e.buffer.WriteByte(ESC)
	e.buffer.WriteByte('2')
}

// SetAlignment sets text alignment
func (e *Encoder) SetAlignment(align Align) {
	e.buffer.WriteByte(ESC)
	e.buffer.WriteByte('a')

	switch align {
	case AlignCenter:
		e.buffer.WriteByte(1)
	case AlignRight:
		e.buffer.WriteByte(2)
	default:
		e.buffer.WriteByte(0)
	}
}

// SetBold enables or disables emphasized text
func (e *Encoder) SetBold(enabled bool) {
	e.buffer.WriteByte(ESC)
	e.buffer.WriteByte('E')
	if enabled {
		e.buffer.WriteByte(1)
	} else {
		e.buffer.WriteByte(0)
	}
}

// SetTextSize sets character magnification (1-8 in each direction)
func (e *Encoder) SetTextSize(width, height int) {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	if width > 8 {
		width = 8
	}
	if height > 8 {
		height = 8
	}

	size := byte(((width - 1) << 4) | (height - 1))

	e.buffer.WriteByte(GS)
	e.buffer.WriteByte('!')
	e.buffer.WriteByte(size)
}

// ResetStyle clears bold and size and returns to left alignment
func (e *Encoder) ResetStyle() {
	e.SetBold(false)
	e.SetTextSize(1, 1)
	e.SetAlignment(AlignLeft)
}

// WriteText writes text through the printer character substitution
func (e *Encoder) WriteText(text string) {
	e.buffer.Write(EncodeText(text))
}

// LineFeed sends line feed
func (e *Encoder) LineFeed() {
	e.buffer.WriteByte(LF)
}

// Feed prints and advances n lines (ESC d n)
func (e *Encoder) Feed(lines int) {
	if lines < 1 {
		lines = 1
	}
	if lines > 255 {
		lines = 255
	}
	e.buffer.WriteByte(ESC)
	e.buffer.WriteByte('d')
	e.buffer.WriteByte(byte(lines))
}

// Cut sends full cut command
func (e *Encoder) Cut() {
	e.buffer.WriteByte(GS)
	e.buffer.WriteByte('V')
	e.buffer.WriteByte(0)
}

// DrawerKick returns the cash drawer pulse (ESC p 0 25 250). It is sent on
// its own, without the receipt trailer.
func DrawerKick() []byte {
	return []byte{ESC, 'p', 0, 25, 250}
}
