package renderer

import (
	"fmt"
	"strings"
)

// Supported paper widths
const (
	Paper58  = "58mm"
	Paper80  = "80mm"
	Paper112 = "112mm"
)

// TruncationMarker ends a left column that had to be clamped
const TruncationMarker = "~"

var paperSizes = map[string]struct {
	chars int
	dots  int
}{
	Paper58:  {chars: 32, dots: 384},
	Paper80:  {chars: 48, dots: 576},
	Paper112: {chars: 64, dots: 832},
}

// CharsPerLine returns the font A character width of a paper size
func CharsPerLine(paper string) (int, error) {
	size, ok := paperSizes[paper]
	if !ok {
		return 0, fmt.Errorf("unknown paper width: %s", paper)
	}
	return size.chars, nil
}

// DotsPerLine returns the printable raster width of a paper size
func DotsPerLine(paper string) (int, error) {
	size, ok := paperSizes[paper]
	if !ok {
		return 0, fmt.Errorf("unknown paper width: %s", paper)
	}
	return size.dots, nil
}

// formatTwoColumn lays left and right out on one line of exactly width
// characters with right flush against the edge.
func formatTwoColumn(left, right string, width int) string {
	rightWidth := textWidth(right)
	if rightWidth >= width {
		return truncate(right, width)
	}

	maxLeft := width - rightWidth - 1
	if textWidth(left) > maxLeft {
		left = clamp(left, maxLeft)
	}

	padding := width - textWidth(left) - rightWidth
	return left + strings.Repeat(" ", padding) + right
}

// clamp shortens s to n characters, the last one being the marker
func clamp(s string, n int) string {
	if n <= 0 {
		return ""
	}
	return truncate(s, n-1) + TruncationMarker
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
