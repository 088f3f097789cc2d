package renderer

import (
	"fmt"
	"time"
)

// BuildTestPage is the short self-test ticket used after connecting a printer
func BuildTestPage(transport, device, paper string, now time.Time) []Line {
	width, err := CharsPerLine(paper)
	if err != nil {
		paper = Paper58
		width, _ = CharsPerLine(paper)
	}

	return []Line{
		Init{},
		Text{Text: "PRINTER TEST", Align: AlignCenter, Bold: true, DoubleSize: true},
		Divider{},
		TwoCol{Left: "Transport", Right: transport},
		TwoCol{Left: "Device", Right: device},
		TwoCol{Left: "Paper", Right: fmt.Sprintf("%s (%d cols)", paper, width)},
		TwoCol{Left: "Time", Right: now.Format(dateLayout)},
		Divider{},
		Text{Text: "Left"},
		Text{Text: "Center", Align: AlignCenter},
		Text{Text: "Right", Align: AlignRight},
		Text{Text: "Bold", Bold: true},
		Text{Text: "Tall", DoubleHeight: true},
		Text{Text: "Large", DoubleSize: true},
		Divider{Char: '='},
		Feed{Lines: 1},
		Cut{},
	}
}
