package renderer

// Placeholder replaces any code point the printer ROM cannot show.
const Placeholder byte = '?'

// substitutions covers the non-ASCII glyphs that show up in order data.
var substitutions = map[rune]byte{
	'\u2018': '\'', // left single quote
	'\u2019': '\'',
	'\u201C': '"', // left double quote
	'\u201D': '"',
	'\u2022': '*', // bullet
	'\u2013': '-', // en dash
	'\u2014': '-', // em dash
	'\u20B1': 'P', // peso sign
}

// EncodeText maps text to one byte per code point: printable ASCII passes
// through, known glyphs are substituted, everything else becomes Placeholder.
func EncodeText(text string) []byte {
	out := make([]byte, 0, len(text))
	for _, r := range text {
		out = append(out, encodeRune(r))
	}
	return out
}

func encodeRune(r rune) byte {
	if r >= 0x20 && r <= 0x7E {
		return byte(r)
	}
	if b, ok := substitutions[r]; ok {
		return b
	}
	return Placeholder
}

// textWidth is the printed width of text in characters.
func textWidth(text string) int {
	n := 0
	for range text {
		n++
	}
	return n
}
