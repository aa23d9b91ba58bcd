/**
 * Token types for the field extraction engine.
 *
 * Tokens arrive from the OCR recognizer in emission order, which is not
 * guaranteed to be reading order. The engine keeps two views over the same
 * collection: the received sequence and a position-sorted sequence.
 */

package extract

import (
	"sort"
	"strings"
)

// Point is a pixel coordinate on the scanned card image.
type Point struct {
	X float64
	Y float64
}

// Quad is the four-corner bounding geometry of a detection, ordered
// top-left, top-right, bottom-right, bottom-left.
type Quad [4]Point

// TopLeft returns the top-left corner, the sort key used for the
// position-sorted view.
func (q Quad) TopLeft() Point {
	return q[0]
}

// Token is a single OCR detection: recognized text, bounding geometry and
// recognizer confidence in [0,1]. Confidence is carried as provenance only;
// the extraction passes never branch on it.
type Token struct {
	Text       string
	Box        Quad
	Confidence float64
}

// byPosition returns a new slice ordered by the top-left corner, vertical
// first then horizontal, approximating reading order. The received slice
// is copied, never reordered in place.
func byPosition(tokens []Token) []Token {
	sorted := make([]Token, len(tokens))
	copy(sorted, tokens)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].Box.TopLeft(), sorted[j].Box.TopLeft()
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})
	return sorted
}

// joinText concatenates token texts in received order, one per line.
func joinText(tokens []Token) string {
	var b strings.Builder
	for i, tok := range tokens {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(tok.Text)
	}
	return b.String()
}
