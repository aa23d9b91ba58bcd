/**
 * Tesseract recognizer.
 *
 * Wraps gosseract to produce line-level tokens with bounding geometry and
 * confidence. The extraction engine treats the recognizer as a black box
 * and makes no assumption about the order tokens are emitted in.
 */

package processor

import (
	"context"
	"fmt"
	"image"

	"github.com/otiai10/gosseract/v2"

	"github.com/veridoc/idscan-worker/internal/extract"
)

// Recognizer yields OCR tokens for an image, plus an aggregate confidence.
type Recognizer interface {
	Recognize(ctx context.Context, imageData []byte) ([]extract.Token, float64, error)
}

// TesseractRecognizer performs OCR using a local Tesseract installation
type TesseractRecognizer struct {
	languages []string
}

// NewTesseractRecognizer creates a recognizer for the given language set,
// e.g. ["ara", "eng"] for an Arabic/English card.
func NewTesseractRecognizer(languages []string) *TesseractRecognizer {
	return &TesseractRecognizer{languages: languages}
}

// Recognize runs Tesseract over the image and maps each recognized text
// line to a token.
func (t *TesseractRecognizer) Recognize(ctx context.Context, imageData []byte) ([]extract.Token, float64, error) {
	select {
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	default:
	}

	client := gosseract.NewClient()
	defer client.Close()

	if len(t.languages) > 0 {
		if err := client.SetLanguage(t.languages...); err != nil {
			return nil, 0, fmt.Errorf("failed to set languages: %w", err)
		}
	}

	if err := client.SetImageFromBytes(imageData); err != nil {
		return nil, 0, fmt.Errorf("failed to set image: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, 0, fmt.Errorf("tesseract OCR failed: %w", err)
	}

	tokens := make([]extract.Token, 0, len(boxes))
	var confidenceSum float64
	for _, b := range boxes {
		conf := b.Confidence / 100.0
		confidenceSum += conf
		tokens = append(tokens, extract.Token{
			Text:       b.Word,
			Box:        quadFromRect(b.Box),
			Confidence: conf,
		})
	}

	avgConfidence := 0.0
	if len(tokens) > 0 {
		avgConfidence = confidenceSum / float64(len(tokens))
	}

	return tokens, avgConfidence, nil
}

// quadFromRect converts Tesseract's axis-aligned rectangle to the engine's
// four-corner geometry.
func quadFromRect(r image.Rectangle) extract.Quad {
	return extract.Quad{
		{X: float64(r.Min.X), Y: float64(r.Min.Y)},
		{X: float64(r.Max.X), Y: float64(r.Min.Y)},
		{X: float64(r.Max.X), Y: float64(r.Max.Y)},
		{X: float64(r.Min.X), Y: float64(r.Max.Y)},
	}
}
