//go:build cgo

package ocr

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"

	"github.com/ironsheep/anomaly-detector/internal/detection"
)

// Model recognizes words with Tesseract. A new client is created per call, so
// a Model may be used concurrently.
type Model struct {
	opts Options
}

// New creates a Tesseract text model.
func New(opts Options) (*Model, error) {
	if opts.Language == "" {
		opts.Language = "eng"
	}
	return &Model{opts: opts}, nil
}

// Predict implements detection.Model.
func (m *Model) Predict(ctx context.Context, imagePath string) ([]detection.Raw, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(m.opts.Language); err != nil {
		return nil, fmt.Errorf("failed to set language: %w", err)
	}
	if err := client.SetImage(imagePath); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("failed to recognize words: %w", err)
	}

	words := make([]Word, 0, len(boxes))
	for _, b := range boxes {
		words = append(words, Word{Text: b.Word, Confidence: b.Confidence / 100, Box: b.Box})
	}
	return ToRaw(words, m.opts), nil
}
