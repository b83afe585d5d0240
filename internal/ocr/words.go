package ocr

import (
	"errors"
	"image"
	"strings"
	"unicode"

	"github.com/ironsheep/anomaly-detector/internal/detection"
)

// ErrUnavailable is returned by New when the binary was built without cgo.
var ErrUnavailable = errors.New("tesseract support not compiled in")

// Options configures a text model.
type Options struct {
	// Language is the Tesseract language code, for example "eng".
	Language string
	// MinConfidence drops words below this confidence (0..1).
	MinConfidence float64
	// Vocabulary restricts output to these words. Empty means every word.
	Vocabulary []string
}

// Word is one recognized word with its confidence on a 0..1 scale.
type Word struct {
	Text       string
	Confidence float64
	Box        image.Rectangle
}

// ToRaw converts recognized words into raw detections.
//
// Words are lowercased and stripped of surrounding punctuation. Empty words,
// words under the confidence threshold and words outside the vocabulary are
// dropped. Input order is kept.
func ToRaw(words []Word, opts Options) []detection.Raw {
	vocab := make(map[string]bool, len(opts.Vocabulary))
	for _, v := range opts.Vocabulary {
		vocab[normalizeWord(v)] = true
	}

	raws := make([]detection.Raw, 0, len(words))
	for _, w := range words {
		label := normalizeWord(w.Text)
		if label == "" || w.Confidence < opts.MinConfidence {
			continue
		}
		if len(vocab) > 0 && !vocab[label] {
			continue
		}
		r := w.Box.Canon()
		raws = append(raws, detection.Raw{
			BBox:       []float64{float64(r.Min.X), float64(r.Min.Y), float64(r.Max.X), float64(r.Max.Y)},
			Confidence: clamp01(w.Confidence),
			Label:      label,
		})
	}
	return raws
}

func normalizeWord(s string) string {
	s = strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
	return strings.ToLower(s)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
