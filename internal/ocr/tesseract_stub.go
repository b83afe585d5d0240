//go:build !cgo

package ocr

import (
	"context"

	"github.com/ironsheep/anomaly-detector/internal/detection"
)

// Model is unavailable without cgo.
type Model struct{}

// New always fails without cgo.
func New(opts Options) (*Model, error) {
	return nil, ErrUnavailable
}

// Predict always fails without cgo.
func (m *Model) Predict(ctx context.Context, imagePath string) ([]detection.Raw, error) {
	return nil, ErrUnavailable
}
