//go:build !gocv

package models

import (
	"fmt"

	"github.com/ironsheep/anomaly-detector/internal/detection"
)

func newONNX(spec Spec, path string) (detection.Model, error) {
	return nil, fmt.Errorf("%w: onnx (build with -tags gocv)", ErrBackendUnavailable)
}
