package models

import (
	"fmt"

	"github.com/ironsheep/anomaly-detector/internal/detection"
)

// YOLOHead decodes the output of a YOLOv8-style detection head.
//
// The tensor has shape [1, 4+C, N] (or [4+C, N]) in row-major order: for each
// of N candidates, the box as centre x, centre y, width, height in network
// input pixels, followed by C class scores. There is no separate objectness.
type YOLOHead struct {
	Labels     []string
	Confidence float64
	IoU        float64
}

// Decode converts raw output into detections in source image pixels. scaleX
// and scaleY map network input pixels to source pixels. Candidates below the
// confidence threshold are discarded and overlapping boxes of the same label
// are suppressed.
func (h YOLOHead) Decode(out []float32, dims []int, scaleX, scaleY float64) ([]detection.Raw, error) {
	if len(dims) == 3 && dims[0] == 1 {
		dims = dims[1:]
	}
	if len(dims) != 2 || dims[0] < 5 {
		return nil, fmt.Errorf("unexpected output shape %v", dims)
	}
	channels, n := dims[0], dims[1]
	if len(out) < channels*n {
		return nil, fmt.Errorf("output has %d values, shape %v needs %d", len(out), dims, channels*n)
	}
	classes := channels - 4

	at := func(c, j int) float64 { return float64(out[c*n+j]) }

	var cands []detection.Raw
	for j := 0; j < n; j++ {
		best, score := 0, at(4, j)
		for c := 1; c < classes; c++ {
			if s := at(4+c, j); s > score {
				best, score = c, s
			}
		}
		if score < h.Confidence {
			continue
		}
		if score > 1 {
			score = 1
		}

		cx, cy, w, hh := at(0, j), at(1, j), at(2, j), at(3, j)
		cands = append(cands, detection.Raw{
			BBox: []float64{
				(cx - w/2) * scaleX,
				(cy - hh/2) * scaleY,
				(cx + w/2) * scaleX,
				(cy + hh/2) * scaleY,
			},
			Confidence: score,
			Label:      h.label(best),
		})
	}

	return detection.SuppressOverlaps(cands, h.IoU), nil
}

func (h YOLOHead) label(class int) string {
	if class < len(h.Labels) {
		return h.Labels[class]
	}
	return fmt.Sprintf("class_%d", class)
}
