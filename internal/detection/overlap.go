package detection

import (
	"math"
	"sort"
)

// IoU returns the intersection-over-union of two [x1, y1, x2, y2] boxes.
// Degenerate boxes have zero area and an IoU of 0 with anything.
func IoU(a, b []float64) float64 {
	if len(a) != 4 || len(b) != 4 {
		return 0
	}
	ix1 := math.Max(a[0], b[0])
	iy1 := math.Max(a[1], b[1])
	ix2 := math.Min(a[2], b[2])
	iy2 := math.Min(a[3], b[3])

	iw := ix2 - ix1
	ih := iy2 - iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih

	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// SuppressOverlaps performs per-label non-maximum suppression.
//
// Candidates are visited in descending confidence; a candidate is dropped when it
// overlaps an already kept candidate of the same label by more than iouThreshold.
// The survivors are returned in descending confidence order, which is the native
// order backends report after decoding raw network output.
func SuppressOverlaps(cands []Raw, iouThreshold float64) []Raw {
	if len(cands) == 0 {
		return nil
	}

	order := make([]int, len(cands))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return cands[order[i]].Confidence > cands[order[j]].Confidence
	})

	kept := make([]Raw, 0, len(cands))
	for _, idx := range order {
		c := cands[idx]
		overlapped := false
		for _, k := range kept {
			if k.Label == c.Label && IoU(k.BBox, c.BBox) > iouThreshold {
				overlapped = true
				break
			}
		}
		if !overlapped {
			kept = append(kept, c)
		}
	}
	return kept
}
