package detection

import (
	"fmt"
	"image"
	"math"
	"strings"
)

// Detection is one labeled, confidence-scored bounding box produced by one model
// on one image.
//
// The JSON form matches the Findings column of the results ledger:
//
//	{"bbox":[x1,y1,x2,y2],"confidence":0.91,"label":"fire","model":"fire"}
type Detection struct {
	// BBox is [x1, y1, x2, y2] in image pixel coordinates. Producers should keep
	// x1 < x2 and y1 < y2; consumers must not rely on it (see Rect).
	BBox [4]int `json:"bbox"`

	// Confidence is the model score in [0.0, 1.0].
	Confidence float64 `json:"confidence"`

	// Label is the free-form class name reported by the model. Never empty.
	Label string `json:"label"`

	// Model identifies the model that produced the detection.
	Model string `json:"model"`
}

// Rect returns the bounding box as a canonical image.Rectangle.
//
// Swapped corners are reordered, so a box reported as (50,40)-(10,20) becomes
// (10,20)-(50,40).
func (d Detection) Rect() image.Rectangle {
	return image.Rect(d.BBox[0], d.BBox[1], d.BBox[2], d.BBox[3])
}

// Caption returns the annotation text "label (0.00)".
func (d Detection) Caption() string {
	return fmt.Sprintf("%s (%.2f)", d.Label, d.Confidence)
}

// Raw is a detection record as returned by a model backend, before normalization.
//
// Backends fill BBox with exactly four coordinates [x1, y1, x2, y2]. Fractional
// coordinates are allowed and are rounded to the nearest pixel by Normalize.
type Raw struct {
	BBox       []float64 `json:"bbox"`
	Confidence float64   `json:"confidence"`
	Label      string    `json:"label"`
}

// ParseError reports a raw record that could not be turned into a Detection.
// The record is dropped on its own; other records from the same model are kept.
type ParseError struct {
	Model  string
	Index  int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("detection %d from model %q: %s", e.Index, e.Model, e.Reason)
}

// Normalize converts a raw record into a Detection stamped with the model name.
//
// Parameters:
//   - model: identifier stamped into Detection.Model.
//   - index: position of the record in the model's native output (for diagnostics).
//   - raw: the record to convert.
//
// Returns a *ParseError when the geometry does not have four finite coordinates,
// the confidence is not a finite value in [0,1], or the label is blank.
func Normalize(model string, index int, raw Raw) (Detection, error) {
	fail := func(format string, args ...interface{}) (Detection, error) {
		return Detection{}, &ParseError{Model: model, Index: index, Reason: fmt.Sprintf(format, args...)}
	}

	if len(raw.BBox) != 4 {
		return fail("bbox has %d coordinates, want 4", len(raw.BBox))
	}
	var box [4]int
	for i, v := range raw.BBox {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fail("bbox coordinate %d is not finite", i)
		}
		if v > math.MaxInt32 || v < math.MinInt32 {
			return fail("bbox coordinate %d out of range", i)
		}
		box[i] = int(math.Round(v))
	}

	c := raw.Confidence
	if math.IsNaN(c) || math.IsInf(c, 0) || c < 0 || c > 1 {
		return fail("confidence %v outside [0,1]", c)
	}

	label := strings.TrimSpace(raw.Label)
	if label == "" {
		return fail("empty label")
	}

	return Detection{BBox: box, Confidence: c, Label: label, Model: model}, nil
}
