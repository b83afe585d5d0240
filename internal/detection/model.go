package detection

import (
	"context"
	"fmt"
	"strings"
)

// Model is the detection capability of one pretrained model: given an image on
// disk, return zero or more raw detections in the model's native order.
//
// Predict is synchronous and may block on inference or network I/O. Backends
// should honour ctx for their own I/O deadlines.
type Model interface {
	Predict(ctx context.Context, imagePath string) ([]Raw, error)
}

// ModelFunc adapts a plain function to the Model interface.
type ModelFunc func(ctx context.Context, imagePath string) ([]Raw, error)

// Predict calls f(ctx, imagePath).
func (f ModelFunc) Predict(ctx context.Context, imagePath string) ([]Raw, error) {
	return f(ctx, imagePath)
}

// Named pairs a model with the identifier stamped on its detections.
type Named struct {
	Name  string
	Model Model
}

// ModelSet is an ordered collection of models. Iteration order is the processing
// order of the orchestrator and therefore the order of merged detections.
type ModelSet []Named

// Names returns the model identifiers in processing order.
func (s ModelSet) Names() []string {
	names := make([]string, len(s))
	for i, m := range s {
		names[i] = m.Name
	}
	return names
}

// Lookup returns the model registered under name.
func (s ModelSet) Lookup(name string) (Model, bool) {
	for _, m := range s {
		if m.Name == name {
			return m.Model, true
		}
	}
	return nil, false
}

// Select returns the subset of models named in names, keeping the set's own
// order rather than the order of names. Unknown names are reported as an error.
func (s ModelSet) Select(names ...string) (ModelSet, error) {
	if len(names) == 0 {
		return s, nil
	}

	want := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := s.Lookup(n); !ok {
			return nil, fmt.Errorf("unknown model: %s", n)
		}
		want[n] = true
	}

	out := make(ModelSet, 0, len(want))
	for _, m := range s {
		if want[m.Name] {
			out = append(out, m)
		}
	}
	return out, nil
}
