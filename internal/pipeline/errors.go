package pipeline

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// ModelInvocationError records one model that failed on one image.
type ModelInvocationError struct {
	Model string
	Image string
	// Panicked is set when the failure was a recovered panic.
	Panicked bool
	Err      error
}

func (e *ModelInvocationError) Error() string {
	if e.Panicked {
		return fmt.Sprintf("model %s panicked on %s: %v", e.Model, e.Image, e.Err)
	}
	return fmt.Sprintf("model %s failed on %s: %v", e.Model, e.Image, e.Err)
}

func (e *ModelInvocationError) Unwrap() error { return e.Err }

// MarshalJSON renders the error as {"model": ..., "error": ...}.
func (e *ModelInvocationError) MarshalJSON() ([]byte, error) {
	return jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(struct {
		Model    string `json:"model"`
		Error    string `json:"error"`
		Panicked bool   `json:"panicked,omitempty"`
	}{e.Model, e.Err.Error(), e.Panicked})
}
