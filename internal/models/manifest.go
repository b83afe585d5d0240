// Package models loads the detection backends declared in a model manifest.
//
// The manifest is a YAML file listing models in processing order:
//
//	models:
//	  - name: fire
//	    backend: onnx
//	    path: models/fire.onnx
//	    labels: [fire, smoke]
//	  - name: panel
//	    backend: http
//	    url: http://localhost:8000/predict
//	    timeout: 30s
//	  - name: signage
//	    backend: tesseract
//	    language: eng
//
// Relative paths are resolved against the manifest's directory. A model that
// cannot be constructed is reported at load time and left out of the set; the
// others still load.
package models

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Backend names.
const (
	BackendONNX      = "onnx"
	BackendHTTP      = "http"
	BackendTesseract = "tesseract"
)

// Defaults applied to zero-valued fields.
const (
	DefaultConfidence = 0.25
	DefaultIoU        = 0.45
	DefaultInputSize  = 640
	DefaultTimeout    = 30 * time.Second
	DefaultLanguage   = "eng"
)

// Spec declares one model.
type Spec struct {
	Name       string        `yaml:"name" validate:"required,excludesall=/\\"`
	Backend    string        `yaml:"backend" validate:"required,oneof=onnx http tesseract"`
	Path       string        `yaml:"path" validate:"required_if=Backend onnx"`
	URL        string        `yaml:"url" validate:"required_if=Backend http,omitempty,url"`
	Labels     []string      `yaml:"labels" validate:"dive,required"`
	Confidence float64       `yaml:"confidence" validate:"gte=0,lte=1"`
	IoU        float64       `yaml:"iou" validate:"gte=0,lte=1"`
	InputSize  int           `yaml:"input_size" validate:"gte=0,lte=4096"`
	Language   string        `yaml:"language"`
	Timeout    time.Duration `yaml:"timeout" validate:"gte=0"`
}

// Manifest is the parsed model manifest.
type Manifest struct {
	Models []Spec `yaml:"models" validate:"dive"`

	// dir is the directory relative paths are resolved against.
	dir string
}

var validate = validator.New()

// LoadManifest reads and validates a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model manifest: %w", err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("invalid model manifest %s: %w", path, err)
	}
	m.dir = filepath.Dir(path)
	return m, nil
}

// ParseManifest decodes and validates manifest YAML. Defaults are filled in.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if err := validate.Struct(&m); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(m.Models))
	for i := range m.Models {
		s := &m.Models[i]
		if seen[s.Name] {
			return nil, fmt.Errorf("duplicate model name %q", s.Name)
		}
		seen[s.Name] = true
		s.applyDefaults()
	}
	return &m, nil
}

// UnmarshalYAML presets the thresholds so that an explicit 0 is kept: a
// confidence of 0 keeps every detection, an IoU of 0 suppresses any overlap.
func (s *Spec) UnmarshalYAML(n *yaml.Node) error {
	type plain Spec
	p := plain{Confidence: DefaultConfidence, IoU: DefaultIoU}
	if err := n.Decode(&p); err != nil {
		return err
	}
	*s = Spec(p)
	return nil
}

func (s *Spec) applyDefaults() {
	if s.InputSize == 0 {
		s.InputSize = DefaultInputSize
	}
	if s.Timeout == 0 {
		s.Timeout = DefaultTimeout
	}
	if s.Language == "" {
		s.Language = DefaultLanguage
	}
}

// resolve returns p relative to the manifest directory.
func (m *Manifest) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || m.dir == "" {
		return p
	}
	return filepath.Join(m.dir, p)
}
