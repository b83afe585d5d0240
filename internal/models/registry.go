package models

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/ironsheep/anomaly-detector/internal/detection"
	"github.com/ironsheep/anomaly-detector/internal/logging"
	"github.com/ironsheep/anomaly-detector/internal/ocr"
)

// ErrBackendUnavailable is wrapped when a backend was not compiled in.
var ErrBackendUnavailable = errors.New("backend not available in this build")

// Registry holds the models that loaded successfully, in manifest order.
type Registry struct {
	Models detection.ModelSet

	closers []io.Closer
}

// Close releases backend resources.
func (r *Registry) Close() error {
	var errs []error
	for _, c := range r.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

type buildConfig struct {
	httpClient *http.Client
	log        logrus.FieldLogger
}

// BuildOption configures Build.
type BuildOption func(*buildConfig)

// WithHTTPClient sets the client shared by HTTP backends.
func WithHTTPClient(c *http.Client) BuildOption {
	return func(b *buildConfig) { b.httpClient = c }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) BuildOption {
	return func(b *buildConfig) { b.log = l }
}

// Build constructs every model of the manifest. The returned Registry is never
// nil; models that failed are missing from it and reported together in err.
func Build(m *Manifest, opts ...BuildOption) (*Registry, error) {
	cfg := &buildConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	log := logging.OrDiscard(cfg.log)

	reg := &Registry{Models: make(detection.ModelSet, 0, len(m.Models))}
	var errs []error

	for _, spec := range m.Models {
		model, err := build(m, spec, cfg)
		if err != nil {
			log.WithFields(logrus.Fields{
				logging.FieldModel: spec.Name,
				"backend":          spec.Backend,
				logging.FieldError: err.Error(),
			}).Warn("model not loaded")
			errs = append(errs, fmt.Errorf("model %s: %w", spec.Name, err))
			continue
		}
		if c, ok := model.(io.Closer); ok {
			reg.closers = append(reg.closers, c)
		}
		reg.Models = append(reg.Models, detection.Named{Name: spec.Name, Model: model})
		log.WithFields(logrus.Fields{logging.FieldModel: spec.Name, "backend": spec.Backend}).Info("model loaded")
	}

	return reg, errors.Join(errs...)
}

// Load reads a manifest and builds its models.
func Load(path string, opts ...BuildOption) (*Registry, error) {
	m, err := LoadManifest(path)
	if err != nil {
		return &Registry{}, err
	}
	return Build(m, opts...)
}

func build(m *Manifest, spec Spec, cfg *buildConfig) (detection.Model, error) {
	switch spec.Backend {
	case BackendONNX:
		return newONNX(spec, m.resolve(spec.Path))
	case BackendHTTP:
		return NewHTTPModel(spec, cfg.httpClient), nil
	case BackendTesseract:
		model, err := ocr.New(ocr.Options{
			Language:      spec.Language,
			MinConfidence: spec.Confidence,
			Vocabulary:    spec.Labels,
		})
		if errors.Is(err, ocr.ErrUnavailable) {
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		return model, err
	default:
		return nil, fmt.Errorf("unknown backend %q", spec.Backend)
	}
}
