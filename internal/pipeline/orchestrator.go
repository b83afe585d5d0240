package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ironsheep/anomaly-detector/internal/detection"
	"github.com/ironsheep/anomaly-detector/internal/ledger"
	"github.com/ironsheep/anomaly-detector/internal/logging"
	"github.com/ironsheep/anomaly-detector/internal/session"
)

// CommentErrorMessage replaces the comments when rule evaluation fails.
const CommentErrorMessage = "Error generating comments"

// Commenter turns detections into advisory comments. *rules.RuleSet implements it.
type Commenter interface {
	Generate(dets []detection.Detection) ([]string, error)
}

// Annotator renders detections onto a copy of an image. *imaging.Annotator implements it.
type Annotator interface {
	Annotate(imagePath string, dets []detection.Detection, outputPath string) error
}

// Recorder appends a ledger row to a session's results. *ledger.Ledger implements it.
type Recorder interface {
	Append(resultsDir string, row ledger.Row) error
}

// Result is the outcome for one image.
type Result struct {
	ImagePath string `json:"image_path"`
	// AnnotatedPath is empty when no annotated file was produced.
	AnnotatedPath string                  `json:"annotated_path"`
	Detections    []detection.Detection   `json:"detections"`
	Comments      []string                `json:"comments"`
	ModelErrors   []*ModelInvocationError `json:"model_errors,omitempty"`
}

// Orchestrator runs the per-image pipeline. It holds no per-image state and may
// be shared, but appends to one session must not be issued concurrently from
// different processes.
type Orchestrator struct {
	commenter Commenter
	annotator Annotator
	recorder  Recorder

	defaults detection.ModelSet
	log      logrus.FieldLogger
	now      func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithDefaultModels sets the models used when Run is given none.
func WithDefaultModels(models detection.ModelSet) Option {
	return func(o *Orchestrator) { o.defaults = models }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithClock replaces time.Now for ledger timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator from its collaborators.
func New(commenter Commenter, annotator Annotator, recorder Recorder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		commenter: commenter,
		annotator: annotator,
		recorder:  recorder,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = logging.OrDiscard(o.log)
	return o
}

// DefaultModels returns the fallback model set.
func (o *Orchestrator) DefaultModels() detection.ModelSet {
	return o.defaults
}

// Run processes one image. models may be empty, in which case the default set
// is used; with no defaults either the image is processed with zero models.
//
// ctx is handed to the models only. A cancelled context does not stop the
// remaining steps for this image.
func (o *Orchestrator) Run(ctx context.Context, imagePath string, sess *session.Session, models detection.ModelSet) (res *Result, err error) {
	if sess == nil || sess.ResultsDir == "" {
		return nil, fmt.Errorf("pipeline: %s: %w", imagePath, errNoSession)
	}
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("pipeline: %s: internal error: %v", imagePath, r)
		}
	}()

	if len(models) == 0 {
		models = o.defaults
	}
	log := o.log.WithFields(logrus.Fields{
		logging.FieldImage:   imagePath,
		logging.FieldSession: sess.ID,
	})

	res = &Result{ImagePath: imagePath}
	res.Detections, res.ModelErrors = o.detect(ctx, log, imagePath, models)

	comments, cerr := o.commenter.Generate(res.Detections)
	if cerr != nil {
		log.WithField(logging.FieldError, cerr.Error()).Error("comment generation failed")
		comments = []string{CommentErrorMessage}
	}
	if comments == nil {
		comments = []string{}
	}
	res.Comments = comments

	res.AnnotatedPath = o.annotate(log, imagePath, res.Detections, sess.AnnotatedPath(imagePath))

	row := ledger.Row{
		Timestamp:     o.now(),
		ImagePath:     imagePath,
		AnnotatedPath: res.AnnotatedPath,
		Detections:    res.Detections,
		Comments:      res.Comments,
	}
	if lerr := o.recorder.Append(sess.ResultsDir, row); lerr != nil {
		log.WithField(logging.FieldError, lerr.Error()).Error("ledger append failed")
	}

	log.WithFields(logrus.Fields{
		"detections":   len(res.Detections),
		"model_errors": len(res.ModelErrors),
	}).Info("image processed")
	return res, nil
}

var errNoSession = errors.New("session has no results directory")

// detect runs models in order and merges their normalized detections.
func (o *Orchestrator) detect(ctx context.Context, log logrus.FieldLogger, imagePath string, models detection.ModelSet) ([]detection.Detection, []*ModelInvocationError) {
	var (
		merged = make([]detection.Detection, 0)
		failed []*ModelInvocationError
	)

	for _, m := range models {
		mlog := log.WithField(logging.FieldModel, m.Name)

		raws, err := invoke(ctx, m, imagePath)
		if err != nil {
			var mie *ModelInvocationError
			if !errors.As(err, &mie) {
				mie = &ModelInvocationError{Model: m.Name, Image: imagePath, Err: err}
			}
			mlog.WithField(logging.FieldError, mie.Err.Error()).Warn("model failed, contributing no detections")
			failed = append(failed, mie)
			continue
		}

		for i, raw := range raws {
			d, err := detection.Normalize(m.Name, i, raw)
			if err != nil {
				mlog.WithField(logging.FieldError, err.Error()).Warn("dropping malformed detection")
				continue
			}
			merged = append(merged, d)
		}
		mlog.WithField("raw", len(raws)).Debug("model finished")
	}

	return merged, failed
}

// invoke calls one model, converting a panic into a ModelInvocationError.
func invoke(ctx context.Context, m detection.Named, imagePath string) (raws []detection.Raw, err error) {
	if m.Model == nil {
		return nil, &ModelInvocationError{Model: m.Name, Image: imagePath, Err: errors.New("model not loaded")}
	}
	defer func() {
		if r := recover(); r != nil {
			raws = nil
			err = &ModelInvocationError{Model: m.Name, Image: imagePath, Panicked: true, Err: fmt.Errorf("%v", r)}
		}
	}()
	return m.Model.Predict(ctx, imagePath)
}

// annotate returns outputPath when the annotated file exists afterwards.
func (o *Orchestrator) annotate(log logrus.FieldLogger, imagePath string, dets []detection.Detection, outputPath string) string {
	if err := o.annotator.Annotate(imagePath, dets, outputPath); err != nil {
		log.WithField(logging.FieldError, err.Error()).Warn("annotation failed")
		return ""
	}
	if _, err := os.Stat(outputPath); err != nil {
		log.WithField(logging.FieldError, err.Error()).Warn("annotated image missing after annotation")
		return ""
	}
	return outputPath
}
