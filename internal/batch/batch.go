// Package batch runs a sequence of images through the pipeline in the
// background and reports progress as events on a channel.
//
// A batch owns one new session. Images are staged into its uploads directory
// and processed strictly one after another in submission order. One ImageDone
// event is sent per submitted image, followed by a single BatchDone event,
// after which the channel is closed. A batch is never abandoned part way: it
// runs to completion once started.
package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ironsheep/anomaly-detector/internal/detection"
	"github.com/ironsheep/anomaly-detector/internal/logging"
	"github.com/ironsheep/anomaly-detector/internal/pipeline"
	"github.com/ironsheep/anomaly-detector/internal/session"
)

// ErrorCommentPrefix starts the single comment of an image that failed outright.
const ErrorCommentPrefix = "Error: "

// Kind distinguishes events.
type Kind int

const (
	// ImageDone is sent once per submitted image, in submission order.
	ImageDone Kind = iota
	// BatchDone is the final event of a batch.
	BatchDone
)

func (k Kind) String() string {
	switch k {
	case ImageDone:
		return "image_done"
	case BatchDone:
		return "batch_done"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Event reports progress of a batch.
type Event struct {
	Kind Kind
	// Index is the 0-based position of the image in the submission.
	Index int
	Total int
	// Source is the submitted path; Result.ImagePath is the staged copy.
	Source string
	Result *pipeline.Result
	// Err is set when the image could not be staged or processed. Result
	// still carries a single "Error: ..." comment in that case.
	Err error
}

// Processor runs one image. *pipeline.Orchestrator implements it.
type Processor interface {
	Run(ctx context.Context, imagePath string, sess *session.Session, models detection.ModelSet) (*pipeline.Result, error)
}

// SessionCreator creates the session of a new batch. *session.Manager implements it.
type SessionCreator interface {
	Create() (*session.Session, error)
}

// Runner starts batches.
type Runner struct {
	sessions  SessionCreator
	processor Processor
	log       logrus.FieldLogger
	buffer    int
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Runner) { r.log = l }
}

// WithBuffer sets the event channel capacity. The default is unbuffered, so a
// slow consumer paces the worker.
func WithBuffer(n int) Option {
	return func(r *Runner) { r.buffer = n }
}

// NewRunner creates a Runner.
func NewRunner(sessions SessionCreator, processor Processor, opts ...Option) *Runner {
	r := &Runner{sessions: sessions, processor: processor}
	for _, opt := range opts {
		opt(r)
	}
	r.log = logging.OrDiscard(r.log)
	return r
}

// Batch is a started batch.
type Batch struct {
	ID      string
	Session *session.Session
	Started time.Time

	events chan Event
}

// Events returns the channel of progress events. It is closed after BatchDone.
func (b *Batch) Events() <-chan Event { return b.events }

// Start creates the session, stages files and begins processing in the
// background. A session creation failure is returned and no batch is started.
//
// ctx is passed to the models for their own I/O bounds; cancelling it does not
// stop the batch.
func (r *Runner) Start(ctx context.Context, files []string, models detection.ModelSet) (*Batch, error) {
	sess, err := r.sessions.Create()
	if err != nil {
		return nil, err
	}

	b := &Batch{
		ID:      uuid.NewString(),
		Session: sess,
		Started: time.Now(),
		events:  make(chan Event, r.buffer),
	}
	log := r.log.WithFields(logrus.Fields{
		logging.FieldBatchID: b.ID,
		logging.FieldSession: sess.ID,
	})

	staged, stageErrs := sess.Stage(files)
	log.WithField("images", len(files)).Info("batch started")

	go r.work(ctx, log, b, files, staged, stageErrs, models)
	return b, nil
}

func (r *Runner) work(ctx context.Context, log logrus.FieldLogger, b *Batch, files, staged []string, stageErrs []error, models detection.ModelSet) {
	defer close(b.events)
	total := len(files)

	for i, src := range files {
		ev := Event{Kind: ImageDone, Index: i, Total: total, Source: src}

		if stageErrs[i] != nil {
			ev.Err = stageErrs[i]
			ev.Result = failedResult(src, ev.Err)
		} else {
			res, err := r.processor.Run(ctx, staged[i], b.Session, models)
			if err != nil {
				ev.Err = err
				ev.Result = failedResult(staged[i], err)
			} else {
				ev.Result = res
			}
		}

		if ev.Err != nil {
			log.WithFields(logrus.Fields{
				logging.FieldImage: src,
				logging.FieldError: ev.Err.Error(),
			}).Error("image failed")
		}
		b.events <- ev
	}

	log.WithField("elapsed", time.Since(b.Started).String()).Info("batch finished")
	b.events <- Event{Kind: BatchDone, Index: total, Total: total}
}

func failedResult(path string, err error) *pipeline.Result {
	return &pipeline.Result{
		ImagePath:  path,
		Detections: []detection.Detection{},
		Comments:   []string{ErrorCommentPrefix + err.Error()},
	}
}

// Summary collects the outcome of a finished batch.
type Summary struct {
	ID      string             `json:"batch_id"`
	Session *session.Session   `json:"session"`
	Results []*pipeline.Result `json:"results"`
	Failed  int                `json:"failed"`
}

// Run starts a batch and waits for it to finish. onEvent, when non-nil, is
// called for each event before it is collected.
func (r *Runner) Run(ctx context.Context, files []string, models detection.ModelSet, onEvent func(Event)) (*Summary, error) {
	b, err := r.Start(ctx, files, models)
	if err != nil {
		return nil, err
	}

	sum := &Summary{ID: b.ID, Session: b.Session, Results: make([]*pipeline.Result, 0, len(files))}
	for ev := range b.Events() {
		if onEvent != nil {
			onEvent(ev)
		}
		if ev.Kind != ImageDone {
			continue
		}
		sum.Results = append(sum.Results, ev.Result)
		if ev.Err != nil {
			sum.Failed++
		}
	}
	return sum, nil
}
