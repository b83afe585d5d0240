package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironsheep/anomaly-detector/internal/detection"
	"github.com/ironsheep/anomaly-detector/internal/imaging"
	"github.com/ironsheep/anomaly-detector/internal/ledger"
	"github.com/ironsheep/anomaly-detector/internal/rules"
	"github.com/ironsheep/anomaly-detector/internal/session"
)

const testRules = `
fire: "Fire hazard detected"
ppe:
  no_helmet: "Worker missing helmet"
default: "No issues found"
`

var fixedTime = time.Date(2024, 3, 9, 14, 5, 7, 0, time.Local)

// fixedModel returns the same raw detections for every image.
func fixedModel(raws ...detection.Raw) detection.Model {
	return detection.ModelFunc(func(ctx context.Context, imagePath string) ([]detection.Raw, error) {
		return raws, nil
	})
}

func failingModel(msg string) detection.Model {
	return detection.ModelFunc(func(ctx context.Context, imagePath string) ([]detection.Raw, error) {
		return nil, errors.New(msg)
	})
}

func panickingModel() detection.Model {
	return detection.ModelFunc(func(ctx context.Context, imagePath string) ([]detection.Raw, error) {
		panic("tensor shape mismatch")
	})
}

func raw(label string, conf float64, box ...float64) detection.Raw {
	return detection.Raw{BBox: box, Confidence: conf, Label: label}
}

type failingRecorder struct{ calls int }

func (r *failingRecorder) Append(string, ledger.Row) error {
	r.calls++
	return &ledger.WriteError{Path: "results.xlsx", Err: errors.New("disk full")}
}

type failingAnnotator struct{}

func (failingAnnotator) Annotate(string, []detection.Detection, string) error {
	return errors.New("cannot draw")
}

// silentAnnotator reports success without writing anything.
type silentAnnotator struct{}

func (silentAnnotator) Annotate(string, []detection.Detection, string) error { return nil }

type brokenCommenter struct{}

func (brokenCommenter) Generate([]detection.Detection) ([]string, error) {
	return nil, &rules.EngineError{Index: 0, Label: "ppe", Err: errors.New("empty partial rule")}
}

type fixture struct {
	sess   *session.Session
	ledger *ledger.Ledger
	image  string
	hook   *test.Hook
	logger *logrus.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sess, err := session.NewManager(t.TempDir()).Create()
	require.NoError(t, err)
	logger, hook := test.NewNullLogger()
	return &fixture{
		sess:   sess,
		ledger: ledger.New(),
		image:  writePNG(t, sess.UploadDir, "site.png", 80, 60),
		hook:   hook,
		logger: logger,
	}
}

func (f *fixture) orchestrator(t *testing.T, opts ...Option) *Orchestrator {
	t.Helper()
	rs, err := rules.Parse([]byte(testRules))
	require.NoError(t, err)
	ann, err := imaging.New(imaging.Options{FontFile: "no-such-font.ttf"})
	require.NoError(t, err)
	opts = append([]Option{WithLogger(f.logger), WithClock(func() time.Time { return fixedTime })}, opts...)
	return New(rs, ann, f.ledger, opts...)
}

func writePNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{90, 90, 90, 255})
		}
	}
	path := filepath.Join(dir, name)
	file, err := os.Create(path)
	require.NoError(t, err)
	defer file.Close()
	require.NoError(t, png.Encode(file, img))
	return path
}

func TestRun_MergesInModelOrder(t *testing.T) {
	f := newFixture(t)
	models := detection.ModelSet{
		{Name: "fire", Model: fixedModel(raw("fire", 0.9, 1, 1, 20, 20), raw("smoke", 0.4, 5, 5, 30, 30))},
		{Name: "ppe", Model: fixedModel(raw("no_helmet_violation", 0.7, 40, 10, 70, 50))},
	}

	res, err := f.orchestrator(t).Run(context.Background(), f.image, f.sess, models)
	require.NoError(t, err)

	require.Len(t, res.Detections, 3)
	assert.Equal(t, []string{"fire", "fire", "ppe"}, []string{res.Detections[0].Model, res.Detections[1].Model, res.Detections[2].Model})
	assert.Equal(t, []string{"fire", "smoke", "no_helmet_violation"}, []string{res.Detections[0].Label, res.Detections[1].Label, res.Detections[2].Label})
	assert.Equal(t, []string{"Fire hazard detected", "No issues found", "Worker missing helmet"}, res.Comments)
	assert.Equal(t, filepath.Join(f.sess.ResultsDir, "annotated_site.png"), res.AnnotatedPath)
	assert.FileExists(t, res.AnnotatedPath)
	assert.Empty(t, res.ModelErrors)
}

func TestRun_IsolatesFailingAndPanickingModels(t *testing.T) {
	f := newFixture(t)
	models := detection.ModelSet{
		{Name: "broken", Model: failingModel("weights corrupt")},
		{Name: "crashy", Model: panickingModel()},
		{Name: "missing"},
		{Name: "fire", Model: fixedModel(raw("fire", 0.8, 0, 0, 10, 10))},
	}

	res, err := f.orchestrator(t).Run(context.Background(), f.image, f.sess, models)
	require.NoError(t, err)

	require.Len(t, res.Detections, 1)
	assert.Equal(t, "fire", res.Detections[0].Model)
	require.Len(t, res.ModelErrors, 3)
	assert.Equal(t, "broken", res.ModelErrors[0].Model)
	assert.False(t, res.ModelErrors[0].Panicked)
	assert.Equal(t, "crashy", res.ModelErrors[1].Model)
	assert.True(t, res.ModelErrors[1].Panicked)
	assert.Equal(t, "missing", res.ModelErrors[2].Model)

	warned := 0
	for _, e := range f.hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Message == "model failed, contributing no detections" {
			warned++
		}
	}
	assert.Equal(t, 3, warned)
}

func TestRun_AllModelsFail(t *testing.T) {
	f := newFixture(t)
	models := detection.ModelSet{{Name: "broken", Model: failingModel("boom")}}

	res, err := f.orchestrator(t).Run(context.Background(), f.image, f.sess, models)
	require.NoError(t, err)

	assert.Empty(t, res.Detections)
	assert.Equal(t, []string{"No issues found"}, res.Comments)
	assert.FileExists(t, res.AnnotatedPath, "unmarked copy is still written")
}

func TestRun_DropsMalformedDetections(t *testing.T) {
	f := newFixture(t)
	models := detection.ModelSet{{Name: "fire", Model: fixedModel(
		raw("fire", 0.9, 1, 2, 3),
		raw("fire", 1.7, 1, 2, 3, 4),
		raw("", 0.5, 1, 2, 3, 4),
		raw("smoke", 0.5, 1, 2, 30, 40),
	)}}

	res, err := f.orchestrator(t).Run(context.Background(), f.image, f.sess, models)
	require.NoError(t, err)

	require.Len(t, res.Detections, 1)
	assert.Equal(t, "smoke", res.Detections[0].Label)
	assert.Empty(t, res.ModelErrors)
}

func TestRun_FallsBackToDefaultModels(t *testing.T) {
	f := newFixture(t)
	defaults := detection.ModelSet{{Name: "fire", Model: fixedModel(raw("fire", 0.9, 1, 1, 9, 9))}}

	res, err := f.orchestrator(t, WithDefaultModels(defaults)).Run(context.Background(), f.image, f.sess, nil)
	require.NoError(t, err)
	require.Len(t, res.Detections, 1)
	assert.Equal(t, "fire", res.Detections[0].Model)
}

func TestRun_NoModelsAtAll(t *testing.T) {
	f := newFixture(t)

	res, err := f.orchestrator(t).Run(context.Background(), f.image, f.sess, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Detections)
	assert.Equal(t, []string{"No issues found"}, res.Comments)
}

func TestRun_CommentFailureUsesSentinel(t *testing.T) {
	f := newFixture(t)
	o := New(brokenCommenter{}, silentAnnotator{}, f.ledger, WithLogger(f.logger))

	res, err := o.Run(context.Background(), f.image, f.sess, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{CommentErrorMessage}, res.Comments)
}

func TestRun_AnnotationFailureStillAppends(t *testing.T) {
	f := newFixture(t)
	rs, err := rules.Parse([]byte(testRules))
	require.NoError(t, err)
	o := New(rs, failingAnnotator{}, f.ledger, WithLogger(f.logger))

	res, err := o.Run(context.Background(), f.image, f.sess, nil)
	require.NoError(t, err)
	assert.Empty(t, res.AnnotatedPath)

	records, err := f.ledger.Read(f.sess.ResultsDir)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Empty(t, records[0].AnnotatedPath)
}

func TestRun_MissingAnnotatedFileMeansEmptyPath(t *testing.T) {
	f := newFixture(t)
	o := New(rules.Empty(), silentAnnotator{}, f.ledger)

	res, err := o.Run(context.Background(), f.image, f.sess, nil)
	require.NoError(t, err)
	assert.Empty(t, res.AnnotatedPath)
	assert.Equal(t, []string{rules.NoRulesMessage}, res.Comments)
}

func TestRun_UnreadableImage(t *testing.T) {
	f := newFixture(t)
	bad := filepath.Join(f.sess.UploadDir, "broken.jpg")
	require.NoError(t, os.WriteFile(bad, []byte("nope"), 0644))

	res, err := f.orchestrator(t).Run(context.Background(), bad, f.sess, nil)
	require.NoError(t, err)
	assert.Empty(t, res.AnnotatedPath)
	assert.NoFileExists(t, f.sess.AnnotatedPath(bad))
}

func TestRun_LedgerFailureIsNotReturned(t *testing.T) {
	f := newFixture(t)
	rec := &failingRecorder{}
	rs, err := rules.Parse([]byte(testRules))
	require.NoError(t, err)
	o := New(rs, silentAnnotator{}, rec, WithLogger(f.logger))

	res, err := o.Run(context.Background(), f.image, f.sess, nil)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 1, rec.calls)

	last := f.hook.LastEntry()
	require.NotNil(t, last)
	assert.Equal(t, logrus.InfoLevel, last.Level)
	found := false
	for _, e := range f.hook.AllEntries() {
		if e.Message == "ledger append failed" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRun_NoSession(t *testing.T) {
	o := New(rules.Empty(), silentAnnotator{}, ledger.New())

	_, err := o.Run(context.Background(), "/tmp/x.png", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline: /tmp/x.png")

	_, err = o.Run(context.Background(), "/tmp/x.png", &session.Session{}, nil)
	assert.Error(t, err)
}

type panickingRecorder struct{}

func (panickingRecorder) Append(string, ledger.Row) error { panic("nil map") }

func TestRun_InternalPanicIsWrapped(t *testing.T) {
	f := newFixture(t)
	o := New(rules.Empty(), silentAnnotator{}, panickingRecorder{})

	res, err := o.Run(context.Background(), f.image, f.sess, nil)
	assert.Nil(t, res)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline: "+f.image)
}

func TestRun_TwoImagesInSubmissionOrder(t *testing.T) {
	f := newFixture(t)
	second := writePNG(t, f.sess.UploadDir, "dock.png", 40, 40)
	models := detection.ModelSet{{Name: "fire", Model: fixedModel(raw("fire", 0.9, 1, 1, 20, 20))}}
	o := f.orchestrator(t)

	for _, img := range []string{f.image, second} {
		_, err := o.Run(context.Background(), img, f.sess, models)
		require.NoError(t, err)
	}

	records, err := f.ledger.Read(f.sess.ResultsDir)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "site.png", records[0].ImageName)
	assert.Equal(t, "annotated_site.png", records[0].AnnotatedName)
	assert.Equal(t, "dock.png", records[1].ImageName)
	assert.Equal(t, "annotated_dock.png", records[1].AnnotatedName)
	assert.Equal(t, "2024-03-09 14:05:07", records[0].Timestamp)
	assert.Equal(t, "Fire hazard detected", records[1].Comments)
}

func TestModelInvocationError_JSON(t *testing.T) {
	e := &ModelInvocationError{Model: "fire", Image: "a.png", Err: errors.New("boom")}
	data, err := e.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"model":"fire","error":"boom"}`, string(data))
}
