package imaging

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"sync"

	"github.com/anthonynsimon/bild/clone"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"

	"github.com/ironsheep/anomaly-detector/internal/detection"
	"github.com/ironsheep/anomaly-detector/internal/logging"
)

// Drawing defaults.
const (
	DefaultFontFile  = "arial.ttf"
	DefaultFontSize  = 20
	DefaultBoxColor  = "#FF0000"
	DefaultThickness = 3

	tagPadding = 2
)

// AnnotationError reports that an annotated image could not be produced.
type AnnotationError struct {
	Path string
	Err  error
}

func (e *AnnotationError) Error() string {
	return fmt.Sprintf("failed to annotate %s: %v", e.Path, e.Err)
}

func (e *AnnotationError) Unwrap() error { return e.Err }

// Options configures an Annotator. Zero values select the defaults.
type Options struct {
	// FontFile is a font path or a bare file name searched in system font directories.
	FontFile string
	// FontSize is the label size in pixels.
	FontSize float64
	// BoxColor is the "#RRGGBB" colour of the first model.
	BoxColor string
	// Thickness is the box outline width in pixels.
	Thickness int
	// Models fixes the colour order; usually the loaded model names.
	Models []string
	Logger logrus.FieldLogger
}

// Annotator draws detections onto images.
type Annotator struct {
	mu        sync.Mutex
	face      font.Face
	palette   *Palette
	thickness int
	log       logrus.FieldLogger
}

// New creates an Annotator. A font that cannot be loaded is not an error: the
// bitmap fallback is used and a warning logged. An invalid colour is an error.
func New(opts Options) (*Annotator, error) {
	log := logging.OrDiscard(opts.Logger)

	if opts.FontFile == "" {
		opts.FontFile = DefaultFontFile
	}
	if opts.FontSize <= 0 {
		opts.FontSize = DefaultFontSize
	}
	if opts.BoxColor == "" {
		opts.BoxColor = DefaultBoxColor
	}
	if opts.Thickness <= 0 {
		opts.Thickness = DefaultThickness
	}

	palette, err := NewPalette(opts.BoxColor, opts.Models...)
	if err != nil {
		return nil, err
	}

	face, err := loadFace(opts.FontFile, opts.FontSize)
	if err != nil {
		log.WithField(logging.FieldError, err.Error()).Warn("label font unavailable, using built-in bitmap font")
		face = fallbackFace()
	}

	return &Annotator{
		face:      face,
		palette:   palette,
		thickness: opts.Thickness,
		log:       log,
	}, nil
}

// Annotate draws dets onto the image at imagePath and writes outputPath.
//
// With zero detections the output is a plain re-encoded copy of the source.
// Detections whose box lies entirely outside the image are skipped with a
// warning. Any failure to load or save is returned as *AnnotationError and no
// output file is left behind by this call.
func (a *Annotator) Annotate(imagePath string, dets []detection.Detection, outputPath string) error {
	src, err := Open(imagePath)
	if err != nil {
		a.log.WithFields(logrus.Fields{logging.FieldImage: imagePath, logging.FieldError: err.Error()}).Error("cannot load image for annotation")
		return &AnnotationError{Path: imagePath, Err: err}
	}

	canvas := clone.AsRGBA(src)

	a.mu.Lock()
	for _, d := range dets {
		if !a.drawDetection(canvas, d) {
			a.log.WithFields(logrus.Fields{
				logging.FieldImage: imagePath,
				logging.FieldModel: d.Model,
				"label":            d.Label,
				"bbox":             d.BBox,
			}).Warn("detection box outside image, not drawn")
		}
	}
	a.mu.Unlock()

	if err := Save(canvas, outputPath); err != nil {
		_ = os.Remove(outputPath)
		a.log.WithFields(logrus.Fields{logging.FieldImage: imagePath, logging.FieldError: err.Error()}).Error("cannot write annotated image")
		return &AnnotationError{Path: imagePath, Err: err}
	}
	return nil
}

// drawDetection reports false when the box does not intersect the canvas.
func (a *Annotator) drawDetection(canvas *image.RGBA, d detection.Detection) bool {
	bounds := canvas.Bounds()
	box := d.Rect().Add(bounds.Min)
	if !box.Overlaps(bounds) {
		return false
	}

	c := a.palette.Color(d.Model)
	drawOutline(canvas, box, a.thickness, c)
	a.drawTag(canvas, box, d.Caption(), c)
	return true
}

// drawOutline strokes r inward by thickness pixels. Strips outside dst are
// clipped by draw.Draw.
func drawOutline(dst *image.RGBA, r image.Rectangle, thickness int, c color.Color) {
	src := image.NewUniform(c)
	t := thickness
	if t > r.Dx() {
		t = r.Dx()
	}
	if t > r.Dy() {
		t = r.Dy()
	}
	if t < 1 {
		t = 1
	}

	strips := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t), // top
		image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y), // bottom
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+t, r.Max.Y), // left
		image.Rect(r.Max.X-t, r.Min.Y, r.Max.X, r.Max.Y), // right
	}
	for _, s := range strips {
		draw.Draw(dst, s.Intersect(dst.Bounds()), src, image.Point{}, draw.Src)
	}
}

// tagRect places a w×h tag directly above box, shifted into bounds when it
// would leave the image.
func tagRect(box, bounds image.Rectangle, w, h int) image.Rectangle {
	x := box.Min.X
	y := box.Min.Y - h

	if y < bounds.Min.Y {
		y = bounds.Min.Y
	}
	if x+w > bounds.Max.X {
		x = bounds.Max.X - w
	}
	if x < bounds.Min.X {
		x = bounds.Min.X
	}
	return image.Rect(x, y, x+w, y+h)
}

func (a *Annotator) drawTag(dst *image.RGBA, box image.Rectangle, text string, bg color.Color) {
	metrics := a.face.Metrics()
	ascent := metrics.Ascent.Ceil()
	textH := ascent + metrics.Descent.Ceil()
	textW := font.MeasureString(a.face, text).Ceil()

	tag := tagRect(box, dst.Bounds(), textW+2*tagPadding, textH+2*tagPadding)
	draw.Draw(dst, tag.Intersect(dst.Bounds()), image.NewUniform(bg), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.White),
		Face: a.face,
		Dot:  fixed.P(tag.Min.X+tagPadding, tag.Min.Y+tagPadding+ascent),
	}
	d.DrawString(text)
}
