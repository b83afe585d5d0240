package imaging

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironsheep/anomaly-detector/internal/detection"
)

var (
	gray = color.RGBA{128, 128, 128, 255}
	red  = color.RGBA{255, 0, 0, 255}
)

// createTestImage writes a solid-colour PNG and returns its path.
func createTestImage(t *testing.T, width, height int, c color.Color) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}

	path := filepath.Join(t.TempDir(), "source.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

// newTestAnnotator uses the bitmap font so pixel positions are deterministic.
func newTestAnnotator(t *testing.T, logger logrus.FieldLogger) *Annotator {
	t.Helper()
	a, err := New(Options{FontFile: "no-such-font-for-tests.ttf", Logger: logger})
	require.NoError(t, err)
	return a
}

func pixel(t *testing.T, path string, x, y int) color.RGBA {
	t.Helper()
	img, err := Open(path)
	require.NoError(t, err)
	return color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
}

func TestAnnotate_NoDetectionsKeepsDimensions(t *testing.T) {
	src := createTestImage(t, 64, 48, gray)
	out := filepath.Join(t.TempDir(), "annotated_source.png")

	require.NoError(t, newTestAnnotator(t, nil).Annotate(src, nil, out))

	dims, err := GetDimensions(out)
	require.NoError(t, err)
	assert.Equal(t, &Dimensions{Width: 64, Height: 48}, dims)
	assert.Equal(t, gray, pixel(t, out, 10, 10))
}

func TestAnnotate_DrawsBoxAndTag(t *testing.T) {
	src := createTestImage(t, 100, 100, gray)
	out := filepath.Join(t.TempDir(), "annotated.png")
	dets := []detection.Detection{{BBox: [4]int{20, 40, 60, 80}, Confidence: 0.9, Label: "fire", Model: "fire"}}

	require.NoError(t, newTestAnnotator(t, nil).Annotate(src, dets, out))

	assert.Equal(t, red, pixel(t, out, 20, 60), "left edge")
	assert.Equal(t, red, pixel(t, out, 22, 60), "outline is three pixels wide")
	assert.Equal(t, gray, pixel(t, out, 23, 60), "interior untouched")
	assert.Equal(t, red, pixel(t, out, 59, 79), "bottom-right corner")

	// 7x13 face: tag height is 13 + 2*2 padding, so it spans y 23..39.
	assert.Equal(t, red, pixel(t, out, 20, 24), "tag padding")
	assert.Equal(t, gray, pixel(t, out, 20, 22), "above tag")
}

func TestAnnotate_TagClampedAtTopEdge(t *testing.T) {
	src := createTestImage(t, 120, 60, gray)
	out := filepath.Join(t.TempDir(), "annotated.png")
	dets := []detection.Detection{{BBox: [4]int{10, 0, 50, 30}, Confidence: 0.9, Label: "fire", Model: "fire"}}

	require.NoError(t, newTestAnnotator(t, nil).Annotate(src, dets, out))

	// "fire (0.90)" is 11 glyphs of width 7, so the tag spans x 10..90 and y 0..16.
	assert.Equal(t, red, pixel(t, out, 80, 16), "bottom padding row of the tag")
	assert.Equal(t, gray, pixel(t, out, 80, 17), "below the tag")
}

func TestAnnotate_SwappedCornersCanonicalized(t *testing.T) {
	src := createTestImage(t, 50, 50, gray)
	out := filepath.Join(t.TempDir(), "annotated.png")
	dets := []detection.Detection{{BBox: [4]int{40, 45, 10, 25}, Confidence: 0.5, Label: "x", Model: "m"}}

	require.NoError(t, newTestAnnotator(t, nil).Annotate(src, dets, out))
	assert.Equal(t, red, pixel(t, out, 10, 35))
	assert.Equal(t, red, pixel(t, out, 39, 35))
}

func TestAnnotate_SkipsBoxOutsideImage(t *testing.T) {
	logger, hook := test.NewNullLogger()
	src := createTestImage(t, 40, 40, gray)
	out := filepath.Join(t.TempDir(), "annotated.png")
	dets := []detection.Detection{{BBox: [4]int{200, 200, 300, 300}, Confidence: 0.7, Label: "smoke", Model: "fire"}}

	require.NoError(t, newTestAnnotator(t, logger).Annotate(src, dets, out))

	last := hook.LastEntry()
	require.NotNil(t, last)
	assert.Equal(t, logrus.WarnLevel, last.Level)
	assert.Equal(t, "smoke", last.Data["label"])
	assert.Equal(t, gray, pixel(t, out, 39, 39))
}

func TestAnnotate_UnreadableSource(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "broken.jpg")
	require.NoError(t, os.WriteFile(src, []byte("not an image"), 0644))
	out := filepath.Join(dir, "annotated_broken.jpg")

	err := newTestAnnotator(t, nil).Annotate(src, nil, out)

	var aerr *AnnotationError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, src, aerr.Path)
	assert.NoFileExists(t, out)
}

func TestAnnotate_UnsupportedOutputFormat(t *testing.T) {
	src := createTestImage(t, 10, 10, gray)
	out := filepath.Join(t.TempDir(), "annotated.xyz")

	err := newTestAnnotator(t, nil).Annotate(src, nil, out)

	var aerr *AnnotationError
	assert.True(t, errors.As(err, &aerr))
	assert.NoFileExists(t, out)
}

func TestAnnotate_JPEGOutput(t *testing.T) {
	src := createTestImage(t, 30, 20, gray)
	out := filepath.Join(t.TempDir(), "nested", "annotated.jpg")

	require.NoError(t, newTestAnnotator(t, nil).Annotate(src, nil, out))

	dims, err := GetDimensions(out)
	require.NoError(t, err)
	assert.Equal(t, 30, dims.Width)
	assert.Equal(t, 20, dims.Height)
}

func TestNew_InvalidColor(t *testing.T) {
	_, err := New(Options{BoxColor: "crimson"})
	assert.Error(t, err)
}

func TestPalette(t *testing.T) {
	p, err := NewPalette("#FF0000", "fire", "panel")
	require.NoError(t, err)

	assert.Equal(t, red, p.Color("fire"))
	panel := p.Color("panel")
	assert.NotEqual(t, red, panel)
	assert.Equal(t, panel, p.Color("panel"), "colours are stable")

	late := p.Color("textile")
	assert.NotEqual(t, red, late)
	assert.NotEqual(t, panel, late)
}

func TestPalette_GreyBaseStillDistinguishes(t *testing.T) {
	p, err := NewPalette("#808080", "a", "b")
	require.NoError(t, err)
	assert.NotEqual(t, p.Color("a"), p.Color("b"))
}

func TestFindFont(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.ttf")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	got, err := findFont(path)
	require.NoError(t, err)
	assert.Equal(t, path, got)

	_, err = findFont(filepath.Join(t.TempDir(), "missing.ttf"))
	assert.Error(t, err)

	_, err = findFont("")
	assert.Error(t, err)
}

func TestLoadFace_InvalidFontData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.ttf")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a font"), 0644))

	_, err := loadFace(path, 12)
	assert.Error(t, err)
}
