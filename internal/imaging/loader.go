package imaging

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // Register WebP format decoder
)

// Open decodes an image file, applying the EXIF orientation tag so that boxes
// reported in display coordinates line up with the pixels.
//
// Supported formats are those registered with the image package: JPEG, PNG,
// GIF, TIFF and BMP through disintegration/imaging, and WebP.
func Open(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	return img, nil
}

// decodeOnly lists extensions that Open reads but no registered encoder writes.
var decodeOnly = map[string]bool{".webp": true}

// Save encodes img to path, choosing the format from the extension.
// The parent directory is created when missing.
//
// A path with a decode-only extension (WebP) is written PNG-encoded under the
// same name, so an image that could be opened can always be saved back.
func Save(img image.Image, path string) error {
	format, err := imaging.FormatFromFilename(path)
	if err != nil {
		if !decodeOnly[strings.ToLower(filepath.Ext(path))] {
			return fmt.Errorf("failed to save image: %w", err)
		}
		format = imaging.PNG
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to save image: %w", err)
	}
	if err := imaging.Encode(f, img, format, imaging.JPEGQuality(95)); err != nil {
		f.Close()
		return fmt.Errorf("failed to save image: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to save image: %w", err)
	}
	return nil
}

// Dimensions contains the width and height of an image.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// GetDimensions returns the oriented dimensions of an image file.
func GetDimensions(path string) (*Dimensions, error) {
	img, err := Open(path)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	return &Dimensions{Width: b.Dx(), Height: b.Dy()}, nil
}
