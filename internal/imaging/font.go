package imaging

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
)

// fontDirs lists where a bare font file name is looked up, in order.
func fontDirs() []string {
	dirs := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".fonts"), filepath.Join(home, ".local", "share", "fonts"))
	}
	switch runtime.GOOS {
	case "darwin":
		dirs = append(dirs, "/Library/Fonts", "/System/Library/Fonts", "/System/Library/Fonts/Supplemental")
	case "windows":
		dirs = append(dirs, filepath.Join(os.Getenv("WINDIR"), "Fonts"))
	default:
		dirs = append(dirs, "/usr/share/fonts", "/usr/local/share/fonts", "/usr/share/fonts/truetype")
	}
	return dirs
}

// findFont resolves name to an existing file. Paths with a directory component
// are used as given; bare names are searched in fontDirs and one level of
// subdirectories below each.
func findFont(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("no font configured")
	}
	if filepath.Base(name) != name || filepath.IsAbs(name) {
		if _, err := os.Stat(name); err != nil {
			return "", err
		}
		return name, nil
	}

	for _, dir := range fontDirs() {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		if matches, _ := filepath.Glob(filepath.Join(dir, "*", name)); len(matches) > 0 {
			return matches[0], nil
		}
	}
	return "", fmt.Errorf("font %q not found", name)
}

// loadFace opens a scalable font face at the given size in points (72 DPI, so
// points equal pixels).
func loadFace(name string, size float64) (font.Face, error) {
	path, err := findFont(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read font: %w", err)
	}
	f, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font %s: %w", path, err)
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create font face: %w", err)
	}
	return face, nil
}

// fallbackFace is the built-in bitmap face used when no font can be loaded.
func fallbackFace() font.Face {
	return basicfont.Face7x13
}
