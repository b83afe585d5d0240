package session

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Stage copies the submitted images into the uploads directory.
//
// The returned slices are parallel to paths: staged[i] is the copy of paths[i]
// and errs[i] is nil, or staged[i] is "" and errs[i] says why the file could
// not be copied. A base name already present in uploads gets a _2, _3, ...
// suffix before its extension.
func (s *Session) Stage(paths []string) (staged []string, errs []error) {
	staged = make([]string, len(paths))
	errs = make([]error, len(paths))
	for i, p := range paths {
		dst, err := s.stageOne(p)
		if err != nil {
			errs[i] = err
			continue
		}
		staged[i] = dst
	}
	return staged, errs
}

func (s *Session) stageOne(src string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("failed to open upload: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat upload: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("upload %s is a directory", src)
	}

	out, dst, err := createUnique(s.UploadDir, filepath.Base(src))
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return "", fmt.Errorf("failed to copy upload: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("failed to copy upload: %w", err)
	}
	return dst, nil
}

// createUnique creates dir/name exclusively, adding a numeric suffix on collision.
func createUnique(dir, name string) (*os.File, string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for n := 1; n <= maxSuffix; n++ {
		candidate := name
		if n > 1 {
			candidate = stem + "_" + strconv.Itoa(n) + ext
		}
		path := filepath.Join(dir, candidate)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", fmt.Errorf("failed to create upload copy: %w", err)
		}
	}
	return nil, "", fmt.Errorf("too many uploads named %s", name)
}
