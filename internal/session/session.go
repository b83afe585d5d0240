// Package session manages the per-batch working directories.
//
// Layout under the sessions root:
//
//	<root>/<id>/uploads/             staged copies of the submitted images
//	<root>/<id>/results/             annotated_<name> images and results.xlsx
//
// A session ID is the local creation time formatted as 2006-01-02_15-04-05.
// Sessions created within the same second get a -2, -3, ... suffix.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// IDLayout is the time layout of session IDs.
const IDLayout = "2006-01-02_15-04-05"

// Subdirectory names.
const (
	UploadsDir = "uploads"
	ResultsDir = "results"

	// AnnotatedPrefix is prepended to the base name of each annotated image.
	AnnotatedPrefix = "annotated_"
)

// maxSuffix bounds the collision search within one second.
const maxSuffix = 1000

// CreationError reports that a session directory could not be prepared.
type CreationError struct {
	Path string
	Err  error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("failed to create session %s: %v", e.Path, e.Err)
}

func (e *CreationError) Unwrap() error { return e.Err }

// ErrNotFound is returned by Open for an unknown session ID.
var ErrNotFound = errors.New("session not found")

// Session is one prepared working directory.
type Session struct {
	ID         string    `json:"id"`
	Dir        string    `json:"dir"`
	UploadDir  string    `json:"upload_dir"`
	ResultsDir string    `json:"results_dir"`
	CreatedAt  time.Time `json:"created_at"`
}

// Manager creates and resolves sessions below a root directory.
type Manager struct {
	root string
	now  func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager returns a Manager rooted at root.
func NewManager(root string, opts ...Option) *Manager {
	m := &Manager{root: root, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Root returns the sessions root directory.
func (m *Manager) Root() string { return m.root }

// EnsureBaseDirs creates the sessions root. It is safe to call repeatedly.
func (m *Manager) EnsureBaseDirs() error {
	if err := os.MkdirAll(m.root, 0755); err != nil {
		return &CreationError{Path: m.root, Err: err}
	}
	return nil
}

// Create prepares a new session with both subdirectories. It never reuses an
// existing directory. On failure nothing of the new session is left on disk.
func (m *Manager) Create() (*Session, error) {
	if err := m.EnsureBaseDirs(); err != nil {
		return nil, err
	}

	created := m.now()
	base := created.Format(IDLayout)

	var (
		id  string
		dir string
	)
	for n := 1; ; n++ {
		if n > maxSuffix {
			return nil, &CreationError{Path: filepath.Join(m.root, base), Err: errors.New("too many sessions in one second")}
		}
		id = base
		if n > 1 {
			id = base + "-" + strconv.Itoa(n)
		}
		dir = filepath.Join(m.root, id)

		err := os.Mkdir(dir, 0755)
		if err == nil {
			break
		}
		if errors.Is(err, os.ErrExist) {
			continue
		}
		return nil, &CreationError{Path: dir, Err: err}
	}

	s := newSession(id, dir, created)
	for _, sub := range []string{s.UploadDir, s.ResultsDir} {
		if err := os.Mkdir(sub, 0755); err != nil {
			os.RemoveAll(dir)
			return nil, &CreationError{Path: sub, Err: err}
		}
	}
	return s, nil
}

// Open resolves an existing session. The ID must be a single path element.
func (m *Manager) Open(id string) (*Session, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return nil, fmt.Errorf("invalid session id %q", id)
	}

	dir := filepath.Join(m.root, id)
	s := newSession(id, dir, time.Time{})
	for _, d := range []string{s.Dir, s.UploadDir, s.ResultsDir} {
		info, err := os.Stat(d)
		if err != nil || !info.IsDir() {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
	}

	if len(id) >= len(IDLayout) {
		if t, err := time.ParseInLocation(IDLayout, id[:len(IDLayout)], time.Local); err == nil {
			s.CreatedAt = t
		}
	}
	return s, nil
}

func newSession(id, dir string, created time.Time) *Session {
	return &Session{
		ID:         id,
		Dir:        dir,
		UploadDir:  filepath.Join(dir, UploadsDir),
		ResultsDir: filepath.Join(dir, ResultsDir),
		CreatedAt:  created,
	}
}

// AnnotatedPath returns where the annotated copy of imagePath is written.
func (s *Session) AnnotatedPath(imagePath string) string {
	return filepath.Join(s.ResultsDir, AnnotatedPrefix+filepath.Base(imagePath))
}
