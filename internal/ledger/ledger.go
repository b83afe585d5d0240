// Package ledger records one spreadsheet row per processed image.
//
// Each session keeps a results.xlsx table in its results directory. Appending
// reads the whole workbook, adds a row after the last used one and replaces the
// file through a temporary file in the same directory, so a crash mid-write
// never leaves a truncated table behind.
//
// The table has a fixed header. An existing table with a different header is
// never written to.
//
// A cell holds at most excelize.TotalCellChars characters. Findings longer than
// that are recorded as a FindingsSummary instead of cut-off JSON.
package ledger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"github.com/ironsheep/anomaly-detector/internal/detection"
	"github.com/ironsheep/anomaly-detector/internal/logging"
)

// Defaults for New.
const (
	DefaultFileName = "results.xlsx"
	DefaultSheet    = "Results"

	// TimestampLayout formats the Timestamp column.
	TimestampLayout = "2006-01-02 15:04:05"

	// CommentSeparator joins comments in the Comments column.
	CommentSeparator = "; "
)

// Header is the column layout of every table.
var Header = []string{
	"Timestamp",
	"Actual Image Path",
	"Actual Image Name",
	"Annotated Image Path",
	"Annotated Image Name",
	"Findings (JSON)",
	"Comments",
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// WriteError reports that a row could not be appended.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to append to ledger %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ErrHeaderMismatch is wrapped by WriteError when an existing table has another layout.
var ErrHeaderMismatch = errors.New("table header does not match")

// ErrFindingsTruncated is returned by Record.Detections when the Findings cell
// holds a summary because the full list did not fit in one cell.
var ErrFindingsTruncated = errors.New("findings were summarized")

// FindingsSummary replaces the Findings JSON when the detection list is longer
// than a cell can hold (excelize.TotalCellChars characters).
type FindingsSummary struct {
	Truncated bool           `json:"truncated"`
	Count     int            `json:"count"`
	PerModel  map[string]int `json:"per_model"`
}

// Row is the data recorded for one image.
type Row struct {
	Timestamp     time.Time
	ImagePath     string
	AnnotatedPath string
	Detections    []detection.Detection
	Comments      []string
}

// Record is one data row read back from a table.
type Record struct {
	Timestamp     string `json:"timestamp"`
	ImagePath     string `json:"image_path"`
	ImageName     string `json:"image_name"`
	AnnotatedPath string `json:"annotated_path"`
	AnnotatedName string `json:"annotated_name"`
	Findings      string `json:"findings"`
	Comments      string `json:"comments"`
}

// Detections decodes the Findings column.
func (r Record) Detections() ([]detection.Detection, error) {
	if strings.HasPrefix(strings.TrimSpace(r.Findings), "{") {
		var sum FindingsSummary
		if err := json.UnmarshalFromString(r.Findings, &sum); err == nil && sum.Truncated {
			return nil, fmt.Errorf("%w: %d detections", ErrFindingsTruncated, sum.Count)
		}
	}
	var dets []detection.Detection
	if err := json.UnmarshalFromString(r.Findings, &dets); err != nil {
		return nil, fmt.Errorf("failed to decode findings: %w", err)
	}
	return dets, nil
}

// Ledger appends rows to per-session tables. Appends to the same table from
// one process are serialized; concurrent writers in other processes are not
// coordinated.
type Ledger struct {
	fileName string
	sheet    string
	log      logrus.FieldLogger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithFileName overrides the table file name.
func WithFileName(name string) Option {
	return func(l *Ledger) { l.fileName = name }
}

// WithSheet overrides the sheet name.
func WithSheet(name string) Option {
	return func(l *Ledger) { l.sheet = name }
}

// WithLogger sets the logger for warnings about summarized findings.
func WithLogger(log logrus.FieldLogger) Option {
	return func(l *Ledger) { l.log = log }
}

// New creates a Ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		fileName: DefaultFileName,
		sheet:    DefaultSheet,
		locks:    make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = logging.OrDiscard(l.log)
	return l
}

// Path returns the table path inside resultsDir.
func (l *Ledger) Path(resultsDir string) string {
	return filepath.Join(resultsDir, l.fileName)
}

func (l *Ledger) lockFor(path string) *sync.Mutex {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[path]
	if !ok {
		m = &sync.Mutex{}
		l.locks[path] = m
	}
	return m
}

// Append adds row to the table in resultsDir, creating the table with its
// header when absent. Failures are returned as *WriteError and leave any
// existing table unchanged.
func (l *Ledger) Append(resultsDir string, row Row) error {
	path := l.Path(resultsDir)
	lock := l.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	if err := l.append(path, row); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	return nil
}

func (l *Ledger) append(path string, row Row) error {
	f, next, err := l.openForAppend(path)
	if err != nil {
		return err
	}
	defer f.Close()

	cell, err := excelize.CoordinatesToCellName(1, next)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(l.sheet, cell, &[]string{
		row.Timestamp.Format(TimestampLayout),
		row.ImagePath,
		baseName(row.ImagePath),
		row.AnnotatedPath,
		baseName(row.AnnotatedPath),
		l.findingsCell(row),
		strings.Join(row.Comments, CommentSeparator),
	}); err != nil {
		return fmt.Errorf("failed to write row: %w", err)
	}

	return replaceFile(path, f)
}

// openForAppend returns the workbook and the 1-based row number to write next.
func (l *Ledger) openForAppend(path string) (*excelize.File, int, error) {
	f, err := excelize.OpenFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return l.newTable()
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open table: %w", err)
	}

	idx, err := f.GetSheetIndex(l.sheet)
	if err != nil || idx < 0 {
		f.Close()
		return nil, 0, fmt.Errorf("sheet %q missing: %w", l.sheet, ErrHeaderMismatch)
	}

	rows, err := f.GetRows(l.sheet)
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("failed to read table: %w", err)
	}
	if len(rows) == 0 {
		if err := f.SetSheetRow(l.sheet, "A1", &Header); err != nil {
			f.Close()
			return nil, 0, fmt.Errorf("failed to write header: %w", err)
		}
		return f, 2, nil
	}
	if !sameHeader(rows[0]) {
		f.Close()
		return nil, 0, fmt.Errorf("%w: found %q", ErrHeaderMismatch, rows[0])
	}
	return f, len(rows) + 1, nil
}

func (l *Ledger) newTable() (*excelize.File, int, error) {
	f := excelize.NewFile()
	f.SetSheetName(f.GetSheetName(f.GetActiveSheetIndex()), l.sheet)
	if err := f.SetSheetRow(l.sheet, "A1", &Header); err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("failed to write header: %w", err)
	}
	return f, 2, nil
}

// Read returns the data rows of the table in resultsDir. A missing table has
// no rows.
func (l *Ledger) Read(resultsDir string) ([]Record, error) {
	path := l.Path(resultsDir)
	lock := l.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	f, err := excelize.OpenFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open table: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(l.sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read table: %w", err)
	}
	if len(rows) == 0 {
		return []Record{}, nil
	}
	if !sameHeader(rows[0]) {
		return nil, fmt.Errorf("%w: found %q", ErrHeaderMismatch, rows[0])
	}

	records := make([]Record, 0, len(rows)-1)
	for _, r := range rows[1:] {
		cols := make([]string, len(Header))
		copy(cols, r)
		records = append(records, Record{
			Timestamp:     cols[0],
			ImagePath:     cols[1],
			ImageName:     cols[2],
			AnnotatedPath: cols[3],
			AnnotatedName: cols[4],
			Findings:      cols[5],
			Comments:      cols[6],
		})
	}
	return records, nil
}

// replaceFile writes f next to path and renames it over path.
func replaceFile(path string, f *excelize.File) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := f.WriteTo(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write table: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync table: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close table: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace table: %w", err)
	}
	return nil
}

func sameHeader(row []string) bool {
	if len(row) != len(Header) {
		return false
	}
	for i, h := range Header {
		if strings.TrimSpace(row[i]) != h {
			return false
		}
	}
	return true
}

func baseName(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Base(path)
}

// findingsCell returns the Findings text for row. A list too long for one cell
// is replaced by a FindingsSummary with per-model counts.
func (l *Ledger) findingsCell(row Row) string {
	s := findingsJSON(row.Detections)
	if utf8.RuneCountInString(s) <= excelize.TotalCellChars {
		return s
	}

	sum := FindingsSummary{Truncated: true, Count: len(row.Detections), PerModel: map[string]int{}}
	for _, d := range row.Detections {
		sum.PerModel[d.Model]++
	}
	l.log.WithFields(logrus.Fields{
		logging.FieldImage: row.ImagePath,
		"detections":       sum.Count,
		"length":           len(s),
	}).Warn("findings too long for one cell, recording a summary")

	out, err := json.MarshalToString(sum)
	if err != nil {
		return fmt.Sprintf(`{"truncated":true,"count":%d}`, sum.Count)
	}
	return out
}

// findingsJSON renders detections compactly, falling back to Go's %v form.
func findingsJSON(dets []detection.Detection) string {
	if dets == nil {
		dets = []detection.Detection{}
	}
	s, err := json.MarshalToString(dets)
	if err != nil {
		return fmt.Sprintf("%v", dets)
	}
	return s
}
