// Package ocr exposes Tesseract text recognition as a detection model.
//
// Each recognized word becomes one detection labelled with the normalized word,
// so rule files can react to signage such as "exit", "danger" or "fire".
// Recognition runs through gosseract and therefore needs cgo and the Tesseract
// libraries at build time.
//
// # Prerequisites
//
// Tesseract and its language data must be installed on the system:
//   - Ubuntu/Debian: apt-get install tesseract-ocr libtesseract-dev tesseract-ocr-eng
//   - macOS: brew install tesseract
//
// Builds without cgo still compile; New then returns ErrUnavailable.
//
// # Confidence
//
// Tesseract reports word confidence on a 0..100 scale. It is divided by 100 so
// it fits the detection confidence range.
package ocr
