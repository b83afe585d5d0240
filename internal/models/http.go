package models

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"

	"github.com/ironsheep/anomaly-detector/internal/detection"
)

// maxResponseBytes bounds how much of a prediction response is read.
const maxResponseBytes = 16 << 20

// HTTPModel sends images to a remote inference service.
//
// The image is POSTed as multipart/form-data in the "file" field. The service
// answers with
//
//	{"detections": [{"bbox": [x1, y1, x2, y2], "confidence": 0.9, "label": "fire", "class": 0}]}
//
// where "class" indexes the configured labels and is used when "label" is empty.
type HTTPModel struct {
	url        string
	labels     []string
	httpClient *http.Client
}

type httpDetection struct {
	BBox       []float64 `json:"bbox"`
	Confidence float64   `json:"confidence"`
	Label      string    `json:"label"`
	Class      *int      `json:"class"`
}

type httpResponse struct {
	Detections []httpDetection `json:"detections"`
}

// NewHTTPModel creates an HTTP backend. A nil client gets one with the model timeout.
func NewHTTPModel(spec Spec, client *http.Client) *HTTPModel {
	if client == nil {
		client = &http.Client{Timeout: spec.Timeout}
	}
	return &HTTPModel{url: spec.URL, labels: spec.Labels, httpClient: client}
}

// Predict implements detection.Model.
func (m *HTTPModel) Predict(ctx context.Context, imagePath string) ([]detection.Raw, error) {
	body, contentType, err := multipartImage(imagePath)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("prediction request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("prediction service returned status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var out httpResponse
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	raws := make([]detection.Raw, 0, len(out.Detections))
	for _, d := range out.Detections {
		raws = append(raws, detection.Raw{
			BBox:       d.BBox,
			Confidence: d.Confidence,
			Label:      m.label(d),
		})
	}
	return raws, nil
}

// label names an out-of-range class "class_<n>", as YOLOHead does.
func (m *HTTPModel) label(d httpDetection) string {
	if d.Label != "" || d.Class == nil {
		return d.Label
	}
	c := *d.Class
	if c >= 0 && c < len(m.labels) {
		return m.labels[c]
	}
	return fmt.Sprintf("class_%d", c)
}

func multipartImage(imagePath string) (*bytes.Buffer, string, error) {
	f, err := os.Open(imagePath)
	if err != nil {
		return nil, "", fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(imagePath))
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
