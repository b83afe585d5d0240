//go:build gocv

package models

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ironsheep/anomaly-detector/internal/detection"
)

// ONNXModel runs a YOLO ONNX export through the OpenCV DNN module.
type ONNXModel struct {
	mu        sync.Mutex
	net       gocv.Net
	head      YOLOHead
	inputSize int
}

func newONNX(spec Spec, path string) (detection.Model, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("model weights: %w", err)
	}

	net := gocv.ReadNetFromONNX(path)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load network from %s", path)
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set DNN backend: %w", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set DNN target: %w", err)
	}

	return &ONNXModel{
		net:       net,
		head:      YOLOHead{Labels: spec.Labels, Confidence: spec.Confidence, IoU: spec.IoU},
		inputSize: spec.InputSize,
	}, nil
}

// Predict implements detection.Model. Inference is serialized per network.
func (m *ONNXModel) Predict(ctx context.Context, imagePath string) ([]detection.Raw, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat := gocv.IMRead(imagePath, gocv.IMReadColor)
	if mat.Empty() {
		return nil, fmt.Errorf("failed to read image %s", imagePath)
	}
	defer mat.Close()

	blob := gocv.BlobFromImage(
		mat,
		1.0/255.0,
		image.Pt(m.inputSize, m.inputSize),
		gocv.NewScalar(0, 0, 0, 0),
		true,
		false,
	)
	defer blob.Close()

	m.mu.Lock()
	m.net.SetInput(blob, "")
	out := m.net.Forward("")
	m.mu.Unlock()
	defer out.Close()

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("failed to read network output: %w", err)
	}

	scaleX := float64(mat.Cols()) / float64(m.inputSize)
	scaleY := float64(mat.Rows()) / float64(m.inputSize)
	return m.head.Decode(data, out.Size(), scaleX, scaleY)
}

// Close releases the network.
func (m *ONNXModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.net.Close()
}
