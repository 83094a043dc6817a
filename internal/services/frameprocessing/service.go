package frameprocessing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gocv.io/x/gocv"

	"safety-worker-go/internal/config"
	"safety-worker-go/internal/models"
)

// ErrUnsupportedFrame is returned when a frame carries no OpenCV image.
var ErrUnsupportedFrame = errors.New("frame has no OpenCV image")

// Detector runs the object detection model on one frame.
type Detector interface {
	Detect(ctx context.Context, frame models.Frame) ([]models.RawDetection, error)
	Close() error
}

// MatFrame is a frame backed by an OpenCV Mat.
type MatFrame interface {
	models.Frame
	Mat() *gocv.Mat
}

func matOf(frame models.Frame) (*gocv.Mat, error) {
	mf, ok := frame.(MatFrame)
	if !ok || mf.Mat() == nil || mf.Mat().Empty() {
		return nil, ErrUnsupportedFrame
	}
	return mf.Mat(), nil
}

// NewDetector loads the model for one task. The backend comes from
// DETECTOR_BACKEND: "dnn" runs an ONNX export locally, "grpc" calls the
// inference service.
func NewDetector(cfg *config.Config, modelPath string, cameraID uint) (Detector, error) {
	switch strings.ToLower(cfg.DetectorBackend) {
	case "", "dnn":
		return NewDNNDetector(modelPath, DNNOptions{
			InputSize:    cfg.ModelInputSize,
			NMSThreshold: float32(cfg.NMSThreshold),
		})
	case "grpc":
		return NewRemoteDetector(cfg, modelPath, cameraID)
	default:
		return nil, fmt.Errorf("unknown detector backend %q", cfg.DetectorBackend)
	}
}
