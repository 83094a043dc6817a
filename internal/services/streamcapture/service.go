package streamcapture

import (
	"fmt"
	"image"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"safety-worker-go/internal/models"
)

// GocvOpener opens cameras and files through OpenCV.
type GocvOpener struct{}

func (GocvOpener) Open(address string) (Capture, error) {
	var (
		vc  *gocv.VideoCapture
		err error
	)

	switch {
	case IsFileAddress(address):
		vc, err = gocv.VideoCaptureFile(strings.TrimPrefix(address, "file://"))
	case strings.HasPrefix(address, "rtsp://") || strings.HasPrefix(address, "rtsps://"):
		configureFFmpegOptions()
		vc, err = gocv.OpenVideoCaptureWithAPI(address, gocv.VideoCaptureFFmpeg)
	default:
		vc, err = gocv.OpenVideoCapture(address)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", address, err)
	}

	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("video capture is not opened for %s", address)
	}

	// Minimal buffer so a slow loop reads recent frames
	vc.Set(gocv.VideoCaptureBufferSize, 1)

	log.Debug().
		Str("address", address).
		Float64("fps", vc.Get(gocv.VideoCaptureFPS)).
		Float64("width", vc.Get(gocv.VideoCaptureFrameWidth)).
		Float64("height", vc.Get(gocv.VideoCaptureFrameHeight)).
		Msg("VideoCapture opened")

	return &gocvCapture{vc: vc}, nil
}

type gocvCapture struct {
	vc *gocv.VideoCapture
}

func (c *gocvCapture) Read() (models.Frame, bool) {
	mat := gocv.NewMat()
	if ok := c.vc.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		return nil, false
	}
	return &MatFrame{mat: mat}, true
}

func (c *gocvCapture) Close() error {
	return c.vc.Close()
}

// MatFrame is a frame backed by an OpenCV Mat.
type MatFrame struct {
	mat gocv.Mat
}

// NewMatFrame takes ownership of mat.
func NewMatFrame(mat gocv.Mat) *MatFrame {
	return &MatFrame{mat: mat}
}

func (f *MatFrame) Size() (int, int) {
	return f.mat.Cols(), f.mat.Rows()
}

func (f *MatFrame) Resize(width, height int) error {
	if f.mat.Cols() == width && f.mat.Rows() == height {
		return nil
	}
	dst := gocv.NewMat()
	gocv.Resize(f.mat, &dst, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)
	if dst.Empty() {
		dst.Close()
		return fmt.Errorf("resize to %dx%d produced an empty frame", width, height)
	}
	f.mat.Close()
	f.mat = dst
	return nil
}

// Mat exposes the underlying image for inference and drawing.
func (f *MatFrame) Mat() *gocv.Mat {
	return &f.mat
}

func (f *MatFrame) Close() error {
	return f.mat.Close()
}

var ffmpegOnce sync.Once

// configureFFmpegOptions sets the low latency RTSP options OpenCV's FFmpeg
// backend reads from the environment. Done once per process.
func configureFFmpegOptions() {
	ffmpegOnce.Do(func() {
		if os.Getenv("OPENCV_FFMPEG_CAPTURE_OPTIONS") != "" {
			return
		}

		ffmpegOptions := map[string]string{
			"rtsp_transport":  "tcp",
			"buffer_size":     "2097152",
			"max_delay":       "500000",
			"stimeout":        "5000000",
			"rw_timeout":      "5000000",
			"flags":           "low_delay",
			"fflags":          "nobuffer+flush_packets",
			"analyzeduration": "500000",
			"reconnect":       "1",
		}

		keys := make([]string, 0, len(ffmpegOptions))
		for k := range ffmpegOptions {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		opts := make([]string, 0, len(keys))
		for _, k := range keys {
			opts = append(opts, k+";"+ffmpegOptions[k])
		}
		value := strings.Join(opts, "|")
		os.Setenv("OPENCV_FFMPEG_CAPTURE_OPTIONS", value)

		log.Info().Str("ffmpeg_options", value).Msg("FFmpeg options configured for OpenCV")
	})
}
