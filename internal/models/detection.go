package models

import (
	"fmt"
	"image/color"
	"math"
	"strconv"
	"strings"
	"time"
)

// Frame is one decoded video frame. Implementations may hold native memory
// and must be closed by whoever read them.
type Frame interface {
	Size() (width, height int)
	Resize(width, height int) error
	Close() error
}

// RawDetection is what a detector returns for a single object.
type RawDetection struct {
	Class      string    `json:"class"`
	Confidence float64   `json:"confidence"`
	Box        []float64 `json:"box"` // x1, y1, x2, y2
}

// Box is an axis aligned bounding box in pixel coordinates.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// BoxFromSlice validates a raw [x1 y1 x2 y2] slice.
func BoxFromSlice(v []float64) (Box, error) {
	if len(v) != 4 {
		return Box{}, fmt.Errorf("box needs 4 coordinates, got %d", len(v))
	}
	for _, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return Box{}, fmt.Errorf("box coordinate %v is not finite", c)
		}
	}
	if v[2] < v[0] || v[3] < v[1] {
		return Box{}, fmt.Errorf("box corners inverted: %v", v)
	}
	return Box{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]}, nil
}

func (b Box) Center() (float64, float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Contains reports whether inner lies fully inside b, edges inclusive.
func (b Box) Contains(inner Box) bool {
	return inner.X1 >= b.X1 && inner.Y1 >= b.Y1 && inner.X2 <= b.X2 && inner.Y2 <= b.Y2
}

// CenterDistance is the Euclidean distance between two box centers.
func CenterDistance(a, b Box) float64 {
	ax, ay := a.Center()
	bx, by := b.Center()
	return math.Hypot(ax-bx, ay-by)
}

func (b Box) String() string {
	parts := []string{
		strconv.FormatFloat(b.X1, 'f', 1, 64),
		strconv.FormatFloat(b.Y1, 'f', 1, 64),
		strconv.FormatFloat(b.X2, 'f', 1, 64),
		strconv.FormatFloat(b.Y2, 'f', 1, 64),
	}
	return strings.Join(parts, ",")
}

// Detection is a raw detection that passed validation and the confidence
// filter.
type Detection struct {
	Class      string
	Confidence float64
	Box        Box
}

// Annotation is something to draw on the snapshot.
type Annotation struct {
	Box   Box
	Label string
	Color color.RGBA
}

var (
	ColorBlue  = color.RGBA{R: 0, G: 0, B: 255, A: 255}
	ColorGreen = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	ColorRed   = color.RGBA{R: 255, G: 0, B: 0, A: 255}
)

// Candidate is an event a strategy proposes for persistence. Box is nil for
// frame level events; Annotations are drawn only if the candidate is
// accepted.
type Candidate struct {
	Label       string
	Confidence  float64
	Box         *Box
	Missing     []string
	Annotations []Annotation
}

// BBoxString is the serialized bounding box stored on the incident.
func (c Candidate) BBoxString() string {
	if c.Box == nil {
		return ""
	}
	return c.Box.String()
}

// IncidentEvent is published after an incident is stored. It never carries
// the snapshot bytes.
type IncidentEvent struct {
	IncidentID   uint      `json:"incident_id"`
	RecordingID  uint      `json:"recording_id"`
	CameraID     uint      `json:"camera_id"`
	TaskID       string    `json:"task_id"`
	Strategy     string    `json:"strategy"`
	ClassName    string    `json:"class_name"`
	Confidence   float64   `json:"confidence"`
	BBox         string    `json:"bbox,omitempty"`
	Missing      []string  `json:"missing,omitempty"`
	SnapshotSize int       `json:"snapshot_size"`
	Timestamp    time.Time `json:"timestamp"`
	WorkerID     string    `json:"worker_id"`
}
