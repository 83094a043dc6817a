package frameprocessing

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"safety-worker-go/internal/models"
)

// Renderer draws annotations onto frames and encodes snapshots.
type Renderer struct {
	quality int
}

func NewRenderer(jpegQuality int) *Renderer {
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = 90
	}
	return &Renderer{quality: jpegQuality}
}

// Draw paints boxes and labels in place.
func (r *Renderer) Draw(frame models.Frame, annotations []models.Annotation) error {
	if len(annotations) == 0 {
		return nil
	}
	mat, err := matOf(frame)
	if err != nil {
		return err
	}
	for _, a := range annotations {
		rect := clampRect(a.Box, mat.Cols(), mat.Rows())
		gocv.Rectangle(mat, rect, a.Color, 2)
		if a.Label != "" {
			drawLabel(mat, a.Label, rect.Min.X, rect.Min.Y-10, a.Color)
		}
	}
	return nil
}

// Encode returns the frame as JPEG bytes.
func (r *Renderer) Encode(frame models.Frame) ([]byte, error) {
	mat, err := matOf(frame)
	if err != nil {
		return nil, err
	}
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, *mat, []int{gocv.IMWriteJpegQuality, r.quality})
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	defer buf.Close()

	// GetBytes aliases native memory freed by Close.
	src := buf.GetBytes()
	out := make([]byte, len(src))
	copy(out, src)
	return out, nil
}

func drawLabel(mat *gocv.Mat, text string, x, y int, textColor color.RGBA) {
	fontFace := gocv.FontHersheySimplex
	fontScale := 0.5
	thickness := 2
	if y < 15 {
		y = 15
	}

	size := gocv.GetTextSize(text, fontFace, fontScale, thickness)
	padding := 3
	bg := image.Rect(x-padding, y-size.Y-padding, x+size.X+padding, y+padding)
	gocv.Rectangle(mat, bg, color.RGBA{A: 200}, -1)
	gocv.PutText(mat, text, image.Pt(x, y), fontFace, fontScale, textColor, thickness)
}

func clampRect(b models.Box, width, height int) image.Rectangle {
	x1 := max(0, min(width-2, int(b.X1)))
	y1 := max(0, min(height-2, int(b.Y1)))
	x2 := max(x1+1, min(width-1, int(b.X2)))
	y2 := max(y1+1, min(height-1, int(b.Y2)))
	return image.Rect(x1, y1, x2, y2)
}
