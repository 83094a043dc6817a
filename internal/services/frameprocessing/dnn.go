package frameprocessing

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"
	"gopkg.in/yaml.v3"

	"safety-worker-go/internal/models"
)

// minScore drops hopeless proposals before NMS. Strategies apply the real
// threshold later.
const minScore = 0.1

type DNNOptions struct {
	InputSize    int
	NMSThreshold float32
}

// DNNDetector runs a YOLOv8 ONNX export through OpenCV's dnn module.
type DNNDetector struct {
	net        gocv.Net
	classNames []string
	opts       DNNOptions
}

func NewDNNDetector(modelPath string, opts DNNOptions) (*DNNDetector, error) {
	if opts.InputSize <= 0 {
		opts.InputSize = 640
	}
	if opts.NMSThreshold <= 0 {
		opts.NMSThreshold = 0.45
	}

	names, err := LoadClassNames(modelPath)
	if err != nil {
		return nil, err
	}

	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load model %s", modelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	log.Info().
		Str("model_path", modelPath).
		Int("classes", len(names)).
		Int("input_size", opts.InputSize).
		Msg("DNN model loaded")

	return &DNNDetector{net: net, classNames: names, opts: opts}, nil
}

func (d *DNNDetector) Detect(ctx context.Context, frame models.Frame) ([]models.RawDetection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mat, err := matOf(frame)
	if err != nil {
		return nil, err
	}

	size := d.opts.InputSize
	blob := gocv.BlobFromImage(*mat, 1.0/255.0, image.Pt(size, size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()

	dims := out.Size()
	if len(dims) != 3 {
		return nil, fmt.Errorf("unexpected model output shape %v", dims)
	}
	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read model output: %w", err)
	}

	scaleX := float64(mat.Cols()) / float64(size)
	scaleY := float64(mat.Rows()) / float64(size)
	proposals := decodeYOLOv8(data, dims[1], dims[2], d.classNames, scaleX, scaleY)
	if len(proposals) == 0 {
		return nil, nil
	}

	nms := func(rects []image.Rectangle, scores []float32) []int {
		return gocv.NMSBoxes(rects, scores, minScore, d.opts.NMSThreshold)
	}
	return suppressPerClass(proposals, nms), nil
}

// nmsFunc returns the indices of the boxes to keep.
type nmsFunc func(rects []image.Rectangle, scores []float32) []int

// suppressPerClass runs nms separately for each class so that overlapping
// boxes of different classes, such as a person next to a forklift, never
// suppress each other. Survivors keep their proposal order.
func suppressPerClass(proposals []models.RawDetection, nms nmsFunc) []models.RawDetection {
	groups := make(map[string][]int)
	var order []string
	for i, p := range proposals {
		if _, ok := groups[p.Class]; !ok {
			order = append(order, p.Class)
		}
		groups[p.Class] = append(groups[p.Class], i)
	}

	var keep []int
	for _, class := range order {
		idx := groups[class]
		rects := make([]image.Rectangle, len(idx))
		scores := make([]float32, len(idx))
		for j, i := range idx {
			b := proposals[i].Box
			rects[j] = image.Rect(int(b[0]), int(b[1]), int(b[2]), int(b[3]))
			scores[j] = float32(proposals[i].Confidence)
		}
		for _, j := range nms(rects, scores) {
			if j >= 0 && j < len(idx) {
				keep = append(keep, idx[j])
			}
		}
	}
	sort.Ints(keep)

	dets := make([]models.RawDetection, 0, len(keep))
	for _, i := range keep {
		dets = append(dets, proposals[i])
	}
	return dets
}

func (d *DNNDetector) Close() error {
	return d.net.Close()
}

// decodeYOLOv8 reads a [1, 4+classes, anchors] output. Each anchor column is
// cx, cy, w, h in input pixels followed by one score per class.
func decodeYOLOv8(data []float32, rows, cols int, names []string, scaleX, scaleY float64) []models.RawDetection {
	if rows < 5 || len(data) < rows*cols {
		return nil
	}
	classes := rows - 4

	var out []models.RawDetection
	for a := 0; a < cols; a++ {
		best, bestScore := -1, float32(0)
		for c := 0; c < classes; c++ {
			if s := data[(4+c)*cols+a]; s > bestScore {
				best, bestScore = c, s
			}
		}
		if best < 0 || bestScore < minScore {
			continue
		}

		cx := float64(data[a])
		cy := float64(data[cols+a])
		w := float64(data[2*cols+a])
		h := float64(data[3*cols+a])

		out = append(out, models.RawDetection{
			Class:      className(names, best),
			Confidence: float64(bestScore),
			Box: []float64{
				(cx - w/2) * scaleX,
				(cy - h/2) * scaleY,
				(cx + w/2) * scaleX,
				(cy + h/2) * scaleY,
			},
		})
	}
	return out
}

func className(names []string, id int) string {
	if id < len(names) && names[id] != "" {
		return names[id]
	}
	return fmt.Sprintf("class_%d", id)
}

// LoadClassNames reads the class list that sits next to a model, e.g.
// yolomodels/ppe.yaml for yolomodels/ppe.onnx. Both the list form and the
// ultralytics id-to-name map are accepted.
func LoadClassNames(modelPath string) ([]string, error) {
	path := strings.TrimSuffix(modelPath, filepath.Ext(modelPath)) + ".yaml"
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read class names for %s: %w", modelPath, err)
	}
	return parseClassNames(raw)
}

func parseClassNames(raw []byte) ([]string, error) {
	var doc struct {
		Names yaml.Node `yaml:"names"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse class names: %w", err)
	}

	switch doc.Names.Kind {
	case yaml.SequenceNode:
		var names []string
		if err := doc.Names.Decode(&names); err != nil {
			return nil, fmt.Errorf("decode class list: %w", err)
		}
		return names, nil
	case yaml.MappingNode:
		var byID map[int]string
		if err := doc.Names.Decode(&byID); err != nil {
			return nil, fmt.Errorf("decode class map: %w", err)
		}
		maxID := -1
		for id := range byID {
			if id < 0 {
				return nil, fmt.Errorf("negative class id %d", id)
			}
			maxID = max(maxID, id)
		}
		names := make([]string, maxID+1)
		for id, n := range byID {
			names[id] = n
		}
		return names, nil
	default:
		return nil, fmt.Errorf("class names file has no names list")
	}
}
