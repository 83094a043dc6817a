package strategy

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"safety-worker-go/internal/models"
)

// ErrMalformedDetection marks a raw detection whose fields could not be used.
var ErrMalformedDetection = errors.New("malformed detection")

// Result is what a strategy decided about one frame.
type Result struct {
	// Candidates are proposed incidents, in detection order.
	Candidates []models.Candidate
	// Annotations are drawn on the snapshot whenever the frame is encoded.
	Annotations []models.Annotation
	// SkipFrame tells the loop there is nothing to check on this frame.
	SkipFrame bool
	// Dropped counts detections rejected as malformed.
	Dropped int
}

// Strategy turns one frame's raw detections into candidate incidents.
// Implementations are stateless and safe to share.
type Strategy interface {
	Kind() Kind
	Evaluate(raw []models.RawDetection, threshold float64) Result
}

type Options struct {
	ProximityThresholdPx float64
	// ScenarioClasses are the PPE classes every person must wear.
	ScenarioClasses []string
	// TargetClass overrides the threshold strategy's class.
	TargetClass string
}

// New builds the strategy for kind. It is called once per task start.
func New(kind Kind, opts Options) (Strategy, error) {
	switch kind {
	case KindProximity:
		return NewProximity(opts.ProximityThresholdPx), nil
	case KindContainment:
		return NewContainment(opts.ScenarioClasses), nil
	case KindThreshold:
		return NewThreshold(opts.TargetClass), nil
	default:
		return nil, fmt.Errorf("unsupported strategy kind %s", kind)
	}
}

// parseDetection validates one raw detection.
func parseDetection(raw models.RawDetection) (models.Detection, error) {
	if raw.Class == "" {
		return models.Detection{}, fmt.Errorf("%w: empty class", ErrMalformedDetection)
	}
	if raw.Confidence < 0 || raw.Confidence > 1 {
		return models.Detection{}, fmt.Errorf("%w: confidence %v out of range", ErrMalformedDetection, raw.Confidence)
	}
	box, err := models.BoxFromSlice(raw.Box)
	if err != nil {
		return models.Detection{}, fmt.Errorf("%w: %w", ErrMalformedDetection, err)
	}
	return models.Detection{Class: raw.Class, Confidence: raw.Confidence, Box: box}, nil
}

// filter keeps the well formed detections at or above threshold. Malformed
// ones are logged and counted, never fatal.
func filter(kind Kind, raw []models.RawDetection, threshold float64) ([]models.Detection, int) {
	out := make([]models.Detection, 0, len(raw))
	dropped := 0
	for i, r := range raw {
		det, err := parseDetection(r)
		if err != nil {
			dropped++
			log.Warn().
				Err(err).
				Str("strategy", kind.String()).
				Int("index", i).
				Msg("Skipping detection")
			continue
		}
		if det.Confidence < threshold {
			continue
		}
		out = append(out, det)
	}
	return out, dropped
}

func label(class string, confidence float64) string {
	return fmt.Sprintf("%s %.2f", class, confidence)
}
