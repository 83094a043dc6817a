package strategy

import "safety-worker-go/internal/models"

const DefaultTargetClass = "Pallets_bad"

// Threshold turns every confident detection of one class into its own
// candidate. The box is drawn only if that candidate is accepted.
type Threshold struct {
	target string
}

func NewThreshold(target string) *Threshold {
	if target == "" {
		target = DefaultTargetClass
	}
	return &Threshold{target: target}
}

func (t *Threshold) Kind() Kind { return KindThreshold }

func (t *Threshold) Evaluate(raw []models.RawDetection, threshold float64) Result {
	dets, dropped := filter(KindThreshold, raw, threshold)
	res := Result{Dropped: dropped}

	for _, d := range dets {
		if d.Class != t.target {
			continue
		}
		box := d.Box
		res.Candidates = append(res.Candidates, models.Candidate{
			Label:      d.Class,
			Confidence: d.Confidence,
			Box:        &box,
			Annotations: []models.Annotation{{
				Box:   box,
				Label: label(d.Class, d.Confidence),
				Color: models.ColorRed,
			}},
		})
	}
	return res
}
