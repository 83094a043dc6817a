package strategy

import "safety-worker-go/internal/models"

const (
	ProximityLabel = "person_forklift_proximity"

	classPerson   = "person"
	classForklift = "forklift"
)

// Proximity flags a frame when any person is closer than a pixel threshold to
// any forklift, measured between box centers.
type Proximity struct {
	thresholdPx float64
}

func NewProximity(thresholdPx float64) *Proximity {
	return &Proximity{thresholdPx: thresholdPx}
}

func (p *Proximity) Kind() Kind { return KindProximity }

func (p *Proximity) Evaluate(raw []models.RawDetection, threshold float64) Result {
	dets, dropped := filter(KindProximity, raw, threshold)
	res := Result{Dropped: dropped}

	var persons, forklifts []models.Box
	for _, d := range dets {
		res.Annotations = append(res.Annotations, models.Annotation{
			Box:   d.Box,
			Label: label(d.Class, d.Confidence),
			Color: models.ColorBlue,
		})
		switch d.Class {
		case classPerson:
			persons = append(persons, d.Box)
		case classForklift:
			forklifts = append(forklifts, d.Box)
		}
	}

	if p.near(persons, forklifts) {
		res.Candidates = []models.Candidate{{Label: ProximityLabel}}
	}
	return res
}

// near stops at the first qualifying pair.
func (p *Proximity) near(persons, forklifts []models.Box) bool {
	for _, person := range persons {
		for _, forklift := range forklifts {
			if models.CenterDistance(person, forklift) < p.thresholdPx {
				return true
			}
		}
	}
	return false
}
