package strategy

import (
	"sort"
	"strings"

	"safety-worker-go/internal/models"
)

// Containment checks that every person wears the required PPE, where wearing
// means the PPE box lies fully inside the person box.
type Containment struct {
	required []string
	lookup   map[string]struct{}
}

func NewContainment(scenarioClasses []string) *Containment {
	c := &Containment{lookup: make(map[string]struct{}, len(scenarioClasses))}
	for _, s := range scenarioClasses {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, dup := c.lookup[s]; dup {
			continue
		}
		c.lookup[s] = struct{}{}
		c.required = append(c.required, s)
	}
	sort.Strings(c.required)
	return c
}

func (c *Containment) Kind() Kind { return KindContainment }

type personCheck struct {
	box      models.Box
	missing  map[string]struct{}
	detected []string
}

func (c *Containment) Evaluate(raw []models.RawDetection, threshold float64) Result {
	dets, dropped := filter(KindContainment, raw, threshold)
	res := Result{Dropped: dropped}

	var persons []*personCheck
	for _, d := range dets {
		if d.Class != classPerson {
			continue
		}
		missing := make(map[string]struct{}, len(c.required))
		for _, r := range c.required {
			missing[r] = struct{}{}
		}
		persons = append(persons, &personCheck{box: d.Box, missing: missing})
		res.Annotations = append(res.Annotations, models.Annotation{
			Box:   d.Box,
			Label: label("Person", d.Confidence),
			Color: models.ColorBlue,
		})
	}

	if len(persons) == 0 {
		res.SkipFrame = true
		return res
	}

	for _, d := range dets {
		class := strings.ToLower(d.Class)
		if _, ok := c.lookup[class]; !ok {
			continue
		}
		for _, p := range persons {
			if !p.box.Contains(d.Box) {
				continue
			}
			res.Annotations = append(res.Annotations, models.Annotation{
				Box:   d.Box,
				Label: label(d.Class, d.Confidence),
				Color: models.ColorGreen,
			})
			p.detected = append(p.detected, class)
			delete(p.missing, class)
		}
	}

	// One candidate per frame. Its label joins each non-compliant person's
	// missing classes, so the debounce key is the exact combination.
	var groups, flat []string
	for _, p := range persons {
		if len(p.missing) == 0 {
			continue
		}
		missing := make([]string, 0, len(p.missing))
		for m := range p.missing {
			missing = append(missing, m)
		}
		sort.Strings(missing)
		groups = append(groups, strings.Join(missing, ","))
		flat = append(flat, missing...)
	}
	if len(groups) > 0 {
		res.Candidates = []models.Candidate{{
			Label:   strings.Join(groups, ","),
			Missing: flat,
		}}
	}
	return res
}
