package strategy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safety-worker-go/internal/config"
	"safety-worker-go/internal/models"
)

func det(class string, conf float64, box ...float64) models.RawDetection {
	return models.RawDetection{Class: class, Confidence: conf, Box: box}
}

// boxAt is a 20x20 box centered on (cx, cy).
func boxAt(cx, cy float64) []float64 {
	return []float64{cx - 10, cy - 10, cx + 10, cy + 10}
}

func TestKindFor(t *testing.T) {
	tests := []struct {
		name string
		dt   models.DetectionType
		want Kind
	}{
		{"proximity task", models.DetectionType{TaskName: models.TaskNameProximity}, KindProximity},
		{"ppe task", models.DetectionType{TaskName: models.TaskNamePPE}, KindContainment},
		{"pallet task", models.DetectionType{TaskName: models.TaskNamePallet}, KindThreshold},
		{"name fallback", models.DetectionType{Name: "Forklift Safety"}, KindProximity},
		{"ppe name", models.DetectionType{Name: "PPE Compliance"}, KindContainment},
		{"pallet name", models.DetectionType{Name: "Damaged Pallets"}, KindThreshold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := KindFor(tt.dt)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := KindFor(models.DetectionType{ID: 9, Name: "fire"})
	assert.Error(t, err)
}

func TestSettingsFor(t *testing.T) {
	cfg := &config.Config{
		PPEFrameInterval:       20,
		FallbackVideoProximity: "forklift.mp4",
		FallbackVideoPPE:       "ppe.mp4",
		FallbackVideoPallet:    "pallet.mov",
	}
	assert.Equal(t, Settings{FallbackVideo: "forklift.mp4", FrameInterval: 1}, SettingsFor(KindProximity, cfg))
	assert.Equal(t, Settings{FallbackVideo: "ppe.mp4", FrameInterval: 20}, SettingsFor(KindContainment, cfg))
	assert.Equal(t, Settings{FallbackVideo: "pallet.mov", FrameInterval: 1}, SettingsFor(KindThreshold, cfg))
}

func TestNewRejectsUnknownKind(t *testing.T) {
	_, err := New(KindUnknown, Options{})
	assert.Error(t, err)

	s, err := New(KindThreshold, Options{})
	require.NoError(t, err)
	assert.Equal(t, KindThreshold, s.Kind())
}

func TestProximityStrictThreshold(t *testing.T) {
	p := NewProximity(50)

	atThreshold := p.Evaluate([]models.RawDetection{
		det("person", 0.9, boxAt(100, 100)...),
		det("forklift", 0.9, boxAt(150, 100)...),
	}, 0.5)
	assert.Empty(t, atThreshold.Candidates, "exactly at the threshold is not near")

	closer := p.Evaluate([]models.RawDetection{
		det("person", 0.9, boxAt(100, 100)...),
		det("forklift", 0.9, boxAt(149, 100)...),
	}, 0.5)
	require.Len(t, closer.Candidates, 1)
	c := closer.Candidates[0]
	assert.Equal(t, ProximityLabel, c.Label)
	assert.Zero(t, c.Confidence)
	assert.Equal(t, "", c.BBoxString())
}

func TestProximityReportsOneEventForManyPairs(t *testing.T) {
	res := NewProximity(350).Evaluate([]models.RawDetection{
		det("person", 0.9, boxAt(100, 100)...),
		det("person", 0.9, boxAt(120, 100)...),
		det("forklift", 0.9, boxAt(140, 100)...),
		det("forklift", 0.9, boxAt(160, 100)...),
	}, 0.5)
	assert.Len(t, res.Candidates, 1)
	assert.Len(t, res.Annotations, 4)
}

func TestProximityIgnoresLowConfidence(t *testing.T) {
	res := NewProximity(350).Evaluate([]models.RawDetection{
		det("person", 0.79, boxAt(100, 100)...),
		det("forklift", 0.85, boxAt(110, 100)...),
	}, 0.8)
	assert.Empty(t, res.Candidates)
	assert.Len(t, res.Annotations, 1)
}

func TestContainmentStrictContainment(t *testing.T) {
	c := NewContainment([]string{"helmet", "vest"})
	person := []float64{100, 100, 200, 300}

	res := c.Evaluate([]models.RawDetection{
		det("person", 0.9, person...),
		det("helmet", 0.9, 120, 100, 180, 140),
		det("vest", 0.9, 90, 150, 190, 250), // sticks out on the left
	}, 0.5)

	require.False(t, res.SkipFrame)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "vest", res.Candidates[0].Label)
	assert.Equal(t, []string{"vest"}, res.Candidates[0].Missing)
}

func TestContainmentCompliantPersonYieldsNothing(t *testing.T) {
	c := NewContainment([]string{"Helmet", "vest"})
	res := c.Evaluate([]models.RawDetection{
		det("person", 0.9, 0, 0, 100, 200),
		det("helmet", 0.9, 10, 0, 90, 40),
		det("vest", 0.9, 10, 60, 90, 140),
	}, 0.5)
	assert.Empty(t, res.Candidates)
	assert.Len(t, res.Annotations, 3)
}

func TestContainmentWithoutPersonsSkipsFrame(t *testing.T) {
	res := NewContainment([]string{"helmet"}).Evaluate([]models.RawDetection{
		det("helmet", 0.9, 0, 0, 10, 10),
	}, 0.5)
	assert.True(t, res.SkipFrame)
	assert.Empty(t, res.Candidates)
}

func TestContainmentIgnoresClassesOutsideScenario(t *testing.T) {
	res := NewContainment([]string{"helmet"}).Evaluate([]models.RawDetection{
		det("person", 0.9, 0, 0, 100, 200),
		det("gloves", 0.9, 10, 10, 20, 20),
	}, 0.5)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "helmet", res.Candidates[0].Label)
	assert.Len(t, res.Annotations, 1, "gloves are not part of the scenario")
}

// The label, and so the debounce key, is the exact combination of what each
// person is missing. "helmet" alone and "helmet,vest" are different events
// and debounce independently.
func TestContainmentLabelIsExactMissingCombination(t *testing.T) {
	c := NewContainment([]string{"vest", "helmet"})

	oneMissing := c.Evaluate([]models.RawDetection{
		det("person", 0.9, 0, 0, 100, 200),
		det("vest", 0.9, 10, 60, 90, 140),
	}, 0.5)
	require.Len(t, oneMissing.Candidates, 1)
	assert.Equal(t, "helmet", oneMissing.Candidates[0].Label)

	twoPeople := c.Evaluate([]models.RawDetection{
		det("person", 0.9, 0, 0, 100, 200),
		det("person", 0.9, 300, 0, 400, 200),
		det("vest", 0.9, 10, 60, 90, 140),
	}, 0.5)
	require.Len(t, twoPeople.Candidates, 1)
	assert.Equal(t, "helmet,helmet,vest", twoPeople.Candidates[0].Label)
	assert.Equal(t, []string{"helmet", "helmet", "vest"}, twoPeople.Candidates[0].Missing)
	assert.NotEqual(t, oneMissing.Candidates[0].Label, twoPeople.Candidates[0].Label)
}

func TestThresholdCandidatesPerDetection(t *testing.T) {
	res := NewThreshold("").Evaluate([]models.RawDetection{
		det("Pallets_bad", 0.91, 0, 0, 50, 50),
		det("Pallets_good", 0.95, 60, 0, 110, 50),
		det("Pallets_bad", 0.70, 120, 0, 170, 50),
		det("Pallets_bad", 0.88, 200, 0, 250, 50),
	}, 0.8)

	require.Len(t, res.Candidates, 2)
	assert.InDelta(t, 0.91, res.Candidates[0].Confidence, 1e-9)
	assert.InDelta(t, 0.88, res.Candidates[1].Confidence, 1e-9)
	assert.Equal(t, "200.0,0.0,250.0,50.0", res.Candidates[1].BBoxString())
	assert.Empty(t, res.Annotations, "pallet boxes are drawn only once accepted")
	require.Len(t, res.Candidates[0].Annotations, 1)
	assert.Equal(t, models.ColorRed, res.Candidates[0].Annotations[0].Color)
}

func TestThresholdBelowConfidenceNeverCandidates(t *testing.T) {
	res := NewThreshold("").Evaluate([]models.RawDetection{
		det("Pallets_bad", 0.5, 0, 0, 50, 50),
		det("forklift", 0.99, 0, 0, 50, 50),
	}, 0.75)
	assert.Empty(t, res.Candidates)
}

func TestMalformedDetectionsAreSkipped(t *testing.T) {
	res := NewThreshold("").Evaluate([]models.RawDetection{
		{Class: "Pallets_bad", Confidence: 0.9, Box: []float64{1, 2, 3}},
		{Class: "Pallets_bad", Confidence: 0.9, Box: []float64{10, 10, 0, 0}},
		{Class: "Pallets_bad", Confidence: 0.9, Box: []float64{0, 0, math.NaN(), 5}},
		{Class: "", Confidence: 0.9, Box: []float64{0, 0, 5, 5}},
		{Class: "Pallets_bad", Confidence: 1.5, Box: []float64{0, 0, 5, 5}},
		det("Pallets_bad", 0.9, 0, 0, 5, 5),
	}, 0.5)
	assert.Equal(t, 5, res.Dropped)
	assert.Len(t, res.Candidates, 1)
}

func TestParseDetectionWrapsSentinel(t *testing.T) {
	_, err := parseDetection(models.RawDetection{Class: "x", Confidence: 0.5})
	assert.ErrorIs(t, err, ErrMalformedDetection)
}
