package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoxFromSlice(t *testing.T) {
	b, err := BoxFromSlice([]float64{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, Box{X1: 1, Y1: 2, X2: 3, Y2: 4}, b)

	_, err = BoxFromSlice([]float64{1, 2, 3})
	assert.Error(t, err)

	_, err = BoxFromSlice([]float64{1, 2, math.NaN(), 4})
	assert.Error(t, err)

	_, err = BoxFromSlice([]float64{10, 10, 5, 20})
	assert.Error(t, err, "x2 < x1")
}

func TestBoxContainsIsInclusive(t *testing.T) {
	outer := Box{X1: 0, Y1: 0, X2: 100, Y2: 200}

	assert.True(t, outer.Contains(Box{X1: 10, Y1: 10, X2: 50, Y2: 50}))
	assert.True(t, outer.Contains(outer), "identical edges count as contained")
	assert.False(t, outer.Contains(Box{X1: 90, Y1: 10, X2: 110, Y2: 50}))
	assert.False(t, outer.Contains(Box{X1: -1, Y1: 10, X2: 50, Y2: 50}))
}

func TestCenterDistance(t *testing.T) {
	a := Box{X1: 0, Y1: 0, X2: 10, Y2: 10}
	b := Box{X1: 30, Y1: 40, X2: 40, Y2: 50}
	assert.InDelta(t, 50.0, CenterDistance(a, b), 1e-9)
	assert.InDelta(t, 0.0, CenterDistance(a, a), 1e-9)
}

func TestCandidateBBoxString(t *testing.T) {
	assert.Equal(t, "", Candidate{}.BBoxString())
	c := Candidate{Box: &Box{X1: 1, Y1: 2.26, X2: 3, Y2: 4}}
	assert.Equal(t, "1.0,2.3,3.0,4.0", c.BBoxString())
}

func TestEffectiveConfidence(t *testing.T) {
	zone, plant, zero := 0.6, 0.8, 0.0

	z := Zone{ZoneConfidence: &zone, Plant: Plant{PlantConfidence: &plant}}
	assert.InDelta(t, 0.6, z.EffectiveConfidence(0.75), 1e-9)

	z = Zone{ZoneConfidence: &zero, Plant: Plant{PlantConfidence: &plant}}
	assert.InDelta(t, 0.8, z.EffectiveConfidence(0.75), 1e-9)

	z = Zone{}
	assert.InDelta(t, 0.75, z.EffectiveConfidence(0.75), 1e-9)
}

func TestRecordingConfidenceOverride(t *testing.T) {
	eighty, zero := 80, 0

	v, ok := Recording{Confidence: &eighty}.ConfidenceOverride()
	assert.True(t, ok)
	assert.InDelta(t, 0.8, v, 1e-9)

	_, ok = Recording{Confidence: &zero}.ConfidenceOverride()
	assert.False(t, ok)

	_, ok = Recording{}.ConfidenceOverride()
	assert.False(t, ok)
}
