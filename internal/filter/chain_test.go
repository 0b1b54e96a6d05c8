package filter

import (
	"math"
	"testing"

	"wisefido-ppg/internal/config"

	"github.com/stretchr/testify/assert"
)

func newTestChain() *Chain {
	return NewChain(config.DefaultTuning().Filter)
}

func TestChain_ConstantInputConverges(t *testing.T) {
	c := newTestChain()

	var out float64
	c.Process(0, true)
	for i := 0; i < 4000; i++ {
		out = c.Process(120, true)
	}

	assert.InDelta(t, 120, c.smoothed(), 1e-6)
	assert.InDelta(t, 120, c.baselineLevel(), 1e-3)
	assert.InDelta(t, 0, out, 1e-3)
}

func TestChain_FirstSampleOutputsZero(t *testing.T) {
	c := newTestChain()
	assert.Equal(t, 0.0, c.Process(87.5, true))
}

func TestChain_MedianRejectsSpike(t *testing.T) {
	c := newTestChain()
	for i := 0; i < 20; i++ {
		c.Process(100, true)
	}
	before := c.smoothed()
	c.Process(10000, true)
	assert.InDelta(t, before, c.smoothed(), 1e-9)
}

func TestChain_NonFiniteInputUsesLastValid(t *testing.T) {
	c := newTestChain()
	for i := 0; i < 10; i++ {
		c.Process(50, true)
	}

	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		out := c.Process(v, true)
		assert.False(t, math.IsNaN(out))
		assert.False(t, math.IsInf(out, 0))
	}
	assert.InDelta(t, 50, c.smoothed(), 1e-9)
}

func TestChain_NonFiniteBeforeAnyValid(t *testing.T) {
	c := newTestChain()
	assert.Equal(t, 0.0, c.Process(math.NaN(), false))
	assert.Equal(t, 0.0, c.smoothed())
}

func TestChain_NoFingerBaselineTracksFaster(t *testing.T) {
	withFinger := newTestChain()
	noFinger := newTestChain()
	withFinger.Process(0, true)
	noFinger.Process(0, false)

	for i := 0; i < 50; i++ {
		withFinger.Process(100, true)
		noFinger.Process(100, false)
	}

	assert.Greater(t, noFinger.baselineLevel(), withFinger.baselineLevel())
	assert.InDelta(t, 100, noFinger.baselineLevel(), 1)
}

func TestChain_VerticalScale(t *testing.T) {
	tuning := config.DefaultTuning().Filter
	tuning.VerticalScale = 2
	scaled := NewChain(tuning)
	plain := newTestChain()

	var a, b float64
	for i := 0; i < 30; i++ {
		v := 100 + 10*math.Sin(float64(i)/3)
		a = scaled.Process(v, true)
		b = plain.Process(v, true)
	}
	assert.InDelta(t, 2*b, a, 1e-9)
}

func TestChain_Reset(t *testing.T) {
	c := newTestChain()
	for i := 0; i < 10; i++ {
		c.Process(float64(i*10), true)
	}
	c.Reset()

	assert.Equal(t, 0.0, c.smoothed())
	assert.Equal(t, 0.0, c.baselineLevel())
	assert.Equal(t, 0.0, c.Process(42, true))
	assert.Equal(t, 42.0, c.smoothed())
}
