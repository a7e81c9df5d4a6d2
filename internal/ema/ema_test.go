package ema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlendFirstSampleLaw(t *testing.T) {
	// An empty state folds in its first sample directly, without
	// going through Blend — this test documents the caller contract.
	got := Blend(0, 1000, 0.3)
	assert.NotEqual(t, 1000.0, got, "Blend is not the first-sample law; callers must special-case count==0")
}

func TestBlendConverges(t *testing.T) {
	ema := 5000.0
	for i := 0; i < 10; i++ {
		ema = Blend(ema, 1000, 0.3)
	}
	assert.Less(t, ema, 1300.0)
	assert.Greater(t, ema, 1000.0)
}

func TestConfidence(t *testing.T) {
	assert.Equal(t, 0.0, Confidence(0, 100))
	assert.InDelta(t, 0.1, Confidence(10, 100), 1e-9)
	assert.Equal(t, 1.0, Confidence(150, 100))
	assert.Equal(t, 1.0, Confidence(5, 0))
}
