// Package ema implements the pure exponential-moving-average helpers
// shared by the duration predictor and the availability calculator's
// rolling task-duration average.
package ema

// Blend folds sample into current using smoothing factor alpha. The
// first sample for a series should bypass Blend entirely and set the
// EMA to the sample value (see predictor.Feedback), matching the
// "first sample sets ema = sample" invariant.
func Blend(current, sample, alpha float64) float64 {
	return alpha*sample + (1-alpha)*current
}

// Confidence maps an observed sample count against a threshold into a
// [0,1] confidence score. A threshold of zero or less is treated as
// "always confident" since there is nothing left to converge toward.
func Confidence(sampleCount int64, threshold int64) float64 {
	if threshold <= 0 {
		return 1
	}
	c := float64(sampleCount) / float64(threshold)
	if c > 1 {
		return 1
	}
	if c < 0 {
		return 0
	}
	return c
}
