package audio

import "math"

// RMS returns the root-mean-square amplitude of frame, sqrt(mean(s²)).
// For normalised input the result lies in [0, 1]. An empty frame yields 0.
func RMS(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(frame)))
}
