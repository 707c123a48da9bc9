package audio

import (
	"math"
)

// NoiseReducer applies a soft noise gate driven by a noise floor estimated
// from the leading window of each chunk.
type NoiseReducer struct {
	attenuationFactor float64
	windowSamples     int
}

// NewNoiseReducer creates a reducer from config
func NewNoiseReducer(config ProcessingConfig) *NoiseReducer {
	window := config.SamplesFor(config.NoiseWindow)
	if window <= 0 {
		window = config.SampleRate / 10
	}

	return &NoiseReducer{
		attenuationFactor: math.Pow(10, -config.NoiseAttenuationDB/20.0),
		windowSamples:     window,
	}
}

// EstimateNoise returns the standard deviation of the leading window
func (nr *NoiseReducer) EstimateNoise(samples []float64) float64 {
	n := nr.windowSamples
	if n > len(samples) {
		n = len(samples)
	}
	return stdDev(samples[:n])
}

// Reduce returns a new slice with samples below the noise floor attenuated.
// Gain ramps linearly back to 1 between the floor and three times the floor.
func (nr *NoiseReducer) Reduce(samples []float64, noiseFloor float64) []float64 {
	out := make([]float64, len(samples))
	if noiseFloor <= 0 {
		copy(out, samples)
		return out
	}

	for i, sample := range samples {
		magnitude := math.Abs(sample)
		if magnitude < noiseFloor {
			out[i] = sample * nr.attenuationFactor
			continue
		}
		ratio := math.Min(1.0, (magnitude-noiseFloor)/(noiseFloor*2))
		gain := nr.attenuationFactor + (1.0-nr.attenuationFactor)*ratio
		out[i] = sample * gain
	}
	return out
}
