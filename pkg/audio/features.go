package audio

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/sirupsen/logrus"
)

const (
	spectralFrameSize = 512
	maxSpectralFrames = 8
	f0FrameSize       = 1024
	voicingThreshold  = 0.3
)

// FeatureExtractor derives prosodic and spectral features from normalized
// samples. It is stateless apart from the precomputed window.
type FeatureExtractor struct {
	sampleRate int
	window     []float64
	logger     *logrus.Entry
}

// NewFeatureExtractor creates an extractor for sampleRate
func NewFeatureExtractor(logger *logrus.Logger, sampleRate int) *FeatureExtractor {
	window := make([]float64, spectralFrameSize)
	for i := range window {
		window[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(spectralFrameSize-1))
	}

	return &FeatureExtractor{
		sampleRate: sampleRate,
		window:     window,
		logger:     logger.WithField("component", "feature_extractor"),
	}
}

// Extract returns rms_energy and zero_crossing_rate for any non-empty input,
// plus spectral_centroid and fundamental_frequency when enough samples are
// available. Any internal failure yields an empty map.
func (fe *FeatureExtractor) Extract(samples []float64) (features Features) {
	features = Features{}

	defer func() {
		if r := recover(); r != nil {
			fe.logger.WithField("panic", fmt.Sprint(r)).Warn("Feature extraction failed, continuing without audio features")
			features = Features{}
		}
	}()

	if len(samples) == 0 {
		return features
	}

	features[FeatureRMSEnergy] = rms(samples)
	features[FeatureZeroCrossingRate] = zeroCrossingRate(samples)

	if len(samples) >= spectralFrameSize {
		features[FeatureSpectralCentroid] = fe.spectralCentroid(samples)
	}
	if len(samples) >= f0FrameSize {
		features[FeatureFundamentalFrequency] = fe.fundamentalFrequency(samples)
	}

	for name, v := range features {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			delete(features, name)
		}
	}

	return features
}

// spectralCentroid averages the centroid of evenly spaced frames
func (fe *FeatureExtractor) spectralCentroid(samples []float64) float64 {
	frames := len(samples) / spectralFrameSize
	if frames > maxSpectralFrames {
		frames = maxSpectralFrames
	}
	stride := (len(samples) - spectralFrameSize) / max(frames-1, 1)

	total, counted := 0.0, 0
	for f := 0; f < frames; f++ {
		start := f * stride
		mags := fe.magnitudes(samples[start : start+spectralFrameSize])

		weighted, sum := 0.0, 0.0
		for i, mag := range mags {
			freq := float64(i) * float64(fe.sampleRate) / float64(2*len(mags))
			weighted += freq * mag
			sum += mag
		}
		if sum > 0 {
			total += weighted / sum
			counted++
		}
	}

	if counted == 0 {
		return 0
	}
	return total / float64(counted)
}

// magnitudes computes the one-sided magnitude spectrum of a windowed frame
func (fe *FeatureExtractor) magnitudes(frame []float64) []float64 {
	n := len(frame)
	half := n / 2
	mags := make([]float64, half)

	for k := 0; k < half; k++ {
		var sum complex128
		for t := 0; t < n; t++ {
			angle := -2 * math.Pi * float64(k) * float64(t) / float64(n)
			sum += complex(frame[t]*fe.window[t], 0) * cmplx.Exp(complex(0, angle))
		}
		mags[k] = cmplx.Abs(sum)
	}
	return mags
}

// fundamentalFrequency estimates F0 by normalized autocorrelation over the
// central frame. Unvoiced frames report 0.
func (fe *FeatureExtractor) fundamentalFrequency(samples []float64) float64 {
	start := (len(samples) - f0FrameSize) / 2
	frame := samples[start : start+f0FrameSize]

	minLag := fe.sampleRate / 500 // 500 Hz max
	maxLag := fe.sampleRate / 50  // 50 Hz min
	if maxLag >= len(frame)/2 {
		maxLag = len(frame)/2 - 1
	}

	energy := 0.0
	for _, s := range frame {
		energy += s * s
	}
	if energy == 0 || minLag >= maxLag {
		return 0
	}

	bestLag, bestVal := 0, 0.0
	for lag := minLag; lag < maxLag; lag++ {
		sum := 0.0
		for i := 0; i < len(frame)-lag; i++ {
			sum += frame[i] * frame[i+lag]
		}
		if sum > bestVal {
			bestVal = sum
			bestLag = lag
		}
	}

	if bestLag == 0 || bestVal/energy < voicingThreshold {
		return 0
	}
	return float64(fe.sampleRate) / float64(bestLag)
}
