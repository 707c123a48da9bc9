package audio

import (
	"time"
)

// ProcessingConfig holds configuration for chunk preprocessing
type ProcessingConfig struct {
	// General
	SampleRate    int           // Expected input sample rate (mono, 16-bit)
	FrameDuration time.Duration // VAD frame length (10, 20 or 30ms)

	// Voice Activity Detection
	VADMode int // Aggressiveness 0 (permissive) to 3 (strict)

	// Noise Reduction
	NoiseThreshold     float64       // noise_level above which reduction runs
	NoiseWindow        time.Duration // Leading window used to estimate noise
	NoiseAttenuationDB float64       // Attenuation applied below the noise floor
}

// DefaultProcessingConfig returns the 16kHz conversational defaults
func DefaultProcessingConfig() ProcessingConfig {
	return ProcessingConfig{
		SampleRate:    16000,
		FrameDuration: 30 * time.Millisecond,

		VADMode: 2,

		NoiseThreshold:     0.2,
		NoiseWindow:        100 * time.Millisecond,
		NoiseAttenuationDB: 12.0,
	}
}

// FrameSize returns the VAD frame length in samples
func (c ProcessingConfig) FrameSize() int {
	return int(int64(c.SampleRate) * int64(c.FrameDuration) / int64(time.Second))
}

// SamplesFor returns the number of samples spanning d
func (c ProcessingConfig) SamplesFor(d time.Duration) int {
	return int(int64(c.SampleRate) * int64(d) / int64(time.Second))
}

// AudioQuality summarizes one chunk. It gates the rest of the pipeline.
type AudioQuality struct {
	ClarityScore      float64 `json:"clarity_score"`
	NoiseLevel        float64 `json:"noise_level"`
	VolumeConsistency float64 `json:"volume_consistency"`
	IsSpeech          bool    `json:"is_speech"`
}

// Feature names produced by FeatureExtractor
const (
	FeatureRMSEnergy            = "rms_energy"
	FeatureZeroCrossingRate     = "zero_crossing_rate"
	FeatureSpectralCentroid     = "spectral_centroid"
	FeatureFundamentalFrequency = "fundamental_frequency"
)

// Features maps feature names to values. A missing key means the signal
// could not be derived.
type Features map[string]float64

// Get returns the named feature and whether it was present
func (f Features) Get(name string) (float64, bool) {
	if f == nil {
		return 0, false
	}
	v, ok := f[name]
	return v, ok
}
