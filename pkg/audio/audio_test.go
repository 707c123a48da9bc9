package audio

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"estate-voice-server/pkg/errors"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func sine(freq, amplitude float64, d time.Duration, sampleRate int) []float64 {
	n := int(int64(sampleRate) * int64(d) / int64(time.Second))
	out := make([]float64, n)
	for i := range out {
		out[i] = amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
	}
	return out
}

func whiteNoise(amplitude float64, d time.Duration, sampleRate int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	n := int(int64(sampleRate) * int64(d) / int64(time.Second))
	out := make([]float64, n)
	for i := range out {
		out[i] = (rng.Float64()*2 - 1) * amplitude
	}
	return out
}

func TestDecodePCM16(t *testing.T) {
	samples, err := DecodePCM16([]byte{0x00, 0x00, 0xFF, 0x7F, 0x00, 0x80}, 16000)
	require.NoError(t, err)
	require.Len(t, samples, 3)

	assert.Equal(t, 0.0, samples[0])
	assert.InDelta(t, 1.0, samples[1], 0.0001)
	assert.Equal(t, -1.0, samples[2])
}

func TestDecodePCM16Errors(t *testing.T) {
	_, err := DecodePCM16(nil, 16000)
	assert.True(t, errors.Is(err, errors.ErrInvalidAudio))

	_, err = DecodePCM16([]byte{0x01, 0x02, 0x03}, 16000)
	assert.True(t, errors.Is(err, errors.ErrInvalidAudio))
}

func TestDecodeWAV(t *testing.T) {
	pcm := EncodePCM16(sine(440, 0.5, 50*time.Millisecond, 16000))
	wav := EncodeWAV(pcm, 16000)

	samples, err := DecodePCM16(wav, 16000)
	require.NoError(t, err)
	assert.Len(t, samples, len(pcm)/2)

	_, err = DecodePCM16(wav, 8000)
	assert.Error(t, err, "sample rate mismatch must be rejected")
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := []float64{0, 0.25, -0.5, 0.999, -1}
	out, err := DecodePCM16(EncodePCM16(in), 16000)
	require.NoError(t, err)

	for i := range in {
		assert.InDelta(t, in[i], out[i], 0.0001)
	}
}

func TestVADModes(t *testing.T) {
	cfg := DefaultProcessingConfig()

	tone := sine(200, 0.3, 90*time.Millisecond, cfg.SampleRate)
	silence := make([]float64, len(tone))

	for mode := 0; mode <= 3; mode++ {
		cfg.VADMode = mode
		vad := NewVoiceActivityDetector(cfg)
		assert.Equal(t, 480, vad.FrameSize())
		assert.True(t, vad.ContainsSpeech(tone), "mode %d should accept a voiced tone", mode)
		assert.False(t, vad.ContainsSpeech(silence), "mode %d should reject silence", mode)
	}
}

func TestVADRejectsNoiseInAggressiveMode(t *testing.T) {
	cfg := DefaultProcessingConfig()
	cfg.VADMode = 3
	vad := NewVoiceActivityDetector(cfg)

	noise := whiteNoise(0.3, 90*time.Millisecond, cfg.SampleRate, 1)
	assert.False(t, vad.ContainsSpeech(noise), "white noise has a high zero-crossing rate")

	cfg.VADMode = 0
	permissive := NewVoiceActivityDetector(cfg)
	assert.True(t, permissive.ContainsSpeech(noise))
}

func TestVADSpeechInLaterFrame(t *testing.T) {
	cfg := DefaultProcessingConfig()
	vad := NewVoiceActivityDetector(cfg)

	samples := make([]float64, 0, 4*vad.FrameSize())
	samples = append(samples, make([]float64, 3*vad.FrameSize())...)
	samples = append(samples, sine(300, 0.4, 30*time.Millisecond, cfg.SampleRate)...)

	assert.True(t, vad.ContainsSpeech(samples))
	assert.InDelta(t, 0.25, vad.SpeechRatio(samples), 0.001)
}

func TestPreprocessSpeech(t *testing.T) {
	p := NewPreprocessor(newTestLogger(), DefaultProcessingConfig())
	raw := EncodePCM16(sine(220, 0.5, 300*time.Millisecond, 16000))

	quality, samples := p.Preprocess(raw)

	assert.True(t, quality.IsSpeech)
	assert.Len(t, samples, len(raw)/2)
	assert.InDelta(t, 1.0, quality.ClarityScore, 0.001, "rms 0.35 scaled by 10 is clamped to 1")
	assert.Greater(t, quality.NoiseLevel, 0.2, "a loud tone in the leading window reads as noise")
	assert.GreaterOrEqual(t, quality.VolumeConsistency, 0.0)
	assert.LessOrEqual(t, quality.VolumeConsistency, 1.0)

	stats := p.GetStats()
	assert.Equal(t, int64(1), stats.ChunksProcessed)
	assert.Equal(t, int64(1), stats.SpeechChunks)
	assert.Equal(t, int64(1), stats.NoiseReductions)
}

func TestPreprocessSilence(t *testing.T) {
	p := NewPreprocessor(newTestLogger(), DefaultProcessingConfig())

	quality, samples := p.Preprocess(make([]byte, 9600))

	assert.False(t, quality.IsSpeech)
	assert.Equal(t, 0.0, quality.ClarityScore)
	assert.Equal(t, 0.0, quality.NoiseLevel)
	assert.Equal(t, 1.0, quality.VolumeConsistency)
	assert.Len(t, samples, 4800)
}

func TestPreprocessInvalidInputNeverFails(t *testing.T) {
	p := NewPreprocessor(newTestLogger(), DefaultProcessingConfig())

	quality, samples := p.Preprocess([]byte{0x01})

	assert.Equal(t, AudioQuality{}, quality)
	assert.Nil(t, samples)
	assert.Equal(t, int64(1), p.GetStats().DecodeFailures)
}

func TestPreprocessQuietSpeechSkipsNoiseReduction(t *testing.T) {
	p := NewPreprocessor(newTestLogger(), DefaultProcessingConfig())
	raw := EncodePCM16(sine(180, 0.05, 200*time.Millisecond, 16000))

	quality, _ := p.Preprocess(raw)

	assert.True(t, quality.IsSpeech)
	assert.Less(t, quality.NoiseLevel, 0.2)
	assert.Equal(t, int64(0), p.GetStats().NoiseReductions)
}

func TestNoiseReducerAttenuatesBelowFloor(t *testing.T) {
	nr := NewNoiseReducer(DefaultProcessingConfig())
	out := nr.Reduce([]float64{0.01, -0.01, 0.9, 0.2}, 0.1)

	factor := math.Pow(10, -12.0/20.0)
	assert.InDelta(t, 0.01*factor, out[0], 1e-9)
	assert.InDelta(t, -0.01*factor, out[1], 1e-9)
	assert.InDelta(t, 0.9, out[2], 1e-9, "signal far above the floor passes through")
	// halfway up the ramp
	assert.InDelta(t, 0.2*(factor+(1-factor)*0.5), out[3], 1e-9)
}

func TestFeatureExtraction(t *testing.T) {
	fe := NewFeatureExtractor(newTestLogger(), 16000)

	features := fe.Extract(sine(200, 0.5, 250*time.Millisecond, 16000))

	rmsEnergy, ok := features.Get(FeatureRMSEnergy)
	require.True(t, ok)
	assert.InDelta(t, 0.5/math.Sqrt2, rmsEnergy, 0.01)

	zcr, _ := features.Get(FeatureZeroCrossingRate)
	assert.InDelta(t, 2*200.0/16000.0, zcr, 0.005)

	f0, ok := features.Get(FeatureFundamentalFrequency)
	require.True(t, ok)
	assert.InDelta(t, 200, f0, 5)

	_, ok = features.Get(FeatureSpectralCentroid)
	assert.True(t, ok)
}

func TestSpectralCentroidTracksPitch(t *testing.T) {
	fe := NewFeatureExtractor(newTestLogger(), 16000)

	low := fe.Extract(sine(500, 0.5, 100*time.Millisecond, 16000))[FeatureSpectralCentroid]
	high := fe.Extract(sine(3000, 0.5, 100*time.Millisecond, 16000))[FeatureSpectralCentroid]

	assert.Greater(t, high, low)
	assert.InDelta(t, 500, low, 150)
}

func TestFeatureExtractionShortAndEmpty(t *testing.T) {
	fe := NewFeatureExtractor(newTestLogger(), 16000)

	assert.Empty(t, fe.Extract(nil))

	short := fe.Extract(sine(200, 0.5, 10*time.Millisecond, 16000))
	assert.Contains(t, short, FeatureRMSEnergy)
	assert.NotContains(t, short, FeatureSpectralCentroid)
	assert.NotContains(t, short, FeatureFundamentalFrequency)
}

func TestFeatureExtractionSilenceIsUnvoiced(t *testing.T) {
	fe := NewFeatureExtractor(newTestLogger(), 16000)
	features := fe.Extract(make([]float64, 4000))

	assert.Equal(t, 0.0, features[FeatureFundamentalFrequency])
	assert.Equal(t, 0.0, features[FeatureRMSEnergy])
}
