package audio

import (
	"fmt"
	"sync"
	"time"

	"estate-voice-server/pkg/metrics"

	"github.com/sirupsen/logrus"
)

// Preprocessor normalizes raw chunks, scores their quality and runs VAD.
// It is safe for concurrent use.
type Preprocessor struct {
	config  ProcessingConfig
	logger  *logrus.Entry
	vad     *VoiceActivityDetector
	reducer *NoiseReducer

	stats PreprocessorStats
}

// PreprocessorStats tracks preprocessing activity
type PreprocessorStats struct {
	mutex            sync.RWMutex
	ChunksProcessed  int64         `json:"chunks_processed"`
	SpeechChunks     int64         `json:"speech_chunks"`
	DecodeFailures   int64         `json:"decode_failures"`
	NoiseReductions  int64         `json:"noise_reductions"`
	TotalProcessTime time.Duration `json:"total_process_time"`
	LastReset        time.Time     `json:"last_reset"`
}

// NewPreprocessor creates a preprocessor
func NewPreprocessor(logger *logrus.Logger, config ProcessingConfig) *Preprocessor {
	if config.SampleRate <= 0 {
		config.SampleRate = DefaultProcessingConfig().SampleRate
	}

	return &Preprocessor{
		config:  config,
		logger:  logger.WithField("component", "audio_preprocessor"),
		vad:     NewVoiceActivityDetector(config),
		reducer: NewNoiseReducer(config),
		stats:   PreprocessorStats{LastReset: time.Now()},
	}
}

// Preprocess decodes raw and returns its quality with the normalized
// (possibly denoised) samples. It never fails: undecodable input yields a
// zero AudioQuality with IsSpeech=false and nil samples.
func (p *Preprocessor) Preprocess(raw []byte) (quality AudioQuality, samples []float64) {
	start := time.Now()
	denoised := false

	defer func() {
		if r := recover(); r != nil {
			p.logger.WithField("panic", fmt.Sprint(r)).Error("Recovered from panic in audio preprocessing")
			quality, samples = AudioQuality{}, nil
		}
		p.record(quality.IsSpeech, samples == nil, denoised, time.Since(start))
	}()

	decoded, err := DecodePCM16(raw, p.config.SampleRate)
	if err != nil {
		p.logger.WithError(err).WithField("bytes", len(raw)).Debug("Failed to decode audio chunk")
		return AudioQuality{}, nil
	}

	quality = p.assess(decoded)

	if quality.NoiseLevel > p.config.NoiseThreshold {
		decoded = p.reducer.Reduce(decoded, quality.NoiseLevel)
		denoised = true
	}

	quality.IsSpeech = p.vad.ContainsSpeech(decoded)
	metrics.RecordVAD(quality.IsSpeech)
	metrics.ObserveClarity(quality.ClarityScore)

	return quality, decoded
}

// assess computes the quality scores before noise reduction
func (p *Preprocessor) assess(samples []float64) AudioQuality {
	abs := make([]float64, len(samples))
	for i, s := range samples {
		if s < 0 {
			s = -s
		}
		abs[i] = s
	}

	return AudioQuality{
		ClarityScore:      clamp01(rms(samples) * 10),
		NoiseLevel:        p.reducer.EstimateNoise(samples),
		VolumeConsistency: clamp01(1 - stdDev(abs)),
	}
}

// SampleRate returns the configured input rate
func (p *Preprocessor) SampleRate() int {
	return p.config.SampleRate
}

func (p *Preprocessor) record(speech, failed, denoised bool, elapsed time.Duration) {
	p.stats.mutex.Lock()
	defer p.stats.mutex.Unlock()

	p.stats.ChunksProcessed++
	p.stats.TotalProcessTime += elapsed
	if speech {
		p.stats.SpeechChunks++
	}
	if failed {
		p.stats.DecodeFailures++
	}
	if denoised {
		p.stats.NoiseReductions++
		metrics.RecordNoiseReduction()
	}
}

// GetStats returns a copy of the preprocessing statistics
func (p *Preprocessor) GetStats() PreprocessorStats {
	p.stats.mutex.RLock()
	defer p.stats.mutex.RUnlock()

	return PreprocessorStats{
		ChunksProcessed:  p.stats.ChunksProcessed,
		SpeechChunks:     p.stats.SpeechChunks,
		DecodeFailures:   p.stats.DecodeFailures,
		NoiseReductions:  p.stats.NoiseReductions,
		TotalProcessTime: p.stats.TotalProcessTime,
		LastReset:        p.stats.LastReset,
	}
}
