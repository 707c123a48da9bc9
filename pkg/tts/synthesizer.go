package tts

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"estate-voice-server/pkg/audio"
	"estate-voice-server/pkg/circuitbreaker"
	"estate-voice-server/pkg/metrics"
	"estate-voice-server/pkg/response"

	"github.com/sirupsen/logrus"
)

// Typical conversational speaking rate, used to judge clip plausibility
const expectedWordsPerSecond = 2.5

// SynthesizerConfig controls voice selection and delivery
type SynthesizerConfig struct {
	DefaultVoice string
	// Agent id to voice id
	Voices     map[string]string
	Streaming  bool
	Timeout    time.Duration
	SampleRate int
}

// DefaultSynthesizerConfig returns single-shot 16kHz defaults
func DefaultSynthesizerConfig() SynthesizerConfig {
	return SynthesizerConfig{
		DefaultVoice: "professional",
		Timeout:      1500 * time.Millisecond,
		SampleRate:   16000,
	}
}

// Synthesis references the audio of one agent reply. The zero value means
// no audio is available and the reply is text-only.
type Synthesis struct {
	AudioURL     string  `json:"audio_url"`
	Duration     float64 `json:"duration"`
	QualityScore float64 `json:"quality_score"`
}

// SynthesizerStats tracks synthesis activity
type SynthesizerStats struct {
	mutex          sync.RWMutex
	Requests       int64     `json:"requests"`
	Streamed       int64     `json:"streamed"`
	ProviderErrors int64     `json:"provider_errors"`
	Canceled       int64     `json:"canceled"`
	LastReset      time.Time `json:"last_reset"`
}

// Synthesizer renders agent replies through a Provider and parks the
// audio in an AudioStore for the client to fetch
type Synthesizer struct {
	logger   *logrus.Entry
	config   SynthesizerConfig
	provider Provider
	store    *AudioStore
	breakers *circuitbreaker.Manager

	stats SynthesizerStats
}

// NewSynthesizer creates a synthesizer. breakers may be nil.
func NewSynthesizer(logger *logrus.Logger, provider Provider, store *AudioStore, breakers *circuitbreaker.Manager, config SynthesizerConfig) *Synthesizer {
	if config.SampleRate <= 0 {
		config.SampleRate = DefaultSynthesizerConfig().SampleRate
	}
	return &Synthesizer{
		logger:   logger.WithField("component", "synthesizer"),
		config:   config,
		provider: provider,
		store:    store,
		breakers: breakers,
		stats:    SynthesizerStats{LastReset: time.Now()},
	}
}

// Synthesize speaks text in the agent's voice. Failures, including a
// canceled ctx, are logged and yield the zero Synthesis.
func (s *Synthesizer) Synthesize(ctx context.Context, text, agentID string, strategy response.Strategy) Synthesis {
	result, err := s.SynthesizeResult(ctx, text, agentID, strategy)
	if err != nil {
		logger := s.logger.WithFields(logrus.Fields{
			"agent_id": agentID,
			"provider": s.ProviderName(),
		})
		if ctx.Err() != nil {
			logger.WithError(err).Info("Synthesis abandoned, reply will be text-only")
		} else {
			logger.WithError(err).Warn("Synthesis failed, reply will be text-only")
		}
		return Synthesis{}
	}
	return result
}

// SynthesizeResult is Synthesize with the failure reported
func (s *Synthesizer) SynthesizeResult(ctx context.Context, text, agentID string, strategy response.Strategy) (Synthesis, error) {
	s.count(func(st *SynthesizerStats) { st.Requests++ })

	if strings.TrimSpace(text) == "" {
		return Synthesis{}, ErrEmptyText
	}
	if s.provider == nil {
		return Synthesis{}, ErrNoProviderAvailable
	}

	opts := SynthesizeOptions{
		Voice:      s.VoiceFor(agentID),
		Speed:      SpeedFor(strategy.Pace),
		Emotion:    strategy.Tone,
		SampleRate: s.config.SampleRate,
	}

	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	var clip *Clip
	call := func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("tts provider %s panicked: %v", s.provider.Name(), r)
			}
		}()
		if s.config.Streaming {
			clip, err = s.collectStream(ctx, text, opts)
		} else {
			clip, err = s.provider.Synthesize(ctx, text, opts)
		}
		return err
	}

	done := metrics.ObserveProvider("tts", s.provider.Name())
	var err error
	if s.breakers != nil {
		err = s.breakers.Execute(ctx, "tts:"+s.provider.Name(), call)
	} else {
		err = call(ctx)
	}
	done(err)

	if err != nil {
		if ctx.Err() != nil {
			s.count(func(st *SynthesizerStats) { st.Canceled++ })
		} else {
			s.count(func(st *SynthesizerStats) { st.ProviderErrors++ })
		}
		return Synthesis{}, err
	}
	if clip == nil || len(clip.Audio) == 0 {
		s.count(func(st *SynthesizerStats) { st.ProviderErrors++ })
		return Synthesis{}, ErrEmptyAudio
	}

	duration := clip.Duration
	if duration <= 0 {
		duration = wavDuration(clip.Audio, s.config.SampleRate)
	}

	var url string
	if s.store != nil {
		url = s.store.URL(s.store.Put(clip.Audio, "audio/wav", duration))
	}

	return Synthesis{
		AudioURL:     url,
		Duration:     duration,
		QualityScore: qualityScore(text, duration, opts.Speed),
	}, nil
}

// collectStream drains a provider stream into one clip, giving up as soon
// as ctx ends
func (s *Synthesizer) collectStream(ctx context.Context, text string, opts SynthesizeOptions) (*Clip, error) {
	s.count(func(st *SynthesizerStats) { st.Streamed++ })

	stream, err := s.provider.SynthesizeStream(ctx, text, opts)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var pcm []byte
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case chunk, ok := <-stream.Chunks():
			if !ok {
				if err := stream.Err(); err != nil {
					return nil, err
				}
				if len(pcm) == 0 {
					return nil, ErrEmptyAudio
				}
				return &Clip{
					Audio:    audio.EncodeWAV(pcm, opts.SampleRate),
					Format:   "wav",
					Duration: float64(len(pcm)/2) / float64(opts.SampleRate),
				}, nil
			}
			pcm = append(pcm, chunk...)
		}
	}
}

// VoiceFor returns the agent's configured voice or the default one
func (s *Synthesizer) VoiceFor(agentID string) string {
	if voice, ok := s.config.Voices[agentID]; ok && voice != "" {
		return voice
	}
	return s.config.DefaultVoice
}

// SpeedFor maps a strategy pace to a speaking-rate multiplier
func SpeedFor(pace string) float64 {
	if pace == response.PaceSlow {
		return 0.9
	}
	return 1.0
}

// qualityScore compares the clip length with what the text should take to
// say; 1 is a perfect match
func qualityScore(text string, duration, speed float64) float64 {
	if speed <= 0 {
		speed = 1
	}
	words := len(strings.Fields(text))
	if words == 0 || duration <= 0 {
		return 0
	}
	expected := float64(words) / (expectedWordsPerSecond * speed)
	score := math.Min(duration, expected) / math.Max(duration, expected)
	return math.Round(score*100) / 100
}

func wavDuration(wav []byte, sampleRate int) float64 {
	if len(wav) <= 44 || sampleRate <= 0 {
		return 0
	}
	return float64((len(wav)-44)/2) / float64(sampleRate)
}

// ProviderName returns the wrapped provider's name
func (s *Synthesizer) ProviderName() string {
	if s.provider == nil {
		return ""
	}
	return s.provider.Name()
}

func (s *Synthesizer) count(fn func(st *SynthesizerStats)) {
	s.stats.mutex.Lock()
	fn(&s.stats)
	s.stats.mutex.Unlock()
}

// GetStats returns a copy of the synthesis statistics
func (s *Synthesizer) GetStats() SynthesizerStats {
	s.stats.mutex.RLock()
	defer s.stats.mutex.RUnlock()

	return SynthesizerStats{
		Requests:       s.stats.Requests,
		Streamed:       s.stats.Streamed,
		ProviderErrors: s.stats.ProviderErrors,
		Canceled:       s.stats.Canceled,
		LastReset:      s.stats.LastReset,
	}
}
