package stt

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"estate-voice-server/pkg/audio"
	"estate-voice-server/pkg/cache"
	"estate-voice-server/pkg/circuitbreaker"
	"estate-voice-server/pkg/metrics"

	"github.com/sirupsen/logrus"
)

// TranscriberConfig controls utterance gating and caching
type TranscriberConfig struct {
	SampleRate int
	Language   string

	// Shorter audio is never sent to the provider
	MinSpeech time.Duration

	// Leading bytes of PCM hashed into the cache key
	CachePrefixBytes int

	// Per-call provider timeout, 0 leaves the caller's deadline in charge
	Timeout time.Duration
}

// DefaultTranscriberConfig returns the 16kHz defaults
func DefaultTranscriberConfig() TranscriberConfig {
	return TranscriberConfig{
		SampleRate:       16000,
		Language:         "en-US",
		MinSpeech:        100 * time.Millisecond,
		CachePrefixBytes: 32000,
		Timeout:          1500 * time.Millisecond,
	}
}

// Transcription is the outcome of one Transcribe call
type Transcription struct {
	Text       string
	Confidence float64
	Cached     bool
	Elapsed    time.Duration
}

// TranscriberStats tracks transcription activity
type TranscriberStats struct {
	mutex          sync.RWMutex
	Requests       int64     `json:"requests"`
	ShortAudio     int64     `json:"short_audio"`
	CacheHits      int64     `json:"cache_hits"`
	ProviderCalls  int64     `json:"provider_calls"`
	ProviderErrors int64     `json:"provider_errors"`
	LastReset      time.Time `json:"last_reset"`
}

// Transcriber turns speech samples into text through a Provider, with a
// shared result cache in front of it. Safe for concurrent use.
type Transcriber struct {
	logger   *logrus.Entry
	config   TranscriberConfig
	provider Provider
	breakers *circuitbreaker.Manager
	cache    *cache.LRU[string, Result]

	stats TranscriberStats
}

// NewTranscriber creates a transcriber. breakers and resultCache may be nil.
func NewTranscriber(logger *logrus.Logger, provider Provider, resultCache *cache.LRU[string, Result], breakers *circuitbreaker.Manager, config TranscriberConfig) *Transcriber {
	if config.SampleRate <= 0 {
		config.SampleRate = DefaultTranscriberConfig().SampleRate
	}
	if config.CachePrefixBytes <= 0 {
		config.CachePrefixBytes = DefaultTranscriberConfig().CachePrefixBytes
	}

	return &Transcriber{
		logger:   logger.WithField("component", "transcriber"),
		config:   config,
		provider: provider,
		breakers: breakers,
		cache:    resultCache,
		stats:    TranscriberStats{LastReset: time.Now()},
	}
}

// Transcribe returns the text for samples, or "" when nothing usable was heard
func (t *Transcriber) Transcribe(ctx context.Context, samples []float64) string {
	return t.TranscribeResult(ctx, samples).Text
}

// TranscribeResult is Transcribe with confidence and timing. Provider
// failures are logged and yield an empty transcription.
func (t *Transcriber) TranscribeResult(ctx context.Context, samples []float64) Transcription {
	start := time.Now()
	t.count(func(s *TranscriberStats) { s.Requests++ })

	minSamples := int(int64(t.config.SampleRate) * int64(t.config.MinSpeech) / int64(time.Second))
	if len(samples) < minSamples || len(samples) == 0 {
		t.count(func(s *TranscriberStats) { s.ShortAudio++ })
		return Transcription{Elapsed: time.Since(start)}
	}

	pcm := audio.EncodePCM16(samples)
	key := t.cacheKey(pcm)

	if t.cache != nil {
		if cached, ok := t.cache.Get(key); ok {
			metrics.RecordCacheLookup(true)
			t.count(func(s *TranscriberStats) { s.CacheHits++ })
			return Transcription{Text: cached.Text, Confidence: cached.Confidence, Cached: true, Elapsed: time.Since(start)}
		}
		metrics.RecordCacheLookup(false)
	}

	result, err := t.callProvider(ctx, Request{
		PCM:        pcm,
		SampleRate: t.config.SampleRate,
		Language:   t.config.Language,
	})
	if err != nil {
		t.count(func(s *TranscriberStats) { s.ProviderErrors++ })
		t.logger.WithError(err).WithField("provider", t.provider.Name()).Warn("Transcription failed, treating chunk as no speech")
		return Transcription{Elapsed: time.Since(start)}
	}

	if t.cache != nil {
		t.cache.Set(key, result)
	}

	return Transcription{Text: result.Text, Confidence: result.Confidence, Elapsed: time.Since(start)}
}

func (t *Transcriber) callProvider(ctx context.Context, req Request) (result Result, err error) {
	if t.provider == nil {
		return Result{}, ErrNoProviderAvailable
	}

	t.count(func(s *TranscriberStats) { s.ProviderCalls++ })
	done := metrics.ObserveProvider("stt", t.provider.Name())
	defer func() { done(err) }()

	if t.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.Timeout)
		defer cancel()
	}

	call := func(ctx context.Context) (callErr error) {
		defer func() {
			if r := recover(); r != nil {
				callErr = fmt.Errorf("stt provider %s panicked: %v", t.provider.Name(), r)
			}
		}()
		result, callErr = t.provider.Transcribe(ctx, req)
		return callErr
	}

	if t.breakers == nil {
		err = call(ctx)
		return result, err
	}
	err = t.breakers.Execute(ctx, "stt:"+t.provider.Name(), call)
	return result, err
}

// cacheKey hashes the leading PCM bytes
func (t *Transcriber) cacheKey(pcm []byte) string {
	prefix := pcm
	if len(prefix) > t.config.CachePrefixBytes {
		prefix = prefix[:t.config.CachePrefixBytes]
	}
	sum := sha256.Sum256(prefix)
	return hex.EncodeToString(sum[:])
}

// ProviderName returns the wrapped provider's name
func (t *Transcriber) ProviderName() string {
	if t.provider == nil {
		return ""
	}
	return t.provider.Name()
}

func (t *Transcriber) count(fn func(s *TranscriberStats)) {
	t.stats.mutex.Lock()
	fn(&t.stats)
	t.stats.mutex.Unlock()
}

// GetStats returns a copy of the transcription statistics
func (t *Transcriber) GetStats() TranscriberStats {
	t.stats.mutex.RLock()
	defer t.stats.mutex.RUnlock()

	return TranscriberStats{
		Requests:       t.stats.Requests,
		ShortAudio:     t.stats.ShortAudio,
		CacheHits:      t.stats.CacheHits,
		ProviderCalls:  t.stats.ProviderCalls,
		ProviderErrors: t.stats.ProviderErrors,
		LastReset:      t.stats.LastReset,
	}
}

// CacheStats reports the result cache, zero when caching is off
func (t *Transcriber) CacheStats() cache.Stats {
	if t.cache == nil {
		return cache.Stats{}
	}
	return t.cache.GetStats()
}
