package tts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"estate-voice-server/pkg/circuitbreaker"
	"estate-voice-server/pkg/config"
	"estate-voice-server/pkg/response"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func newTestSynthesizer(provider Provider, cfg SynthesizerConfig) (*Synthesizer, *AudioStore) {
	store := NewAudioStore(16, time.Minute, "/api/v1/audio/")
	return NewSynthesizer(newTestLogger(), provider, store, nil, cfg), store
}

const reply = "I hear you on price. Let me show you why this home offers strong value."

func TestSynthesizeStoresClip(t *testing.T) {
	provider := NewMockProvider(newTestLogger())
	s, store := newTestSynthesizer(provider, DefaultSynthesizerConfig())

	result := s.Synthesize(context.Background(), reply, "agent-1", response.DefaultStrategy())

	require.True(t, strings.HasPrefix(result.AudioURL, "/api/v1/audio/"), result.AudioURL)
	id := strings.TrimPrefix(result.AudioURL, "/api/v1/audio/")
	clip, ok := store.Get(id)
	require.True(t, ok)
	assert.Equal(t, "audio/wav", clip.ContentType)
	assert.Equal(t, "RIFF", string(clip.Data[:4]))

	// 15 words at 2.5 words per second
	assert.InDelta(t, 6.0, result.Duration, 0.01)
	assert.InDelta(t, 1.0, result.QualityScore, 0.01)
	assert.Equal(t, int64(1), provider.Calls())
}

func TestSynthesizeSlowPaceLengthensClip(t *testing.T) {
	s, _ := newTestSynthesizer(NewMockProvider(newTestLogger()), DefaultSynthesizerConfig())

	normal := s.Synthesize(context.Background(), reply, "", response.DefaultStrategy())
	slow := s.Synthesize(context.Background(), reply, "", response.Strategy{Pace: response.PaceSlow})

	assert.Greater(t, slow.Duration, normal.Duration)
	assert.InDelta(t, 1.0, slow.QualityScore, 0.01)
}

func TestSynthesizeFailureIsTextOnly(t *testing.T) {
	provider := NewMockProvider(newTestLogger())
	provider.SetError(errors.New("vendor down"))
	s, store := newTestSynthesizer(provider, DefaultSynthesizerConfig())

	result := s.Synthesize(context.Background(), reply, "agent-1", response.DefaultStrategy())
	assert.Equal(t, Synthesis{}, result)
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, int64(1), s.GetStats().ProviderErrors)

	assert.Equal(t, Synthesis{}, s.Synthesize(context.Background(), "   ", "agent-1", response.DefaultStrategy()))
}

func TestSynthesizeCanceledContext(t *testing.T) {
	provider := NewMockProvider(newTestLogger())
	provider.SetDelay(time.Second)
	s, _ := newTestSynthesizer(provider, DefaultSynthesizerConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	result := s.Synthesize(ctx, reply, "agent-1", response.DefaultStrategy())
	assert.Equal(t, Synthesis{}, result)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, int64(1), s.GetStats().Canceled)
}

func TestSynthesizeStreaming(t *testing.T) {
	cfg := DefaultSynthesizerConfig()
	cfg.Streaming = true
	s, store := newTestSynthesizer(NewMockProvider(newTestLogger()), cfg)

	result := s.Synthesize(context.Background(), reply, "agent-1", response.DefaultStrategy())
	require.NotEmpty(t, result.AudioURL)
	assert.InDelta(t, 6.0, result.Duration, 0.01)
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, int64(1), s.GetStats().Streamed)
}

func TestSynthesizeThroughBreaker(t *testing.T) {
	provider := NewMockProvider(newTestLogger())
	provider.SetError(errors.New("vendor down"))
	breakers := circuitbreaker.NewManager(newTestLogger(), circuitbreaker.SpeechProviderConfig(1, time.Minute), true)
	s := NewSynthesizer(newTestLogger(), provider, nil, breakers, DefaultSynthesizerConfig())

	s.Synthesize(context.Background(), reply, "", response.DefaultStrategy())
	s.Synthesize(context.Background(), reply, "", response.DefaultStrategy())

	// The second call is rejected without reaching the provider
	assert.Equal(t, int64(1), provider.Calls())
	assert.Equal(t, []string{"tts:mock"}, breakers.OpenBreakers())
}

func TestVoiceSelection(t *testing.T) {
	cfg := DefaultSynthesizerConfig()
	cfg.Voices = map[string]string{"agent-7": "voice-abc"}
	s, _ := newTestSynthesizer(NewMockProvider(newTestLogger()), cfg)

	assert.Equal(t, "voice-abc", s.VoiceFor("agent-7"))
	assert.Equal(t, "professional", s.VoiceFor("agent-8"))
	assert.Equal(t, 0.9, SpeedFor(response.PaceSlow))
	assert.Equal(t, 1.0, SpeedFor(response.PaceNormal))
}

func TestQualityScore(t *testing.T) {
	assert.Equal(t, 1.0, qualityScore("one two three four five", 2, 1))
	assert.Equal(t, 0.5, qualityScore("one two three four five", 4, 1))
	assert.Equal(t, 0.0, qualityScore("", 4, 1))
	assert.Equal(t, 0.0, qualityScore("word", 0, 1))
}

func TestProviderManagerResolve(t *testing.T) {
	m := NewProviderManager(newTestLogger(), "mock")
	_, err := m.Resolve("mock")
	assert.ErrorIs(t, err, ErrNoProviderAvailable)

	require.NoError(t, m.RegisterProvider(NewMockProvider(newTestLogger())))
	p, err := m.Resolve("elevenlabs")
	require.NoError(t, err)
	assert.Equal(t, "mock", p.Name())

	assert.Error(t, m.RegisterProvider(NewElevenLabsProvider(newTestLogger(), &config.ElevenLabsTTSConfig{})))
	assert.Equal(t, []string{"mock"}, m.Names())
}

func newElevenLabs(t *testing.T, handler http.HandlerFunc) *ElevenLabsProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p := NewElevenLabsProvider(newTestLogger(), &config.ElevenLabsTTSConfig{
		APIKey:  "test-key",
		BaseURL: server.URL + "/v1",
		ModelID: "eleven_turbo_v2",
	})
	require.NoError(t, p.Initialize())
	return p
}

func TestElevenLabsSynthesize(t *testing.T) {
	pcm := make([]byte, 32000)
	p := newElevenLabs(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/text-to-speech/voice-1", r.URL.Path)
		assert.Equal(t, "pcm_16000", r.URL.Query().Get("output_format"))
		assert.Equal(t, "test-key", r.Header.Get("xi-api-key"))

		var body elevenLabsRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&body)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Equal(t, "hello there", body.Text)
		assert.Equal(t, 0.9, body.VoiceSettings.Speed)
		_, _ = w.Write(pcm)
	})

	clip, err := p.Synthesize(context.Background(), "hello there", SynthesizeOptions{Voice: "voice-1", Speed: 0.9})
	require.NoError(t, err)
	assert.Equal(t, "wav", clip.Format)
	assert.Len(t, clip.Audio, 44+len(pcm))
	assert.InDelta(t, 1.0, clip.Duration, 1e-9)
}

func TestElevenLabsRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	p := newElevenLabs(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(make([]byte, 3200))
	})

	_, err := p.Synthesize(context.Background(), "hello", SynthesizeOptions{Voice: "v"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestElevenLabsClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	p := newElevenLabs(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"detail":"invalid key"}`)
	})

	_, err := p.Synthesize(context.Background(), "hello", SynthesizeOptions{Voice: "v"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, int32(1), calls.Load())
}

func TestElevenLabsStreamKeepsFramesWhole(t *testing.T) {
	p := newElevenLabs(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/text-to-speech/v/stream", r.URL.Path)
		flusher, _ := w.(http.Flusher)
		// odd-sized writes
		for i := 0; i < 3; i++ {
			_, _ = w.Write(make([]byte, 1001))
			if flusher != nil {
				flusher.Flush()
			}
		}
		_, _ = w.Write([]byte{0})
	})

	stream, err := p.SynthesizeStream(context.Background(), "hello", SynthesizeOptions{Voice: "v"})
	require.NoError(t, err)
	defer stream.Close()

	total := 0
	for chunk := range stream.Chunks() {
		assert.Zero(t, len(chunk)%2, "chunk splits a sample")
		total += len(chunk)
	}
	require.NoError(t, stream.Err())
	assert.Equal(t, 3004, total)
}
