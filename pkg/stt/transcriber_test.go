package stt

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"estate-voice-server/pkg/cache"
	"estate-voice-server/pkg/circuitbreaker"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func tone(d time.Duration) []float64 {
	n := int(16000 * d / time.Second)
	out := make([]float64, n)
	for i := range out {
		out[i] = 0.4 * math.Sin(2*math.Pi*220*float64(i)/16000)
	}
	return out
}

func newTestTranscriber(provider Provider) *Transcriber {
	return NewTranscriber(newTestLogger(), provider, cache.NewLRU[string, Result](16, time.Hour), nil, DefaultTranscriberConfig())
}

func TestTranscribeShortAudioSkipsProvider(t *testing.T) {
	provider := NewMockProvider(newTestLogger(), "hello")
	tr := newTestTranscriber(provider)

	assert.Equal(t, "", tr.Transcribe(context.Background(), tone(99*time.Millisecond)))
	assert.Equal(t, "", tr.Transcribe(context.Background(), nil))
	assert.Equal(t, int64(0), provider.Calls())
	assert.Equal(t, int64(2), tr.GetStats().ShortAudio)
}

func TestTranscribeExactlyMinimumReachesProvider(t *testing.T) {
	provider := NewMockProvider(newTestLogger(), "hello")
	tr := newTestTranscriber(provider)

	assert.Equal(t, "hello", tr.Transcribe(context.Background(), tone(100*time.Millisecond)))
	assert.Equal(t, int64(1), provider.Calls())
}

func TestTranscribeCacheHitSkipsProvider(t *testing.T) {
	provider := NewMockProvider(newTestLogger(), "first answer", "second answer")
	tr := newTestTranscriber(provider)
	samples := tone(500 * time.Millisecond)

	first := tr.TranscribeResult(context.Background(), samples)
	second := tr.TranscribeResult(context.Background(), samples)

	assert.Equal(t, "first answer", first.Text)
	assert.Equal(t, first.Text, second.Text)
	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, int64(1), provider.Calls())
	assert.Equal(t, int64(1), tr.CacheStats().Hits)
}

func TestTranscribeCacheKeyUsesPrefixOnly(t *testing.T) {
	provider := NewMockProvider(newTestLogger(), "one", "two")
	tr := newTestTranscriber(provider)

	long := tone(2 * time.Second)
	longer := append(append([]float64{}, long...), tone(time.Second)...)

	assert.Equal(t, "one", tr.Transcribe(context.Background(), long))
	assert.Equal(t, "one", tr.Transcribe(context.Background(), longer), "inputs sharing the hashed prefix share a cache entry")
	assert.Equal(t, int64(1), provider.Calls())
}

func TestTranscribeProviderErrorYieldsEmpty(t *testing.T) {
	provider := NewMockProvider(newTestLogger(), "unused")
	provider.SetError(errors.New("vendor down"))
	tr := newTestTranscriber(provider)

	result := tr.TranscribeResult(context.Background(), tone(300*time.Millisecond))
	assert.Equal(t, "", result.Text)
	assert.Equal(t, int64(1), tr.GetStats().ProviderErrors)

	// Failures are not cached
	provider.SetError(nil)
	assert.Equal(t, "unused", tr.Transcribe(context.Background(), tone(300*time.Millisecond)))
}

func TestTranscribeTimeout(t *testing.T) {
	provider := NewMockProvider(newTestLogger(), "slow")
	provider.SetDelay(time.Second)

	cfg := DefaultTranscriberConfig()
	cfg.Timeout = 20 * time.Millisecond
	tr := NewTranscriber(newTestLogger(), provider, nil, nil, cfg)

	start := time.Now()
	assert.Equal(t, "", tr.Transcribe(context.Background(), tone(200*time.Millisecond)))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

type panickingProvider struct{}

func (panickingProvider) Initialize() error { return nil }
func (panickingProvider) Name() string      { return "panicky" }
func (panickingProvider) Transcribe(ctx context.Context, req Request) (Result, error) {
	panic("boom")
}

func TestTranscribeRecoversProviderPanic(t *testing.T) {
	tr := NewTranscriber(newTestLogger(), panickingProvider{}, nil, nil, DefaultTranscriberConfig())
	assert.Equal(t, "", tr.Transcribe(context.Background(), tone(200*time.Millisecond)))
	assert.Equal(t, int64(1), tr.GetStats().ProviderErrors)
}

func TestTranscribeCircuitOpensAndShortCircuits(t *testing.T) {
	provider := NewMockProvider(newTestLogger(), "x")
	provider.SetError(errors.New("vendor down"))

	breakers := circuitbreaker.NewManager(newTestLogger(), circuitbreaker.SpeechProviderConfig(2, time.Minute), true)
	tr := NewTranscriber(newTestLogger(), provider, nil, breakers, DefaultTranscriberConfig())

	for i := 0; i < 4; i++ {
		assert.Equal(t, "", tr.Transcribe(context.Background(), tone(200*time.Millisecond)))
	}

	assert.Equal(t, int64(2), provider.Calls(), "open breaker stops calls to the vendor")
	require.Equal(t, []string{"stt:mock"}, breakers.OpenBreakers())
}

func TestProviderManager(t *testing.T) {
	m := NewProviderManager(newTestLogger(), "mock")
	require.NoError(t, m.RegisterProvider(NewMockProvider(newTestLogger())))

	p, err := m.Resolve("google")
	require.NoError(t, err)
	assert.Equal(t, "mock", p.Name(), "unknown provider falls back to the default")
	assert.Equal(t, []string{"mock"}, m.Names())

	empty := NewProviderManager(newTestLogger(), "mock")
	_, err = empty.Resolve("mock")
	assert.ErrorIs(t, err, ErrNoProviderAvailable)
}

func TestProviderManagerRejectsFailedInitialize(t *testing.T) {
	m := NewProviderManager(newTestLogger(), "openai")
	err := m.RegisterProvider(NewOpenAIProvider(newTestLogger(), nil, "en-US"))
	assert.Error(t, err)
	_, ok := m.GetProvider("openai")
	assert.False(t, ok)
}
