package tts

import (
	"context"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"estate-voice-server/pkg/audio"

	"github.com/sirupsen/logrus"
)

const (
	mockWordsPerSecond = 2.5
	mockToneHz         = 220.0
	mockChunkBytes     = 3200
)

// MockProvider renders a quiet tone whose length follows the word count,
// so durations look like real speech without a vendor.
type MockProvider struct {
	logger *logrus.Logger

	mutex sync.Mutex
	err   error
	delay time.Duration

	calls atomic.Int64
}

// NewMockProvider creates a mock provider
func NewMockProvider(logger *logrus.Logger) *MockProvider {
	return &MockProvider{logger: logger}
}

// Name returns the provider name
func (p *MockProvider) Name() string {
	return "mock"
}

// Initialize initializes the mock provider
func (p *MockProvider) Initialize() error {
	p.logger.Info("Mock TTS provider initialized")
	return nil
}

// SetError makes every following call fail with err (nil clears it)
func (p *MockProvider) SetError(err error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.err = err
}

// SetDelay simulates vendor latency
func (p *MockProvider) SetDelay(d time.Duration) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.delay = d
}

// Calls returns how many synthesis requests reached the provider
func (p *MockProvider) Calls() int64 {
	return p.calls.Load()
}

// Synthesize returns the whole clip
func (p *MockProvider) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Clip, error) {
	pcm, rate, err := p.render(ctx, text, opts)
	if err != nil {
		return nil, err
	}
	return &Clip{
		Audio:    audio.EncodeWAV(pcm, rate),
		Format:   "wav",
		Duration: float64(len(pcm)/2) / float64(rate),
	}, nil
}

// SynthesizeStream delivers the clip as raw PCM chunks
func (p *MockProvider) SynthesizeStream(ctx context.Context, text string, opts SynthesizeOptions) (*SynthesisStream, error) {
	pcm, _, err := p.render(ctx, text, opts)
	if err != nil {
		return nil, err
	}

	stream := NewSynthesisStream()
	go func() {
		defer stream.FinishSending()
		for off := 0; off < len(pcm); off += mockChunkBytes {
			end := off + mockChunkBytes
			if end > len(pcm) {
				end = len(pcm)
			}
			if ctx.Err() != nil {
				stream.SetError(ctx.Err())
				return
			}
			if !stream.Send(pcm[off:end]) {
				return
			}
		}
	}()
	return stream, nil
}

func (p *MockProvider) render(ctx context.Context, text string, opts SynthesizeOptions) ([]byte, int, error) {
	p.calls.Add(1)

	p.mutex.Lock()
	delay, err := p.delay, p.err
	p.mutex.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-timer.C:
		}
	}
	if err != nil {
		return nil, 0, err
	}

	words := len(strings.Fields(text))
	if words == 0 {
		return nil, 0, ErrEmptyText
	}

	rate := opts.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	speed := opts.Speed
	if speed <= 0 {
		speed = 1
	}

	seconds := float64(words) / (mockWordsPerSecond * speed)
	samples := make([]float64, int(seconds*float64(rate)))
	for i := range samples {
		samples[i] = 0.1 * math.Sin(2*math.Pi*mockToneHz*float64(i)/float64(rate))
	}

	p.logger.WithFields(logrus.Fields{
		"voice":   opts.Voice,
		"words":   words,
		"seconds": seconds,
	}).Debug("Mock TTS provider rendered tone")

	return audio.EncodePCM16(samples), rate, nil
}
