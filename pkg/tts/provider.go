// Package tts turns agent replies into speech.
package tts

import (
	"context"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Provider is the interface for text-to-speech services
type Provider interface {
	// Initialize checks credentials and prepares clients
	Initialize() error

	// Name returns the provider identifier
	Name() string

	// Synthesize converts text to a complete audio clip
	Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Clip, error)

	// SynthesizeStream converts text to raw PCM16 delivered in chunks
	SynthesizeStream(ctx context.Context, text string, opts SynthesizeOptions) (*SynthesisStream, error)
}

// SynthesizeOptions configures synthesis
type SynthesizeOptions struct {
	Voice      string  // Voice identifier
	Speed      float64 // Speed multiplier, 1.0 is normal
	Emotion    string  // Delivery hint, taken from the strategy tone
	SampleRate int
}

// Clip is a complete synthesized utterance. Audio is always a mono PCM16 WAV.
type Clip struct {
	Audio    []byte
	Format   string
	Duration float64 // seconds, 0 when the provider does not report it
}

// SynthesisStream provides streaming audio output
type SynthesisStream struct {
	chunks chan []byte
	done   chan struct{}

	errMutex sync.Mutex
	err      error
	once     sync.Once
}

// NewSynthesisStream creates a new synthesis stream
func NewSynthesisStream() *SynthesisStream {
	return &SynthesisStream{
		chunks: make(chan []byte, 64),
		done:   make(chan struct{}),
	}
}

// Chunks returns the channel of audio chunks; it is closed when the
// producer finishes
func (s *SynthesisStream) Chunks() <-chan []byte {
	return s.chunks
}

// Err returns the producer error, if any. Call it after Chunks is drained.
func (s *SynthesisStream) Err() error {
	s.errMutex.Lock()
	defer s.errMutex.Unlock()
	return s.err
}

// Close tells the producer to stop
func (s *SynthesisStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// Done is closed once the consumer has closed the stream
func (s *SynthesisStream) Done() <-chan struct{} {
	return s.done
}

// SetError records the producer error
func (s *SynthesisStream) SetError(err error) {
	s.errMutex.Lock()
	s.err = err
	s.errMutex.Unlock()
}

// Send delivers a chunk; false means the consumer went away
func (s *SynthesisStream) Send(chunk []byte) bool {
	select {
	case s.chunks <- chunk:
		return true
	case <-s.done:
		return false
	}
}

// FinishSending closes the chunks channel to signal completion
func (s *SynthesisStream) FinishSending() {
	close(s.chunks)
}

// ProviderManager manages all text-to-speech providers
type ProviderManager struct {
	logger          *logrus.Logger
	mutex           sync.RWMutex
	providers       map[string]Provider
	defaultProvider string
}

// NewProviderManager creates a new provider manager
func NewProviderManager(logger *logrus.Logger, defaultProvider string) *ProviderManager {
	return &ProviderManager{
		logger:          logger,
		providers:       make(map[string]Provider),
		defaultProvider: defaultProvider,
	}
}

// RegisterProvider initializes and registers a provider
func (m *ProviderManager) RegisterProvider(provider Provider) error {
	if err := provider.Initialize(); err != nil {
		m.logger.WithFields(logrus.Fields{
			"provider": provider.Name(),
			"error":    err,
		}).Error("Failed to initialize text-to-speech provider")
		return err
	}

	m.mutex.Lock()
	m.providers[provider.Name()] = provider
	m.mutex.Unlock()

	m.logger.WithField("provider", provider.Name()).Info("Registered text-to-speech provider")
	return nil
}

// GetProvider returns a provider by name
func (m *ProviderManager) GetProvider(name string) (Provider, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	provider, exists := m.providers[name]
	return provider, exists
}

// Resolve returns the named provider, the default one, or ErrNoProviderAvailable
func (m *ProviderManager) Resolve(name string) (Provider, error) {
	if provider, ok := m.GetProvider(name); ok {
		return provider, nil
	}
	if provider, ok := m.GetProvider(m.defaultProvider); ok {
		m.logger.WithFields(logrus.Fields{
			"provider":         name,
			"default_provider": m.defaultProvider,
		}).Warn("Provider not found, falling back to default")
		return provider, nil
	}
	return nil, ErrNoProviderAvailable
}

// Names lists the registered providers
func (m *ProviderManager) Names() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
