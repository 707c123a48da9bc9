package stt

import (
	"context"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Request is one utterance handed to a provider
type Request struct {
	// 16-bit little-endian mono PCM
	PCM        []byte
	SampleRate int
	Language   string
	SessionID  string
}

// Result is a provider's best transcription
type Result struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Provider defines the interface for speech-to-text providers
type Provider interface {
	// Initialize initializes the provider with any required configuration
	Initialize() error

	// Name returns the provider name
	Name() string

	// Transcribe converts a single utterance to text
	Transcribe(ctx context.Context, req Request) (Result, error)
}

// ProviderManager manages all speech-to-text providers
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
		}).Error("Failed to initialize speech-to-text provider")
		return err
	}

	m.mutex.Lock()
	m.providers[provider.Name()] = provider
	m.mutex.Unlock()

	m.logger.WithField("provider", provider.Name()).Info("Registered speech-to-text provider")
	return nil
}

// GetProvider returns a provider by name
func (m *ProviderManager) GetProvider(name string) (Provider, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	provider, exists := m.providers[name]
	return provider, exists
}

// GetDefaultProvider returns the default provider
func (m *ProviderManager) GetDefaultProvider() (Provider, bool) {
	return m.GetProvider(m.defaultProvider)
}

// Resolve returns the named provider, the default one, or ErrNoProviderAvailable
func (m *ProviderManager) Resolve(name string) (Provider, error) {
	if provider, ok := m.GetProvider(name); ok {
		return provider, nil
	}

	m.logger.WithFields(logrus.Fields{
		"provider":         name,
		"default_provider": m.defaultProvider,
	}).Warn("Provider not found, falling back to default")

	if provider, ok := m.GetDefaultProvider(); ok {
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
