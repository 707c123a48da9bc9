package stt

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"estate-voice-server/pkg/config"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// GoogleProvider implements the Provider interface for Google Speech-to-Text
type GoogleProvider struct {
	logger   *logrus.Logger
	config   *config.GoogleSTTConfig
	language string

	mutex  sync.RWMutex
	client *speech.Client
}

// NewGoogleProvider creates a new Google Speech-to-Text provider
func NewGoogleProvider(logger *logrus.Logger, cfg *config.GoogleSTTConfig, language string) *GoogleProvider {
	return &GoogleProvider{
		logger:   logger,
		config:   cfg,
		language: language,
	}
}

// Name returns the provider name
func (p *GoogleProvider) Name() string {
	return "google"
}

// Initialize initializes the Google Speech-to-Text client
func (p *GoogleProvider) Initialize() error {
	if p.config == nil {
		return fmt.Errorf("Google STT configuration is required")
	}

	var clientOptions []option.ClientOption

	// Use API key if provided, otherwise use credentials file
	if p.config.APIKey != "" {
		clientOptions = append(clientOptions, option.WithAPIKey(p.config.APIKey))
		p.logger.Debug("Using Google STT API key authentication")
	} else if p.config.CredentialsFile != "" {
		clientOptions = append(clientOptions, option.WithCredentialsFile(p.config.CredentialsFile))
		p.logger.WithField("credentials_file", p.config.CredentialsFile).Debug("Using Google STT credentials file")
	} else {
		return fmt.Errorf("Google STT requires either API key or credentials file")
	}

	client, err := speech.NewClient(context.Background(), clientOptions...)
	if err != nil {
		p.logger.WithError(err).Error("Failed to create Google Speech client")
		return fmt.Errorf("failed to create Google Speech client: %w", err)
	}

	p.mutex.Lock()
	p.client = client
	p.mutex.Unlock()

	p.logger.WithFields(logrus.Fields{
		"language":       p.language,
		"model":          p.config.Model,
		"enhanced_model": p.config.EnhancedModel,
	}).Info("Google Speech-to-Text client initialized successfully")
	return nil
}

// Transcribe sends one utterance through synchronous recognition
func (p *GoogleProvider) Transcribe(ctx context.Context, req Request) (Result, error) {
	p.mutex.RLock()
	client := p.client
	p.mutex.RUnlock()
	if client == nil {
		return Result{}, ErrInitializationFailed
	}

	language := req.Language
	if language == "" {
		language = p.language
	}

	recognitionConfig := &speechpb.RecognitionConfig{
		Encoding:                   speechpb.RecognitionConfig_LINEAR16,
		SampleRateHertz:            int32(req.SampleRate),
		LanguageCode:               language,
		EnableAutomaticPunctuation: true,
		MaxAlternatives:            1,
		UseEnhanced:                p.config.EnhancedModel,
	}
	if p.config.Model != "" {
		recognitionConfig.Model = p.config.Model
	}

	resp, err := client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: recognitionConfig,
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: req.PCM},
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("google recognize: %w", err)
	}

	var parts []string
	var confidence float64
	var scored int
	for _, result := range resp.Results {
		if len(result.Alternatives) == 0 {
			continue
		}
		alt := result.Alternatives[0]
		if alt.Transcript == "" {
			continue
		}
		parts = append(parts, strings.TrimSpace(alt.Transcript))
		confidence += float64(alt.Confidence)
		scored++
	}

	if scored > 0 {
		confidence /= float64(scored)
	}

	return Result{Text: strings.Join(parts, " "), Confidence: confidence}, nil
}

// Close releases the gRPC connection
func (p *GoogleProvider) Close() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.client == nil {
		return nil
	}
	err := p.client.Close()
	p.client = nil
	return err
}
