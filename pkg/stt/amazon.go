package stt

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"estate-voice-server/pkg/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming/types"
	"github.com/sirupsen/logrus"
)

// Chunk size recommended by Transcribe for 16kHz PCM (100ms)
const amazonChunkBytes = 3200

// AmazonTranscribeProvider implements the Provider interface for Amazon Transcribe
type AmazonTranscribeProvider struct {
	logger   *logrus.Logger
	config   *config.AmazonSTTConfig
	language string

	mutex  sync.RWMutex
	client *transcribestreaming.Client
}

// NewAmazonTranscribeProvider creates a new Amazon Transcribe provider
func NewAmazonTranscribeProvider(logger *logrus.Logger, cfg *config.AmazonSTTConfig, language string) *AmazonTranscribeProvider {
	return &AmazonTranscribeProvider{
		logger:   logger,
		config:   cfg,
		language: language,
	}
}

// Name returns the provider name
func (p *AmazonTranscribeProvider) Name() string {
	return "amazon"
}

// Initialize initializes the Amazon Transcribe client
func (p *AmazonTranscribeProvider) Initialize() error {
	if p.config == nil {
		return fmt.Errorf("Amazon STT configuration is required")
	}

	region := p.config.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		awsconfig.WithRetryMaxAttempts(2),
		awsconfig.WithRetryMode(aws.RetryModeStandard),
	}

	// Static keys win over the default credential chain
	if p.config.AccessKeyID != "" && p.config.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     p.config.AccessKeyID,
				SecretAccessKey: p.config.SecretAccessKey,
			}, nil
		})))
	}

	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		p.logger.WithError(err).Error("Failed to load AWS configuration")
		return fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	p.mutex.Lock()
	p.client = transcribestreaming.NewFromConfig(cfg)
	p.mutex.Unlock()

	p.logger.WithFields(logrus.Fields{
		"region":   region,
		"language": p.language,
	}).Info("Amazon Transcribe provider initialized successfully")
	return nil
}

// Transcribe streams the utterance and collects the final results
func (p *AmazonTranscribeProvider) Transcribe(ctx context.Context, req Request) (Result, error) {
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

	resp, err := client.StartStreamTranscription(ctx, &transcribestreaming.StartStreamTranscriptionInput{
		LanguageCode:         types.LanguageCode(language),
		MediaSampleRateHertz: aws.Int32(int32(req.SampleRate)),
		MediaEncoding:        types.MediaEncodingPcm,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to start transcription stream: %w", err)
	}

	stream := resp.GetStream()
	defer stream.Close()

	sendErr := make(chan error, 1)
	go func() {
		defer close(sendErr)
		for off := 0; off < len(req.PCM); off += amazonChunkBytes {
			end := off + amazonChunkBytes
			if end > len(req.PCM) {
				end = len(req.PCM)
			}
			event := &types.AudioStreamMemberAudioEvent{
				Value: types.AudioEvent{AudioChunk: req.PCM[off:end]},
			}
			if err := stream.Send(ctx, event); err != nil {
				sendErr <- err
				return
			}
		}
		// Closing the writer ends the utterance
		if err := stream.Writer.Close(); err != nil {
			sendErr <- err
		}
	}()

	var parts []string
	var confidenceSum float64
	var items int

	for event := range stream.Events() {
		transcript, ok := event.(*types.TranscriptResultStreamMemberTranscriptEvent)
		if !ok || transcript.Value.Transcript == nil {
			continue
		}
		for _, result := range transcript.Value.Transcript.Results {
			if result.IsPartial || len(result.Alternatives) == 0 {
				continue
			}
			alt := result.Alternatives[0]
			if alt.Transcript == nil || *alt.Transcript == "" {
				continue
			}
			parts = append(parts, strings.TrimSpace(*alt.Transcript))
			for _, item := range alt.Items {
				if item.Confidence != nil {
					confidenceSum += *item.Confidence
					items++
				}
			}
		}
	}

	if err := stream.Err(); err != nil {
		return Result{}, fmt.Errorf("amazon transcribe stream: %w", err)
	}
	if err := <-sendErr; err != nil {
		return Result{}, fmt.Errorf("amazon transcribe send: %w", err)
	}

	confidence := 0.0
	if items > 0 {
		confidence = confidenceSum / float64(items)
	}

	return Result{Text: strings.Join(parts, " "), Confidence: confidence}, nil
}
