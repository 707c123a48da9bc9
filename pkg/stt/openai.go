package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"estate-voice-server/pkg/audio"
	"estate-voice-server/pkg/config"
	"estate-voice-server/pkg/version"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// OpenAIProvider implements the Provider interface for OpenAI
type OpenAIProvider struct {
	logger     *logrus.Logger
	config     *config.OpenAISTTConfig
	language   string
	httpClient *http.Client
	maxRetries uint64
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(logger *logrus.Logger, cfg *config.OpenAISTTConfig, language string) *OpenAIProvider {
	return &OpenAIProvider{
		logger:     logger,
		config:     cfg,
		language:   language,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		maxRetries: 2,
	}
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Initialize initializes the OpenAI client
func (p *OpenAIProvider) Initialize() error {
	if p.config == nil || p.config.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is not set in the environment")
	}
	p.logger.WithField("model", p.config.Model).Info("OpenAI provider initialized successfully")
	return nil
}

type openAITranscription struct {
	Text string `json:"text"`
}

// Transcribe uploads the utterance as a WAV file
func (p *OpenAIProvider) Transcribe(ctx context.Context, req Request) (Result, error) {
	body, contentType, err := p.buildForm(req)
	if err != nil {
		return Result{}, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = 0

	var out openAITranscription
	op := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/audio/transcriptions", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create OpenAI request: %w", err))
		}
		httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)
		httpReq.Header.Set("Content-Type", contentType)
		httpReq.Header.Set("User-Agent", version.UserAgent())

		resp, err := p.httpClient.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("failed to send request to OpenAI: %w", err)
		}
		defer resp.Body.Close()

		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("OpenAI returned status %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(fmt.Errorf("OpenAI returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload))))
		}

		if err := json.Unmarshal(payload, &out); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode OpenAI response: %w", err))
		}
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, p.maxRetries), ctx)); err != nil {
		return Result{}, err
	}

	// Whisper does not report a confidence for the json format
	confidence := 0.0
	if strings.TrimSpace(out.Text) != "" {
		confidence = 0.9
	}

	return Result{Text: strings.TrimSpace(out.Text), Confidence: confidence}, nil
}

func (p *OpenAIProvider) buildForm(req Request) ([]byte, string, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	part, err := form.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(audio.EncodeWAV(req.PCM, req.SampleRate)); err != nil {
		return nil, "", err
	}

	language := req.Language
	if language == "" {
		language = p.language
	}
	// Whisper expects ISO-639-1
	if i := strings.IndexByte(language, '-'); i > 0 {
		language = language[:i]
	}

	fields := map[string]string{
		"model":           p.config.Model,
		"response_format": "json",
		"language":        strings.ToLower(language),
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := form.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}

	if err := form.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), form.FormDataContentType(), nil
}
