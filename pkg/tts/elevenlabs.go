package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"estate-voice-server/pkg/audio"
	"estate-voice-server/pkg/config"
	"estate-voice-server/pkg/version"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

const elevenLabsReadChunk = 4096

// ElevenLabsProvider synthesizes through the ElevenLabs REST API
type ElevenLabsProvider struct {
	logger     *logrus.Logger
	config     *config.ElevenLabsTTSConfig
	httpClient *http.Client
	maxRetries uint64
}

// NewElevenLabsProvider creates a new ElevenLabs provider
func NewElevenLabsProvider(logger *logrus.Logger, cfg *config.ElevenLabsTTSConfig) *ElevenLabsProvider {
	return &ElevenLabsProvider{
		logger:     logger,
		config:     cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		maxRetries: 2,
	}
}

// Name returns the provider name
func (p *ElevenLabsProvider) Name() string {
	return "elevenlabs"
}

// Initialize validates the configuration
func (p *ElevenLabsProvider) Initialize() error {
	if p.config == nil || strings.TrimSpace(p.config.APIKey) == "" {
		return fmt.Errorf("ELEVENLABS_API_KEY is not set in the environment")
	}
	p.logger.WithField("model", p.config.ModelID).Info("ElevenLabs provider initialized successfully")
	return nil
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

type elevenLabsRequest struct {
	Text          string                  `json:"text"`
	ModelID       string                  `json:"model_id,omitempty"`
	VoiceSettings elevenLabsVoiceSettings `json:"voice_settings"`
}

// Synthesize fetches the whole clip, retrying throttling and server errors
func (p *ElevenLabsProvider) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Clip, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	var pcm []byte
	op := func() error {
		resp, err := p.post(ctx, text, opts, false)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		pcm, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read ElevenLabs audio: %w", err)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = 0
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, p.maxRetries), ctx)); err != nil {
		return nil, err
	}
	if len(pcm) == 0 {
		return nil, ErrEmptyAudio
	}

	rate := sampleRate(opts)
	return &Clip{
		Audio:    audio.EncodeWAV(pcm, rate),
		Format:   "wav",
		Duration: float64(len(pcm)/2) / float64(rate),
	}, nil
}

// SynthesizeStream relays the streaming endpoint body as PCM chunks
func (p *ElevenLabsProvider) SynthesizeStream(ctx context.Context, text string, opts SynthesizeOptions) (*SynthesisStream, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	resp, err := p.post(ctx, text, opts, true)
	if err != nil {
		return nil, err
	}

	stream := NewSynthesisStream()
	go func() {
		defer stream.FinishSending()
		defer resp.Body.Close()

		// PCM16 frames must not be split across chunks
		var carry []byte
		buf := make([]byte, elevenLabsReadChunk)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				data := append(carry, buf[:n]...)
				even := len(data) &^ 1
				carry = append([]byte(nil), data[even:]...)
				if even > 0 && !stream.Send(append([]byte(nil), data[:even]...)) {
					return
				}
			}
			if err == io.EOF {
				return
			}
			if err != nil {
				stream.SetError(err)
				return
			}
		}
	}()

	return stream, nil
}

// post sends the request and returns a 200 response or a classified error
func (p *ElevenLabsProvider) post(ctx context.Context, text string, opts SynthesizeOptions, streaming bool) (*http.Response, error) {
	if strings.TrimSpace(opts.Voice) == "" {
		return nil, backoff.Permanent(fmt.Errorf("voice id is required"))
	}

	endpoint := fmt.Sprintf("%s/text-to-speech/%s", strings.TrimRight(p.config.BaseURL, "/"), url.PathEscape(opts.Voice))
	if streaming {
		endpoint += "/stream"
	}
	endpoint += "?output_format=" + url.QueryEscape(fmt.Sprintf("pcm_%d", sampleRate(opts)))

	body, err := json.Marshal(elevenLabsRequest{
		Text:    text,
		ModelID: p.config.ModelID,
		VoiceSettings: elevenLabsVoiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
			Speed:           opts.Speed,
		},
	})
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create ElevenLabs request: %w", err))
	}
	req.Header.Set("xi-api-key", p.config.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/pcm")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("failed to send request to ElevenLabs: %w", err)
	}

	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}

	defer resp.Body.Close()
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	statusErr := fmt.Errorf("ElevenLabs returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, statusErr
	}
	return nil, backoff.Permanent(statusErr)
}

func sampleRate(opts SynthesizeOptions) int {
	if opts.SampleRate > 0 {
		return opts.SampleRate
	}
	return 16000
}
