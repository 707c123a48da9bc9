package stt

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// MockProvider returns scripted transcriptions. It is the default provider
// for local runs and the workhorse of the pipeline tests.
type MockProvider struct {
	logger *logrus.Logger

	mutex     sync.Mutex
	responses []string
	next      int
	err       error
	delay     time.Duration

	calls atomic.Int64
}

// NewMockProvider creates a mock provider cycling through responses
func NewMockProvider(logger *logrus.Logger, responses ...string) *MockProvider {
	if len(responses) == 0 {
		responses = []string{"I'm looking for a three bedroom house"}
	}
	return &MockProvider{
		logger:    logger,
		responses: responses,
	}
}

// Name returns the provider name
func (p *MockProvider) Name() string {
	return "mock"
}

// Initialize initializes the mock provider
func (p *MockProvider) Initialize() error {
	p.logger.Info("Mock STT provider initialized")
	return nil
}

// SetResponses replaces the scripted transcriptions
func (p *MockProvider) SetResponses(responses ...string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.responses = responses
	p.next = 0
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

// Calls returns how many times Transcribe reached the provider
func (p *MockProvider) Calls() int64 {
	return p.calls.Load()
}

// Transcribe returns the next scripted response
func (p *MockProvider) Transcribe(ctx context.Context, req Request) (Result, error) {
	p.calls.Add(1)

	p.mutex.Lock()
	delay, err := p.delay, p.err
	text := ""
	if len(p.responses) > 0 {
		text = p.responses[p.next%len(p.responses)]
		p.next++
	}
	p.mutex.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-timer.C:
		}
	}

	if err != nil {
		return Result{}, err
	}

	p.logger.WithFields(logrus.Fields{
		"session_id": req.SessionID,
		"bytes":      len(req.PCM),
	}).Debug("Mock STT provider returning scripted transcription")

	return Result{Text: text, Confidence: 0.95}, nil
}
