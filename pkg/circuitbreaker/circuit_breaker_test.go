package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time           { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg *Config) (*CircuitBreaker, *fakeClock) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	cb := NewCircuitBreaker("test", cfg, logger)
	cb.now = clock.now
	return cb, clock
}

var errUpstream = errors.New("upstream failed")

func fail(ctx context.Context) error    { return errUpstream }
func succeed(ctx context.Context) error { return nil }

func TestBreakerOpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(SpeechProviderConfig(3, time.Second))

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, cb.Execute(context.Background(), fail), errUpstream)
		assert.Equal(t, StateClosed, cb.GetState())
	}

	assert.ErrorIs(t, cb.Execute(context.Background(), fail), errUpstream)
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.False(t, called, "open breaker must not call through")
	assert.True(t, IsCircuitBreakerError(err))
	assert.True(t, IsCircuitBreakerError(fmt.Errorf("wrapped: %w", err)))

	stats := cb.GetStatistics()
	assert.Equal(t, "open", stats.State)
	assert.Equal(t, int64(3), stats.FailedRequests)
	assert.Equal(t, int64(1), stats.RejectedRequests)
}

func TestBreakerHalfOpenRecovers(t *testing.T) {
	cb, clock := newTestBreaker(SpeechProviderConfig(1, time.Second))

	_ = cb.Execute(context.Background(), fail)
	require.True(t, cb.IsOpen())

	clock.advance(1500 * time.Millisecond)
	require.NoError(t, cb.Execute(context.Background(), succeed))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestBreakerHalfOpenFailureReopensWithBackoff(t *testing.T) {
	cb, clock := newTestBreaker(SpeechProviderConfig(1, time.Second))

	_ = cb.Execute(context.Background(), fail)
	firstAttempt := cb.GetStatistics().NextAttempt

	clock.advance(1500 * time.Millisecond)
	_ = cb.Execute(context.Background(), fail)
	assert.True(t, cb.IsOpen())

	second := cb.GetStatistics().NextAttempt
	assert.Equal(t, 2*time.Second, second.Sub(clock.now()), "second consecutive failure doubles the open window")
	assert.True(t, second.After(firstAttempt))
}

func TestBreakerIgnoresCallerCancellation(t *testing.T) {
	cb, _ := newTestBreaker(SpeechProviderConfig(1, time.Second))

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		return fmt.Errorf("synthesis aborted: %w", context.Canceled)
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, int64(0), cb.GetStatistics().FailedRequests)
}

func TestBreakerAppliesRequestTimeout(t *testing.T) {
	cfg := SpeechProviderConfig(3, time.Second)
	cfg.RequestTimeout = 50 * time.Millisecond
	cb, _ := newTestBreaker(cfg)

	var hadDeadline bool
	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		_, hadDeadline = ctx.Deadline()
		return nil
	})
	assert.True(t, hadDeadline)
}

func TestExecuteWithFallback(t *testing.T) {
	cb, _ := newTestBreaker(SpeechProviderConfig(1, time.Minute))
	_ = cb.Execute(context.Background(), fail)

	usedFallback := false
	err := cb.ExecuteWithFallback(context.Background(), succeed, func(ctx context.Context) error {
		usedFallback = true
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, usedFallback)
}

func TestBreakerReset(t *testing.T) {
	cb, _ := newTestBreaker(SpeechProviderConfig(1, time.Minute))
	_ = cb.Execute(context.Background(), fail)
	require.True(t, cb.IsOpen())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, int64(0), cb.GetStatistics().TotalRequests)
}

func TestManager(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	m := NewManager(logger, SpeechProviderConfig(1, time.Minute), true)
	assert.Same(t, m.GetCircuitBreaker("stt:mock", nil), m.GetCircuitBreaker("stt:mock", nil))

	_ = m.Execute(context.Background(), "stt:mock", fail)
	_ = m.Execute(context.Background(), "tts:mock", succeed)

	assert.Equal(t, []string{"stt:mock"}, m.OpenBreakers())
	stats := m.GetAllStatistics()
	assert.Len(t, stats, 2)
	assert.Equal(t, "closed", stats["tts:mock"].State)
}

func TestManagerDisabledPassesThrough(t *testing.T) {
	m := NewManager(logrus.New(), SpeechProviderConfig(1, time.Minute), false)

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, m.Execute(context.Background(), "stt:mock", fail), errUpstream)
	}
	assert.Empty(t, m.OpenBreakers())
}
