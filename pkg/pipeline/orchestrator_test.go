package pipeline

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"estate-voice-server/pkg/analysis"
	"estate-voice-server/pkg/audio"
	"estate-voice-server/pkg/cache"
	"estate-voice-server/pkg/conversation"
	"estate-voice-server/pkg/errors"
	"estate-voice-server/pkg/messaging"
	"estate-voice-server/pkg/response"
	"estate-voice-server/pkg/session"
	"estate-voice-server/pkg/stt"
	"estate-voice-server/pkg/tts"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const worriedAboutPrice = "I'm worried about the price, it's too expensive for my budget"

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// speech renders a low, steady tone the VAD accepts as voice
func speech(d time.Duration) []byte {
	n := int(16000 * d / time.Second)
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = 0.2 * math.Sin(2*math.Pi*200*float64(i)/16000)
	}
	return audio.EncodePCM16(samples)
}

func silence(d time.Duration) []byte {
	return make([]byte, 2*int(16000*d/time.Second))
}

type harness struct {
	t            *testing.T
	orchestrator *Orchestrator
	stt          *stt.MockProvider
	tts          *tts.MockProvider
	transport    *messaging.MemoryTransport
	sessions     *session.Manager
	stages       Stages
}

func newHarness(t *testing.T, cfg Config, customize func(*Stages), transcripts ...string) *harness {
	t.Helper()
	logger := newTestLogger()

	sttProvider := stt.NewMockProvider(logger, transcripts...)
	ttsProvider := tts.NewMockProvider(logger)

	transcriptCache := cache.NewLRU[string, stt.Result](100, time.Hour)
	t.Cleanup(transcriptCache.Close)

	store := tts.NewAudioStore(16, time.Minute, "/api/v1/audio")
	t.Cleanup(store.Close)

	stages := Stages{
		Preprocessor: audio.NewPreprocessor(logger, audio.DefaultProcessingConfig()),
		Transcriber:  stt.NewTranscriber(logger, sttProvider, transcriptCache, nil, stt.DefaultTranscriberConfig()),
		Features:     audio.NewFeatureExtractor(logger, 16000),
		Emotion:      analysis.NewEmotionClassifier(logger, 0.3),
		Intent:       analysis.NewIntentClassifier(logger),
		Objections:   analysis.NewObjectionDetector(logger),
		Entities:     analysis.NewEntityExtractor(logger),
		Generator:    response.NewGenerator(logger, rand.New(rand.NewSource(7))),
		Synthesizer:  tts.NewSynthesizer(logger, ttsProvider, store, nil, tts.DefaultSynthesizerConfig()),
	}
	if customize != nil {
		customize(&stages)
	}

	transport := messaging.NewMemoryTransport(0)
	publisher := messaging.NewEventPublisher(logger, transport, nil, messaging.DefaultPublisherConfig())
	publisher.Start()
	t.Cleanup(func() { _ = publisher.Close() })

	sessions := session.NewManager(logger, nil, session.DefaultManagerConfig())

	o, err := New(logger, stages, sessions, publisher, cfg)
	require.NoError(t, err)

	return &harness{t: t, orchestrator: o, stt: sttProvider, tts: ttsProvider, transport: transport, sessions: sessions, stages: stages}
}

func (h *harness) process(ctx context.Context, chunk Chunk) []Event {
	events, err := h.orchestrator.Process(ctx, chunk)
	assert.NoError(h.t, err)
	return events
}

func (h *harness) connect(sessionID, tenantID, agentID string) Event {
	event, err := h.orchestrator.Connect(context.Background(), sessionID, tenantID, agentID)
	require.NoError(h.t, err)
	return event
}

func eventTypes(events []Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.EventType()
	}
	return out
}

func TestWorriedAboutPriceEndToEnd(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil, worriedAboutPrice)

	events := h.process(context.Background(), Chunk{SessionID: "s1", AgentID: "agent-1", Audio: speech(500 * time.Millisecond)})

	require.Equal(t, []string{
		TypeTranscription,
		TypeEmotionDetected,
		TypeIntentClassified,
		TypeObjectionDetected,
		TypeResponseGenerated,
	}, eventTypes(events))

	transcription := events[0].(*TranscriptionEvent)
	assert.Equal(t, worriedAboutPrice, transcription.Text)
	assert.Equal(t, "s1", transcription.SessionID)

	emotion := events[1].(*EmotionDetectedEvent)
	assert.Equal(t, analysis.EmotionFear, emotion.Emotion)

	intent := events[2].(*IntentClassifiedEvent)
	assert.Equal(t, analysis.IntentBudgetDiscussion, intent.Intent)
	assert.Equal(t, 0.8, intent.Confidence)

	objection := events[3].(*ObjectionDetectedEvent)
	assert.Equal(t, []string{analysis.ObjectionPriceTooHigh}, objection.Objections)

	reply := events[4].(*ResponseGeneratedEvent)
	assert.Equal(t, response.CategoryObjectionPrice, reply.Strategy.TemplateCategory)
	assert.Equal(t, response.ToneReassuring, reply.Strategy.Tone)
	assert.Contains(t, reply.Text, "value")
	assert.True(t, strings.HasPrefix(reply.Text, "Don't worry, "))
	assert.True(t, strings.HasPrefix(reply.AudioURL, "/api/v1/audio/"))
	assert.False(t, reply.Degraded)
	assert.Greater(t, reply.PerformanceMetrics.TotalProcessingMs, 0.0)
	assert.Equal(t, reply.ProcessingTimeMs, reply.PerformanceMetrics.TotalProcessingMs)

	sess, ok := h.sessions.Get("s1")
	require.True(t, ok)
	snap := sess.Context.Snapshot()
	require.Len(t, snap.History, 2)
	assert.Equal(t, conversation.SpeakerUser, snap.History[0].Speaker)
	assert.Equal(t, conversation.SpeakerAgent, snap.History[1].Speaker)
	assert.Equal(t, response.CategoryObjectionPrice, snap.History[1].Strategy)
	require.Len(t, snap.EmotionTimeline, 1)
	assert.Equal(t, analysis.EmotionFear, snap.EmotionTimeline[0].Emotion)
	assert.Equal(t, analysis.IntentBudgetDiscussion, snap.CurrentIntent)
	assert.Equal(t, []string{analysis.ObjectionPriceTooHigh}, snap.Objections)

	record := sess.Record()
	assert.Equal(t, 1, record.TurnCount)
	assert.Equal(t, 1, record.SuccessCount)
}

func TestSilentChunkEmitsOnlySilence(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)

	events := h.process(context.Background(), Chunk{SessionID: "s1", Audio: silence(500 * time.Millisecond)})

	require.Equal(t, []string{TypeSilenceDetected}, eventTypes(events))
	assert.False(t, events[0].(*SilenceDetectedEvent).AudioQuality.IsSpeech)
	assert.Equal(t, int64(0), h.stt.Calls())

	sess, _ := h.sessions.Get("s1")
	snap := sess.Context.Snapshot()
	assert.Empty(t, snap.History)
	assert.Empty(t, snap.EmotionTimeline)
	assert.Empty(t, snap.Objections)
	assert.Empty(t, snap.CurrentIntent)
	assert.Equal(t, 1, sess.Record().ChunkCount)
}

func TestShortAudioEmitsOnlyNoSpeech(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil, worriedAboutPrice)

	events := h.process(context.Background(), Chunk{SessionID: "s1", Audio: speech(50 * time.Millisecond)})

	require.Equal(t, []string{TypeNoSpeechDetected}, eventTypes(events))
	assert.Equal(t, int64(0), h.stt.Calls())
}

func TestTrivialTranscriptIsNoSpeech(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil, " a ")

	events := h.process(context.Background(), Chunk{SessionID: "s1", Audio: speech(300 * time.Millisecond)})
	assert.Equal(t, []string{TypeNoSpeechDetected}, eventTypes(events))
}

type panickingEmotion struct{}

func (panickingEmotion) Classify(string, audio.Features) analysis.EmotionResult {
	panic("emotion model crashed")
}

func TestFailingAnalyzerDoesNotBlockSiblings(t *testing.T) {
	h := newHarness(t, DefaultConfig(), func(s *Stages) { s.Emotion = panickingEmotion{} }, worriedAboutPrice)

	events := h.process(context.Background(), Chunk{SessionID: "s1", Audio: speech(500 * time.Millisecond)})

	require.Equal(t, []string{
		TypeTranscription,
		TypeIntentClassified,
		TypeObjectionDetected,
		TypeResponseGenerated,
	}, eventTypes(events))

	assert.Equal(t, analysis.IntentBudgetDiscussion, events[1].(*IntentClassifiedEvent).Intent)
	assert.Equal(t, []string{analysis.ObjectionPriceTooHigh}, events[2].(*ObjectionDetectedEvent).Objections)

	reply := events[3].(*ResponseGeneratedEvent)
	assert.Equal(t, response.CategoryObjectionPrice, reply.Strategy.TemplateCategory)
	// No emotion, so no tone override
	assert.Equal(t, response.ToneProfessional, reply.Strategy.Tone)

	sess, _ := h.sessions.Get("s1")
	assert.Empty(t, sess.Context.Snapshot().EmotionTimeline)
}

type panickingPreprocessor struct{}

func (panickingPreprocessor) Preprocess([]byte) (audio.AudioQuality, []float64) {
	panic("internal detail: nil pointer in decoder")
}

func TestUnexpectedFailureEmitsGenericError(t *testing.T) {
	h := newHarness(t, DefaultConfig(), func(s *Stages) { s.Preprocessor = panickingPreprocessor{} })

	events := h.process(context.Background(), Chunk{SessionID: "s1", Audio: speech(500 * time.Millisecond)})

	require.Equal(t, []string{TypeError}, eventTypes(events))
	errEvent := events[0].(*ErrorEvent)
	assert.Equal(t, ErrorCodeProcessing, errEvent.ErrorCode)
	assert.Equal(t, GenericErrorMessage, errEvent.Message)
	assert.NotContains(t, errEvent.Message, "nil pointer")

	// The session survives
	_, ok := h.sessions.Get("s1")
	assert.True(t, ok)
	assert.Equal(t, int64(1), h.orchestrator.GetStats().Errors)
}

func TestHardDeadlineYieldsTextOnlyReply(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HardDeadline = 100 * time.Millisecond
	cfg.LatencyTarget = time.Nanosecond
	h := newHarness(t, cfg, nil, worriedAboutPrice)
	h.tts.SetDelay(2 * time.Second)

	start := time.Now()
	events := h.process(context.Background(), Chunk{SessionID: "s1", Audio: speech(500 * time.Millisecond)})
	assert.Less(t, time.Since(start), time.Second)

	require.NotEmpty(t, events)
	reply, ok := events[len(events)-1].(*ResponseGeneratedEvent)
	require.True(t, ok)
	assert.True(t, reply.Degraded)
	assert.Empty(t, reply.AudioURL)
	assert.NotEmpty(t, reply.Text)

	stats := h.orchestrator.GetStats()
	assert.Equal(t, int64(1), stats.DegradedResponses)
	assert.Equal(t, int64(1), stats.SLAViolations)
}

func TestRepeatedAudioIsTranscribedOnce(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil, worriedAboutPrice, "something else entirely")
	chunk := speech(500 * time.Millisecond)

	first := h.process(context.Background(), Chunk{SessionID: "a", Audio: chunk})
	second := h.process(context.Background(), Chunk{SessionID: "b", Audio: chunk})

	assert.Equal(t, int64(1), h.stt.Calls())
	assert.Equal(t, first[0].(*TranscriptionEvent).Text, second[0].(*TranscriptionEvent).Text)
}

func TestTimestampsNeverGoBackwards(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil, worriedAboutPrice)

	base := time.Now()
	var mutex sync.Mutex
	step := 0
	h.orchestrator.now = func() time.Time {
		mutex.Lock()
		defer mutex.Unlock()
		step++
		// Clock jumps back every third reading
		if step%3 == 0 {
			return base.Add(-time.Second)
		}
		return base.Add(time.Duration(step) * time.Millisecond)
	}

	events := []Event{h.connect("s1", "", "")}
	events = append(events, h.process(context.Background(), Chunk{SessionID: "s1", Audio: speech(500 * time.Millisecond)})...)

	require.Greater(t, len(events), 2)
	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].Time().Before(events[i-1].Time()), "event %d went back in time", i)
	}
}

func TestChunksOfOneSessionAreSerialized(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil, "I want to schedule a viewing", "what is the price of that home")
	h.stt.SetDelay(20 * time.Millisecond)

	// Distinct audio so neither chunk hits the cache
	chunks := [][]byte{speech(400 * time.Millisecond), speech(600 * time.Millisecond)}

	var wg sync.WaitGroup
	for _, audioChunk := range chunks {
		wg.Add(1)
		go func(data []byte) {
			defer wg.Done()
			h.process(context.Background(), Chunk{SessionID: "s1", Audio: data})
		}(audioChunk)
	}
	wg.Wait()

	sess, _ := h.sessions.Get("s1")
	history := sess.Context.Snapshot().History
	require.Len(t, history, 4)
	for i, turn := range history {
		if i%2 == 0 {
			assert.Equal(t, conversation.SpeakerUser, turn.Speaker)
		} else {
			assert.Equal(t, conversation.SpeakerAgent, turn.Speaker)
		}
	}
}

func TestEventsArePublished(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil, worriedAboutPrice)

	h.connect("s1", "acme", "agent-1")
	h.process(context.Background(), Chunk{SessionID: "s1", TenantID: "acme", Audio: speech(500 * time.Millisecond)})
	require.NoError(t, h.orchestrator.EndSession(context.Background(), "s1", "acme"))

	require.Eventually(t, func() bool { return len(h.transport.Deliveries()) == 7 }, time.Second, 5*time.Millisecond)

	deliveries := h.transport.Deliveries()
	assert.Equal(t, "conversation.event.connected", deliveries[0].RoutingKey)
	assert.Equal(t, "conversation.event.transcription", deliveries[1].RoutingKey)
	assert.Equal(t, "conversation.session_end", deliveries[6].RoutingKey)

	msg, err := deliveries[6].Decode()
	require.NoError(t, err)
	assert.Equal(t, "acme", msg.TenantID)

	var summary struct {
		Record session.Record `json:"record"`
	}
	require.NoError(t, json.Unmarshal(msg.Payload, &summary))
	assert.Equal(t, 1, summary.Record.TurnCount)
	assert.NotNil(t, summary.Record.EndedAt)
}

func TestSessionView(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil, worriedAboutPrice)
	ctx := context.Background()

	_, err := h.orchestrator.Session(ctx, "missing", "")
	require.Error(t, err)

	h.process(ctx, Chunk{SessionID: "s1", Audio: speech(500 * time.Millisecond)})

	view, err := h.orchestrator.Session(ctx, "s1", "")
	require.NoError(t, err)
	assert.True(t, view.Active)
	require.NotNil(t, view.Context)
	assert.Len(t, view.Context.History, 2)

	require.NoError(t, h.orchestrator.EndSession(ctx, "s1", ""))
	view, err = h.orchestrator.Session(ctx, "s1", "")
	require.NoError(t, err)
	assert.False(t, view.Active)
	assert.Nil(t, view.Context)
	assert.Equal(t, 1, view.Record.TurnCount)
}

func TestEndSessionWaitsForInFlightChunk(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil, worriedAboutPrice)
	h.stt.SetDelay(100 * time.Millisecond)
	ctx := context.Background()

	var mutex sync.Mutex
	var emitted []string
	done := make(chan error, 1)
	go func() {
		done <- h.orchestrator.ProcessChunk(ctx, Chunk{SessionID: "s1", Audio: speech(500 * time.Millisecond)}, func(e Event) {
			mutex.Lock()
			emitted = append(emitted, e.EventType())
			mutex.Unlock()
		})
	}()

	require.Eventually(t, func() bool { return h.sessions.ActiveCount() == 1 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, h.orchestrator.EndSession(ctx, "s1", ""))

	// Every event of the turn went out before the session closed
	mutex.Lock()
	assert.Len(t, emitted, 5)
	mutex.Unlock()
	require.NoError(t, <-done)

	_, live := h.sessions.Get("s1")
	assert.False(t, live)
	_, clockKept := h.orchestrator.clocks.Load("s1")
	assert.False(t, clockKept)

	require.Eventually(t, func() bool {
		for _, d := range h.transport.Deliveries() {
			if d.RoutingKey == "conversation.session_end" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
	for _, d := range h.transport.Deliveries() {
		if d.RoutingKey != "conversation.session_end" {
			continue
		}
		msg, err := d.Decode()
		require.NoError(t, err)
		var summary struct {
			Record session.Record `json:"record"`
		}
		require.NoError(t, json.Unmarshal(msg.Payload, &summary))
		assert.Equal(t, 1, summary.Record.TurnCount)
	}
}

func TestOtherTenantCannotJoinSession(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil, worriedAboutPrice, "I want to schedule a viewing")
	ctx := context.Background()

	h.process(ctx, Chunk{SessionID: "s1", TenantID: "acme", Audio: speech(500 * time.Millisecond)})

	events, err := h.orchestrator.Process(ctx, Chunk{SessionID: "s1", TenantID: "other", Audio: speech(600 * time.Millisecond)})
	assert.True(t, errors.Is(err, errors.ErrSessionNotFound))
	assert.Empty(t, events)

	_, err = h.orchestrator.Connect(ctx, "s1", "other", "")
	assert.True(t, errors.Is(err, errors.ErrSessionNotFound))

	_, err = h.orchestrator.Session(ctx, "s1", "other")
	assert.True(t, errors.Is(err, errors.ErrSessionNotFound))
	assert.True(t, errors.Is(h.orchestrator.EndSession(ctx, "s1", "other"), errors.ErrSessionNotFound))

	view, err := h.orchestrator.Session(ctx, "s1", "acme")
	require.NoError(t, err)
	assert.True(t, view.Active)
	assert.Len(t, view.Context.History, 2)
	assert.Equal(t, 1, view.Record.TurnCount)
}

func TestEventJSONShape(t *testing.T) {
	event := &TranscriptionEvent{EventMeta: newMeta(TypeTranscription), Text: "hello", Confidence: 0.9, ProcessingTimeMs: 12.5}
	event.stamp("s1", time.Date(2024, 5, 1, 10, 0, 0, 123000000, time.UTC))

	data, err := json.Marshal(event)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "transcription",
		"timestamp": "2024-05-01T10:00:00.123Z",
		"session_id": "s1",
		"text": "hello",
		"confidence": 0.9,
		"processing_time_ms": 12.5
	}`, string(data))
}

func TestNewRequiresStages(t *testing.T) {
	_, err := New(newTestLogger(), Stages{}, session.NewManager(newTestLogger(), nil, session.DefaultManagerConfig()), nil, DefaultConfig())
	assert.Error(t, err)
}
