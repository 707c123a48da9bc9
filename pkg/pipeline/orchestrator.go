package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"
	"unicode"

	"estate-voice-server/pkg/analysis"
	"estate-voice-server/pkg/audio"
	"estate-voice-server/pkg/conversation"
	"estate-voice-server/pkg/errors"
	"estate-voice-server/pkg/messaging"
	"estate-voice-server/pkg/metrics"
	"estate-voice-server/pkg/response"
	"estate-voice-server/pkg/session"
	"estate-voice-server/pkg/stt"
	"estate-voice-server/pkg/telemetry/tracing"
	"estate-voice-server/pkg/tts"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// Config holds orchestrator configuration
type Config struct {
	// Soft target; exceeding it is logged and counted
	LatencyTarget time.Duration
	// Measured from chunk arrival; synthesis still running at this point is
	// canceled and the reply goes out text-only. 0 disables it.
	HardDeadline time.Duration
	// Transcripts with fewer non-space characters count as no speech
	MinTranscriptChars int
}

// DefaultConfig returns the 2 second budget
func DefaultConfig() Config {
	return Config{
		LatencyTarget:      2 * time.Second,
		HardDeadline:       2 * time.Second,
		MinTranscriptChars: 2,
	}
}

// Chunk is one piece of audio submitted for a session
type Chunk struct {
	SessionID string
	TenantID  string
	AgentID   string
	// 16-bit little-endian mono PCM, or a WAV file
	Audio []byte
}

// EmitFunc receives events in order as the chunk progresses
type EmitFunc func(Event)

// Stats tracks orchestrator activity
type Stats struct {
	mutex             sync.RWMutex
	ChunksProcessed   int64     `json:"chunks_processed"`
	SilentChunks      int64     `json:"silent_chunks"`
	NoSpeechChunks    int64     `json:"no_speech_chunks"`
	Responses         int64     `json:"responses"`
	DegradedResponses int64     `json:"degraded_responses"`
	Errors            int64     `json:"errors"`
	SLAViolations     int64     `json:"sla_violations"`
	LastReset         time.Time `json:"last_reset"`
}

// Orchestrator runs audio chunks through the voice pipeline and produces
// the ordered event stream of each session
type Orchestrator struct {
	logger    *logrus.Entry
	config    Config
	stages    Stages
	sessions  *session.Manager
	publisher messaging.Publisher
	now       func() time.Time

	clocks sync.Map // session id -> *sessionClock

	stats Stats
}

// New creates an orchestrator. publisher may be nil.
func New(logger *logrus.Logger, stages Stages, sessions *session.Manager, publisher messaging.Publisher, config Config) (*Orchestrator, error) {
	if err := stages.validate(); err != nil {
		return nil, err
	}
	if sessions == nil {
		return nil, errors.NewInvalidInput("pipeline: session manager is required")
	}
	if publisher == nil {
		publisher = messaging.NopPublisher{}
	}
	if config.LatencyTarget <= 0 {
		config.LatencyTarget = DefaultConfig().LatencyTarget
	}
	if config.MinTranscriptChars <= 0 {
		config.MinTranscriptChars = DefaultConfig().MinTranscriptChars
	}

	o := &Orchestrator{
		logger:    logger.WithField("component", "orchestrator"),
		config:    config,
		stages:    stages,
		sessions:  sessions,
		publisher: publisher,
		now:       time.Now,
		stats:     Stats{LastReset: time.Now()},
	}
	sessions.SetEndHook(o.onSessionEnd)
	return o, nil
}

// sessionClock keeps event timestamps of a session non-decreasing
type sessionClock struct {
	mutex sync.Mutex
	last  time.Time
}

func (o *Orchestrator) stamp(sessionID string) time.Time {
	value, _ := o.clocks.LoadOrStore(sessionID, &sessionClock{})
	clock := value.(*sessionClock)

	now := o.now()
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	if now.Before(clock.last) {
		now = clock.last
	}
	clock.last = now
	return now
}

// emitter stamps, publishes and forwards the events of one chunk
type emitter struct {
	o         *Orchestrator
	sessionID string
	tenantID  string
	emit      EmitFunc
}

func (e *emitter) send(event Event) {
	event.meta().stamp(e.sessionID, e.o.stamp(e.sessionID))
	metrics.RecordEvent(event.EventType())

	if e.emit != nil {
		e.deliver(event)
	}
	e.o.publish(messaging.KindEvent, event.EventType(), e.sessionID, e.tenantID, event)
}

// deliver hands event to the caller. A panicking callback loses the event
// but not the chunk.
func (e *emitter) deliver(event Event) {
	defer func() {
		if r := recover(); r != nil {
			e.o.logger.WithFields(logrus.Fields{
				"session_id": e.sessionID,
				"type":       event.EventType(),
				"panic":      fmt.Sprint(r),
			}).Error("Event callback panicked")
		}
	}()
	e.emit(event)
}

func (o *Orchestrator) publish(kind, msgType, sessionID, tenantID string, payload interface{}) {
	msg, err := messaging.NewMessage(kind, msgType, sessionID, payload)
	if err != nil {
		o.logger.WithError(err).WithField("session_id", sessionID).Warn("Failed to encode analytics message")
		return
	}
	msg.TenantID = tenantID
	if err := o.publisher.Publish(msg); err != nil {
		o.logger.WithError(err).WithField("session_id", sessionID).Debug("Analytics message not queued")
	}
}

// Connect opens (or rejoins) a session and returns its connected event
func (o *Orchestrator) Connect(ctx context.Context, sessionID, tenantID, agentID string) (Event, error) {
	sess, created, err := o.sessions.Acquire(ctx, sessionID, tenantID, agentID)
	if err != nil {
		return nil, err
	}
	defer sess.Unlock()
	if created {
		tracing.StartSessionScope(sessionID, attribute.String("tenant.id", tenantID), attribute.String("agent.id", agentID))
	}

	event := &ConnectedEvent{EventMeta: newMeta(TypeConnected)}
	(&emitter{o: o, sessionID: sessionID, tenantID: tenantID}).send(event)
	return event, nil
}

// Process runs one chunk and returns its events
func (o *Orchestrator) Process(ctx context.Context, chunk Chunk) ([]Event, error) {
	var events []Event
	err := o.ProcessChunk(ctx, chunk, func(e Event) { events = append(events, e) })
	return events, err
}

// ProcessChunk runs one chunk through the pipeline, calling emit for each
// event in order. Chunks of the same session are processed one at a time.
// The only error is a session that cannot be joined; every processing
// failure is reported as an event and the session stays usable.
func (o *Orchestrator) ProcessChunk(ctx context.Context, chunk Chunk, emit EmitFunc) error {
	start := o.now()

	sess, created, err := o.sessions.Acquire(ctx, chunk.SessionID, chunk.TenantID, chunk.AgentID)
	if err != nil {
		return err
	}
	defer sess.Unlock()
	if created {
		tracing.StartSessionScope(chunk.SessionID,
			attribute.String("tenant.id", chunk.TenantID),
			attribute.String("agent.id", chunk.AgentID),
		)
	}

	ctx, span := tracing.StartChunk(ctx, chunk.SessionID, attribute.Int("audio.bytes", len(chunk.Audio)))
	defer span.End()

	em := &emitter{o: o, sessionID: chunk.SessionID, tenantID: chunk.TenantID, emit: emit}
	logger := o.logger.WithField("session_id", chunk.SessionID)

	outcome := session.ChunkOutcome{}
	label := "error"

	defer func() {
		if r := recover(); r != nil {
			err := errors.Wrapf(errors.ErrStagePanic, "orchestrator: %v", r)
			span.RecordError(err)
			logger.WithFields(logrus.Fields{
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			}).Error("Recovered from panic while processing chunk")
			o.fail(em)
			label = "error"
		}

		elapsed := o.now().Sub(start)
		metrics.ObserveChunk(label, elapsed)
		o.sessions.RecordChunk(ctx, sess, outcome)
		o.count(func(s *Stats) { s.ChunksProcessed++ })
	}()

	outcome, label = o.run(ctx, sess, chunk, em, start, logger)
	return nil
}

func (o *Orchestrator) fail(em *emitter) {
	o.count(func(s *Stats) { s.Errors++ })
	em.send(&ErrorEvent{
		EventMeta: newMeta(TypeError),
		Message:   GenericErrorMessage,
		ErrorCode: ErrorCodeProcessing,
	})
}

func (o *Orchestrator) run(ctx context.Context, sess *session.Session, chunk Chunk, em *emitter, start time.Time, logger *logrus.Entry) (session.ChunkOutcome, string) {
	var perf ProcessingMetrics
	convo := sess.Context

	type preprocessed struct {
		quality audio.AudioQuality
		samples []float64
	}
	pre := runStage(ctx, StagePreprocess, func(context.Context) (preprocessed, error) {
		q, s := o.stages.Preprocessor.Preprocess(chunk.Audio)
		return preprocessed{quality: q, samples: s}, nil
	})
	perf.PreprocessingMs = milliseconds(pre.Elapsed)
	if !pre.OK() {
		logger.WithError(pre.Err).Error("Preprocessing failed")
		o.fail(em)
		return session.ChunkOutcome{}, "error"
	}

	quality := pre.Value.quality
	outcome := session.ChunkOutcome{AudioQuality: quality.ClarityScore}

	if !quality.IsSpeech {
		o.count(func(s *Stats) { s.SilentChunks++ })
		em.send(&SilenceDetectedEvent{EventMeta: newMeta(TypeSilenceDetected), AudioQuality: quality})
		return outcome, "silence"
	}

	// Transcription and feature extraction share the samples
	samples := pre.Value.samples
	var (
		transcript StageResult[stt.Transcription]
		features   StageResult[audio.Features]
		listen     errgroup.Group
	)
	listen.Go(func() error {
		transcript = runStage(ctx, StageTranscribe, func(ctx context.Context) (stt.Transcription, error) {
			return o.stages.Transcriber.TranscribeResult(ctx, samples), nil
		})
		return nil
	})
	listen.Go(func() error {
		features = runStage(ctx, StageFeatures, infallible(func() audio.Features {
			return o.stages.Features.Extract(samples)
		}))
		return nil
	})
	_ = listen.Wait()
	perf.SpeechToTextMs = milliseconds(transcript.Elapsed)

	if !features.OK() {
		logger.WithError(features.Err).Warn("Feature extraction failed, using text only")
	}

	text := strings.TrimSpace(transcript.Value.Text)
	if !transcript.OK() || o.tooShort(text) {
		if !transcript.OK() {
			logger.WithError(transcript.Err).Warn("Transcription stage failed")
		}
		o.count(func(s *Stats) { s.NoSpeechChunks++ })
		em.send(&NoSpeechDetectedEvent{EventMeta: newMeta(TypeNoSpeechDetected), AudioQuality: quality})
		return outcome, "no_speech"
	}

	em.send(&TranscriptionEvent{
		EventMeta:        newMeta(TypeTranscription),
		Text:             text,
		Confidence:       transcript.Value.Confidence,
		ProcessingTimeMs: milliseconds(transcript.Elapsed),
	})
	convo.AddTurn(conversation.Turn{Speaker: conversation.SpeakerUser, Text: text, Timestamp: o.now()})

	// Analyzers are independent; each falls back on its own
	var (
		emotion    StageResult[analysis.EmotionResult]
		intent     StageResult[analysis.IntentResult]
		objections StageResult[[]string]
		entities   StageResult[analysis.Entities]
		analyze    errgroup.Group
	)
	analyze.Go(func() error {
		emotion = runStage(ctx, StageEmotion, infallible(func() analysis.EmotionResult {
			return o.stages.Emotion.Classify(text, features.Value)
		}))
		return nil
	})
	analyze.Go(func() error {
		intent = runStage(ctx, StageIntent, infallible(func() analysis.IntentResult {
			return o.stages.Intent.Classify(text)
		}))
		return nil
	})
	analyze.Go(func() error {
		objections = runStage(ctx, StageObjection, infallible(func() []string {
			return o.stages.Objections.Detect(text)
		}))
		return nil
	})
	analyze.Go(func() error {
		entities = runStage(ctx, StageEntity, infallible(func() analysis.Entities {
			return o.stages.Entities.Extract(text)
		}))
		return nil
	})
	_ = analyze.Wait()
	perf.EmotionDetectionMs = milliseconds(emotion.Elapsed)
	perf.IntentClassificationMs = milliseconds(intent.Elapsed)

	found := entities.Value
	if !entities.OK() || found == nil {
		if !entities.OK() {
			logger.WithError(entities.Err).Warn("Entity extraction failed")
		}
		found = analysis.Entities{}
	}
	convo.MergePreferences(found.Preferences())
	convo.MergeLeadProfile(found.LeadProfile())

	emotionLabel := analysis.EmotionNeutral
	if emotion.OK() {
		result := emotion.Value
		emotionLabel = result.Emotion
		em.send(&EmotionDetectedEvent{
			EventMeta:  newMeta(TypeEmotionDetected),
			Emotion:    result.Emotion,
			Confidence: result.Confidence,
			Valence:    result.Valence,
			Arousal:    result.Arousal,
		})
		convo.AppendEmotion(conversation.EmotionState{
			Emotion:    result.Emotion,
			Confidence: result.Confidence,
			Valence:    result.Valence,
			Arousal:    result.Arousal,
			Timestamp:  o.now(),
		})
	} else {
		logger.WithError(emotion.Err).Warn("Emotion classification failed")
	}

	intentLabel := analysis.IntentGeneralInquiry
	if intent.OK() {
		intentLabel = intent.Value.Intent
		em.send(&IntentClassifiedEvent{
			EventMeta:  newMeta(TypeIntentClassified),
			Intent:     intent.Value.Intent,
			Confidence: intent.Value.Confidence,
			Entities:   found,
		})
		convo.SetIntent(intent.Value.Intent, intent.Value.Confidence)
	} else {
		logger.WithError(intent.Err).Warn("Intent classification failed")
	}

	var raised []string
	if objections.OK() {
		raised = objections.Value
		if len(raised) > 0 {
			em.send(&ObjectionDetectedEvent{EventMeta: newMeta(TypeObjectionDetected), Objections: raised})
			convo.AddObjections(raised...)
		}
	} else {
		logger.WithError(objections.Err).Warn("Objection detection failed")
	}

	strategy := response.SelectStrategy(emotionLabel, intentLabel, raised, convo)

	reply := runStage(ctx, StageGenerate, infallible(func() string {
		return o.stages.Generator.Generate(text, strategy, found, convo)
	}))
	perf.ResponseGenerationMs = milliseconds(reply.Elapsed)
	replyText := reply.Value
	if !reply.OK() || replyText == "" {
		logger.WithError(reply.Err).Warn("Response generation failed, using fallback")
		replyText = response.FallbackResponse
	}

	synthesis := o.synthesize(ctx, replyText, convo.AgentID(), strategy, start, &perf, logger)
	degraded := synthesis.AudioURL == ""

	convo.AddTurn(conversation.Turn{
		Speaker:   conversation.SpeakerAgent,
		Text:      replyText,
		Timestamp: o.now(),
		Strategy:  strategy.TemplateCategory,
	})

	total := o.now().Sub(start)
	perf.TotalProcessingMs = milliseconds(total)
	o.checkSLA(total, logger)

	o.count(func(s *Stats) {
		s.Responses++
		if degraded {
			s.DegradedResponses++
		}
	})

	em.send(&ResponseGeneratedEvent{
		EventMeta:          newMeta(TypeResponseGenerated),
		Text:               replyText,
		Strategy:           strategy,
		AudioURL:           synthesis.AudioURL,
		AudioDuration:      synthesis.Duration,
		QualityScore:       synthesis.QualityScore,
		ProcessingTimeMs:   perf.TotalProcessingMs,
		PerformanceMetrics: perf,
		Degraded:           degraded,
	})

	outcome.Responded = true
	outcome.ResponseTime = total
	if degraded {
		return outcome, "degraded"
	}
	return outcome, "response"
}

// synthesize runs the synthesizer under the hard deadline
func (o *Orchestrator) synthesize(ctx context.Context, text, agentID string, strategy response.Strategy, start time.Time, perf *ProcessingMetrics, logger *logrus.Entry) tts.Synthesis {
	if o.config.HardDeadline > 0 {
		deadline := start.Add(o.config.HardDeadline)
		if !o.now().Before(deadline) {
			logger.Warn("Hard deadline reached before synthesis, replying text-only")
			return tts.Synthesis{}
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	result := runStage(ctx, StageSynthesize, func(ctx context.Context) (tts.Synthesis, error) {
		synthesis := o.stages.Synthesizer.Synthesize(ctx, text, agentID, strategy)
		if synthesis.AudioURL == "" && ctx.Err() != nil {
			return synthesis, errors.Wrap(errors.ErrDeadlineExceeded, "synthesis canceled")
		}
		return synthesis, nil
	})
	perf.TextToSpeechMs = milliseconds(result.Elapsed)

	if !result.OK() {
		logger.WithError(result.Err).Warn("Synthesis did not finish, replying text-only")
		return tts.Synthesis{}
	}
	return result.Value
}

func (o *Orchestrator) checkSLA(total time.Duration, logger *logrus.Entry) {
	if total <= o.config.LatencyTarget {
		return
	}
	metrics.RecordSLAViolation()
	o.count(func(s *Stats) { s.SLAViolations++ })
	logger.WithFields(logrus.Fields{
		"total_ms":  milliseconds(total),
		"target_ms": milliseconds(o.config.LatencyTarget),
	}).Warn("Chunk exceeded latency target")
}

func (o *Orchestrator) tooShort(text string) bool {
	n := 0
	for _, r := range text {
		if !unicode.IsSpace(r) {
			n++
			if n >= o.config.MinTranscriptChars {
				return false
			}
		}
	}
	return true
}

// View is the externally visible state of a session
type View struct {
	Context *conversation.Snapshot `json:"context,omitempty"`
	Record  *session.Record        `json:"record"`
	Active  bool                   `json:"active"`
}

// Session returns the state of a live or recently ended session of tenantID
func (o *Orchestrator) Session(ctx context.Context, sessionID, tenantID string) (*View, error) {
	if sess, ok := o.sessions.Lookup(sessionID, tenantID); ok {
		snapshot := sess.Context.Snapshot()
		record := sess.Record()
		return &View{Context: &snapshot, Record: &record, Active: true}, nil
	}

	record, err := o.sessions.Record(ctx, sessionID, tenantID)
	if err != nil {
		return nil, err
	}
	return &View{Record: record}, nil
}

// EndSession closes a live session of tenantID once its current turn is done
func (o *Orchestrator) EndSession(ctx context.Context, sessionID, tenantID string) error {
	return o.sessions.End(ctx, sessionID, tenantID)
}

// sessionSummary is published once per session
type sessionSummary struct {
	Context conversation.Snapshot `json:"context"`
	Record  session.Record        `json:"record"`
}

func (o *Orchestrator) onSessionEnd(_ context.Context, snapshot conversation.Snapshot, record session.Record) {
	o.publish(messaging.KindSessionEnd, "", snapshot.SessionID, snapshot.TenantID, sessionSummary{Context: snapshot, Record: record})
	tracing.EndSession(snapshot.SessionID, nil)
	o.clocks.Delete(snapshot.SessionID)
}

func (o *Orchestrator) count(fn func(s *Stats)) {
	o.stats.mutex.Lock()
	fn(&o.stats)
	o.stats.mutex.Unlock()
}

// GetStats returns a copy of the orchestrator statistics
func (o *Orchestrator) GetStats() Stats {
	o.stats.mutex.RLock()
	defer o.stats.mutex.RUnlock()

	return Stats{
		ChunksProcessed:   o.stats.ChunksProcessed,
		SilentChunks:      o.stats.SilentChunks,
		NoSpeechChunks:    o.stats.NoSpeechChunks,
		Responses:         o.stats.Responses,
		DegradedResponses: o.stats.DegradedResponses,
		Errors:            o.stats.Errors,
		SLAViolations:     o.stats.SLAViolations,
		LastReset:         o.stats.LastReset,
	}
}
