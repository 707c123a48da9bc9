package pipeline

import (
	"context"
	"time"

	"estate-voice-server/pkg/analysis"
	"estate-voice-server/pkg/audio"
	"estate-voice-server/pkg/conversation"
	"estate-voice-server/pkg/errors"
	"estate-voice-server/pkg/metrics"
	"estate-voice-server/pkg/response"
	"estate-voice-server/pkg/stt"
	"estate-voice-server/pkg/telemetry/tracing"
	"estate-voice-server/pkg/tts"
)

// Stage names, used for metrics and spans
const (
	StagePreprocess = "preprocess"
	StageTranscribe = "transcribe"
	StageFeatures   = "features"
	StageEmotion    = "emotion"
	StageIntent     = "intent"
	StageObjection  = "objection"
	StageEntity     = "entity"
	StageGenerate   = "generate"
	StageSynthesize = "synthesize"
)

// Preprocessor decodes a chunk and judges whether it holds speech
type Preprocessor interface {
	Preprocess(raw []byte) (audio.AudioQuality, []float64)
}

// Transcriber turns samples into text
type Transcriber interface {
	TranscribeResult(ctx context.Context, samples []float64) stt.Transcription
}

// FeatureExtractor derives acoustic features from samples
type FeatureExtractor interface {
	Extract(samples []float64) audio.Features
}

// EmotionClassifier labels the emotion of an utterance
type EmotionClassifier interface {
	Classify(text string, features audio.Features) analysis.EmotionResult
}

// IntentClassifier labels what the user wants
type IntentClassifier interface {
	Classify(text string) analysis.IntentResult
}

// ObjectionDetector lists the objections raised
type ObjectionDetector interface {
	Detect(text string) []string
}

// EntityExtractor pulls structured facts out of an utterance
type EntityExtractor interface {
	Extract(text string) analysis.Entities
}

// ResponseGenerator writes the agent's reply
type ResponseGenerator interface {
	Generate(text string, strategy response.Strategy, entities analysis.Entities, convo *conversation.Context) string
}

// Synthesizer speaks the reply. The zero Synthesis means text-only.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, agentID string, strategy response.Strategy) tts.Synthesis
}

// Stages bundles the stage implementations of a pipeline
type Stages struct {
	Preprocessor Preprocessor
	Transcriber  Transcriber
	Features     FeatureExtractor
	Emotion      EmotionClassifier
	Intent       IntentClassifier
	Objections   ObjectionDetector
	Entities     EntityExtractor
	Generator    ResponseGenerator
	Synthesizer  Synthesizer
}

func (s Stages) validate() error {
	switch {
	case s.Preprocessor == nil:
		return errors.NewInvalidInput("pipeline: preprocessor is required")
	case s.Transcriber == nil:
		return errors.NewInvalidInput("pipeline: transcriber is required")
	case s.Features == nil:
		return errors.NewInvalidInput("pipeline: feature extractor is required")
	case s.Emotion == nil, s.Intent == nil, s.Objections == nil, s.Entities == nil:
		return errors.NewInvalidInput("pipeline: analyzers are required")
	case s.Generator == nil:
		return errors.NewInvalidInput("pipeline: response generator is required")
	case s.Synthesizer == nil:
		return errors.NewInvalidInput("pipeline: synthesizer is required")
	}
	return nil
}

// StageResult is the outcome of one stage. Err is set when the stage
// failed or panicked; Value then holds the zero value.
type StageResult[T any] struct {
	Value   T
	Err     error
	Elapsed time.Duration
}

// OK reports whether the stage succeeded
func (r StageResult[T]) OK() bool { return r.Err == nil }

// runStage runs fn inside a span with its own panic boundary
func runStage[T any](ctx context.Context, stage string, fn func(ctx context.Context) (T, error)) (result StageResult[T]) {
	ctx, done := tracing.StartStage(ctx, stage)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			var zero T
			result.Value = zero
			result.Err = errors.Wrapf(errors.ErrStagePanic, "%s: %v", stage, r)
		}
		result.Elapsed = time.Since(start)
		metrics.ObserveStage(stage, result.Elapsed)
		if result.Err != nil {
			metrics.RecordStageFailure(stage)
		}
		done(result.Err)
	}()

	result.Value, result.Err = fn(ctx)
	return result
}

// infallible adapts a stage that reports no error
func infallible[T any](fn func() T) func(context.Context) (T, error) {
	return func(context.Context) (T, error) { return fn(), nil }
}
