package pipeline

import (
	"time"

	"estate-voice-server/pkg/analysis"
	"estate-voice-server/pkg/audio"
	"estate-voice-server/pkg/response"
)

// Event types as they appear on the wire
const (
	TypeConnected         = "connected"
	TypeSilenceDetected   = "silence_detected"
	TypeNoSpeechDetected  = "no_speech_detected"
	TypeTranscription     = "transcription"
	TypeEmotionDetected   = "emotion_detected"
	TypeIntentClassified  = "intent_classified"
	TypeObjectionDetected = "objection_detected"
	TypeResponseGenerated = "response_generated"
	TypeError             = "error"
)

// ErrorCodeProcessing is the only code surfaced to clients
const ErrorCodeProcessing = "PROCESSING_ERROR"

// GenericErrorMessage is what the client sees when a chunk fails
const GenericErrorMessage = "Sorry, I had trouble processing that. Could you say it again?"

// Event is one entry of a session's event stream. The set of events is
// closed: only the types in this package implement it.
type Event interface {
	EventType() string
	Time() time.Time
	meta() *EventMeta
}

// EventMeta is embedded in every event
type EventMeta struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	SessionID string `json:"session_id"`

	at time.Time
}

// EventType returns the wire type
func (m *EventMeta) EventType() string { return m.Type }

// Time returns the emission time
func (m *EventMeta) Time() time.Time { return m.at }

func (m *EventMeta) meta() *EventMeta { return m }

func (m *EventMeta) stamp(sessionID string, at time.Time) {
	m.SessionID = sessionID
	m.at = at
	m.Timestamp = at.UTC().Format(time.RFC3339Nano)
}

// ConnectedEvent opens a streaming session
type ConnectedEvent struct {
	EventMeta
}

// SilenceDetectedEvent ends a chunk that held no speech
type SilenceDetectedEvent struct {
	EventMeta
	AudioQuality audio.AudioQuality `json:"audio_quality"`
}

// NoSpeechDetectedEvent ends a chunk whose speech produced no usable text
type NoSpeechDetectedEvent struct {
	EventMeta
	AudioQuality audio.AudioQuality `json:"audio_quality"`
}

// TranscriptionEvent carries the user's words
type TranscriptionEvent struct {
	EventMeta
	Text             string  `json:"text"`
	Confidence       float64 `json:"confidence"`
	ProcessingTimeMs float64 `json:"processing_time_ms"`
}

// EmotionDetectedEvent carries the classified emotion
type EmotionDetectedEvent struct {
	EventMeta
	Emotion    string  `json:"emotion"`
	Confidence float64 `json:"confidence"`
	Valence    float64 `json:"valence"`
	Arousal    float64 `json:"arousal"`
}

// IntentClassifiedEvent carries the intent and the entities of the turn
type IntentClassifiedEvent struct {
	EventMeta
	Intent     string            `json:"intent"`
	Confidence float64           `json:"confidence"`
	Entities   analysis.Entities `json:"entities"`
}

// ObjectionDetectedEvent lists the objections raised in the turn
type ObjectionDetectedEvent struct {
	EventMeta
	Objections []string `json:"objections"`
}

// ProcessingMetrics records per-stage latency of one chunk. Stages run in
// parallel, so the total is wall clock and not the sum.
type ProcessingMetrics struct {
	PreprocessingMs        float64 `json:"preprocessing_ms"`
	SpeechToTextMs         float64 `json:"speech_to_text_ms"`
	EmotionDetectionMs     float64 `json:"emotion_detection_ms"`
	IntentClassificationMs float64 `json:"intent_classification_ms"`
	ResponseGenerationMs   float64 `json:"response_generation_ms"`
	TextToSpeechMs         float64 `json:"text_to_speech_ms"`
	TotalProcessingMs      float64 `json:"total_processing_ms"`
}

// ResponseGeneratedEvent is the agent's reply and the last event of a turn
type ResponseGeneratedEvent struct {
	EventMeta
	Text               string            `json:"text"`
	Strategy           response.Strategy `json:"strategy"`
	AudioURL           string            `json:"audio_url"`
	AudioDuration      float64           `json:"audio_duration"`
	QualityScore       float64           `json:"quality_score"`
	ProcessingTimeMs   float64           `json:"processing_time_ms"`
	PerformanceMetrics ProcessingMetrics `json:"performance_metrics"`
	// Set when the reply is text-only
	Degraded bool `json:"degraded"`
}

// ErrorEvent reports a failed chunk without internal detail
type ErrorEvent struct {
	EventMeta
	Message   string `json:"message"`
	ErrorCode string `json:"error_code"`
}

func newMeta(eventType string) EventMeta {
	return EventMeta{Type: eventType}
}

func milliseconds(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
