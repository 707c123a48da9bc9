package analysis

import (
	"time"

	"estate-voice-server/pkg/audio"

	"github.com/sirupsen/logrus"
)

// Emotion labels
const (
	EmotionJoy        = "joy"
	EmotionAnger      = "anger"
	EmotionFear       = "fear"
	EmotionSadness    = "sadness"
	EmotionSurprise   = "surprise"
	EmotionNeutral    = "neutral"
	EmotionExcited    = "excited"
	EmotionFrustrated = "frustrated"
	EmotionNervous    = "nervous"
)

const (
	matchedEmotionConfidence = 0.8
	defaultEmotionConfidence = 0.5
	energyConfidenceBoost    = 0.2
)

// EmotionLexicon is checked in order; the first category with a hit wins
var EmotionLexicon = []Category{
	{Name: EmotionJoy, Keywords: []string{"happy", "great", "love", "wonderful", "excited", "perfect", "amazing", "fantastic", "thrilled", "delighted"}},
	{Name: EmotionAnger, Keywords: []string{"angry", "furious", "annoyed", "frustrated", "ridiculous", "upset", "terrible", "unacceptable", "fed up"}},
	{Name: EmotionFear, Keywords: []string{"worried", "nervous", "scared", "afraid", "concerned", "anxious", "uneasy", "risky"}},
	{Name: EmotionSadness, Keywords: []string{"sad", "disappointed", "unhappy", "depressed", "heartbroken", "miss", "lost"}},
	{Name: EmotionSurprise, Keywords: []string{"wow", "surprised", "really", "unbelievable", "no way", "shocked", "unexpected"}},
	{Name: EmotionNeutral, Keywords: []string{"okay", "ok", "fine", "alright", "sure"}},
}

type affect struct {
	valence float64
	arousal float64
}

var affectTable = map[string]affect{
	EmotionJoy:        {valence: 0.8, arousal: 0.7},
	EmotionExcited:    {valence: 0.7, arousal: 0.9},
	EmotionAnger:      {valence: -0.7, arousal: 0.8},
	EmotionFrustrated: {valence: -0.6, arousal: 0.7},
	EmotionFear:       {valence: -0.6, arousal: 0.7},
	EmotionNervous:    {valence: -0.4, arousal: 0.6},
	EmotionSadness:    {valence: -0.7, arousal: 0.3},
	EmotionSurprise:   {valence: 0.2, arousal: 0.8},
}

var neutralAffect = affect{valence: 0.0, arousal: 0.2}

// EmotionResult is the classifier output
type EmotionResult struct {
	Emotion    string  `json:"emotion"`
	Confidence float64 `json:"confidence"`
	Valence    float64 `json:"valence"`
	Arousal    float64 `json:"arousal"`
}

// AffectFor returns the fixed valence/arousal pair for a label
func AffectFor(emotion string) (valence, arousal float64) {
	a, ok := affectTable[emotion]
	if !ok {
		a = neutralAffect
	}
	return a.valence, a.arousal
}

// EmotionClassifier labels an utterance from its words, with audio
// energy as a tie-breaker when the words say nothing
type EmotionClassifier struct {
	logger        *logrus.Entry
	lexicon       *lexicon
	excitedEnergy float64
	stats         *Stats
}

// NewEmotionClassifier creates a classifier; rms_energy above
// excitedEnergy marks an otherwise neutral utterance as excited
func NewEmotionClassifier(logger *logrus.Logger, excitedEnergy float64) *EmotionClassifier {
	if excitedEnergy <= 0 {
		excitedEnergy = 0.3
	}
	return &EmotionClassifier{
		logger:        logger.WithField("component", "emotion_classifier"),
		lexicon:       newLexicon(EmotionLexicon),
		excitedEnergy: excitedEnergy,
		stats:         newStats(),
	}
}

// Classify returns the emotion for text. features may be empty.
func (ec *EmotionClassifier) Classify(text string, features audio.Features) EmotionResult {
	start := time.Now()

	emotion, matched := ec.lexicon.first(normalizeText(text))
	confidence := matchedEmotionConfidence
	if !matched {
		emotion = EmotionNeutral
		confidence = defaultEmotionConfidence
	}

	// Neutral words are not a strong signal
	if emotion == EmotionNeutral {
		if energy, ok := features.Get(audio.FeatureRMSEnergy); ok && energy > ec.excitedEnergy {
			emotion = EmotionExcited
			confidence = min(1.0, confidence+energyConfidenceBoost)
			ec.logger.WithField("rms_energy", energy).Debug("High energy utterance relabelled as excited")
		}
	}

	valence, arousal := AffectFor(emotion)
	ec.stats.record(start, !matched, emotion)

	return EmotionResult{
		Emotion:    emotion,
		Confidence: confidence,
		Valence:    valence,
		Arousal:    arousal,
	}
}

// GetStats returns a copy of the classifier statistics
func (ec *EmotionClassifier) GetStats() Stats {
	return ec.stats.snapshot()
}
