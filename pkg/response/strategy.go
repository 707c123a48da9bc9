package response

import (
	"estate-voice-server/pkg/analysis"
	"estate-voice-server/pkg/conversation"
)

// Tones
const (
	ToneProfessional = "professional"
	ToneEmpathetic   = "empathetic"
	ToneEnthusiastic = "enthusiastic"
	ToneReassuring   = "reassuring"
)

// Paces
const (
	PaceNormal = "normal"
	PaceSlow   = "slow"
)

// Approaches
const (
	ApproachDirect      = "direct"
	ApproachCalming     = "calming"
	ApproachEncouraging = "encouraging"
	ApproachSupportive  = "supportive"
)

// Template categories
const (
	CategoryGeneral           = "general"
	CategoryQualification     = "qualification"
	CategoryScheduling        = "scheduling"
	CategoryBudget            = "budget"
	CategoryObjectionPrice    = "objection_price"
	CategoryObjectionLocation = "objection_location"
	CategoryObjectionGeneral  = "objection_general"
)

// Strategy is how the agent should answer this turn
type Strategy struct {
	Tone             string `json:"tone"`
	Pace             string `json:"pace"`
	Approach         string `json:"approach"`
	TemplateCategory string `json:"template_category"`

	EmphasisWords      []string `json:"emphasis_words,omitempty"`
	EmotionalAlignment string   `json:"emotional_alignment,omitempty"`
	ObjectionHandling  string   `json:"objection_handling,omitempty"`
	NextQuestion       string   `json:"next_question,omitempty"`
}

// DefaultStrategy is used when nothing in the turn calls for another
func DefaultStrategy() Strategy {
	return Strategy{
		Tone:             ToneProfessional,
		Pace:             PaceNormal,
		Approach:         ApproachDirect,
		TemplateCategory: CategoryGeneral,
	}
}

var intentCategories = map[string]string{
	analysis.IntentPropertySearch:   CategoryQualification,
	analysis.IntentScheduleViewing:  CategoryScheduling,
	analysis.IntentBudgetDiscussion: CategoryBudget,
}

var objectionTechniques = map[string]string{
	analysis.ObjectionPriceTooHigh:       "value_reframe",
	analysis.ObjectionWrongLocation:      "alternative_areas",
	analysis.ObjectionTimingConcerns:     "no_pressure_follow_up",
	analysis.ObjectionNeedMoreInfo:       "educate",
	analysis.ObjectionComparisonShopping: "differentiate",
}

var objectionEmphasis = map[string][]string{
	analysis.ObjectionPriceTooHigh:       {"value", "investment"},
	analysis.ObjectionWrongLocation:      {"nearby", "alternatives"},
	analysis.ObjectionTimingConcerns:     {"flexible", "whenever"},
	analysis.ObjectionNeedMoreInfo:       {"details", "information"},
	analysis.ObjectionComparisonShopping: {"unique", "experience"},
}

// SelectStrategy applies, in order: the default, the emotion override of
// tone/pace/approach, the intent template, and finally the objection
// template, which beats the intent one.
func SelectStrategy(emotion, intent string, objections []string, convo *conversation.Context) Strategy {
	s := DefaultStrategy()

	switch emotion {
	case analysis.EmotionAnger, analysis.EmotionFrustrated:
		s.Tone, s.Pace, s.Approach = ToneEmpathetic, PaceSlow, ApproachCalming
	case analysis.EmotionJoy, analysis.EmotionExcited:
		s.Tone, s.Approach = ToneEnthusiastic, ApproachEncouraging
	case analysis.EmotionFear, analysis.EmotionNervous:
		s.Tone, s.Pace, s.Approach = ToneReassuring, PaceSlow, ApproachSupportive
	}
	if emotion != "" {
		s.EmotionalAlignment = emotion
	}

	if category, ok := intentCategories[intent]; ok {
		s.TemplateCategory = category
	}

	if len(objections) > 0 {
		s.TemplateCategory = objectionCategory(objections)
		s.ObjectionHandling = objectionTechniques[objections[0]]
		for _, o := range objections {
			s.EmphasisWords = appendMissing(s.EmphasisWords, objectionEmphasis[o]...)
		}
	}

	s.NextQuestion = nextQuestion(convo)
	return s
}

func objectionCategory(objections []string) string {
	has := func(name string) bool {
		for _, o := range objections {
			if o == name {
				return true
			}
		}
		return false
	}

	switch {
	case has(analysis.ObjectionPriceTooHigh):
		return CategoryObjectionPrice
	case has(analysis.ObjectionWrongLocation):
		return CategoryObjectionLocation
	default:
		return CategoryObjectionGeneral
	}
}

// nextQuestion picks the first qualification gap in the conversation
func nextQuestion(convo *conversation.Context) string {
	if convo == nil {
		return ""
	}

	if _, ok := convo.Preference(analysis.EntityPropertyType); !ok {
		return "What type of property are you looking for?"
	}
	if _, ok := convo.LeadValue("budget"); !ok {
		return "What price range are you comfortable with?"
	}
	if _, ok := convo.Preference(analysis.EntityLocation); !ok {
		return "Which areas would you like to live in?"
	}
	if _, ok := convo.Preference(analysis.EntityBedrooms); !ok {
		return "How many bedrooms do you need?"
	}
	return "Would you like to schedule a viewing?"
}

func appendMissing(list []string, values ...string) []string {
	for _, v := range values {
		found := false
		for _, existing := range list {
			if existing == v {
				found = true
				break
			}
		}
		if !found {
			list = append(list, v)
		}
	}
	return list
}
