package response

import (
	"math/rand"
	"strings"
	"testing"

	"estate-voice-server/pkg/analysis"
	"estate-voice-server/pkg/conversation"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func newTestGenerator(seed int64) *Generator {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewGenerator(logger, rand.New(rand.NewSource(seed)))
}

func TestSelectStrategyDefault(t *testing.T) {
	s := SelectStrategy(analysis.EmotionNeutral, analysis.IntentGeneralInquiry, nil, nil)

	assert.Equal(t, ToneProfessional, s.Tone)
	assert.Equal(t, PaceNormal, s.Pace)
	assert.Equal(t, ApproachDirect, s.Approach)
	assert.Equal(t, CategoryGeneral, s.TemplateCategory)
	assert.Empty(t, s.NextQuestion)
}

func TestSelectStrategyEmotion(t *testing.T) {
	tests := []struct {
		emotion  string
		tone     string
		pace     string
		approach string
	}{
		{analysis.EmotionAnger, ToneEmpathetic, PaceSlow, ApproachCalming},
		{analysis.EmotionFrustrated, ToneEmpathetic, PaceSlow, ApproachCalming},
		{analysis.EmotionJoy, ToneEnthusiastic, PaceNormal, ApproachEncouraging},
		{analysis.EmotionExcited, ToneEnthusiastic, PaceNormal, ApproachEncouraging},
		{analysis.EmotionFear, ToneReassuring, PaceSlow, ApproachSupportive},
		{analysis.EmotionNervous, ToneReassuring, PaceSlow, ApproachSupportive},
		{analysis.EmotionSadness, ToneProfessional, PaceNormal, ApproachDirect},
	}

	for _, tt := range tests {
		t.Run(tt.emotion, func(t *testing.T) {
			s := SelectStrategy(tt.emotion, "", nil, nil)
			assert.Equal(t, tt.tone, s.Tone)
			assert.Equal(t, tt.pace, s.Pace)
			assert.Equal(t, tt.approach, s.Approach)
			assert.Equal(t, tt.emotion, s.EmotionalAlignment)
		})
	}
}

func TestSelectStrategyIntentAndObjections(t *testing.T) {
	assert.Equal(t, CategoryQualification, SelectStrategy("", analysis.IntentPropertySearch, nil, nil).TemplateCategory)
	assert.Equal(t, CategoryScheduling, SelectStrategy("", analysis.IntentScheduleViewing, nil, nil).TemplateCategory)
	assert.Equal(t, CategoryBudget, SelectStrategy("", analysis.IntentBudgetDiscussion, nil, nil).TemplateCategory)
	assert.Equal(t, CategoryGeneral, SelectStrategy("", analysis.IntentMarketInformation, nil, nil).TemplateCategory)

	price := SelectStrategy(analysis.EmotionFear, analysis.IntentBudgetDiscussion, []string{analysis.ObjectionPriceTooHigh}, nil)
	assert.Equal(t, CategoryObjectionPrice, price.TemplateCategory)
	assert.Equal(t, ToneReassuring, price.Tone)
	assert.Equal(t, "value_reframe", price.ObjectionHandling)
	assert.Contains(t, price.EmphasisWords, "value")

	location := SelectStrategy("", analysis.IntentPropertySearch, []string{analysis.ObjectionWrongLocation}, nil)
	assert.Equal(t, CategoryObjectionLocation, location.TemplateCategory)

	general := SelectStrategy("", analysis.IntentScheduleViewing, []string{analysis.ObjectionTimingConcerns}, nil)
	assert.Equal(t, CategoryObjectionGeneral, general.TemplateCategory)

	// price wins over location wherever it appears
	both := SelectStrategy("", "", []string{analysis.ObjectionWrongLocation, analysis.ObjectionPriceTooHigh}, nil)
	assert.Equal(t, CategoryObjectionPrice, both.TemplateCategory)
	assert.Equal(t, "alternative_areas", both.ObjectionHandling)
}

func TestSelectStrategyNextQuestion(t *testing.T) {
	convo := conversation.New("s1")
	assert.Contains(t, SelectStrategy("", "", nil, convo).NextQuestion, "type of property")

	convo.MergePreferences(map[string]string{analysis.EntityPropertyType: "condo"})
	assert.Contains(t, SelectStrategy("", "", nil, convo).NextQuestion, "price range")

	convo.MergeLeadProfile(map[string]string{"budget": "450000"})
	convo.MergePreferences(map[string]string{analysis.EntityLocation: "Austin", analysis.EntityBedrooms: "3"})
	assert.Contains(t, SelectStrategy("", "", nil, convo).NextQuestion, "viewing")
}

func TestGenerateObjectionPriceMentionsValue(t *testing.T) {
	g := newTestGenerator(1)
	strategy := SelectStrategy(analysis.EmotionFear, analysis.IntentBudgetDiscussion, []string{analysis.ObjectionPriceTooHigh}, nil)

	for i := 0; i < 20; i++ {
		reply := g.Generate("it's too expensive", strategy, analysis.Entities{}, nil)
		assert.True(t, strings.HasPrefix(reply, "Don't worry, "), reply)
		assert.Contains(t, reply, "value")
	}
}

func TestGeneratePersonalization(t *testing.T) {
	g := newTestGenerator(7)
	entities := analysis.Entities{analysis.EntityPropertyType: "condo", analysis.EntityPrice: "450000"}

	reply := g.Generate("a condo for $450,000", DefaultStrategy(), entities, nil)
	assert.Contains(t, reply, "great condo options")
	assert.Contains(t, reply, "$450,000 budget")
	assert.Less(t, strings.Index(reply, "condo options"), strings.Index(reply, "$450,000"))
}

func TestGenerateTones(t *testing.T) {
	templates := map[string][]string{CategoryGeneral: {"Hello there. Nice day."}}
	g := newTestGenerator(1)
	g.templates = templates

	strategy := DefaultStrategy()
	assert.Equal(t, "Hello there. Nice day.", g.Generate("", strategy, nil, nil))

	strategy.Tone = ToneEnthusiastic
	assert.Equal(t, "Hello there! Nice day!", g.Generate("", strategy, nil, nil))

	strategy.Tone = ToneEmpathetic
	assert.Equal(t, "I completely understand. Hello there. Nice day.", g.Generate("", strategy, nil, nil))

	strategy.Tone = ToneReassuring
	assert.Equal(t, "Don't worry, hello there. nice day.", g.Generate("", strategy, nil, nil))
}

func TestGenerateUnknownCategoryUsesQualification(t *testing.T) {
	g := newTestGenerator(3)
	strategy := DefaultStrategy()
	strategy.TemplateCategory = "does_not_exist"

	reply := g.Generate("hi", strategy, nil, nil)
	assert.Contains(t, Templates[CategoryQualification], reply)
}

func TestGenerateRecoversToFallback(t *testing.T) {
	g := newTestGenerator(3)
	g.templates = map[string][]string{CategoryGeneral: {}, CategoryQualification: {}}

	// Intn(0) panics
	reply := g.Generate("hi", DefaultStrategy(), nil, conversation.New("s1"))
	assert.Equal(t, FallbackResponse, reply)
}

func TestGenerateDeterministicWithSeed(t *testing.T) {
	strategy := SelectStrategy("", analysis.IntentPropertySearch, nil, nil)
	a := newTestGenerator(42)
	b := newTestGenerator(42)

	for i := 0; i < 10; i++ {
		require.Equal(t, a.Generate("x", strategy, nil, nil), b.Generate("x", strategy, nil, nil))
	}
}

func TestGenerateNeverEmptyRapid(t *testing.T) {
	g := newTestGenerator(5)
	emotions := []string{"", analysis.EmotionJoy, analysis.EmotionAnger, analysis.EmotionFear, analysis.EmotionExcited, analysis.EmotionNeutral}
	intents := []string{"", analysis.IntentPropertySearch, analysis.IntentScheduleViewing, analysis.IntentBudgetDiscussion, analysis.IntentGeneralInquiry}
	objections := []string{analysis.ObjectionPriceTooHigh, analysis.ObjectionWrongLocation, analysis.ObjectionTimingConcerns}

	rapid.Check(t, func(rt *rapid.T) {
		emotion := rapid.SampledFrom(emotions).Draw(rt, "emotion")
		intent := rapid.SampledFrom(intents).Draw(rt, "intent")
		objs := rapid.SliceOfN(rapid.SampledFrom(objections), 0, 2).Draw(rt, "objections")

		s := SelectStrategy(emotion, intent, objs, nil)
		reply := g.Generate("text", s, nil, nil)
		if reply == "" {
			rt.Fatalf("empty reply for %+v", s)
		}
		if len(objs) > 0 && !strings.HasPrefix(s.TemplateCategory, "objection_") {
			rt.Fatalf("objections %v did not select an objection template: %s", objs, s.TemplateCategory)
		}
	})
}
