package response

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"estate-voice-server/pkg/analysis"
	"estate-voice-server/pkg/conversation"

	"github.com/sirupsen/logrus"
)

// FallbackResponse is returned when generation fails
const FallbackResponse = "I'm here to help you find the right property. Could you tell me a bit more about what you're looking for?"

// Templates holds the canned answers per template category
var Templates = map[string][]string{
	CategoryGeneral: {
		"Thanks for reaching out. How can I help with your home search today?",
		"I'd be glad to help. What would you like to know?",
	},
	CategoryQualification: {
		"Great. To find the best matches, could you tell me how many bedrooms you need?",
		"Happy to help you search. Which neighborhoods are you considering?",
		"Let's narrow things down. What's most important to you in your next home?",
	},
	CategoryScheduling: {
		"I can set up a viewing for you. Which day works best this week?",
		"Let's get a showing on the calendar. Do mornings or afternoons suit you better?",
	},
	CategoryBudget: {
		"Let's make sure we stay comfortable for you. What monthly payment are you aiming for?",
		"Good to know. Have you spoken with a lender about pre-approval yet?",
	},
	CategoryObjectionPrice: {
		"I hear you on price. Let me show you why this home offers strong value for the neighborhood.",
		"That's a fair concern. Homes like this tend to hold their value, and I can share recent sales to compare.",
		"Price matters. Let's look at the long-term value and a few options that fit better.",
	},
	CategoryObjectionLocation: {
		"Location is key. I can show you similar homes in nearby areas you might like.",
		"That makes sense. Which areas would work better for your commute?",
	},
	CategoryObjectionGeneral: {
		"That's completely reasonable. What would help you feel more confident about the next step?",
		"I appreciate you sharing that. Let me get you the details you need.",
	},
}

// Generator renders the agent's reply from canned templates. It is safe
// for concurrent use.
type Generator struct {
	logger    *logrus.Entry
	templates map[string][]string

	randMutex sync.Mutex
	rand      *rand.Rand
}

// NewGenerator creates a generator drawing templates from rng. A nil rng
// is seeded from the clock.
func NewGenerator(logger *logrus.Logger, rng *rand.Rand) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Generator{
		logger:    logger.WithField("component", "response_generator"),
		templates: Templates,
		rand:      rng,
	}
}

// Generate returns the reply to the user's text. It never fails.
func (g *Generator) Generate(text string, strategy Strategy, entities analysis.Entities, convo *conversation.Context) (reply string) {
	defer func() {
		if r := recover(); r != nil {
			fields := logrus.Fields{"panic": fmt.Sprint(r)}
			if convo != nil {
				fields["session_id"] = convo.SessionID()
			}
			g.logger.WithFields(fields).Error("Recovered from panic in response generation")
			reply = FallbackResponse
		}
	}()

	candidates, ok := g.templates[strategy.TemplateCategory]
	if !ok || len(candidates) == 0 {
		candidates = g.templates[CategoryQualification]
	}

	base := g.pick(candidates)
	base += personalize(entities)

	reply = applyTone(base, strategy.Tone)
	if reply == "" {
		return FallbackResponse
	}
	return reply
}

func (g *Generator) pick(candidates []string) string {
	g.randMutex.Lock()
	defer g.randMutex.Unlock()
	return candidates[g.rand.Intn(len(candidates))]
}

func personalize(entities analysis.Entities) string {
	var b strings.Builder
	if propertyType, ok := entities[analysis.EntityPropertyType]; ok && propertyType != "" {
		fmt.Fprintf(&b, " I have some great %s options that might interest you.", propertyType)
	}
	if price, ok := entities[analysis.EntityPrice]; ok && price != "" {
		fmt.Fprintf(&b, " I'll focus on properties that fit your %s budget.", analysis.FormatPrice(price))
	}
	return b.String()
}

func applyTone(base, tone string) string {
	switch tone {
	case ToneEnthusiastic:
		return strings.ReplaceAll(base, ".", "!")
	case ToneEmpathetic:
		return "I completely understand. " + base
	case ToneReassuring:
		return "Don't worry, " + strings.ToLower(base)
	default:
		return base
	}
}
