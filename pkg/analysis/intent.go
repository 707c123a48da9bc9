package analysis

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Intent labels
const (
	IntentPropertySearch      = "property_search"
	IntentScheduleViewing     = "schedule_viewing"
	IntentBudgetDiscussion    = "budget_discussion"
	IntentLocationPreferences = "location_preferences"
	IntentFinancingHelp       = "financing_help"
	IntentMarketInformation   = "market_information"
	IntentPropertyFeatures    = "property_features"
	IntentTimelineDiscussion  = "timeline_discussion"
	IntentGeneralInquiry      = "general_inquiry"
)

// Fixed confidences; they are not computed from the text
const (
	MatchedIntentConfidence = 0.8
	DefaultIntentConfidence = 0.5
)

// IntentTable is checked in order; the first category with a hit wins.
// Keywords are chosen so that none of them matches an earlier category.
var IntentTable = []Category{
	{Name: IntentPropertySearch, Keywords: []string{"looking for", "searching for", "house", "home", "homes", "apartment", "condo", "townhouse", "property", "properties", "listing", "listings", "bedroom", "bedrooms"}},
	{Name: IntentScheduleViewing, Keywords: []string{"schedule", "viewing", "tour", "showing", "visit", "see it", "appointment", "walkthrough"}},
	{Name: IntentBudgetDiscussion, Keywords: []string{"budget", "price", "afford", "cost", "expensive", "cheap", "how much", "spend"}},
	{Name: IntentLocationPreferences, Keywords: []string{"neighborhood", "area", "location", "school district", "close to", "near", "downtown", "suburbs"}},
	{Name: IntentFinancingHelp, Keywords: []string{"mortgage", "loan", "financing", "pre-approved", "preapproved", "down payment", "interest rate", "lender"}},
	{Name: IntentMarketInformation, Keywords: []string{"market", "trends", "appreciation", "comps", "good time to buy", "inventory"}},
	{Name: IntentPropertyFeatures, Keywords: []string{"pool", "garage", "backyard", "yard", "kitchen", "basement", "fireplace", "square feet", "sq ft", "view"}},
	{Name: IntentTimelineDiscussion, Keywords: []string{"move in", "moving", "timeline", "how soon", "closing date", "lease ends", "relocate"}},
	{Name: IntentGeneralInquiry, Keywords: []string{"question", "wondering", "information", "help"}},
}

// IntentResult is the classifier output
type IntentResult struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

// IntentClassifier maps an utterance to one intent. It is a pure function
// of the text: the same text always yields the same result.
type IntentClassifier struct {
	logger  *logrus.Entry
	lexicon *lexicon
	stats   *Stats
}

// NewIntentClassifier creates an intent classifier
func NewIntentClassifier(logger *logrus.Logger) *IntentClassifier {
	return &IntentClassifier{
		logger:  logger.WithField("component", "intent_classifier"),
		lexicon: newLexicon(IntentTable),
		stats:   newStats(),
	}
}

// Classify returns the first matching intent, or general_inquiry at 0.5
func (ic *IntentClassifier) Classify(text string) IntentResult {
	start := time.Now()

	intent, ok := ic.lexicon.first(normalizeText(text))
	if !ok {
		ic.stats.record(start, true, IntentGeneralInquiry)
		return IntentResult{Intent: IntentGeneralInquiry, Confidence: DefaultIntentConfidence}
	}

	ic.stats.record(start, false, intent)
	return IntentResult{Intent: intent, Confidence: MatchedIntentConfidence}
}

// GetStats returns a copy of the classifier statistics
func (ic *IntentClassifier) GetStats() Stats {
	return ic.stats.snapshot()
}
