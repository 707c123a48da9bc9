package analysis

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Objection categories
const (
	ObjectionPriceTooHigh       = "price_too_high"
	ObjectionWrongLocation      = "wrong_location"
	ObjectionTimingConcerns     = "timing_concerns"
	ObjectionNeedMoreInfo       = "need_more_info"
	ObjectionComparisonShopping = "comparison_shopping"
)

// ObjectionTable lists every objection category with its trigger phrases
var ObjectionTable = []Category{
	{Name: ObjectionPriceTooHigh, Keywords: []string{"too expensive", "expensive", "overpriced", "too much", "can't afford", "cannot afford", "out of my budget", "over my budget", "price is too high", "too high"}},
	{Name: ObjectionWrongLocation, Keywords: []string{"too far", "wrong area", "bad neighborhood", "far from", "long commute", "don't like the area", "not the right area"}},
	{Name: ObjectionTimingConcerns, Keywords: []string{"not ready", "not right now", "too soon", "next year", "in a few months", "bad timing", "no rush", "not in a hurry"}},
	{Name: ObjectionNeedMoreInfo, Keywords: []string{"more information", "more info", "more details", "not sure", "tell me more", "need to think", "think about it"}},
	{Name: ObjectionComparisonShopping, Keywords: []string{"other agents", "another agent", "other properties", "shopping around", "compare", "comparing", "other options", "looking elsewhere"}},
}

// ObjectionDetector finds every objection raised in an utterance
type ObjectionDetector struct {
	logger  *logrus.Entry
	lexicon *lexicon
	stats   *Stats
}

// NewObjectionDetector creates an objection detector
func NewObjectionDetector(logger *logrus.Logger) *ObjectionDetector {
	return &ObjectionDetector{
		logger:  logger.WithField("component", "objection_detector"),
		lexicon: newLexicon(ObjectionTable),
		stats:   newStats(),
	}
}

// Detect returns the matching categories in table order, nil when none
func (od *ObjectionDetector) Detect(text string) []string {
	start := time.Now()
	found := od.lexicon.all(normalizeText(text))
	od.stats.record(start, len(found) == 0, found...)
	return found
}

// GetStats returns a copy of the detector statistics
func (od *ObjectionDetector) GetStats() Stats {
	return od.stats.snapshot()
}
