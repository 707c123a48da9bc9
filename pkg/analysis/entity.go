package analysis

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Entity keys
const (
	EntityPropertyType = "property_type"
	EntityPrice        = "price"
	EntityBedrooms     = "bedrooms"
	EntityBathrooms    = "bathrooms"
	EntityLocation     = "location"
)

// Entities maps an entity key to its normalized value
type Entities map[string]string

// Preferences returns the entities describing the property sought
func (e Entities) Preferences() map[string]string {
	out := make(map[string]string)
	for _, key := range []string{EntityPropertyType, EntityBedrooms, EntityBathrooms, EntityLocation} {
		if v, ok := e[key]; ok {
			out[key] = v
		}
	}
	return out
}

// LeadProfile returns the entities describing the lead
func (e Entities) LeadProfile() map[string]string {
	out := make(map[string]string)
	if v, ok := e[EntityPrice]; ok {
		out["budget"] = v
	}
	return out
}

var propertyTypes = []struct {
	pattern *regexp.Regexp
	value   string
}{
	{regexp.MustCompile(`\btown ?(?:house|home)s?\b`), "townhouse"},
	{regexp.MustCompile(`\bcondo(?:minium)?s?\b`), "condo"},
	{regexp.MustCompile(`\bapartments?\b`), "apartment"},
	{regexp.MustCompile(`\bduplex(?:es)?\b`), "duplex"},
	{regexp.MustCompile(`\bvillas?\b`), "villa"},
	{regexp.MustCompile(`\blofts?\b`), "loft"},
	{regexp.MustCompile(`\bstudios?\b`), "studio"},
	{regexp.MustCompile(`\bsingle[- ]family\b`), "single-family home"},
	{regexp.MustCompile(`\b(?:house|home)s?\b`), "house"},
}

var (
	dollarPattern    = regexp.MustCompile(`\$\s?(\d[\d,]*(?:\.\d+)?)\s*(k|m|thousand|million)?\b`)
	magnitudePattern = regexp.MustCompile(`\b(\d+(?:\.\d+)?)\s*(k|thousand|million|mil)\b`)
	bedroomPattern   = regexp.MustCompile(`\b(\d+|one|two|three|four|five|six)[- ]?(?:bed(?:room)?s?|br)\b`)
	bathroomPattern  = regexp.MustCompile(`\b(\d+(?:\.5)?|one|two|three|four)[- ]?(?:bath(?:room)?s?|ba)\b`)
	locationPattern  = regexp.MustCompile(`\b(?:[Ii]n|[Nn]ear|[Aa]round)\s+((?:[A-Z][a-zA-Z]+)(?:\s+[A-Z][a-zA-Z]+){0,2})`)
)

// Anything above this is a misheard number, not a budget
const maxPrice = 1e12

var numberWords = map[string]string{
	"one": "1", "two": "2", "three": "3", "four": "4", "five": "5", "six": "6",
}

var locationStopWords = map[string]bool{
	"I": true, "The": true, "A": true, "My": true, "This": true, "That": true,
}

// EntityExtractor pulls structured facts out of an utterance
type EntityExtractor struct {
	logger *logrus.Entry
	stats  *Stats
}

// NewEntityExtractor creates an entity extractor
func NewEntityExtractor(logger *logrus.Logger) *EntityExtractor {
	return &EntityExtractor{
		logger: logger.WithField("component", "entity_extractor"),
		stats:  newStats(),
	}
}

// Extract returns the entities found in text; the map is never nil
func (ee *EntityExtractor) Extract(text string) Entities {
	start := time.Now()
	entities := make(Entities)
	lower := normalizeText(text)

	for _, pt := range propertyTypes {
		if pt.pattern.MatchString(lower) {
			entities[EntityPropertyType] = pt.value
			break
		}
	}

	if price, ok := extractPrice(lower); ok {
		entities[EntityPrice] = price
	}

	if m := bedroomPattern.FindStringSubmatch(lower); m != nil {
		entities[EntityBedrooms] = wordToNumber(m[1])
	}
	if m := bathroomPattern.FindStringSubmatch(lower); m != nil {
		entities[EntityBathrooms] = wordToNumber(m[1])
	}

	// Place names rely on capitalization, so match the original text
	if m := locationPattern.FindStringSubmatch(text); m != nil {
		words := strings.Fields(m[1])
		if len(words) > 0 && !locationStopWords[words[0]] {
			entities[EntityLocation] = m[1]
		}
	}

	keys := make([]string, 0, len(entities))
	for k := range entities {
		keys = append(keys, k)
	}
	ee.stats.record(start, len(entities) == 0, keys...)

	return entities
}

// GetStats returns a copy of the extractor statistics
func (ee *EntityExtractor) GetStats() Stats {
	return ee.stats.snapshot()
}

// extractPrice returns the amount in whole dollars
func extractPrice(lower string) (string, bool) {
	var digits, unit string

	if m := dollarPattern.FindStringSubmatch(lower); m != nil {
		digits, unit = m[1], m[2]
	} else if m := magnitudePattern.FindStringSubmatch(lower); m != nil {
		digits, unit = m[1], m[2]
	} else {
		return "", false
	}

	value, err := strconv.ParseFloat(strings.ReplaceAll(digits, ",", ""), 64)
	if err != nil {
		return "", false
	}

	switch unit {
	case "k", "thousand":
		value *= 1e3
	case "m", "million", "mil":
		value *= 1e6
	}
	if value <= 0 || value > maxPrice {
		return "", false
	}

	return strconv.FormatInt(int64(value+0.5), 10), true
}

func wordToNumber(s string) string {
	if n, ok := numberWords[s]; ok {
		return n
	}
	return s
}

// FormatPrice renders a whole-dollar amount as $1,250,000
func FormatPrice(amount string) string {
	n, err := strconv.ParseInt(amount, 10, 64)
	if err != nil || n < 0 {
		return amount
	}

	s := strconv.FormatInt(n, 10)
	var b strings.Builder
	b.WriteByte('$')
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return b.String()
}
