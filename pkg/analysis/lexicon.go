package analysis

import (
	"regexp"
	"strings"
	"sync"
	"time"
)

// Category is one labelled keyword list
type Category struct {
	Name     string   `json:"name"`
	Keywords []string `json:"keywords"`
}

type compiledCategory struct {
	name     string
	patterns []*regexp.Regexp
}

// lexicon matches whole words or phrases against an ordered category table
type lexicon struct {
	categories []compiledCategory
}

var whitespacePattern = regexp.MustCompile(`\s+`)

func newLexicon(table []Category) *lexicon {
	l := &lexicon{categories: make([]compiledCategory, 0, len(table))}
	for _, cat := range table {
		cc := compiledCategory{name: cat.Name}
		for _, kw := range cat.Keywords {
			cc.patterns = append(cc.patterns, regexp.MustCompile(`\b`+regexp.QuoteMeta(normalizeText(kw))+`\b`))
		}
		l.categories = append(l.categories, cc)
	}
	return l
}

// first returns the first category in table order with a match
func (l *lexicon) first(text string) (string, bool) {
	for _, cat := range l.categories {
		if cat.matches(text) {
			return cat.name, true
		}
	}
	return "", false
}

// all returns every matching category in table order
func (l *lexicon) all(text string) []string {
	var out []string
	for _, cat := range l.categories {
		if cat.matches(text) {
			out = append(out, cat.name)
		}
	}
	return out
}

func (c compiledCategory) matches(text string) bool {
	for _, p := range c.patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// normalizeText lowercases, straightens quotes and collapses whitespace
func normalizeText(text string) string {
	text = strings.ToLower(text)
	text = strings.NewReplacer("’", "'", "‘", "'", "“", `"`, "”", `"`).Replace(text)
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(text, " "))
}

// Stats tracks classifier activity
type Stats struct {
	mutex          sync.RWMutex
	TotalAnalyses  int64            `json:"total_analyses"`
	LabelCounts    map[string]int64 `json:"label_counts"`
	Fallbacks      int64            `json:"fallbacks"`
	ProcessingTime time.Duration    `json:"processing_time"`
	LastReset      time.Time        `json:"last_reset"`
}

func newStats() *Stats {
	return &Stats{
		LabelCounts: make(map[string]int64),
		LastReset:   time.Now(),
	}
}

func (s *Stats) record(start time.Time, fallback bool, labels ...string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.TotalAnalyses++
	s.ProcessingTime += time.Since(start)
	if fallback {
		s.Fallbacks++
	}
	for _, label := range labels {
		s.LabelCounts[label]++
	}
}

func (s *Stats) snapshot() Stats {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	counts := make(map[string]int64, len(s.LabelCounts))
	for k, v := range s.LabelCounts {
		counts[k] = v
	}
	return Stats{
		TotalAnalyses:  s.TotalAnalyses,
		LabelCounts:    counts,
		Fallbacks:      s.Fallbacks,
		ProcessingTime: s.ProcessingTime,
		LastReset:      s.LastReset,
	}
}
