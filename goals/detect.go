package goals

import (
	"regexp"
	"strings"
	"time"

	"github.com/BaSui01/agentmemory/types"
)

// minDescriptionLen rejects matches too short to be meaningful goals
// ("I need to go").
const minDescriptionLen = 5

// goalRule pairs a statement pattern with the priority it implies. Rules
// are ordered strongest-commitment first; the first match wins.
type goalRule struct {
	pattern  *regexp.Regexp
	priority types.GoalPriority
}

var goalRules = []goalRule{
	{regexp.MustCompile(`(?i)\bi need to\s+(.+)`), types.PriorityHigh},
	{regexp.MustCompile(`(?i)\bi must\s+(.+)`), types.PriorityHigh},
	{regexp.MustCompile(`(?i)\bi have to\s+(.+)`), types.PriorityHigh},
	{regexp.MustCompile(`(?i)\bmy goal is( to)?\s+(.+)`), types.PriorityMedium},
	{regexp.MustCompile(`(?i)\bi(?:'m| am)? trying to\s+(.+)`), types.PriorityMedium},
	{regexp.MustCompile(`(?i)\bi want to\s+(.+)`), types.PriorityMedium},
	{regexp.MustCompile(`(?i)\bi(?:'m| am)? planning to\s+(.+)`), types.PriorityMedium},
	{regexp.MustCompile(`(?i)\bi(?:'m| am)? working on\s+(.+)`), types.PriorityLow},
}

var completionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bi(?:'ve| have)? finished\s+(.+)`),
	regexp.MustCompile(`(?i)\bi(?:'ve| have)? completed\s+(.+)`),
	regexp.MustCompile(`(?i)\bi(?:'m| am)? done with\s+(.+)`),
	regexp.MustCompile(`(?i)\bthat(?:'s| is)? done\b`),
	regexp.MustCompile(`(?i)\bfinally (?:finished|completed|shipped|submitted)\s+(.+)`),
}

// detectByPattern runs the ordered goal rules against text. The due-date
// phrase, when present, is stripped from the description and resolved
// relative to now.
func detectByPattern(text string, now time.Time) *Detection {
	for _, rule := range goalRules {
		m := rule.pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		desc := m[len(m)-1]
		desc, due := extractDueDate(desc, now)
		desc = trimGoalDescription(desc)
		if len(desc) < minDescriptionLen {
			continue
		}
		return &Detection{
			Description: desc,
			Confidence:  1.0,
			Priority:    rule.priority,
			DueDate:     due,
		}
	}
	return nil
}

// completionSubject extracts what the user says they finished, or "" when
// the text is not a completion statement.
func completionSubject(text string) string {
	for _, p := range completionPatterns {
		m := p.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if len(m) > 1 {
			return trimGoalDescription(m[1])
		}
		// Bare "that's done" carries no subject; match against the whole
		// utterance so surrounding words can still identify the goal.
		return trimGoalDescription(text)
	}
	return ""
}

// trimGoalDescription cuts the match at sentence boundaries and strips
// trailing punctuation and filler.
func trimGoalDescription(s string) string {
	for _, sep := range []string{".", "!", "?", ";", ",", " and ", " but ", " so "} {
		if idx := strings.Index(s, sep); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}

// tokenOverlapRatio is the fraction of a's meaningful tokens present in b.
// Articles, pronouns, and other connectives are ignored.
func tokenOverlapRatio(a, b string) float64 {
	ta := goalTokens(a)
	if len(ta) == 0 {
		return 0
	}
	tb := goalTokens(b)
	hits := 0
	for tok := range ta {
		if tb[tok] {
			hits++
		}
	}
	return float64(hits) / float64(len(ta))
}

var goalStopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "i": true, "in": true,
	"is": true, "it": true, "my": true, "of": true, "on": true, "or": true,
	"that": true, "the": true, "this": true, "to": true, "up": true,
	"was": true, "with": true,
}

func goalTokens(text string) map[string]bool {
	out := make(map[string]bool)
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		letter := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		return !letter
	})
	for _, f := range fields {
		if len(f) < 2 || goalStopWords[f] {
			continue
		}
		out[f] = true
	}
	return out
}
