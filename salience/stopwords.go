package salience

import "strings"

// stopWords is the English stop-word filter used by token overlap scoring.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "been": true, "but": true, "by": true, "can": true,
	"did": true, "do": true, "does": true, "for": true, "from": true,
	"had": true, "has": true, "have": true, "he": true, "her": true,
	"him": true, "his": true, "how": true, "i": true, "if": true,
	"in": true, "is": true, "it": true, "its": true, "me": true,
	"my": true, "no": true, "not": true, "of": true, "on": true,
	"or": true, "our": true, "she": true, "so": true, "that": true,
	"the": true, "their": true, "them": true, "then": true, "there": true,
	"these": true, "they": true, "this": true, "to": true, "was": true,
	"we": true, "were": true, "what": true, "when": true, "where": true,
	"which": true, "who": true, "will": true, "with": true, "would": true,
	"you": true, "your": true,
}

// tokenSet lowercases, splits on non-letter/digit runs, and drops stop
// words and single-character tokens.
func tokenSet(text string) map[string]bool {
	tokens := make(map[string]bool)
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !isWordRune(r)
	})
	for _, f := range fields {
		if len(f) < 2 || stopWords[f] {
			continue
		}
		tokens[f] = true
	}
	return tokens
}

func isWordRune(r rune) bool {
	return r == '\'' ||
		(r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}
