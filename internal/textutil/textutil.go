// Package textutil holds the shared tokenizer used for keyword
// classification and token-overlap ranking, so both sides agree on what
// counts as a word.
package textutil

import "strings"

// stopWords are dropped during tokenization; they carry no signal for
// matching user requests against composition text.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"is": true, "are": true, "was": true, "were": true, "be": true,
	"to": true, "of": true, "in": true, "for": true, "on": true,
	"with": true, "as": true, "at": true, "by": true, "from": true,
	"this": true, "that": true, "it": true, "its": true,
}

// Tokenize splits text into lowercase word tokens, keeping only runs of
// ASCII letters, digits and underscores longer than two characters and not
// in the stop-word set.
func Tokenize(text string) []string {
	text = strings.ToLower(text)
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_')
	})

	filtered := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) > 2 && !stopWords[w] {
			filtered = append(filtered, w)
		}
	}
	return filtered
}
