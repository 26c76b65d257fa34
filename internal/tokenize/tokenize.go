// Package tokenize turns free text into the lower-cased word stream used by
// the keyword index. The same rules apply at index time and at query time so
// that a phrase always resolves to the words that were stored for it.
package tokenize

import (
	"regexp"
	"strings"
)

// Word length limits for keyword indexing.
const (
	MinWordLength = 2
	MaxWordLength = 30
)

// Words are runs of letters; digits, underscores and punctuation all
// terminate a token.
var delim = regexp.MustCompile(`[^\p{L}]+`)

var stopWords = map[string]struct{}{
	"about": {}, "and": {}, "are": {}, "but": {}, "com": {}, "for": {},
	"from": {}, "how": {}, "not": {}, "some": {}, "that": {}, "the": {},
	"this": {}, "was": {}, "what": {}, "when": {}, "where": {}, "who": {},
	"will": {}, "with": {}, "www": {}, "http": {}, "org": {}, "of": {},
	"on": {},
}

// IsStopWord reports whether word is in the fixed stop list. The word is
// expected to be lower-cased already.
func IsStopWord(word string) bool {
	_, ok := stopWords[word]
	return ok
}

// Indexable reports whether a lower-cased word is eligible for the keyword
// index: within the length limits and not a stop word.
func Indexable(word string) bool {
	if len(word) < MinWordLength || len(word) > MaxWordLength {
		return false
	}
	return !IsStopWord(word)
}

// Split breaks text into raw tokens without case folding or filtering.
func Split(text string) []string {
	return delim.Split(text, -1)
}

// Words breaks text into the indexable word stream: split on delimiters,
// lower-case, and drop anything outside the length limits or in the stop
// list. Duplicates are preserved in order.
func Words(text string) []string {
	var words []string
	for _, tok := range Split(text) {
		if tok == "" || len(tok) > MaxWordLength {
			continue
		}
		tok = strings.ToLower(tok)
		if !Indexable(tok) {
			continue
		}
		words = append(words, tok)
	}
	return words
}
