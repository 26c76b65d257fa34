package core

import (
	"math"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/liliang-cn/objstore/internal/tokenize"
)

// wordPart is one scoring input: a text fragment and the weight each of its
// words accumulates.
type wordPart struct {
	text  string
	coeff float64
}

// Text ending in a short extension is treated as a filesystem path and
// decomposed rather than tokenized whole.
var fileExtPattern = regexp.MustCompile(`\.\w{2,5}$`)

const maxPathLength = 255

// pathTokens reduces a path to its informative tail: the first two path
// components are dropped, the last two remaining directories and the
// filename stem are kept. The stem is tokenized on its own as well so exact
// stem words always score.
func pathTokens(path string) []string {
	dir, file := filepath.Split(path)
	stem := strings.TrimSuffix(file, filepath.Ext(file))

	var levels []string
	if trimmed := strings.Trim(dir, "/"); trimmed != "" {
		levels = strings.Split(trimmed, "/")
	}
	if len(levels) <= 2 {
		levels = nil
	} else {
		levels = levels[2:]
		if len(levels) > 2 {
			levels = levels[len(levels)-2:]
		}
	}

	tokens := tokenize.Split(strings.Join(append(levels, stem), " "))
	return append(tokens, tokenize.Split(stem)...)
}

// scoreWords converts text parts into a weighted bag of words for one
// object. Each distinct word scores sqrt(summed coefficient / total word
// count); counts are relative to this object only, corpus weighting happens
// at search time.
func scoreWords(parts []wordPart) map[string]float64 {
	words := make(map[string]float64)
	total := 0

	for _, part := range parts {
		if part.text == "" {
			continue
		}

		var tokens []string
		if len(part.text) < maxPathLength && fileExtPattern.MatchString(part.text) {
			tokens = pathTokens(part.text)
		} else {
			tokens = tokenize.Split(part.text)
		}

		for _, tok := range tokens {
			if tok == "" || len(tok) > tokenize.MaxWordLength {
				continue
			}
			tok = strings.ToLower(tok)
			if !tokenize.Indexable(tok) {
				continue
			}
			words[tok] += part.coeff
			total++
		}
	}

	if total == 0 {
		return words
	}
	for word, sum := range words {
		words[word] = math.Sqrt(sum / float64(total))
	}
	return words
}
