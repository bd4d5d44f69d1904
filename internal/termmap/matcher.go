package termmap

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Match returns the entries of tm whose source term appears as a whole word
// in any of texts, sorted by source term. Matching is case-sensitive
// (correct for proper nouns).
func Match(tm TermMap, texts []string) []Term {
	matched := make([]Term, 0)
	for source, target := range tm {
		if strings.TrimSpace(source) == "" {
			continue
		}
		for _, text := range texts {
			if ContainsWord(text, source) {
				matched = append(matched, Term{Source: source, Target: target})
				break
			}
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Source < matched[j].Source
	})
	return matched
}

// ContainsWord reports whether term occurs in text without being glued to
// other letters or digits. Scripts written without spaces match anywhere.
func ContainsWord(text, term string) bool {
	if term == "" {
		return false
	}
	for start := 0; start <= len(text); {
		i := strings.Index(text[start:], term)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(term)
		if boundaryBefore(text, term, i) && boundaryAfter(text, term, end) {
			return true
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		start = i + size
	}
	return false
}

func boundaryBefore(text, term string, i int) bool {
	if i == 0 {
		return true
	}
	prev, _ := utf8.DecodeLastRuneInString(text[:i])
	first, _ := utf8.DecodeRuneInString(term)
	return !(isSpacedWordRune(prev) && isSpacedWordRune(first))
}

func boundaryAfter(text, term string, end int) bool {
	if end >= len(text) {
		return true
	}
	next, _ := utf8.DecodeRuneInString(text[end:])
	last, _ := utf8.DecodeLastRuneInString(term)
	return !(isSpacedWordRune(next) && isSpacedWordRune(last))
}

func isSpacedWordRune(r rune) bool {
	if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
		return false
	}
	return !unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul, unicode.Thai)
}
