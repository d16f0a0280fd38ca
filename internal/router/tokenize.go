package router

import (
	"strings"
	"unicode"
)

func isIdeographic(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

// Tokenize lowercases Latin words and splits contiguous ideographic spans
// into every unigram and bigram. No dictionary is needed.
func Tokenize(s string) []string {
	var (
		out  []string
		word strings.Builder
		span []rune
	)
	flushWord := func() {
		if word.Len() > 0 {
			out = append(out, word.String())
			word.Reset()
		}
	}
	flushSpan := func() {
		for i, r := range span {
			out = append(out, string(r))
			if i+1 < len(span) {
				out = append(out, string(span[i:i+2]))
			}
		}
		span = span[:0]
	}
	for _, r := range s {
		switch {
		case isIdeographic(r):
			flushWord()
			span = append(span, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushSpan()
			word.WriteRune(unicode.ToLower(r))
		default:
			flushWord()
			flushSpan()
		}
	}
	flushWord()
	flushSpan()
	return out
}
