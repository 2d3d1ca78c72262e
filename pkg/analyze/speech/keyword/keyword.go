// Package keyword matches configured keywords against transcribed speech.
//
// Transcripts of live audio mangle proper nouns and domain terms, so exact
// token comparison misses most hits. Matching combines Double Metaphone
// phonetic encoding with Jaro-Winkler similarity: a transcript token is a
// hit when it shares a phonetic code with a keyword and their string
// similarity clears the threshold, or when the similarity alone clears the
// stricter fuzzy threshold.
package keyword

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-aligned token to count as a hit. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required for a hit
// without phonetic alignment. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

type keywordEntry struct {
	original string
	lower    string
	codes    map[string]struct{}
}

// Matcher matches a fixed keyword bag against transcript text. It is
// read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	keywords          []keywordEntry
}

// New returns a Matcher for the given keyword bag. Keywords are compared
// case-insensitively; empty entries are dropped.
func New(keywords []string, opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	for _, kw := range keywords {
		lower := strings.ToLower(strings.TrimSpace(kw))
		if lower == "" {
			continue
		}
		m.keywords = append(m.keywords, keywordEntry{
			original: kw,
			lower:    lower,
			codes:    metaphoneCodes(lower),
		})
	}
	return m
}

// Empty reports whether the matcher has no keywords configured.
func (m *Matcher) Empty() bool { return len(m.keywords) == 0 }

// Match returns the configured keywords found in text, in configuration
// order and without duplicates.
func (m *Matcher) Match(text string) []string {
	if len(m.keywords) == 0 {
		return nil
	}
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	type tokenInfo struct {
		text  string
		codes map[string]struct{}
	}
	infos := make([]tokenInfo, len(tokens))
	for i, t := range tokens {
		infos[i] = tokenInfo{text: t, codes: metaphoneCodes(t)}
	}

	var hits []string
	for _, kw := range m.keywords {
		for _, tok := range infos {
			if m.hit(tok.text, tok.codes, kw) {
				hits = append(hits, kw.original)
				break
			}
		}
	}
	return hits
}

func (m *Matcher) hit(token string, tokenCodes map[string]struct{}, kw keywordEntry) bool {
	if token == kw.lower {
		return true
	}
	score := matchr.JaroWinkler(token, kw.lower, false)
	if codesOverlap(tokenCodes, kw.codes) {
		return score >= m.phoneticThreshold
	}
	return score >= m.fuzzyThreshold
}

// tokenize lowercases text and splits it on anything that is not a letter
// or digit.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// metaphoneCodes returns the Double Metaphone codes for one token,
// excluding empty codes.
func metaphoneCodes(token string) map[string]struct{} {
	codes := make(map[string]struct{}, 2)
	p, s := matchr.DoubleMetaphone(token)
	if p != "" {
		codes[p] = struct{}{}
	}
	if s != "" {
		codes[s] = struct{}{}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
