package narrate

import (
	"regexp"
	"strings"
)

// Patterns for PII that must never reach a published narration. Phone
// matching is deliberately loose: seven or more digits with common
// separators.
var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\d[\d\s().\-]{6,}\d`)
)

// profanity is the blocklist applied to transcript words. Matching is
// case-insensitive and whole-word.
var profanity = map[string]struct{}{
	"shit":    {},
	"fuck":    {},
	"fucking": {},
	"asshole": {},
	"bitch":   {},
	"bastard": {},
	"damn":    {},
}

const redactedMark = "[redacted]"

// sanitizeSpeech redacts PII and profanity from transcript text. The
// returned flag reports whether anything was redacted; callers drop the
// speech template branch for flagged text rather than narrating around
// holes.
func sanitizeSpeech(text string) (string, bool) {
	flagged := false

	if emailPattern.MatchString(text) {
		text = emailPattern.ReplaceAllString(text, redactedMark)
		flagged = true
	}
	if phonePattern.MatchString(text) {
		text = phonePattern.ReplaceAllString(text, redactedMark)
		flagged = true
	}

	words := strings.Fields(text)
	for i, w := range words {
		bare := strings.ToLower(strings.Trim(w, ".,!?;:'\""))
		if _, ok := profanity[bare]; ok {
			words[i] = redactedMark
			flagged = true
		}
	}
	return strings.Join(words, " "), flagged
}
