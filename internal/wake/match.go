// Package wake detects the spoken wake phrase that arms the recording
// pipeline.
//
// It has two halves: [Matcher] implements the phrase-matching policy over
// recognizer transcripts, and [Detector] runs a continuous recognition
// session around it, handling the engine's restart and error taxonomy.
package wake

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// phraseWindow is how deep into a transcript an alternate wake phrase may
// appear and still count. Recognizers frequently prepend a few misheard
// words; anything past this prefix is the middle of a sentence, not a wake.
const phraseWindow = 30

// intentKeywords are conversational openers whose presence is reported with
// a match for diagnostics. They never gate the match: the wake fires with or
// without them once a trigger phrase is found.
var intentKeywords = []string{
	"hello", "hey", "hi", "please", "can you", "could you", "help",
}

// Result describes one matching attempt.
type Result struct {
	// Matched reports whether any trigger phrase was found.
	Matched bool

	// Rule names the rule that fired: "trigger-word", "phrase", or "fuzzy".
	Rule string

	// Phrase is the configured phrase or trigger that matched.
	Phrase string

	// Intent lists the intent keywords present in the transcript. Logged
	// only; intentionally not part of the match decision.
	Intent []string
}

// Matcher implements the wake-phrase matching policy. Read-only after
// construction; safe for concurrent use.
type Matcher struct {
	trigger        string
	phrases        []string
	fuzzyThreshold float64
}

// NewMatcher creates a Matcher. trigger is the standalone leading word;
// phrases are the alternate wake phrases including spelling variants;
// fuzzyThreshold is the Jaro-Winkler floor for the fuzzy backstop (values
// outside (0,1] disable it).
func NewMatcher(trigger string, phrases []string, fuzzyThreshold float64) *Matcher {
	norm := make([]string, 0, len(phrases))
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			norm = append(norm, p)
		}
	}
	return &Matcher{
		trigger:        strings.ToLower(strings.TrimSpace(trigger)),
		phrases:        norm,
		fuzzyThreshold: fuzzyThreshold,
	}
}

// Match applies the policy to one transcript, first match wins:
//
//  1. The standalone trigger word anchored at the start of the utterance —
//     bare trigger, trailing punctuation tolerated, no intent words needed.
//  2. Any configured phrase found within the first 30 characters.
//  3. A fuzzy comparison of leading token windows against the configured
//     phrases, for mishearings the variant list missed: Jaro-Winkler
//     similarity over the threshold, or an exact Double Metaphone code
//     match backed by a looser similarity floor.
//
// Transcripts containing no trigger phrase never match, regardless of
// intent keywords.
func (m *Matcher) Match(transcript string) Result {
	text := strings.ToLower(strings.TrimSpace(transcript))
	if text == "" {
		return Result{}
	}

	intent := findIntent(text)

	// Rule 1: leading standalone trigger word.
	if m.trigger != "" && hasLeadingToken(text, m.trigger) {
		return Result{Matched: true, Rule: "trigger-word", Phrase: m.trigger, Intent: intent}
	}

	// Rule 2: alternate phrase within the prefix window.
	for _, p := range m.phrases {
		if idx := strings.Index(text, p); idx >= 0 && idx < phraseWindow {
			return Result{Matched: true, Rule: "phrase", Phrase: p, Intent: intent}
		}
	}

	// Rule 3: fuzzy backstop over token windows in the prefix.
	if m.fuzzyThreshold > 0 && m.fuzzyThreshold <= 1 {
		if p, ok := m.fuzzyMatch(text); ok {
			return Result{Matched: true, Rule: "fuzzy", Phrase: p, Intent: intent}
		}
	}

	return Result{Intent: intent}
}

// phoneticFloor is the minimum Jaro-Winkler score required alongside a
// Double Metaphone code match. A code match alone is too coarse: short
// words collapse to the same code far too often.
const phoneticFloor = 0.70

// fuzzyMatch compares token windows from the transcript prefix against each
// configured phrase on the space-stripped forms. A window matches when its
// Jaro-Winkler similarity clears the threshold, or when its Double
// Metaphone code equals the phrase's and the similarity clears the
// phonetic floor. Returns the first matching phrase.
func (m *Matcher) fuzzyMatch(text string) (string, bool) {
	prefix := text
	if len(prefix) > phraseWindow {
		prefix = prefix[:phraseWindow]
	}
	tokens := strings.Fields(stripPunct(prefix))
	if len(tokens) == 0 {
		return "", false
	}

	for _, p := range m.phrases {
		want := len(strings.Fields(p))
		if want == 0 {
			continue
		}
		target := strings.ReplaceAll(p, " ", "")
		targetCode, _ := matchr.DoubleMetaphone(target)
		for start := 0; start+want <= len(tokens); start++ {
			window := strings.Join(tokens[start:start+want], "")
			score := matchr.JaroWinkler(window, target, false)
			if score >= m.fuzzyThreshold {
				return p, true
			}
			if score >= phoneticFloor && targetCode != "" {
				if code, _ := matchr.DoubleMetaphone(window); code == targetCode {
					return p, true
				}
			}
		}
	}
	return "", false
}

// hasLeadingToken reports whether text begins with token as a standalone
// word: the token itself, optionally followed by whitespace or punctuation.
func hasLeadingToken(text, token string) bool {
	if !strings.HasPrefix(text, token) {
		return false
	}
	if len(text) == len(token) {
		return true
	}
	next := rune(text[len(token)])
	return !unicode.IsLetter(next) && !unicode.IsDigit(next)
}

// findIntent returns the intent keywords present in text, in keyword order.
func findIntent(text string) []string {
	var found []string
	for _, kw := range intentKeywords {
		if strings.Contains(text, kw) {
			found = append(found, kw)
		}
	}
	return found
}

// stripPunct replaces punctuation with spaces so tokenization survives
// recognizer-inserted commas and periods.
func stripPunct(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return r
		}
		return ' '
	}, s)
}
