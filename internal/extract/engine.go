/**
 * Field extraction engine.
 *
 * Turns an order-less collection of OCR tokens into three typed identity
 * fields (holder name, date of birth, civil number) through three passes:
 *
 * 1. Label proximity - highest confidence. Walks tokens in received order;
 *    a token containing a field's indicator yields the value from the same
 *    token or from the next token in emission order.
 * 2. Global regex fallback - for fields still absent, scans all tokens
 *    against the pattern library.
 * 3. Positional name heuristic - walks the position-sorted view and picks
 *    the first secondary-script line that looks like a person name.
 *
 * A field assigned in an earlier pass is never overwritten by a later one.
 * The engine is a pure function of its input: no state, no I/O, no errors.
 */

package extract

import (
	"regexp"
	"strings"
	"unicode"
)

// FieldKind identifies one of the three extracted identity fields.
type FieldKind string

const (
	FieldName        FieldKind = "name"
	FieldDateOfBirth FieldKind = "date_of_birth"
	FieldIDNumber    FieldKind = "id_number"
)

// FieldResult is one extracted field. Found reports whether any pass
// resolved a value; an unresolved field is a normal outcome, not an error.
type FieldResult struct {
	Kind  FieldKind
	Value string
	Found bool
}

// Outcome holds the three field results plus the newline-joined token text
// in received order, kept for display and diagnostics.
type Outcome struct {
	Name        FieldResult
	DateOfBirth FieldResult
	IDNumber    FieldResult
	FullText    string
}

// digitRun extracts the first maximal run of digits from a label line or
// its neighbor. This is deliberately generic, not a field pattern.
var digitRun = regexp.MustCompile(`\d+`)

// Extract runs the three passes over the token sequence and returns the
// outcome. It never fails: an empty sequence yields an outcome with all
// three fields absent.
func Extract(tokens []Token, vocab Vocabulary, patterns Patterns) Outcome {
	out := Outcome{
		Name:        FieldResult{Kind: FieldName},
		DateOfBirth: FieldResult{Kind: FieldDateOfBirth},
		IDNumber:    FieldResult{Kind: FieldIDNumber},
		FullText:    joinText(tokens),
	}

	// Pass 1: label proximity, in received order. The recognizer emits a
	// label and its value adjacently, which tracks reading order better
	// than raw geometry for this engine. Adjacency is emission order only;
	// there is no geometric below/beside check.
	for i, tok := range tokens {
		text := strings.TrimSpace(tok.Text)
		if text == "" {
			continue
		}

		if !out.IDNumber.Found && containsAny(text, vocab.IDIndicators) {
			if run := digitRun.FindString(text); run != "" {
				out.IDNumber = resolved(FieldIDNumber, run)
			} else if i+1 < len(tokens) {
				if run := digitRun.FindString(tokens[i+1].Text); run != "" {
					out.IDNumber = resolved(FieldIDNumber, run)
				}
			}
		}

		if !out.DateOfBirth.Found && containsAny(text, vocab.DOBIndicators) {
			if m := firstPatternMatch(patterns.DOB, text); m != "" {
				out.DateOfBirth = resolved(FieldDateOfBirth, m)
			} else if i+1 < len(tokens) {
				if m := firstPatternMatch(patterns.DOB, tokens[i+1].Text); m != "" {
					out.DateOfBirth = resolved(FieldDateOfBirth, m)
				}
			}
		}
	}

	// Pass 2: global regex fallback, only for fields still absent. ID and
	// date of birth are resolved independently of each other.
	if !out.IDNumber.Found {
		if m := scanForMatch(tokens, patterns.ID); m != "" {
			out.IDNumber = resolved(FieldIDNumber, m)
		}
	}
	if !out.DateOfBirth.Found {
		if m := scanForMatch(tokens, patterns.DOB); m != "" {
			out.DateOfBirth = resolved(FieldDateOfBirth, m)
		}
	}

	// Pass 3: name heuristic on the position-sorted view. The name line is
	// distinguished by its position and script, not by an adjacent label.
	for _, tok := range byPosition(tokens) {
		text := strings.TrimSpace(tok.Text)
		if isNameCandidate(text, vocab) {
			out.Name = resolved(FieldName, text)
			break
		}
	}

	return out
}

func resolved(kind FieldKind, value string) FieldResult {
	return FieldResult{Kind: kind, Value: value, Found: true}
}

// firstPatternMatch tries each pattern in order against text and returns
// the first match.
func firstPatternMatch(patterns []*regexp.Regexp, text string) string {
	for _, p := range patterns {
		if m := p.FindString(text); m != "" {
			return m
		}
	}
	return ""
}

// scanForMatch walks tokens in received order, trying each pattern in
// order per token, and returns the first match found.
func scanForMatch(tokens []Token, patterns []*regexp.Regexp) string {
	for _, tok := range tokens {
		if m := firstPatternMatch(patterns, tok.Text); m != "" {
			return m
		}
	}
	return ""
}

// isNameCandidate applies the name heuristic: secondary-script content,
// 2-4 whitespace-separated words, no digits, and not a label line.
func isNameCandidate(text string, vocab Vocabulary) bool {
	if text == "" || !vocab.hasSecondaryScript(text) {
		return false
	}
	words := strings.Fields(text)
	if len(words) < 2 || len(words) > 4 {
		return false
	}
	for _, r := range text {
		if unicode.IsDigit(r) {
			return false
		}
	}
	return !vocab.isLabelLine(text)
}
