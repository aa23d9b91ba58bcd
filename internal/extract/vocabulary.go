/**
 * Indicator vocabulary and pattern library.
 *
 * Both are plain configuration data injected into the engine per call, so
 * different card layouts can coexist. The engine itself owns no defaults.
 */

package extract

import (
	"regexp"
	"strings"
)

// Vocabulary holds the label strings that mark a field on the card, plus
// the secondary-script rune range used by the name heuristic.
type Vocabulary struct {
	NameIndicators []string
	DOBIndicators  []string
	IDIndicators   []string

	// ScriptLo and ScriptHi bound the card's secondary-script Unicode
	// block. A name candidate must contain at least one rune in range.
	ScriptLo rune
	ScriptHi rune
}

// Patterns holds the fallback recognizers per field, tried in listed order.
// Order is significant: the stricter pattern must come first.
type Patterns struct {
	DOB []*regexp.Regexp
	ID  []*regexp.Regexp
}

// OmaniCard returns the indicator vocabulary for the Omani national ID
// layout: Arabic primary labels with English secondary labels.
func OmaniCard() Vocabulary {
	return Vocabulary{
		NameIndicators: []string{"الاسم", "اسم", "Name", "الاسم الكامل", "Full Name"},
		DOBIndicators:  []string{"تاريخ الميلاد", "Date of Birth", "DATE OF BIRTH"},
		IDIndicators:   []string{"الرقم المدني", "CIVIL NUMBER"},
		ScriptLo:       0x0600,
		ScriptHi:       0x06FF,
	}
}

// OmaniPatterns returns the date and civil-number recognizers for the Omani
// layout. The exact 8-digit civil number precedes the looser 8-10 digit
// fallback.
func OmaniPatterns() Patterns {
	return Patterns{
		DOB: []*regexp.Regexp{
			regexp.MustCompile(`\d{2}/\d{2}/\d{4}`), // DD/MM/YYYY
			regexp.MustCompile(`\d{2}-\d{2}-\d{4}`), // DD-MM-YYYY
		},
		ID: []*regexp.Regexp{
			regexp.MustCompile(`\b\d{8}\b`),
			regexp.MustCompile(`\b\d{8,10}\b`),
		},
	}
}

// containsAny reports whether text contains any of the indicator strings.
func containsAny(text string, indicators []string) bool {
	for _, ind := range indicators {
		if ind != "" && strings.Contains(text, ind) {
			return true
		}
	}
	return false
}

// isLabelLine reports whether text contains any indicator from any field,
// which disqualifies it as name data.
func (v Vocabulary) isLabelLine(text string) bool {
	return containsAny(text, v.NameIndicators) ||
		containsAny(text, v.DOBIndicators) ||
		containsAny(text, v.IDIndicators)
}

// hasSecondaryScript reports whether text contains at least one rune in the
// vocabulary's secondary-script block.
func (v Vocabulary) hasSecondaryScript(text string) bool {
	if v.ScriptHi < v.ScriptLo {
		return false
	}
	for _, r := range text {
		if r >= v.ScriptLo && r <= v.ScriptHi {
			return true
		}
	}
	return false
}
