// Package textcheck validates user-supplied text against Unicode
// spoofing and obfuscation tricks before it reaches storage or other
// users. Display names and message content are the two inputs that
// flow through here.
package textcheck

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// maxCombiningRun is the longest run of combining marks tolerated in
// message content. Legitimate scripts stack two or three; Zalgo-style
// abuse stacks dozens.
const maxCombiningRun = 3

var zeroWidthRunes = map[rune]bool{
	'\u200B': true, // zero width space
	'\u200C': true, // zero width non-joiner
	'\u200D': true, // zero width joiner
	'\u2060': true, // word joiner
	'\uFEFF': true, // zero width no-break space
}

var bidiControlRunes = map[rune]bool{
	'\u202A': true, // left-to-right embedding
	'\u202B': true, // right-to-left embedding
	'\u202C': true, // pop directional formatting
	'\u202D': true, // left-to-right override
	'\u202E': true, // right-to-left override
	'\u2066': true, // left-to-right isolate
	'\u2067': true, // right-to-left isolate
	'\u2068': true, // first strong isolate
	'\u2069': true, // pop directional isolate
}

func hasZeroWidth(s string) bool {
	for _, r := range s {
		if zeroWidthRunes[r] {
			return true
		}
	}
	return false
}

func hasBidiControls(s string) bool {
	for _, r := range s {
		if bidiControlRunes[r] {
			return true
		}
	}
	return false
}

// hasControlChars reports control characters other than the
// whitespace ones (tab, newline, carriage return) legitimate in
// message bodies. Pass strict to reject those too.
func hasControlChars(s string, strict bool) bool {
	for _, r := range s {
		if !strict && (r == '\t' || r == '\n' || r == '\r') {
			continue
		}
		if unicode.IsControl(r) {
			return true
		}
	}
	return false
}

func hasExcessiveCombiningMarks(s string) bool {
	run := 0
	for _, r := range s {
		if unicode.Is(unicode.Mn, r) || unicode.Is(unicode.Mc, r) || unicode.Is(unicode.Me, r) {
			run++
			if run > maxCombiningRun {
				return true
			}
		} else {
			run = 0
		}
	}
	return false
}

// ValidateDisplayName rejects names containing invisible characters,
// direction overrides, control characters, or text that is not in NFC
// form. Names are rendered next to every message a user sends, so the
// bar is stricter than for message bodies.
func ValidateDisplayName(name string) error {
	if hasZeroWidth(name) {
		return fmt.Errorf("name contains zero-width characters")
	}
	if hasBidiControls(name) {
		return fmt.Errorf("name contains bidirectional control characters")
	}
	if hasControlChars(name, true) {
		return fmt.Errorf("name contains control characters")
	}
	if hasExcessiveCombiningMarks(name) {
		return fmt.Errorf("name contains excessive combining marks")
	}
	if !norm.NFC.IsNormalString(name) {
		return fmt.Errorf("name is not NFC-normalized")
	}
	return nil
}

// ValidateMessageContent rejects content carrying invisible or
// direction-override characters that could disguise what other
// participants see. Combining marks are allowed in moderation;
// whitespace controls (tab, newline) are fine.
func ValidateMessageContent(content string) error {
	if hasZeroWidth(content) {
		return fmt.Errorf("message contains zero-width characters")
	}
	if hasBidiControls(content) {
		return fmt.Errorf("message contains bidirectional control characters")
	}
	if hasControlChars(content, false) {
		return fmt.Errorf("message contains control characters")
	}
	if hasExcessiveCombiningMarks(content) {
		return fmt.Errorf("message contains excessive combining marks")
	}
	return nil
}

// NormalizeDisplayName trims surrounding whitespace and applies NFC so
// visually identical names compare equal.
func NormalizeDisplayName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}
