package util

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// diacriticStripper decomposes runes and drops the combining marks, turning
// "santé" into "sante". Keyword matching must not care about accents typed
// on one handset and absent on another.
var diacriticStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeText lower-cases, strips diacritics and collapses newline/space
// separators so equivalent SMS spellings compare equal.
func NormalizeText(s string) string {
	folded, _, err := transform.String(diacriticStripper, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)
	folded = strings.ReplaceAll(folded, "\n", " ")
	return strings.Join(strings.Fields(folded), " ")
}

// FirstWord returns the normalized first word of a message, empty when the
// message holds no word.
func FirstWord(s string) string {
	fields := strings.Fields(NormalizeText(s))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// AfterFirstWord returns everything after the normalized first word.
func AfterFirstWord(s string) string {
	normalized := NormalizeText(s)
	_, rest, found := strings.Cut(normalized, " ")
	if !found {
		return ""
	}
	return rest
}
