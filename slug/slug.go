// Package slug derives storage keys from resolved person keywords.
package slug

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	nonAlnumRe = regexp.MustCompile("[^a-z0-9-]+")
	hyphenRe   = regexp.MustCompile("-+")
)

const maxLen = 80

// Generate creates a URL-safe slug from a string. Non-ASCII characters
// that have a decomposed ASCII base survive transliteration; anything
// else is dropped, so an all-Hangul name can produce an empty slug.
// Use KeywordKey for person records.
func Generate(s string) string {
	if s == "" {
		return ""
	}

	s = transliterate(strings.ToLower(s))
	s = strings.ReplaceAll(s, " ", "-")
	s = strings.ReplaceAll(s, "_", "-")
	s = nonAlnumRe.ReplaceAllString(s, "")
	s = hyphenRe.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")

	if len(s) > maxLen {
		s = strings.TrimRight(s[:maxLen], "-")
	}
	return s
}

// KeywordKey builds the storage key for a resolved person: the slugged
// keyword when it survives transliteration, otherwise a key derived
// from the portal's os token, which is always ASCII digits.
func KeywordKey(keyword, osToken string) string {
	if s := Generate(keyword); s != "" {
		return s
	}
	if osToken != "" {
		return "person-" + osToken
	}
	return ""
}

// transliterate strips combining marks after NFD decomposition, mapping
// accented Latin to plain ASCII.
func transliterate(s string) string {
	t := transform.Chain(norm.NFD, transform.RemoveFunc(func(r rune) bool {
		return unicode.Is(unicode.Mn, r)
	}), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
