// Package textnorm folds template text into comparable forms: case and
// diacritics insensitive, whitespace collapsed, list numbering removed.
package textnorm

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	multiSpaceRe = regexp.MustCompile(`\s+`)

	// leadingNumberingRe matches list markers such as "1.", "1.2.3", "a)",
	// "IV." and bullets at the start of a line.
	leadingNumberingRe = regexp.MustCompile(`^\s*(?:\d{1,3}(?:[.\-]\d{1,3})*[.)]?|[a-zA-Z][.)]|[ivxIVX]{1,4}[.)]|[-•*–—])\s+`)

	apostrophes = strings.NewReplacer("\u2019", "'", "\u2018", "'", "`", "'", "\u00a0", " ", "\u202f", " ")
)

// Fold lowercases s, removes combining marks and collapses whitespace.
// Punctuation is kept.
func Fold(s string) string {
	s = apostrophes.Replace(s)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = cases.Fold().String(folded)
	return strings.TrimSpace(multiSpaceRe.ReplaceAllString(folded, " "))
}

// StripNumbering removes a single leading list marker.
func StripNumbering(s string) string {
	return leadingNumberingRe.ReplaceAllString(s, "")
}

// Normalize produces the comparison key used for exact matching and id
// derivation:
//  1. Removing the leading list marker
//  2. Folding case and diacritics
//  3. Dropping punctuation other than hyphens and apostrophes
//  4. Collapsing whitespace
func Normalize(s string) string {
	s = Fold(StripNumbering(s))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '-' || r == '\'':
			b.WriteRune(r)
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(multiSpaceRe.ReplaceAllString(b.String(), " "))
}

// Words returns the set of normalized words longer than two runes.
func Words(s string) map[string]struct{} {
	fields := strings.FieldsFunc(Normalize(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if len([]rune(f)) > 2 {
			out[f] = struct{}{}
		}
	}
	return out
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
