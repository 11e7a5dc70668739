// Package template embeds invisible placeholder tokens into a template
// package, injects answers in their place and checks that a stored
// template still matches its source document.
package template

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// TokenHexLength is the number of hash characters kept in a token.
const TokenHexLength = 12

var tokenRe = regexp.MustCompile(`\{\{Q_[0-9A-F]{12}\}\}`)

// Token derives the placeholder token of a question id.
func Token(questionID string) string {
	sum := sha256.Sum256([]byte(questionID))
	return "{{Q_" + strings.ToUpper(hex.EncodeToString(sum[:]))[:TokenHexLength] + "}}"
}

// IsToken reports whether s is exactly one placeholder token.
func IsToken(s string) bool {
	loc := tokenRe.FindStringIndex(s)
	return loc != nil && loc[0] == 0 && loc[1] == len(s)
}

// FindTokens returns every token occurring in s, in order.
func FindTokens(s string) []string {
	return tokenRe.FindAllString(s, -1)
}
