// Package querytext cleans and normalizes user-issued search text for searchlog.
package querytext

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxLength is the longest query (in runes) that is kept; longer input is truncated.
const MaxLength = 2000

var (
	// whitespaceRegex matches any run of whitespace, including newlines and tabs
	whitespaceRegex = regexp.MustCompile(`\s+`)

	// likeEscaper escapes LIKE wildcards, with backslash as the escape character
	likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
)

// StripControl removes non-printable control characters, keeping whitespace.
func StripControl(text string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)
}

// CollapseWhitespace replaces every whitespace run with a single space.
func CollapseWhitespace(text string) string {
	return whitespaceRegex.ReplaceAllString(text, " ")
}

// Clean performs full cleaning on a query. Case is preserved for display.
// This is the form stored as HistoryEntry.Query.
func Clean(text string) string {
	text = StripControl(text)
	text = CollapseWhitespace(text)
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) > MaxLength {
		text = strings.TrimSpace(string([]rune(text)[:MaxLength]))
	}
	return text
}

// Normalize returns the matching key for text: cleaned and lower-cased.
func Normalize(text string) string {
	return strings.ToLower(Clean(text))
}

// IsBlank reports whether text is empty once cleaned.
func IsBlank(text string) bool {
	return Clean(text) == ""
}

// RuneLen returns the length of the cleaned text in runes.
func RuneLen(text string) int {
	return utf8.RuneCountInString(Clean(text))
}

// EscapeLike escapes %, _ and \ so s matches literally inside a LIKE pattern
// declared with ESCAPE '\'.
func EscapeLike(s string) string {
	return likeEscaper.Replace(s)
}
