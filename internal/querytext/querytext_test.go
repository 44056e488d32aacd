package querytext

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain text",
			input:    "Laptop Stand",
			expected: "Laptop Stand",
		},
		{
			name:     "surrounding whitespace",
			input:    "   laptop charger \n",
			expected: "laptop charger",
		},
		{
			name:     "inner whitespace runs",
			input:    "usb\t\tc   hub",
			expected: "usb c hub",
		},
		{
			name:     "control characters",
			input:    "lap\x00top\x07",
			expected: "laptop",
		},
		{
			name:     "only whitespace",
			input:    " \t\n ",
			expected: "",
		},
		{
			name:     "case preserved",
			input:    "MacBook PRO",
			expected: "MacBook PRO",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Clean(tt.input))
		})
	}
}

func TestClean_Truncates(t *testing.T) {
	long := strings.Repeat("é", MaxLength+50)
	cleaned := Clean(long)
	assert.Equal(t, MaxLength, utf8.RuneCountInString(cleaned))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "laptop stand", Normalize("  Laptop   STAND "))
	assert.Equal(t, "", Normalize("\n"))
}

func TestIsBlank(t *testing.T) {
	assert.True(t, IsBlank(""))
	assert.True(t, IsBlank("  \t"))
	assert.False(t, IsBlank(" a "))
}

func TestRuneLen(t *testing.T) {
	assert.Equal(t, 1, RuneLen(" a "))
	assert.Equal(t, 2, RuneLen("日本"))
}

func TestEscapeLike(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "no wildcards", input: "lap", expected: "lap"},
		{name: "percent", input: "50%", expected: `50\%`},
		{name: "underscore", input: "a_b", expected: `a\_b`},
		{name: "backslash", input: `a\b`, expected: `a\\b`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, EscapeLike(tt.input))
		})
	}
}
