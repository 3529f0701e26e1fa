package utils

import (
	"strings"
	"unicode"
)

// Cyrillic letters that share a glyph with a Latin one. Cameras in mixed-alphabet
// regions report either form for the same physical plate.
var lookalikes = map[rune]rune{
	'А': 'A', 'В': 'B', 'Е': 'E', 'К': 'K', 'М': 'M', 'Н': 'H',
	'О': 'O', 'Р': 'P', 'С': 'C', 'Т': 'T', 'У': 'Y', 'Х': 'X',
}

// NormalizePlate maps a raw recognized plate string to its canonical form:
// uppercase, separators stripped, lookalike letters folded to Latin. Returns ""
// when nothing recognizable remains.
func NormalizePlate(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(raw)) {
		if m, ok := lookalikes[r]; ok {
			r = m
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
