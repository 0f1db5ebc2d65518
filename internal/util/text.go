package util

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeName canonicalizes a workstation name for comparison: trim,
// Unicode NFC, case fold. Idempotent; empty-after-trim input yields "".
// A Caser is stateful, so one is created per call.
func NormalizeName(input string) string {
	s := strings.TrimSpace(input)
	if s == "" {
		return ""
	}
	s = norm.NFC.String(s)
	return cases.Fold().String(s)
}

// CollapseSpaces squeezes runs of whitespace to single spaces and trims.
func CollapseSpaces(input string) string {
	return strings.Join(strings.Fields(input), " ")
}
