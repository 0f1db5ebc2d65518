package util

import "testing"

func TestNormalizeNameIdempotent(t *testing.T) {
	inputs := []string{"  PC01 ", "lab-02", "CAFÉ-01", "", "   ", "Пк-07"}
	for _, in := range inputs {
		once := NormalizeName(in)
		twice := NormalizeName(once)
		if once != twice {
			t.Fatalf("not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestNormalizeNameWhitespaceCase(t *testing.T) {
	if NormalizeName("  PC01 ") != NormalizeName("pc01") {
		t.Fatalf("whitespace/case variants must normalize equal")
	}
	if NormalizeName("LAB-01") != NormalizeName("Lab-01") {
		t.Fatalf("case variants must normalize equal")
	}
}

func TestNormalizeNameUnicodeForms(t *testing.T) {
	composed := "CAF\u00C9-01"   // precomposed E-acute
	decomposed := "CAFE\u0301-01" // E + combining acute
	if NormalizeName(composed) != NormalizeName(decomposed) {
		t.Fatalf("NFC must collapse combining variants: %q vs %q",
			NormalizeName(composed), NormalizeName(decomposed))
	}
}

func TestNormalizeNameEmpty(t *testing.T) {
	if NormalizeName("") != "" {
		t.Fatalf("empty must stay empty")
	}
	if NormalizeName("   ") != "" {
		t.Fatalf("whitespace-only must normalize to empty")
	}
	if NormalizeName("  ") == NormalizeName("PC01") {
		t.Fatalf("empty must never match a non-empty name")
	}
}
