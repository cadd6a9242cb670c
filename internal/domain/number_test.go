package domain

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateContractNumberShape(t *testing.T) {
	for i := 0; i < 200; i++ {
		n := GenerateContractNumber()
		if !ValidateContractNumber(n) {
			t.Fatalf("generated number %q does not validate", n)
		}
		if len(n) != 14 {
			t.Fatalf("expected 14 chars, got %d (%q)", len(n), n)
		}
		if !strings.HasPrefix(n, "CON") {
			t.Fatalf("missing CON prefix: %q", n)
		}
	}
}

func TestGenerateContractNumberUsesTimestampTail(t *testing.T) {
	at := time.UnixMilli(1734567891234)
	n := generateContractNumberAt(at, 7)
	if n != "CON67891234007" {
		t.Fatalf("unexpected number %q", n)
	}
}

func TestValidateContractNumberRejectsNonMatching(t *testing.T) {
	bad := []string{
		"",
		"CON123",
		"CON123456789012",
		"con12345678901",
		"ABC12345678901",
		"CON1234567890a",
		" CON12345678901",
	}
	for _, s := range bad {
		if ValidateContractNumber(s) {
			t.Fatalf("expected %q to be rejected", s)
		}
	}
	if !ValidateContractNumber("CON12345678901") {
		t.Fatalf("expected canonical number to validate")
	}
}
