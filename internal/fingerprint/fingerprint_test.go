// Package fingerprint provides failure signature normalization for deduplication.
package fingerprint

import (
	"strings"
	"testing"
)

// ==============================================================================
// Unit Tests: Signature Normalization
// ==============================================================================

func TestNormalize_Deterministic(t *testing.T) {
	first := Normalize("AssertionError", "expected 5, got 3")
	second := Normalize("AssertionError", "expected 5, got 3")

	if first != second {
		t.Errorf("Normalize() not deterministic: %q != %q", first, second)
	}
}

func TestNormalize_NumericInvariance(t *testing.T) {
	a := Normalize("AssertionError", "expected 5, got 3")
	b := Normalize("AssertionError", "expected 9, got 1")

	if a != b {
		t.Errorf("Normalize() numeric variants differ: %q != %q", a, b)
	}
}

func TestNormalize_Floats(t *testing.T) {
	a := Normalize("AssertionError", "tolerance exceeded: 0.591")
	b := Normalize("AssertionError", "tolerance exceeded: 0.013")

	if a != b {
		t.Errorf("Normalize() float variants differ: %q != %q", a, b)
	}

	if !strings.Contains(a, "<NUM>") {
		t.Errorf("Normalize() = %q, expected <NUM> placeholder", a)
	}
}

func TestNormalize_MemoryAddresses(t *testing.T) {
	a := Normalize("RuntimeError", "segfault at 0x7f8a3c2b")
	b := Normalize("RuntimeError", "segfault at 0xdeadbeef")

	if a != b {
		t.Errorf("Normalize() address variants differ: %q != %q", a, b)
	}

	if !strings.Contains(a, "<ADDR>") {
		t.Errorf("Normalize() = %q, expected <ADDR> placeholder", a)
	}
}

func TestNormalize_UUIDs(t *testing.T) {
	a := Normalize("KeyError", "run 550e8400-e29b-41d4-a716-446655440000 not found")
	b := Normalize("KeyError", "run 123e4567-e89b-12d3-a456-426614174000 not found")

	if a != b {
		t.Errorf("Normalize() UUID variants differ: %q != %q", a, b)
	}

	if !strings.Contains(a, "<UUID>") {
		t.Errorf("Normalize() = %q, expected <UUID> placeholder", a)
	}
}

func TestNormalize_Timestamps(t *testing.T) {
	a := Normalize("TimeoutError", "deadline 2024-01-22T10:00:00 exceeded")
	b := Normalize("TimeoutError", "deadline 2025-06-30 23:59:59 exceeded")

	if a != b {
		t.Errorf("Normalize() timestamp variants differ: %q != %q", a, b)
	}

	if !strings.Contains(a, "<TIMESTAMP>") {
		t.Errorf("Normalize() = %q, expected <TIMESTAMP> placeholder", a)
	}
}

func TestNormalize_AbsolutePaths(t *testing.T) {
	a := Normalize("FileNotFoundError", "/tmp/build-1234/workdir/model.bin missing")
	b := Normalize("FileNotFoundError", "/home/agent/scratch/model.bin missing")

	if a != b {
		t.Errorf("Normalize() path variants differ: %q != %q", a, b)
	}

	// Final path segment must survive
	if !strings.Contains(a, "model.bin") {
		t.Errorf("Normalize() = %q, expected final path segment to be retained", a)
	}
}

func TestNormalize_CollapsesWhitespace(t *testing.T) {
	got := Normalize("AssertionError", "expected\t true,\n   got false")

	if strings.Contains(got, "  ") || strings.Contains(got, "\n") || strings.Contains(got, "\t") {
		t.Errorf("Normalize() = %q, expected whitespace runs collapsed", got)
	}
}

func TestNormalize_EmptyInput(t *testing.T) {
	if got := Normalize("", ""); got != EmptySignature {
		t.Errorf("Normalize(\"\", \"\") = %q, expected %q", got, EmptySignature)
	}

	if got := Normalize("", "   "); got != EmptySignature {
		t.Errorf("Normalize whitespace-only = %q, expected %q", got, EmptySignature)
	}
}

func TestNormalize_TypeOnly(t *testing.T) {
	got := Normalize("TimeoutError", "")

	if got != "TimeoutError" {
		t.Errorf("Normalize(type, \"\") = %q, expected %q", got, "TimeoutError")
	}
}

func TestNormalize_Truncation(t *testing.T) {
	long := strings.Repeat("x", 2*MaxFingerprintLength)
	got := Normalize("ValueError", long)

	if len(got) > MaxFingerprintLength {
		t.Errorf("Normalize() length = %d, expected at most %d", len(got), MaxFingerprintLength)
	}
}

func TestNormalize_PreservesStructure(t *testing.T) {
	got := Normalize("AssertionError", "expected 5, got 3")

	if !strings.HasPrefix(got, "AssertionError: ") {
		t.Errorf("Normalize() = %q, expected error type prefix preserved", got)
	}

	if !strings.Contains(got, "expected") || !strings.Contains(got, "got") {
		t.Errorf("Normalize() = %q, expected message structure preserved", got)
	}
}

func TestNormalizeMessage_Combined(t *testing.T) {
	got := NormalizeMessage("run 550e8400-e29b-41d4-a716-446655440000 failed at 0x7f8a with code 137 after 12.5s")

	for _, placeholder := range []string{"<UUID>", "<ADDR>", "<NUM>"} {
		if !strings.Contains(got, placeholder) {
			t.Errorf("NormalizeMessage() = %q, expected %s placeholder", got, placeholder)
		}
	}
}
