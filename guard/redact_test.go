package guard

import (
	"strings"
	"testing"
)

func TestRedact_Placeholders(t *testing.T) {
	r := NewRedactor(RedactionConfig{})
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"ssn", "SSN 123-45-6789", "SSN [SSN REDACTED]"},
		{"email", "reach me at john.smith@email.com please", "reach me at [EMAIL REDACTED] please"},
		{"phone_parens", "call (555) 867-5309", "call [PHONE REDACTED]"},
		{"phone_country_code", "call +1 555-867-5309 now", "call [PHONE REDACTED] now"},
		{"phone_dots", "phone: 555.867.5309", "phone: [PHONE REDACTED]"},
		{"clean", "no personal data here", "no personal data here"},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := r.Redact(tc.in)
			if got != tc.want {
				t.Fatalf("Redact(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestRedact_Idempotent(t *testing.T) {
	r := NewRedactor(RedactionConfig{})
	inputs := []string{
		"Patient John Smith (john.smith@email.com) — SSN 123-45-6789 — Phone (555) 867-5309",
		"SSN 123-45-6789",
		"nothing to redact",
		"[SSN REDACTED] already done",
	}
	for _, in := range inputs {
		once := r.Redact(in)
		twice := r.Redact(once)
		if once != twice {
			t.Fatalf("redaction not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestRedact_SSNBeforePhone(t *testing.T) {
	// A 9-digit dashed sequence must be consumed whole by the SSN pattern,
	// not partially matched by the phone pattern.
	r := NewRedactor(RedactionConfig{})
	got := r.Redact("SSN 123-45-6789")
	if got != "SSN [SSN REDACTED]" {
		t.Fatalf("got %q, want %q", got, "SSN [SSN REDACTED]")
	}
	if strings.Contains(got, "[PHONE REDACTED]") {
		t.Fatalf("phone pattern partially consumed an SSN: %q", got)
	}
}

func TestRedact_MixedSample(t *testing.T) {
	r := NewRedactor(RedactionConfig{})
	in := "Patient John Smith (john.smith@email.com) — SSN 123-45-6789 — Phone (555) 867-5309"
	got := r.Redact(in)
	for _, want := range []string{"[SSN REDACTED]", "[EMAIL REDACTED]", "[PHONE REDACTED]"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %s in %q", want, got)
		}
	}
	for _, leak := range []string{"123-45-6789", "john.smith@email.com", "867-5309"} {
		if strings.Contains(got, leak) {
			t.Fatalf("leaked %q in %q", leak, got)
		}
	}
}

func TestRedact_CustomPatterns(t *testing.T) {
	r := NewRedactor(RedactionConfig{
		Enabled: true,
		Patterns: []RegexPattern{
			{Name: "mrn", Re: `MRN-\d{6}`},
			{Name: "bad", Re: `([`}, // invalid, must be skipped
		},
	})
	got := r.Redact("record MRN-123456 on file")
	if got != "record [REDACTED] on file" {
		t.Fatalf("got %q", got)
	}
}
