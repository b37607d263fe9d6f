package guard

import (
	"regexp"
	"strings"
)

// Builtin PII patterns. The application order is fixed: SSN first, since a
// 9-digit dashed sequence would otherwise be partially consumed by the looser
// phone pattern, then email, then phone.
var (
	ssnRe   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	emailRe = regexp.MustCompile(`[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+`)
	phoneRe = regexp.MustCompile(`(\+?1[-.\s]?)?(\(?\d{3}\)?[-.\s]?)(\d{3}[-.\s]?\d{4})\b`)
)

const (
	ssnPlaceholder   = "[SSN REDACTED]"
	emailPlaceholder = "[EMAIL REDACTED]"
	phonePlaceholder = "[PHONE REDACTED]"
)

// Redactor scrubs SSN-, email-, and phone-shaped tokens from text, replacing
// each with a fixed placeholder. Redaction is pure, deterministic, and
// idempotent. This is best-effort syntactic scrubbing, not a PII classifier.
type Redactor struct {
	custom []namedRe
}

type namedRe struct {
	name string
	re   *regexp.Regexp
}

func NewRedactor(cfg RedactionConfig) *Redactor {
	r := &Redactor{}
	if !cfg.Enabled {
		return r
	}
	for _, p := range cfg.Patterns {
		if strings.TrimSpace(p.Re) == "" {
			continue
		}
		re, err := regexp.Compile(p.Re)
		if err != nil {
			continue
		}
		name := strings.TrimSpace(p.Name)
		if name == "" {
			name = "custom"
		}
		r.custom = append(r.custom, namedRe{name: name, re: re})
	}
	return r
}

// Redact returns s with PII-shaped tokens replaced by placeholders.
func (r *Redactor) Redact(s string) string {
	if s == "" {
		return s
	}
	s = ssnRe.ReplaceAllString(s, ssnPlaceholder)
	s = emailRe.ReplaceAllString(s, emailPlaceholder)
	s = phoneRe.ReplaceAllString(s, phonePlaceholder)

	// Config-supplied patterns run after the builtins.
	if r != nil {
		for _, p := range r.custom {
			s = p.re.ReplaceAllString(s, "[REDACTED]")
		}
	}
	return s
}
