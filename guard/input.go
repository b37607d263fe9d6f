package guard

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	blockedPatternReason = "Your request was blocked because it matched a restricted pattern. Please rephrase."
	offTopicReason       = "I can only help with medical and patient-related requests. Your message appears to be off-topic."
)

// DefaultBlockedPatterns are known prompt-injection and override phrasings.
// Matched case-insensitively against the raw human text.
func DefaultBlockedPatterns() []string {
	return []string{
		`ignore.*instructions`,
		`disregard.*prompt`,
		`delete\s+all`,
		`drop\s+table`,
		`system\s*:`,
		`admin\s+mode`,
		`override\s+safety`,
		`act\s+as\s+(root|admin)`,
		`reveal.*system\s*prompt`,
	}
}

// DefaultScopeKeywords is the clinical/administrative vocabulary a message
// must touch to be considered in scope.
func DefaultScopeKeywords() []string {
	return []string{
		"patient", "diagnosis", "medication", "prescri", "treatment",
		"doctor", "medical", "health", "symptom", "clinical",
		"record", "email", "search", "literature", "hospital",
		"drug", "therapy", "lab", "test", "nurse", "vital",
		"allergy", "condition", "history", "refer",
	}
}

// InputGuardrail gates whether a human message reaches the model. Two ordered
// checks, first rejection wins: a restricted-pattern blocklist, then a scope
// check requiring at least one domain keyword. Pure classification; it never
// inspects tool-call content.
type InputGuardrail struct {
	blocked  []*regexp.Regexp
	keywords []string
}

func NewInputGuardrail(cfg InputConfig) (*InputGuardrail, error) {
	patterns := cfg.BlockedPatterns
	if patterns == nil {
		patterns = DefaultBlockedPatterns()
	}
	keywords := cfg.ScopeKeywords
	if keywords == nil {
		keywords = DefaultScopeKeywords()
	}

	g := &InputGuardrail{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		re, err := regexp.Compile(`(?i)` + p)
		if err != nil {
			return nil, fmt.Errorf("invalid blocked pattern %q: %w", p, err)
		}
		g.blocked = append(g.blocked, re)
	}
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		g.keywords = append(g.keywords, kw)
	}
	return g, nil
}

func (g *InputGuardrail) Check(text string) Verdict {
	for _, re := range g.blocked {
		if re.MatchString(text) {
			return Block(blockedPatternReason)
		}
	}

	lower := strings.ToLower(text)
	for _, kw := range g.keywords {
		if strings.Contains(lower, kw) {
			return Allow()
		}
	}
	return Block(offTopicReason)
}
