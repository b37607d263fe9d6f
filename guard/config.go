package guard

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Enabled bool

	Input     InputConfig
	Output    OutputConfig
	Redaction RedactionConfig

	Audit     AuditConfig
	Approvals ApprovalsConfig
}

// InputConfig overrides the input guardrail's lists. A nil slice means
// "use the defaults"; an empty non-nil slice disables that check's defaults.
type InputConfig struct {
	BlockedPatterns []string `yaml:"blocked_patterns"`
	ScopeKeywords   []string `yaml:"scope_keywords"`
}

type OutputConfig struct {
	Model        string `yaml:"model"`
	SafetyPrompt string `yaml:"safety_prompt"`
}

type RedactionConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Patterns []RegexPattern `yaml:"patterns"`
}

type RegexPattern struct {
	Name string `yaml:"name"`
	Re   string `yaml:"re"`
}

type AuditConfig struct {
	JSONLPath      string `yaml:"jsonl_path"`
	RotateMaxBytes int64  `yaml:"rotate_max_bytes"`
}

type ApprovalsConfig struct {
	// SensitiveTools lists tool names requiring human sign-off in addition
	// to tools self-reporting as sensitive.
	SensitiveTools []string `yaml:"sensitive_tools"`
}

// PolicyFile is the on-disk guardrail policy: test-time or deploy-time
// substitution of stricter/looser lists without touching core logic.
type PolicyFile struct {
	Input     InputConfig     `yaml:"input"`
	Output    OutputConfig    `yaml:"output"`
	Redaction RedactionConfig `yaml:"redaction"`
	Approvals ApprovalsConfig `yaml:"approvals"`
}

func LoadPolicyFile(path string) (PolicyFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return PolicyFile{}, fmt.Errorf("read policy file: %w", err)
	}
	var pf PolicyFile
	if err := yaml.Unmarshal(b, &pf); err != nil {
		return PolicyFile{}, fmt.Errorf("parse policy file: %w", err)
	}
	return pf, nil
}

// Apply merges a policy file into a Config, file values winning where set.
func (c Config) Apply(pf PolicyFile) Config {
	if pf.Input.BlockedPatterns != nil {
		c.Input.BlockedPatterns = pf.Input.BlockedPatterns
	}
	if pf.Input.ScopeKeywords != nil {
		c.Input.ScopeKeywords = pf.Input.ScopeKeywords
	}
	if pf.Output.Model != "" {
		c.Output.Model = pf.Output.Model
	}
	if pf.Output.SafetyPrompt != "" {
		c.Output.SafetyPrompt = pf.Output.SafetyPrompt
	}
	if pf.Redaction.Enabled {
		c.Redaction.Enabled = true
	}
	if len(pf.Redaction.Patterns) > 0 {
		c.Redaction.Patterns = append(c.Redaction.Patterns, pf.Redaction.Patterns...)
	}
	if len(pf.Approvals.SensitiveTools) > 0 {
		c.Approvals.SensitiveTools = append(c.Approvals.SensitiveTools, pf.Approvals.SensitiveTools...)
	}
	return c
}
