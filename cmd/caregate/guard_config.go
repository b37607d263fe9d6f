package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/caregate/caregate/guard"
	"github.com/caregate/caregate/internal/pathutil"
	"github.com/caregate/caregate/llm"
	"github.com/spf13/viper"
)

// guardComponents bundles the constructed guardrail layers for engine wiring.
type guardComponents struct {
	Input          *guard.InputGuardrail
	Output         *guard.OutputGuardrail
	Redactor       *guard.Redactor
	Audit          guard.AuditSink
	SensitiveTools []string
}

func guardConfigFromViper() (guard.Config, error) {
	var patterns []guard.RegexPattern
	_ = viper.UnmarshalKey("guard.redaction.patterns", &patterns)

	cfg := guard.Config{
		Enabled: viper.GetBool("guard.enabled"),
		Input: guard.InputConfig{
			BlockedPatterns: stringSliceOrNil("guard.input.blocked_patterns"),
			ScopeKeywords:   stringSliceOrNil("guard.input.scope_keywords"),
		},
		Output: guard.OutputConfig{
			Model:        strings.TrimSpace(viper.GetString("guard.output.model")),
			SafetyPrompt: viper.GetString("guard.output.safety_prompt"),
		},
		Redaction: guard.RedactionConfig{
			Enabled:  viper.GetBool("guard.redaction.enabled"),
			Patterns: patterns,
		},
		Audit: guard.AuditConfig{
			JSONLPath:      strings.TrimSpace(viper.GetString("guard.audit.jsonl_path")),
			RotateMaxBytes: viper.GetInt64("guard.audit.rotate_max_bytes"),
		},
		Approvals: guard.ApprovalsConfig{
			SensitiveTools: viper.GetStringSlice("guard.approvals.sensitive_tools"),
		},
	}

	if policyPath := strings.TrimSpace(viper.GetString("guard.policy_file")); policyPath != "" {
		pf, err := guard.LoadPolicyFile(pathutil.ExpandHomePath(policyPath))
		if err != nil {
			return guard.Config{}, fmt.Errorf("load guard policy: %w", err)
		}
		cfg = cfg.Apply(pf)
	}
	return cfg, nil
}

// guardFromViper builds all guardrail layers. safetyClient evaluates output
// safety; in normal operation it is the same backend the agent chats with.
func guardFromViper(safetyClient llm.Client, log *slog.Logger) (*guardComponents, error) {
	if log == nil {
		log = slog.Default()
	}
	cfg, err := guardConfigFromViper()
	if err != nil {
		return nil, err
	}

	input, err := guard.NewInputGuardrail(cfg.Input)
	if err != nil {
		return nil, fmt.Errorf("input guardrail: %w", err)
	}
	output := guard.NewOutputGuardrail(safetyClient, cfg.Output, log)

	var redactor *guard.Redactor
	if cfg.Redaction.Enabled {
		redactor = guard.NewRedactor(cfg.Redaction)
	}

	jsonlPath := cfg.Audit.JSONLPath
	if jsonlPath == "" {
		home, err := os.UserHomeDir()
		if err == nil && strings.TrimSpace(home) != "" {
			jsonlPath = filepath.Join(home, ".caregate", "guard_audit.jsonl")
		}
	}
	jsonlPath = pathutil.ExpandHomePath(jsonlPath)

	var sink guard.AuditSink
	if strings.TrimSpace(jsonlPath) != "" {
		s, err := guard.NewJSONLAuditSink(jsonlPath, cfg.Audit.RotateMaxBytes)
		if err != nil {
			log.Warn("guard_audit_sink_error", "error", err.Error())
		} else {
			sink = s
		}
	}

	log.Info("guard_enabled",
		"redaction", redactor != nil,
		"audit_jsonl", jsonlPath,
		"sensitive_tools", len(cfg.Approvals.SensitiveTools),
	)

	return &guardComponents{
		Input:          input,
		Output:         output,
		Redactor:       redactor,
		Audit:          sink,
		SensitiveTools: cfg.Approvals.SensitiveTools,
	}, nil
}

// stringSliceOrNil preserves the nil/empty distinction the guardrail configs
// rely on: an unset key means defaults, an explicit empty list means none.
func stringSliceOrNil(key string) []string {
	if !viper.IsSet(key) {
		return nil
	}
	v := viper.GetStringSlice(key)
	if v == nil {
		v = []string{}
	}
	return v
}
