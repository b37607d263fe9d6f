package builtin

import (
	"context"
	"fmt"
	"strings"
)

// cannedLiterature is the offline stand-in for a literature database.
var cannedLiterature = map[string]string{
	"diabetes":     "Recent studies (2024) show GLP-1 receptor agonists reduce cardiovascular risk in T2DM patients. ADA recommends HbA1c target <7% for most adults.",
	"hypertension": "2024 ACC/AHA guidelines recommend BP target <130/80 mmHg. First-line agents: ACE inhibitors, ARBs, CCBs, thiazide diuretics.",
	"asthma":       "GINA 2024 update: Low-dose ICS-formoterol as preferred reliever for mild asthma. Step-up therapy based on symptom control.",
	"anxiety":      "CBT remains first-line for GAD. SSRIs/SNRIs are first-line pharmacotherapy. Buspirone is an alternative.",
	"migraine":     "CGRP monoclonal antibodies (erenumab, fremanezumab) show efficacy for prophylaxis. Acute treatment: triptans, gepants.",
}

type LiteratureSearchTool struct{}

func NewLiteratureSearchTool() *LiteratureSearchTool { return &LiteratureSearchTool{} }

func (t *LiteratureSearchTool) Name() string { return "literature_search" }

func (t *LiteratureSearchTool) Description() string {
	return "Search medical literature databases for research papers and clinical guidelines."
}

func (t *LiteratureSearchTool) ParameterSchema() string {
	return mustJSON(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "Topic to search for."},
		},
		"required": []string{"query"},
	})
}

func (t *LiteratureSearchTool) Sensitive() bool { return false }

func (t *LiteratureSearchTool) Execute(_ context.Context, params map[string]any) (string, error) {
	query, _ := params["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return "", fmt.Errorf("missing required param: query")
	}

	lower := strings.ToLower(query)
	for key, result := range cannedLiterature {
		if strings.Contains(lower, key) {
			return result, nil
		}
	}
	return fmt.Sprintf("Found 3 review articles on '%s'. Key finding: further research is needed. Consult specialist guidelines for clinical decisions.", query), nil
}
