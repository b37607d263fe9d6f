package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/caregate/caregate/patientdb"
)

type PatientSearchTool struct {
	Store *patientdb.Store
}

func NewPatientSearchTool(store *patientdb.Store) *PatientSearchTool {
	return &PatientSearchTool{Store: store}
}

func (t *PatientSearchTool) Name() string { return "patient_search" }

func (t *PatientSearchTool) Description() string {
	return "Search for patients by name or diagnosis. Returns matching patient records."
}

func (t *PatientSearchTool) ParameterSchema() string {
	return mustJSON(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "Name or diagnosis to search for."},
		},
		"required": []string{"query"},
	})
}

func (t *PatientSearchTool) Sensitive() bool { return false }

func (t *PatientSearchTool) Execute(_ context.Context, params map[string]any) (string, error) {
	query, _ := params["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return "", fmt.Errorf("missing required param: query")
	}

	results := t.Store.Search(query)
	if len(results) == 0 {
		return "No patients found matching that query.", nil
	}
	b, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
