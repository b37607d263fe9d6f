package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/caregate/caregate/patientdb"
)

// DeleteRecordTool is sensitive: record deletion requires human sign-off.
type DeleteRecordTool struct {
	Store *patientdb.Store
}

func NewDeleteRecordTool(store *patientdb.Store) *DeleteRecordTool {
	return &DeleteRecordTool{Store: store}
}

func (t *DeleteRecordTool) Name() string { return "delete_record" }

func (t *DeleteRecordTool) Description() string {
	return "Delete a patient record from the database by patient ID."
}

func (t *DeleteRecordTool) ParameterSchema() string {
	return mustJSON(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"patient_id": map[string]any{"type": "string", "description": "Patient ID, e.g. P001."},
		},
		"required": []string{"patient_id"},
	})
}

func (t *DeleteRecordTool) Sensitive() bool { return true }

func (t *DeleteRecordTool) Execute(_ context.Context, params map[string]any) (string, error) {
	id, _ := params["patient_id"].(string)
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("missing required param: patient_id")
	}

	// A missing record is reported to the model as a result, not an error.
	if !t.Store.Delete(id) {
		return fmt.Sprintf("No patient found with ID %s.", id), nil
	}
	return fmt.Sprintf("Patient record %s has been deleted.", id), nil
}
