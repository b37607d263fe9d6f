package builtin

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/caregate/caregate/patientdb"
)

func TestPatientSearchTool(t *testing.T) {
	tool := NewPatientSearchTool(patientdb.NewStore())

	out, err := tool.Execute(context.Background(), map[string]any{"query": "diabetes"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	var results []patientdb.Patient
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if len(results) != 1 || results[0].ID != "P001" {
		t.Fatalf("results = %#v", results)
	}

	out, err = tool.Execute(context.Background(), map[string]any{"query": "zebra fever"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out != "No patients found matching that query." {
		t.Fatalf("got %q", out)
	}

	if _, err := tool.Execute(context.Background(), map[string]any{}); err == nil {
		t.Fatal("expected error for missing query")
	}
	if tool.Sensitive() {
		t.Fatal("patient_search must be ordinary")
	}
}

func TestSendEmailTool(t *testing.T) {
	outbox := NewOutbox()
	tool := NewSendEmailTool(outbox)

	out, err := tool.Execute(context.Background(), map[string]any{
		"to":      "clinic@hospital.org",
		"subject": "Follow-up",
		"body":    "See you Tuesday.",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out != "Email sent successfully to clinic@hospital.org." {
		t.Fatalf("got %q", out)
	}

	sent := outbox.Sent()
	if len(sent) != 1 || sent[0].Subject != "Follow-up" {
		t.Fatalf("outbox = %#v", sent)
	}
	if !tool.Sensitive() {
		t.Fatal("send_email must be sensitive")
	}
	if _, err := tool.Execute(context.Background(), map[string]any{"subject": "x"}); err == nil {
		t.Fatal("expected error for missing recipient")
	}
}

func TestDeleteRecordTool(t *testing.T) {
	store := patientdb.NewStore()
	tool := NewDeleteRecordTool(store)

	out, err := tool.Execute(context.Background(), map[string]any{"patient_id": "P002"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out != "Patient record P002 has been deleted." {
		t.Fatalf("got %q", out)
	}

	// Not-found is a tool result, not an error raised to the caller.
	out, err = tool.Execute(context.Background(), map[string]any{"patient_id": "P999"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out != "No patient found with ID P999." {
		t.Fatalf("got %q", out)
	}
	if !tool.Sensitive() {
		t.Fatal("delete_record must be sensitive")
	}
}

func TestLiteratureSearchTool(t *testing.T) {
	tool := NewLiteratureSearchTool()

	out, err := tool.Execute(context.Background(), map[string]any{"query": "latest on Hypertension targets"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out, "130/80") {
		t.Fatalf("expected canned hypertension result, got %q", out)
	}

	out, err = tool.Execute(context.Background(), map[string]any{"query": "rare disease xyz"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out, "further research is needed") {
		t.Fatalf("expected fallback result, got %q", out)
	}
}
