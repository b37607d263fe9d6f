package agent

import (
	"errors"

	"github.com/caregate/caregate/llm"
)

// Decision is the human approver's verdict on a suspended batch.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Caller errors, distinct from policy refusals (which come back as normal
// turn results with refusal text).
var (
	ErrThreadBusy      = errors.New("thread already has a turn in flight")
	ErrThreadSuspended = errors.New("thread is suspended awaiting an approval decision")
	ErrNotSuspended    = errors.New("thread is not suspended")
	ErrInvalidDecision = errors.New("decision must be approve or reject")
)

// PendingApproval is surfaced to the caller when a turn suspends at the
// approval gate. Calls holds the entire batch; Sensitive names the calls
// that triggered the suspension.
type PendingApproval struct {
	Prompt    string         `json:"prompt"`
	Calls     []llm.ToolCall `json:"calls"`
	Sensitive []string       `json:"sensitive"`
}

// TurnResult is the outcome of Submit or Resume: either a finalized,
// policy-cleared reply, or a pending approval the caller must resolve via
// Resume.
type TurnResult struct {
	ThreadID string
	Reply    string
	Pending  *PendingApproval
}

func (r *TurnResult) Suspended() bool {
	return r != nil && r.Pending != nil
}
