package guard

import "time"

// Verdict is the outcome of a guardrail check. It is never mutated after
// creation; a blocked verdict carries a user-facing reason.
type Verdict struct {
	Allowed bool
	Reason  string
}

func Allow() Verdict {
	return Verdict{Allowed: true}
}

func Block(reason string) Verdict {
	return Verdict{Allowed: false, Reason: reason}
}

// Stage names the checkpoint that produced an audit event.
type Stage string

const (
	StageInput    Stage = "input"
	StageOutput   Stage = "output"
	StageApproval Stage = "approval"
	StageTool     Stage = "tool"
)

type AuditEvent struct {
	ThreadID  string    `json:"thread_id"`
	Timestamp time.Time `json:"ts"`
	Stage     Stage     `json:"stage"`

	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`

	ToolName string `json:"tool_name,omitempty"`
	CallID   string `json:"call_id,omitempty"`

	// Decision is set for approval-stage events: requested, approved, rejected.
	Decision string `json:"decision,omitempty"`
	Actor    string `json:"actor,omitempty"`
}
