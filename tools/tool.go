package tools

import "context"

// Tool is a named callable the model may request. Sensitive tools have
// real-world, hard-to-reverse side effects and require human sign-off before
// execution.
type Tool interface {
	Name() string
	Description() string
	ParameterSchema() string
	Sensitive() bool
	Execute(ctx context.Context, params map[string]any) (string, error)
}
