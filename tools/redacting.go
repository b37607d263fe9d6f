package tools

import (
	"context"

	"github.com/caregate/caregate/guard"
)

// RedactingTool decorates another tool so its string output is piped through
// the PII redactor before the model (or anything downstream) sees it. Name,
// description, schema, and sensitivity pass through unchanged.
type RedactingTool struct {
	inner    Tool
	redactor *guard.Redactor
}

func NewRedactingTool(inner Tool, redactor *guard.Redactor) *RedactingTool {
	return &RedactingTool{inner: inner, redactor: redactor}
}

func (t *RedactingTool) Name() string            { return t.inner.Name() }
func (t *RedactingTool) Description() string     { return t.inner.Description() }
func (t *RedactingTool) ParameterSchema() string { return t.inner.ParameterSchema() }
func (t *RedactingTool) Sensitive() bool         { return t.inner.Sensitive() }

func (t *RedactingTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	out, err := t.inner.Execute(ctx, params)
	if err != nil {
		return out, err
	}
	return t.redactor.Redact(out), nil
}

// WrapAll decorates every tool in a registry with PII redaction, returning a
// new registry.
func WrapAll(r *Registry, redactor *guard.Redactor) *Registry {
	out := NewRegistry()
	for _, t := range r.All() {
		out.Register(NewRedactingTool(t, redactor))
	}
	return out
}
