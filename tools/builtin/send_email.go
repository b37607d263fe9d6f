package builtin

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

type Email struct {
	To      string
	Subject string
	Body    string
	SentAt  time.Time
}

// Outbox records every mail the demo "sends". Nothing leaves the process.
type Outbox struct {
	mu   sync.Mutex
	sent []Email
}

func NewOutbox() *Outbox { return &Outbox{} }

func (o *Outbox) record(e Email) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, e)
}

func (o *Outbox) Sent() []Email {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Email, len(o.sent))
	copy(out, o.sent)
	return out
}

// SendEmailTool is sensitive: sending mail is a hard-to-reverse side effect,
// so every invocation must clear the approval gate first.
type SendEmailTool struct {
	Outbox *Outbox
}

func NewSendEmailTool(outbox *Outbox) *SendEmailTool {
	return &SendEmailTool{Outbox: outbox}
}

func (t *SendEmailTool) Name() string { return "send_email" }

func (t *SendEmailTool) Description() string {
	return "Send an email to the specified address with the given subject and body."
}

func (t *SendEmailTool) ParameterSchema() string {
	return mustJSON(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"to":      map[string]any{"type": "string", "description": "Recipient address."},
			"subject": map[string]any{"type": "string", "description": "Subject line."},
			"body":    map[string]any{"type": "string", "description": "Message body."},
		},
		"required": []string{"to", "subject", "body"},
	})
}

func (t *SendEmailTool) Sensitive() bool { return true }

func (t *SendEmailTool) Execute(_ context.Context, params map[string]any) (string, error) {
	to, _ := params["to"].(string)
	subject, _ := params["subject"].(string)
	body, _ := params["body"].(string)

	to = strings.TrimSpace(to)
	if to == "" {
		return "", fmt.Errorf("missing required param: to")
	}

	if t.Outbox != nil {
		t.Outbox.record(Email{To: to, Subject: subject, Body: body, SentAt: time.Now().UTC()})
	}
	return fmt.Sprintf("Email sent successfully to %s.", to), nil
}
