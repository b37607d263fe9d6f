package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/caregate/caregate/guard"
	"github.com/caregate/caregate/internal/strutil"
	"github.com/caregate/caregate/llm"
	"github.com/caregate/caregate/tools"
)

const (
	defaultMaxToolRounds       = 8
	defaultMaxObservationBytes = 128 * 1024

	approvalPrompt = "Sensitive tool call(s) detected. Approve?"

	roundsExceededReply = "I wasn't able to complete that request within the allowed number of tool rounds. Please try a more specific request."
)

// Engine drives one logical turn end-to-end: input guardrail, model loop,
// output guardrail, approval gate, tool execution. Turns on the same thread
// id are strictly sequential; distinct threads are independent.
type Engine struct {
	client   llm.Client
	registry *tools.Registry
	input    *guard.InputGuardrail
	output   *guard.OutputGuardrail
	store    ThreadStore

	log   *slog.Logger
	audit guard.AuditSink

	model          string
	systemPrompt   string
	replyRedactor  *guard.Redactor
	extraSensitive map[string]bool

	maxToolRounds       int
	maxObservationBytes int

	mu     sync.Mutex
	active map[string]bool
}

type Option func(*Engine)

func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

func WithAudit(sink guard.AuditSink) Option {
	return func(e *Engine) { e.audit = sink }
}

func WithModel(model string) Option {
	return func(e *Engine) { e.model = strings.TrimSpace(model) }
}

func WithSystemPrompt(prompt string) Option {
	return func(e *Engine) { e.systemPrompt = strings.TrimSpace(prompt) }
}

// WithReplyRedactor pipes the final assistant reply through the PII redactor
// before it reaches the caller.
func WithReplyRedactor(r *guard.Redactor) Option {
	return func(e *Engine) { e.replyRedactor = r }
}

// WithSensitiveTools marks additional tool names as requiring approval, on
// top of tools that self-report as sensitive.
func WithSensitiveTools(names []string) Option {
	return func(e *Engine) {
		for _, n := range names {
			n = strings.TrimSpace(n)
			if n != "" {
				e.extraSensitive[n] = true
			}
		}
	}
}

// WithMaxToolRounds caps model/tool round-trips per turn. The model is
// assumed to eventually stop requesting tools; this is the safety net for
// when it does not.
func WithMaxToolRounds(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxToolRounds = n
		}
	}
}

func New(client llm.Client, registry *tools.Registry, input *guard.InputGuardrail, output *guard.OutputGuardrail, store ThreadStore, opts ...Option) *Engine {
	e := &Engine{
		client:              client,
		registry:            registry,
		input:               input,
		output:              output,
		store:               store,
		log:                 slog.Default(),
		extraSensitive:      make(map[string]bool),
		maxToolRounds:       defaultMaxToolRounds,
		maxObservationBytes: defaultMaxObservationBytes,
		active:              make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit runs one turn for the given thread. The result is either a final
// reply or a pending approval; in the latter case the thread stays suspended
// until Resume is called.
func (e *Engine) Submit(ctx context.Context, threadID, humanText string) (*TurnResult, error) {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return nil, fmt.Errorf("missing thread id")
	}
	if err := e.acquire(threadID); err != nil {
		return nil, err
	}
	defer e.release(threadID)

	log := e.log.With("thread_id", threadID)

	rec, ok, err := e.store.Load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if ok && rec.Status == StatusSuspended {
		return nil, ErrThreadSuspended
	}

	st := threadStateV1{}
	if ok {
		st, err = unmarshalThreadState(rec.State)
		if err != nil {
			return nil, fmt.Errorf("corrupt thread state: %w", err)
		}
	} else if e.systemPrompt != "" {
		st.Messages = []llm.Message{{Role: "system", Content: e.systemPrompt}}
	}
	st.Rounds = 0
	st.PendingCalls = nil
	st.PendingSensitive = nil
	st.Prompt = ""

	// Checkpoint 1: input guardrail on the raw human text.
	verdict := e.input.Check(humanText)
	e.emit(ctx, guard.AuditEvent{ThreadID: threadID, Stage: guard.StageInput, Allowed: verdict.Allowed, Reason: verdict.Reason})
	if !verdict.Allowed {
		log.Info("input_blocked", "reason", verdict.Reason)
		st.Messages = append(st.Messages,
			llm.Message{Role: "user", Content: humanText},
			llm.Message{Role: "assistant", Content: verdict.Reason},
		)
		if err := e.saveIdle(ctx, threadID, st); err != nil {
			return nil, err
		}
		return &TurnResult{ThreadID: threadID, Reply: verdict.Reason}, nil
	}

	st.Messages = append(st.Messages, llm.Message{Role: "user", Content: humanText})
	return e.runLoop(ctx, threadID, st, log)
}

// Resume resolves a suspended approval. Approve executes exactly the
// persisted batch; reject feeds synthetic rejection results back to the
// model. Either way the turn continues until it finalizes or suspends again.
func (e *Engine) Resume(ctx context.Context, threadID string, decision Decision) (*TurnResult, error) {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return nil, fmt.Errorf("missing thread id")
	}
	switch decision {
	case DecisionApprove, DecisionReject:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}

	if err := e.acquire(threadID); err != nil {
		return nil, err
	}
	defer e.release(threadID)

	log := e.log.With("thread_id", threadID)

	// Claiming consumes the suspension atomically in the store, so even two
	// processes sharing the database cannot both execute the batch. A failed
	// resume does not rearm it.
	rec, ok, err := e.store.ClaimSuspended(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotSuspended, threadID)
	}
	st, err := unmarshalThreadState(rec.State)
	if err != nil {
		return nil, fmt.Errorf("corrupt thread state: %w", err)
	}
	if len(st.PendingCalls) == 0 {
		return nil, fmt.Errorf("suspended thread %s has no pending calls", threadID)
	}

	pending := st.PendingCalls
	sensitive := make(map[string]bool, len(st.PendingSensitive))
	for _, name := range st.PendingSensitive {
		sensitive[name] = true
	}
	st.PendingCalls = nil
	st.PendingSensitive = nil
	st.Prompt = ""

	e.emit(ctx, guard.AuditEvent{ThreadID: threadID, Stage: guard.StageApproval, Allowed: decision == DecisionApprove, Decision: string(decision)})

	switch decision {
	case DecisionApprove:
		log.Info("approval_resolved", "decision", "approve", "calls", len(pending))
		e.executeBatch(ctx, threadID, &st, pending)
	case DecisionReject:
		log.Info("approval_resolved", "decision", "reject", "calls", len(pending))
		// All-or-nothing: nothing in the batch executes, including calls
		// that were not themselves sensitive.
		for _, call := range pending {
			var content string
			if sensitive[call.Name] {
				content = fmt.Sprintf("Tool call '%s' was rejected by the user.", call.Name)
			} else {
				content = fmt.Sprintf("Tool call '%s' was skipped because the batch was rejected.", call.Name)
			}
			st.Messages = append(st.Messages, llm.Message{Role: "tool", ToolCallID: call.ID, Content: content})
		}
	}

	return e.runLoop(ctx, threadID, st, log)
}

// ListPending returns the suspended threads with their pending batches, for
// out-of-band approval tooling.
func (e *Engine) ListPending(ctx context.Context) (map[string]PendingApproval, error) {
	recs, err := e.store.ListSuspended(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]PendingApproval, len(recs))
	for _, rec := range recs {
		st, err := unmarshalThreadState(rec.State)
		if err != nil {
			continue
		}
		out[rec.ThreadID] = PendingApproval{
			Prompt:    st.Prompt,
			Calls:     st.PendingCalls,
			Sensitive: st.PendingSensitive,
		}
	}
	return out, nil
}

// runLoop is the model/tool cycle shared by Submit and Resume. Each iteration
// either finalizes the turn, suspends at the approval gate, or consumes one
// model turn plus one tool round.
func (e *Engine) runLoop(ctx context.Context, threadID string, st threadStateV1, log *slog.Logger) (*TurnResult, error) {
	for {
		res, err := e.client.Chat(ctx, llm.Request{
			Model:    e.model,
			Messages: st.Messages,
			Tools:    e.llmTools(),
		})
		if err != nil {
			return nil, fmt.Errorf("model call failed: %w", err)
		}

		// Finalized text: checkpoint 2, the output guardrail.
		if len(res.ToolCalls) == 0 {
			reply := res.Text
			verdict := e.output.Evaluate(ctx, reply)
			e.emit(ctx, guard.AuditEvent{ThreadID: threadID, Stage: guard.StageOutput, Allowed: verdict.Allowed, Reason: verdict.Reason})
			if !verdict.Allowed {
				// The unsafe text is dropped; only the refusal is
				// persisted or surfaced.
				reply = guard.RefusalMessage
			}
			if e.replyRedactor != nil {
				reply = e.replyRedactor.Redact(reply)
			}
			st.Messages = append(st.Messages, llm.Message{Role: "assistant", Content: reply})
			if err := e.saveIdle(ctx, threadID, st); err != nil {
				return nil, err
			}
			return &TurnResult{ThreadID: threadID, Reply: reply}, nil
		}

		// Tool-call request: checkpoint 3, the approval gate.
		if st.Rounds >= e.maxToolRounds {
			log.Warn("tool_rounds_exceeded", "rounds", st.Rounds)
			st.Messages = append(st.Messages, llm.Message{Role: "assistant", Content: roundsExceededReply})
			if err := e.saveIdle(ctx, threadID, st); err != nil {
				return nil, err
			}
			return &TurnResult{ThreadID: threadID, Reply: roundsExceededReply}, nil
		}
		batch := normalizeCalls(res.ToolCalls, st.Rounds)
		st.Messages = append(st.Messages, llm.Message{Role: "assistant", Content: res.Text, ToolCalls: batch})
		st.Rounds++

		sensitive := e.sensitiveNames(batch)
		if len(sensitive) > 0 {
			// Hold the entire batch, sensitive and ordinary calls alike.
			st.PendingCalls = batch
			st.PendingSensitive = sensitive
			st.Prompt = approvalPrompt

			state, err := marshalThreadState(st)
			if err != nil {
				return nil, err
			}
			if err := e.store.Save(ctx, ThreadRecord{ThreadID: threadID, Status: StatusSuspended, State: state}); err != nil {
				return nil, err
			}
			for _, call := range batch {
				e.emit(ctx, guard.AuditEvent{ThreadID: threadID, Stage: guard.StageApproval, Decision: "requested", ToolName: call.Name, CallID: call.ID})
			}
			log.Info("guard_suspended", "pending_calls", len(batch), "sensitive", sensitive)
			return &TurnResult{ThreadID: threadID, Pending: &PendingApproval{
				Prompt:    st.Prompt,
				Calls:     batch,
				Sensitive: sensitive,
			}}, nil
		}

		e.executeBatch(ctx, threadID, &st, batch)
	}
}

func (e *Engine) executeBatch(ctx context.Context, threadID string, st *threadStateV1, batch []llm.ToolCall) {
	for _, call := range batch {
		started := time.Now()
		result := e.executeCall(ctx, call)
		e.emit(ctx, guard.AuditEvent{ThreadID: threadID, Stage: guard.StageTool, Allowed: true, ToolName: call.Name, CallID: call.ID})
		e.log.Info("tool_executed", "thread_id", threadID, "tool", call.Name, "duration_ms", time.Since(started).Milliseconds())
		st.Messages = append(st.Messages, llm.Message{Role: "tool", ToolCallID: call.ID, Content: result})
	}
}

// executeCall runs one approved call. Failures are reported back to the model
// as tool results, never raised to the caller.
func (e *Engine) executeCall(ctx context.Context, call llm.ToolCall) string {
	tool, ok := e.registry.Get(call.Name)
	if !ok {
		return fmt.Sprintf("Tool execution failed: unknown tool '%s'.", call.Name)
	}
	out, err := tool.Execute(ctx, call.Arguments)
	if err != nil {
		return fmt.Sprintf("Tool execution failed: %v", err)
	}
	return strutil.TruncateUTF8(out, e.maxObservationBytes)
}

func (e *Engine) sensitiveNames(batch []llm.ToolCall) []string {
	var out []string
	seen := make(map[string]bool)
	for _, call := range batch {
		if seen[call.Name] {
			continue
		}
		if e.extraSensitive[call.Name] {
			seen[call.Name] = true
			out = append(out, call.Name)
			continue
		}
		if t, ok := e.registry.Get(call.Name); ok && t.Sensitive() {
			seen[call.Name] = true
			out = append(out, call.Name)
		}
	}
	return out
}

func (e *Engine) llmTools() []llm.Tool {
	all := e.registry.All()
	out := make([]llm.Tool, 0, len(all))
	for _, t := range all {
		out = append(out, llm.Tool{
			Name:           t.Name(),
			Description:    t.Description(),
			ParametersJSON: t.ParameterSchema(),
		})
	}
	return out
}

func (e *Engine) saveIdle(ctx context.Context, threadID string, st threadStateV1) error {
	st.PendingCalls = nil
	st.PendingSensitive = nil
	st.Prompt = ""
	st.Rounds = 0
	state, err := marshalThreadState(st)
	if err != nil {
		return err
	}
	return e.store.Save(ctx, ThreadRecord{ThreadID: threadID, Status: StatusIdle, State: state})
}

func (e *Engine) emit(ctx context.Context, ev guard.AuditEvent) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Emit(ctx, ev); err != nil {
		e.log.Warn("audit_emit_failed", "error", err.Error())
	}
}

func (e *Engine) acquire(threadID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active[threadID] {
		return fmt.Errorf("%w: %s", ErrThreadBusy, threadID)
	}
	e.active[threadID] = true
	return nil
}

func (e *Engine) release(threadID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, threadID)
}

// normalizeCalls assigns ids to tool calls the model left unidentified, so
// every tool result can reference exactly one prior request.
func normalizeCalls(calls []llm.ToolCall, round int) []llm.ToolCall {
	out := make([]llm.ToolCall, 0, len(calls))
	for i, call := range calls {
		call.Name = strings.TrimSpace(call.Name)
		if call.Name == "" {
			continue
		}
		if strings.TrimSpace(call.ID) == "" {
			call.ID = fmt.Sprintf("call_%d_%d", round, i)
		}
		out = append(out, call)
	}
	return out
}
