package agent

import (
	"encoding/json"
	"fmt"

	"github.com/caregate/caregate/llm"
)

// threadStateV1 is the durable snapshot stored per thread. It carries
// everything needed to resume a suspended turn in a fresh process: the full
// message history, the pending batch, and the tool-round counter.
type threadStateV1 struct {
	Version int `json:"v"`

	Messages []llm.Message `json:"messages"`

	// Set only while suspended.
	PendingCalls     []llm.ToolCall `json:"pending_calls,omitempty"`
	PendingSensitive []string       `json:"pending_sensitive,omitempty"`
	Prompt           string         `json:"prompt,omitempty"`

	Rounds int `json:"rounds,omitempty"`
}

func marshalThreadState(st threadStateV1) ([]byte, error) {
	st.Version = 1
	return json.Marshal(st)
}

func unmarshalThreadState(b []byte) (threadStateV1, error) {
	var st threadStateV1
	if err := json.Unmarshal(b, &st); err != nil {
		return threadStateV1{}, err
	}
	if st.Version != 0 && st.Version != 1 {
		return threadStateV1{}, fmt.Errorf("unsupported thread state version: %d", st.Version)
	}
	return st, nil
}
