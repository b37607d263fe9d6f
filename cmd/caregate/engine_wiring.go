package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/caregate/caregate/agent"
	"github.com/caregate/caregate/internal/pathutil"
	"github.com/caregate/caregate/llm"
	"github.com/caregate/caregate/providers/openai"
	"github.com/spf13/viper"
)

const defaultSystemPrompt = "You are a medical assistant for a clinic. You can search patient records, " +
	"send emails, delete patient records, and search medical literature using the " +
	"available tools. Be concise and factual. Never invent patient data."

func clientFromViper() (llm.Client, error) {
	endpoint := llmEndpointFromViper()
	if endpoint == "" {
		return nil, fmt.Errorf("llm.endpoint is not configured")
	}
	return openai.New(endpoint, llmAPIKeyFromViper()), nil
}

func threadStoreFromViper() (*agent.SQLiteThreadStore, error) {
	dsn := pathutil.ExpandHomePath(strings.TrimSpace(viper.GetString("threads.dsn")))
	return agent.NewSQLiteThreadStore(dsn)
}

// engineFromViper wires the full pipeline: model client, guarded tool
// registry, guardrail layers, and the durable thread store.
func engineFromViper(log *slog.Logger, piiFilter bool) (*agent.Engine, *guardComponents, error) {
	client, err := clientFromViper()
	if err != nil {
		return nil, nil, err
	}
	return engineWithClient(client, log, piiFilter)
}

func engineWithClient(client llm.Client, log *slog.Logger, piiFilter bool) (*agent.Engine, *guardComponents, error) {
	gc, err := guardFromViper(client, log)
	if err != nil {
		return nil, nil, err
	}

	redactor := gc.Redactor
	if !piiFilter {
		redactor = nil
	}
	registry, _, _ := buildRegistry(redactor)

	store, err := threadStoreFromViper()
	if err != nil {
		return nil, nil, fmt.Errorf("open thread store: %w", err)
	}

	opts := []agent.Option{
		agent.WithLogger(log),
		agent.WithModel(llmModelFromViper()),
		agent.WithSystemPrompt(firstNonEmpty(viper.GetString("agent.system_prompt"), defaultSystemPrompt)),
		agent.WithSensitiveTools(gc.SensitiveTools),
	}
	if gc.Audit != nil {
		opts = append(opts, agent.WithAudit(gc.Audit))
	}
	if redactor != nil {
		opts = append(opts, agent.WithReplyRedactor(redactor))
	}
	if n := viper.GetInt("agent.max_tool_rounds"); n > 0 {
		opts = append(opts, agent.WithMaxToolRounds(n))
	}

	return agent.New(client, registry, gc.Input, gc.Output, store, opts...), gc, nil
}
