package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caregate/caregate/agent"
	"github.com/caregate/caregate/internal/clifmt"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	chatNoPIIFilter bool
	chatThreadID    string
)

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().BoolVar(&chatNoPIIFilter, "no-pii-filter", false, "disable PII redaction of tool outputs and replies")
	chatCmd.Flags().StringVar(&chatThreadID, "thread", "", "conversation thread id (default: a new random id)")
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat with the guarded medical assistant",
	RunE:  runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	log := newLogger()
	piiFilter := !chatNoPIIFilter

	eng, gc, err := engineFromViper(log, piiFilter)
	if err != nil {
		return err
	}
	if gc.Audit != nil {
		defer gc.Audit.Close()
	}

	threadID := strings.TrimSpace(chatThreadID)
	if threadID == "" {
		threadID = uuid.NewString()
	}

	label := "ON"
	if !piiFilter {
		label = "OFF"
	}
	fmt.Printf("Medical Assistant Agent (PII filter: %s) - type 'quit' to exit\n", label)
	fmt.Println("Sensitive tools (send_email, delete_record) require human approval.")
	fmt.Println(strings.Repeat("-", 60))

	ctx := cmd.Context()
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\nYou: ")
		if !scanner.Scan() {
			fmt.Println("\nGoodbye!")
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" || strings.EqualFold(input, "quit") || strings.EqualFold(input, "exit") {
			fmt.Println("Goodbye!")
			return nil
		}

		res, err := eng.Submit(ctx, threadID, input)
		if err != nil {
			fmt.Println(clifmt.Fail("error: " + err.Error()))
			continue
		}

		res, err = resolveApprovals(ctx, eng, threadID, res, scanner)
		if err != nil {
			if errors.Is(err, errREPLDone) {
				return nil
			}
			fmt.Println(clifmt.Fail("error: " + err.Error()))
			continue
		}

		fmt.Printf("\nAssistant: %s\n", res.Reply)
	}
}

var errREPLDone = errors.New("repl done")

// resolveApprovals walks the suspend/approve cycle until the turn finalizes.
func resolveApprovals(ctx context.Context, eng *agent.Engine, threadID string, res *agent.TurnResult, scanner *bufio.Scanner) (*agent.TurnResult, error) {
	for res.Suspended() {
		fmt.Println("\n*** APPROVAL REQUIRED ***")
		fmt.Printf("  %s\n", res.Pending.Prompt)
		for _, call := range res.Pending.Calls {
			fmt.Printf("  - %s(%s)\n", call.Name, formatArgs(call.Arguments))
		}

		fmt.Print("  Approve? (y/n): ")
		if !scanner.Scan() {
			fmt.Println("\nGoodbye!")
			return nil, errREPLDone
		}
		decision := agent.DecisionReject
		if strings.EqualFold(strings.TrimSpace(scanner.Text()), "y") {
			decision = agent.DecisionApprove
		}

		next, err := eng.Resume(ctx, threadID, decision)
		if err != nil {
			return nil, err
		}
		res = next
	}
	return res, nil
}

func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return string(b)
}
