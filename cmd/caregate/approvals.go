package main

import (
	"fmt"
	"sort"

	"github.com/caregate/caregate/agent"
	"github.com/caregate/caregate/internal/clifmt"
	"github.com/spf13/cobra"
)

func init() {
	approvalsCmd.AddCommand(approvalsListCmd)
	approvalsCmd.AddCommand(approvalsApproveCmd)
	approvalsCmd.AddCommand(approvalsRejectCmd)
	rootCmd.AddCommand(approvalsCmd)
}

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Inspect and resolve suspended tool-call batches",
	Long: "Threads suspend when the assistant requests a sensitive tool call. The\n" +
		"suspension is durable: it can be listed and resolved here, from any process.",
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List threads waiting for approval",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		eng, gc, err := engineFromViper(log, true)
		if err != nil {
			return err
		}
		if gc.Audit != nil {
			defer gc.Audit.Close()
		}

		pending, err := eng.ListPending(cmd.Context())
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			fmt.Println("No threads are waiting for approval.")
			return nil
		}

		ids := make([]string, 0, len(pending))
		for id := range pending {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		for _, id := range ids {
			p := pending[id]
			fmt.Println(clifmt.Headerf("thread %s", id))
			fmt.Printf("  %s\n", p.Prompt)
			for _, call := range p.Calls {
				fmt.Printf("  - %s(%s)\n", call.Name, formatArgs(call.Arguments))
			}
		}
		return nil
	},
}

var approvalsApproveCmd = &cobra.Command{
	Use:   "approve <thread-id>",
	Short: "Approve a thread's pending tool-call batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolveFromCLI(cmd, args[0], agent.DecisionApprove)
	},
}

var approvalsRejectCmd = &cobra.Command{
	Use:   "reject <thread-id>",
	Short: "Reject a thread's pending tool-call batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolveFromCLI(cmd, args[0], agent.DecisionReject)
	},
}

func resolveFromCLI(cmd *cobra.Command, threadID string, decision agent.Decision) error {
	log := newLogger()
	eng, gc, err := engineFromViper(log, true)
	if err != nil {
		return err
	}
	if gc.Audit != nil {
		defer gc.Audit.Close()
	}

	res, err := eng.Resume(cmd.Context(), threadID, decision)
	if err != nil {
		return err
	}
	if decision == agent.DecisionApprove {
		fmt.Println(clifmt.Success(fmt.Sprintf("approved thread %s", threadID)))
	} else {
		fmt.Println(clifmt.Warn(fmt.Sprintf("rejected thread %s", threadID)))
	}
	fmt.Printf("\nAssistant: %s\n", res.Reply)
	return nil
}
