package main

import (
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/baton/internal/checkpoint"
)

var approveCmd = &cobra.Command{
	Use:   "approve <session-id> <group>",
	Short: "Approve a checkpoint so a paused run continues",
	Long: `Approve writes the approval marker a running session's checkpoint
gate is waiting on. Run it from the same directory as the paused run so both
see the same approval directory.`,
	Args: cobra.ExactArgs(2),
	RunE: runApprove,
}

func runApprove(cmd *cobra.Command, args []string) error {
	group, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("group must be a number: %w", err)
	}

	waiter, err := checkpoint.NewWaiter(cfg.Orchestrator.ApprovalDir)
	if err != nil {
		return err
	}
	if err := waiter.Approve(args[0], group); err != nil {
		return err
	}

	color.Green("approved checkpoint for session %s group %d", args[0], group)
	return nil
}
