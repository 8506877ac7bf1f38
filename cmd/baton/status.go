package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/baton/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status [session-id]",
	Short: "Show persisted session state",
	Long: `Status lists recorded sessions, or with a session ID shows that
session's task results.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	if cfg.State.Path == "" {
		fmt.Println("State persistence is disabled (state.path is empty).")
		return nil
	}
	if _, err := os.Stat(cfg.State.Path); os.IsNotExist(err) {
		fmt.Println("No sessions recorded. Run 'baton run <task-file>' to start one.")
		return nil
	}

	db, err := state.Open(cfg.State.Path)
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()

	if len(args) == 1 {
		return showSession(db, args[0])
	}
	return listSessions(db)
}

func listSessions(db *state.DB) error {
	sessions, err := db.ListSessions()
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions recorded.")
		return nil
	}

	for _, s := range sessions {
		fmt.Printf("%-10s %-16s group %d/%d  updated %s\n",
			s.ID, colorState(s.State), s.CurrentGroup, s.TotalGroups,
			s.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func showSession(db *state.DB, sessionID string) error {
	session, err := db.GetSession(sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return fmt.Errorf("session %s not found", sessionID)
	}

	fmt.Printf("session %s  state %s  group %d/%d\n\n",
		session.ID, colorState(session.State), session.CurrentGroup, session.TotalGroups)

	results, err := db.ListTaskResults(sessionID)
	if err != nil {
		return err
	}
	for _, r := range results {
		status := color.GreenString("done")
		if !r.Success {
			status = color.RedString("failed")
		}
		line := fmt.Sprintf("  %-20s %-8s %s", r.TaskID, status, r.Duration.Round(timeUnit(r)))
		if r.Retries > 0 {
			line += fmt.Sprintf("  (%d retries)", r.Retries)
		}
		if r.Error != "" {
			line += "  " + r.Error
		}
		fmt.Println(line)
	}
	return nil
}

func colorState(s string) string {
	switch s {
	case "completed":
		return color.GreenString(s)
	case "failed":
		return color.RedString(s)
	case "paused", "checkpoint_merge":
		return color.YellowString(s)
	default:
		return s
	}
}

func timeUnit(r *state.TaskResultRecord) time.Duration {
	if r.Duration >= time.Second {
		return time.Second
	}
	return time.Millisecond
}
