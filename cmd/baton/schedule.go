package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/baton/internal/logging"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule <cron-expr> <task-file>",
	Short: "Run a task file on a cron schedule",
	Long: `Schedule keeps the process alive and executes the task file on the
given cron expression, for example "0 2 * * *" for 2am daily. Overlapping
runs are skipped.`,
	Args: cobra.ExactArgs(2),
	RunE: runSchedule,
}

func runSchedule(cmd *cobra.Command, args []string) error {
	expr, taskPath := args[0], args[1]

	// Validate the task file up front rather than at first trigger.
	if _, err := loadTasks(taskPath); err != nil {
		return err
	}

	log := logging.Component("schedule")
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(expr, func() {
		log.Info().Str("task_file", taskPath).Msg("scheduled run starting")
		if err := runRun(cmd, []string{taskPath}); err != nil {
			log.Error().Err(err).Msg("scheduled run failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}

	c.Start()
	defer c.Stop()
	color.Cyan("scheduled %s on %q, waiting (Ctrl-C to exit)", taskPath, expr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	return nil
}
