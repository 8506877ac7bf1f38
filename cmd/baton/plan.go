package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/baton/internal/graph"
)

var planCmd = &cobra.Command{
	Use:   "plan <task-file>",
	Short: "Show the parallel execution plan for a task file",
	Long: `Plan computes the dependency-ordered parallel groups for a task file
without executing anything.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func runPlan(cmd *cobra.Command, args []string) error {
	tasks, err := loadTasks(args[0])
	if err != nil {
		return err
	}

	provider := &graph.LevelProvider{}
	groups, err := provider.ParallelGroups(tasks)
	if err != nil {
		return err
	}

	color.Cyan("%d tasks in %d parallel groups", len(tasks), len(groups))
	for _, groupID := range groups {
		fmt.Printf("\n%s:\n", groupID)
		for _, task := range provider.TasksInGroup(tasks, groupID) {
			line := task.ID
			if task.Title != "" {
				line += " - " + task.Title
			}
			if len(task.DependsOn) > 0 {
				line += fmt.Sprintf(" (after %v)", task.DependsOn)
			}
			fmt.Printf("  %s\n", line)
		}
	}
	return nil
}
