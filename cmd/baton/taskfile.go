package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/baton/pkg/models"
)

// taskFile is the on-disk task list format.
type taskFile struct {
	Tasks []*models.Task `yaml:"tasks"`
}

// loadTasks reads and validates a YAML task file.
func loadTasks(path string) ([]*models.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task file: %w", err)
	}

	var tf taskFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse task file: %w", err)
	}
	if len(tf.Tasks) == 0 {
		return nil, fmt.Errorf("task file %s contains no tasks", path)
	}

	seen := make(map[string]bool, len(tf.Tasks))
	for i, task := range tf.Tasks {
		if task.ID == "" {
			return nil, fmt.Errorf("task %d has no id", i)
		}
		if seen[task.ID] {
			return nil, fmt.Errorf("duplicate task id %q", task.ID)
		}
		seen[task.ID] = true
	}
	for _, task := range tf.Tasks {
		for _, dep := range task.DependsOn {
			if !seen[dep] {
				return nil, fmt.Errorf("task %q depends on unknown task %q", task.ID, dep)
			}
		}
	}
	return tf.Tasks, nil
}
