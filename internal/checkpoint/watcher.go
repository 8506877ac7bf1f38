// Package checkpoint implements file-based approval gates between task
// groups. An operator approves a gate by creating a marker file in the
// approval directory, typically via `baton approve`.
package checkpoint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// MarkerName returns the approval marker filename for a session's group.
func MarkerName(sessionID string, group int) string {
	return fmt.Sprintf("%s-group-%d.ok", sessionID, group)
}

// Waiter blocks until an approval marker appears in the approval directory.
type Waiter struct {
	dir string
}

// NewWaiter creates a waiter over the given approval directory, creating the
// directory if needed.
func NewWaiter(dir string) (*Waiter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create approval directory: %w", err)
	}
	return &Waiter{dir: dir}, nil
}

// Dir returns the approval directory.
func (w *Waiter) Dir() string { return w.dir }

// Approve writes the approval marker for a session's group.
func (w *Waiter) Approve(sessionID string, group int) error {
	path := filepath.Join(w.dir, MarkerName(sessionID, group))
	if err := os.WriteFile(path, nil, 0644); err != nil {
		return fmt.Errorf("write approval marker: %w", err)
	}
	return nil
}

// Wait blocks until the marker for the session's group exists, consuming it
// on return. Returns the context error if ctx ends first.
func (w *Waiter) Wait(ctx context.Context, sessionID string, group int) error {
	path := filepath.Join(w.dir, MarkerName(sessionID, group))

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch approval directory: %w", err)
	}

	// The marker may predate the watch.
	if _, err := os.Stat(path); err == nil {
		return os.Remove(path)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("approval watcher closed")
			}
			if event.Name == path && event.Op.Has(fsnotify.Create|fsnotify.Write) {
				return os.Remove(path)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("approval watcher closed")
			}
			return fmt.Errorf("approval watcher: %w", err)
		}
	}
}
