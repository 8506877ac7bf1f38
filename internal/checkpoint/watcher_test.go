package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMarkerName(t *testing.T) {
	if got := MarkerName("sess-1", 2); got != "sess-1-group-2.ok" {
		t.Errorf("expected sess-1-group-2.ok, got %s", got)
	}
}

func TestWaitExistingMarker(t *testing.T) {
	w, err := NewWaiter(t.TempDir())
	if err != nil {
		t.Fatalf("create waiter: %v", err)
	}

	if err := w.Approve("sess-1", 1); err != nil {
		t.Fatalf("approve: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.Wait(ctx, "sess-1", 1); err != nil {
		t.Fatalf("wait: %v", err)
	}

	// The marker is consumed so a later gate for the same group blocks again.
	if _, err := os.Stat(filepath.Join(w.Dir(), MarkerName("sess-1", 1))); !os.IsNotExist(err) {
		t.Error("expected marker to be removed after wait")
	}
}

func TestWaitForMarkerCreated(t *testing.T) {
	w, err := NewWaiter(t.TempDir())
	if err != nil {
		t.Fatalf("create waiter: %v", err)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		if err := w.Approve("sess-1", 3); err != nil {
			t.Errorf("approve: %v", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Wait(ctx, "sess-1", 3); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestWaitContextCancelled(t *testing.T) {
	w, err := NewWaiter(t.TempDir())
	if err != nil {
		t.Fatalf("create waiter: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := w.Wait(ctx, "sess-1", 1); err != context.DeadlineExceeded {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestWaitIgnoresOtherMarkers(t *testing.T) {
	w, err := NewWaiter(t.TempDir())
	if err != nil {
		t.Fatalf("create waiter: %v", err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = w.Approve("other-session", 1)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if err := w.Wait(ctx, "sess-1", 1); err != context.DeadlineExceeded {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
