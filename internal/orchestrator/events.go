package orchestrator

import (
	"sync"
	"time"

	"github.com/ShayCichocki/baton/internal/agent"
)

// EventType identifies a notification emitted by the orchestrator.
type EventType string

const (
	// EventState signals a session state transition.
	EventState EventType = "state"
	// EventGroupStart signals a group beginning execution.
	EventGroupStart EventType = "group_start"
	// EventGroupComplete signals a group finishing execution.
	EventGroupComplete EventType = "group_complete"
	// EventAgentState signals an agent lifecycle phase change.
	EventAgentState EventType = "agent_state"
	// EventAgentOutput carries streamed agent output.
	EventAgentOutput EventType = "agent_output"
	// EventTaskComplete signals a task finishing successfully.
	EventTaskComplete EventType = "task_complete"
	// EventTaskRetry signals a failed task being scheduled for retry.
	EventTaskRetry EventType = "task_retry"
	// EventTaskFailed signals a task exhausting its retry budget.
	EventTaskFailed EventType = "task_failed"
	// EventCheckpoint signals a pause awaiting approval between groups.
	EventCheckpoint EventType = "checkpoint"
	// EventComplete signals the session finishing with a summary.
	EventComplete EventType = "complete"
	// EventError signals a session-level failure.
	EventError EventType = "error"
)

// Event is a single orchestrator notification. Fields beyond Type are
// populated according to the event type.
type Event struct {
	Type      EventType
	SessionID string
	State     SessionState
	GroupID   string
	TaskID    string
	AgentID   string
	Output    string
	Error     string
	Retries   int
	Delay     time.Duration
	Metrics   *agent.Metrics
	Completed int
	Failed    int
	Elapsed   time.Duration
	Timestamp time.Time
}

const subscriberBuffer = 256

// Emitter fans events out to any number of subscribers. Delivery order per
// subscriber matches emission order; a slow subscriber drops events rather
// than blocking the orchestrator.
type Emitter struct {
	mu      sync.Mutex
	subs    map[int]chan Event
	nextID  int
	dropped int64
	closed  bool
}

// NewEmitter creates an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber. The returned cancel function removes
// the subscription and closes its channel; it is safe to call more than once.
func (e *Emitter) Subscribe() (<-chan Event, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if e.closed {
		close(ch)
		return ch, func() {}
	}

	id := e.nextID
	e.nextID++
	e.subs[id] = ch

	cancel := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if sub, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Emit delivers an event to every subscriber without blocking.
func (e *Emitter) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	for _, ch := range e.subs {
		select {
		case ch <- event:
		default:
			e.dropped++
		}
	}
}

// Dropped returns how many events were discarded due to full subscriber
// buffers.
func (e *Emitter) Dropped() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// Close detaches and closes all subscribers. Subsequent emits are discarded.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
	}
}
