package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/baton/internal/agent"
	"github.com/ShayCichocki/baton/pkg/models"
)

// fakeEnv is a scriptable agent environment for scheduler tests.
type fakeEnv struct {
	f        *fakeFactory
	cfg      agent.Config
	notifyCh chan agent.Notification
	stopCh   chan struct{}
	stopOnce sync.Once
	stopped  bool
	cleaned  bool
	mu       sync.Mutex
}

func (e *fakeEnv) AgentID() string { return e.cfg.AgentID }
func (e *fakeEnv) TaskID() string  { return e.cfg.Task.ID }

func (e *fakeEnv) Initialize(ctx context.Context) error { return nil }

func (e *fakeEnv) Execute(ctx context.Context) error {
	e.f.noteStart(e.cfg.Task.ID)
	defer e.f.noteDone()

	if hold := e.f.holdCh(); hold != nil {
		select {
		case <-hold:
		case <-e.stopCh:
		case <-ctx.Done():
		}
	}

	e.mu.Lock()
	stopped := e.stopped
	e.mu.Unlock()

	var errMsg string
	if stopped {
		errMsg = "agent stopped"
	} else if err := e.f.outcome(e.cfg.Task.ID); err != nil {
		errMsg = err.Error()
	}

	e.notifyCh <- agent.Notification{
		Type:    agent.NotificationComplete,
		AgentID: e.cfg.AgentID,
		TaskID:  e.cfg.Task.ID,
		Completion: &agent.Completion{
			AgentID: e.cfg.AgentID,
			TaskID:  e.cfg.Task.ID,
			Success: errMsg == "",
			Error:   errMsg,
			Metrics: &agent.Metrics{Duration: time.Millisecond},
		},
	}
	if errMsg != "" {
		return fmt.Errorf("%s", errMsg)
	}
	return nil
}

func (e *fakeEnv) Stop(ctx context.Context) error {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	e.stopOnce.Do(func() { close(e.stopCh) })
	return nil
}

func (e *fakeEnv) Cleanup(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.cleaned {
		e.cleaned = true
		close(e.notifyCh)
	}
	return nil
}

func (e *fakeEnv) Notifications() <-chan agent.Notification { return e.notifyCh }

// fakeFactory creates fakeEnvs and records dispatch activity.
type fakeFactory struct {
	mu       sync.Mutex
	fails    map[string]int // remaining failures per task
	hold     chan struct{}  // when set, Execute blocks until closed
	envs     []*fakeEnv
	attempts []string // task IDs in dispatch order
	live     int
	maxLive  int
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{fails: make(map[string]int)}
}

func (f *fakeFactory) New(cfg agent.Config) (agent.Environment, error) {
	env := &fakeEnv{
		f:        f,
		cfg:      cfg,
		notifyCh: make(chan agent.Notification, 10),
		stopCh:   make(chan struct{}),
	}
	f.mu.Lock()
	f.envs = append(f.envs, env)
	f.mu.Unlock()
	return env, nil
}

func (f *fakeFactory) holdCh() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hold
}

func (f *fakeFactory) noteStart(taskID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, taskID)
	f.live++
	if f.live > f.maxLive {
		f.maxLive = f.live
	}
}

func (f *fakeFactory) noteDone() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live--
}

func (f *fakeFactory) outcome(taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails[taskID] > 0 {
		f.fails[taskID]--
		return fmt.Errorf("task %s failed", taskID)
	}
	return nil
}

func (f *fakeFactory) attemptCount(taskID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, id := range f.attempts {
		if id == taskID {
			n++
		}
	}
	return n
}

func (f *fakeFactory) liveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// collectEvents subscribes and returns a function that stops collection and
// returns everything seen so far.
func collectEvents(o *Orchestrator) func() []Event {
	ch, cancel := o.Subscribe()
	var mu sync.Mutex
	var events []Event
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range ch {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
		}
	}()
	return func() []Event {
		cancel()
		<-done
		mu.Lock()
		defer mu.Unlock()
		return events
	}
}

func eventsOfType(events []Event, et EventType) []Event {
	var out []Event
	for _, e := range events {
		if e.Type == et {
			out = append(out, e)
		}
	}
	return out
}

// sixTasks builds two dependency layers of three tasks each.
func sixTasks() []*models.Task {
	tasks := []*models.Task{
		{ID: "a1"}, {ID: "a2"}, {ID: "a3"},
		{ID: "b1", DependsOn: []string{"a1"}},
		{ID: "b2", DependsOn: []string{"a2"}},
		{ID: "b3", DependsOn: []string{"a3"}},
	}
	return tasks
}

func TestStartFromNonIdleFails(t *testing.T) {
	o, err := New(RequiredConfig{SessionID: "s", Factory: newFakeFactory()})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := o.Start(context.Background()); err == nil {
		t.Error("expected second start to fail")
	}
}

func TestNewFailsOnCycle(t *testing.T) {
	tasks := []*models.Task{
		{ID: "a", DependsOn: []string{"b"}},
		{ID: "b", DependsOn: []string{"a"}},
	}
	if _, err := New(RequiredConfig{SessionID: "s", Tasks: tasks, Factory: newFakeFactory()}); err == nil {
		t.Error("expected construction to fail on a dependency cycle")
	}
}

func TestTwoGroupScenario(t *testing.T) {
	factory := newFakeFactory()
	o, err := New(RequiredConfig{SessionID: "s", Tasks: sixTasks(), Factory: factory},
		WithMaxAgents(2), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	getEvents := collectEvents(o)

	if got := o.Status().TotalGroups; got != 2 {
		t.Fatalf("expected 2 groups, got %d", got)
	}

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	st := o.Status()
	if st.State != StateCompleted {
		t.Errorf("expected completed state, got %s", st.State)
	}
	if st.Progress != 100 {
		t.Errorf("expected progress 100, got %d", st.Progress)
	}
	if st.Completed != 6 {
		t.Errorf("expected 6 completed tasks, got %d", st.Completed)
	}
	if factory.maxLive > 2 {
		t.Errorf("expected at most 2 concurrent agents, observed %d", factory.maxLive)
	}

	// Every first-layer task must start before any second-layer task.
	factory.mu.Lock()
	attempts := append([]string(nil), factory.attempts...)
	factory.mu.Unlock()
	lastA, firstB := -1, len(attempts)
	for i, id := range attempts {
		if strings.HasPrefix(id, "a") && i > lastA {
			lastA = i
		}
		if strings.HasPrefix(id, "b") && i < firstB {
			firstB = i
		}
	}
	if lastA > firstB {
		t.Errorf("second group dispatched before first finished: %v", attempts)
	}

	events := getEvents()
	if got := len(eventsOfType(events, EventGroupStart)); got != 2 {
		t.Errorf("expected 2 group_start events, got %d", got)
	}
	if got := len(eventsOfType(events, EventGroupComplete)); got != 2 {
		t.Errorf("expected 2 group_complete events, got %d", got)
	}
	if got := len(eventsOfType(events, EventTaskComplete)); got != 6 {
		t.Errorf("expected 6 task_complete events, got %d", got)
	}
	if got := len(eventsOfType(events, EventComplete)); got != 1 {
		t.Errorf("expected 1 complete event, got %d", got)
	}
}

func TestRetryExhaustion(t *testing.T) {
	factory := newFakeFactory()
	factory.fails["t1"] = 10 // never succeeds

	o, err := New(RequiredConfig{SessionID: "s", Tasks: []*models.Task{{ID: "t1"}}, Factory: factory},
		WithMaxRetries(2), WithRetryDelay(10*time.Millisecond))
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	getEvents := collectEvents(o)

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	events := getEvents()
	retries := eventsOfType(events, EventTaskRetry)
	if len(retries) != 2 {
		t.Fatalf("expected 2 retry events, got %d", len(retries))
	}
	if retries[0].Delay != 10*time.Millisecond {
		t.Errorf("expected first delay 10ms, got %s", retries[0].Delay)
	}
	if retries[1].Delay != 20*time.Millisecond {
		t.Errorf("expected second delay 20ms, got %s", retries[1].Delay)
	}

	failed := eventsOfType(events, EventTaskFailed)
	if len(failed) != 1 {
		t.Fatalf("expected exactly 1 task_failed event, got %d", len(failed))
	}
	if failed[0].Retries != 2 {
		t.Errorf("expected task_failed with 2 retries, got %d", failed[0].Retries)
	}

	if !o.IsTaskFailed("t1") {
		t.Error("expected task to be permanently failed")
	}
	if o.GetTaskError("t1") == "" {
		t.Error("expected a recorded task error")
	}
	if got := factory.attemptCount("t1"); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
	if st := o.Status(); st.State != StateCompleted {
		t.Errorf("expected session to complete despite the dead task, got %s", st.State)
	}
}

func TestRetryThenSuccess(t *testing.T) {
	factory := newFakeFactory()
	factory.fails["t1"] = 1

	o, err := New(RequiredConfig{SessionID: "s", Tasks: []*models.Task{{ID: "t1"}}, Factory: factory},
		WithMaxRetries(2), WithRetryDelay(time.Millisecond))
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	getEvents := collectEvents(o)

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	if !o.IsTaskCompleted("t1") {
		t.Error("expected task to complete after retry")
	}
	if o.IsTaskFailed("t1") {
		t.Error("task should not be permanently failed")
	}
	if got := eventsOfType(getEvents(), EventTaskFailed); len(got) != 0 {
		t.Errorf("expected no task_failed events, got %d", len(got))
	}
}

func TestRetryHoldsGroupOpen(t *testing.T) {
	factory := newFakeFactory()
	factory.fails["a1"] = 1

	tasks := []*models.Task{
		{ID: "a1"},
		{ID: "b1", DependsOn: []string{"a1"}},
	}
	// The delay is long enough for the pool to drain before the re-queue
	// fires, so the group must stay open on the retry alone.
	o, err := New(RequiredConfig{SessionID: "s", Tasks: tasks, Factory: factory},
		WithMaxRetries(2), WithRetryDelay(50*time.Millisecond))
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	getEvents := collectEvents(o)

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	factory.mu.Lock()
	attempts := append([]string(nil), factory.attempts...)
	factory.mu.Unlock()
	want := []string{"a1", "a1", "b1"}
	if len(attempts) != len(want) {
		t.Fatalf("expected attempts %v, got %v", want, attempts)
	}
	for i, id := range want {
		if attempts[i] != id {
			t.Fatalf("expected attempts %v, got %v", want, attempts)
		}
	}

	if !o.IsTaskCompleted("a1") || !o.IsTaskCompleted("b1") {
		t.Error("expected both tasks to complete")
	}
	events := getEvents()
	if got := len(eventsOfType(events, EventGroupComplete)); got != 2 {
		t.Errorf("expected 2 group_complete events, got %d", got)
	}
	if st := o.Status(); st.State != StateCompleted {
		t.Errorf("expected completed state, got %s", st.State)
	}
}

func TestTaskCompleteCarriesMetrics(t *testing.T) {
	factory := newFakeFactory()
	o, err := New(RequiredConfig{SessionID: "s", Tasks: []*models.Task{{ID: "t1"}}, Factory: factory})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	getEvents := collectEvents(o)

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	completes := eventsOfType(getEvents(), EventTaskComplete)
	if len(completes) != 1 {
		t.Fatalf("expected 1 task_complete event, got %d", len(completes))
	}
	if completes[0].Metrics == nil {
		t.Fatal("expected task_complete to carry metrics")
	}
	if completes[0].Metrics.Duration != time.Millisecond {
		t.Errorf("expected reported duration 1ms, got %s", completes[0].Metrics.Duration)
	}
}

func TestCleanupWaitsForRunningAgents(t *testing.T) {
	factory := newFakeFactory()
	factory.hold = make(chan struct{})

	tasks := []*models.Task{{ID: "t1"}, {ID: "t2"}}
	o, err := New(RequiredConfig{SessionID: "s", Tasks: tasks, Factory: factory})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- o.Start(context.Background()) }()
	waitFor(t, func() bool { return factory.liveCount() == 2 }, "both agents executing")

	o.Cleanup(context.Background())

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("start returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the run to stop")
	}

	factory.mu.Lock()
	envs := append([]*fakeEnv(nil), factory.envs...)
	factory.mu.Unlock()
	for _, env := range envs {
		env.mu.Lock()
		cleaned := env.cleaned
		env.mu.Unlock()
		if !cleaned {
			t.Errorf("expected agent %s to be cleaned up", env.cfg.AgentID)
		}
	}
	if got := o.Status().LiveAgents; got != 0 {
		t.Errorf("expected no live agents after cleanup, got %d", got)
	}
}

func TestMaxRetriesZero(t *testing.T) {
	factory := newFakeFactory()
	factory.fails["t1"] = 1

	o, err := New(RequiredConfig{SessionID: "s", Tasks: []*models.Task{{ID: "t1"}}, Factory: factory},
		WithMaxRetries(0))
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	getEvents := collectEvents(o)

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	events := getEvents()
	if got := len(eventsOfType(events, EventTaskRetry)); got != 0 {
		t.Errorf("expected no retries, got %d", got)
	}
	failed := eventsOfType(events, EventTaskFailed)
	if len(failed) != 1 || failed[0].Retries != 0 {
		t.Fatalf("expected 1 task_failed with 0 retries, got %+v", failed)
	}
}

func TestBackoffDelays(t *testing.T) {
	base := 5 * time.Second
	expected := []time.Duration{
		5 * time.Second, 10 * time.Second, 20 * time.Second,
		40 * time.Second, 60 * time.Second, 60 * time.Second,
	}
	for i, want := range expected {
		if got := backoffDelay(base, i+1); got != want {
			t.Errorf("retry %d: expected %s, got %s", i+1, want, got)
		}
	}
}

func TestPauseAndResume(t *testing.T) {
	factory := newFakeFactory()
	factory.hold = make(chan struct{})

	o, err := New(RequiredConfig{SessionID: "s", Tasks: sixTasks(), Factory: factory},
		WithMaxAgents(2), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	startDone := make(chan error, 1)
	go func() { startDone <- o.Start(context.Background()) }()

	waitFor(t, func() bool { return factory.liveCount() == 2 }, "2 live agents")
	o.Pause()
	close(factory.hold)
	factory.mu.Lock()
	factory.hold = nil
	factory.mu.Unlock()

	if err := <-startDone; err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool { return factory.liveCount() == 0 }, "agents to drain")

	if st := o.Status(); st.State != StatePaused {
		t.Fatalf("expected paused state, got %s", st.State)
	}
	for _, id := range []string{"b1", "b2", "b3"} {
		if got := factory.attemptCount(id); got != 0 {
			t.Errorf("task %s dispatched while paused", id)
		}
	}

	completedBefore := len(o.CompletedTaskIDs())
	if err := o.Resume(context.Background()); err != nil {
		t.Fatalf("resume: %v", err)
	}

	if st := o.Status(); st.State != StateCompleted {
		t.Errorf("expected completed after resume, got %s", st.State)
	}
	if got := len(o.CompletedTaskIDs()); got != 6 {
		t.Errorf("expected 6 completed tasks, got %d", got)
	}
	if completedBefore > 0 {
		// Tasks finished before the pause must not be re-dispatched.
		for _, id := range o.CompletedTaskIDs() {
			if got := factory.attemptCount(id); got > 1 {
				t.Errorf("task %s dispatched %d times", id, got)
			}
		}
	}
}

func TestResumeFromNonPausedFails(t *testing.T) {
	o, err := New(RequiredConfig{SessionID: "s", Factory: newFakeFactory()})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	if err := o.Resume(context.Background()); err == nil {
		t.Error("expected resume from idle to fail")
	}
}

func TestStopMidExecution(t *testing.T) {
	factory := newFakeFactory()
	factory.hold = make(chan struct{})

	o, err := New(RequiredConfig{SessionID: "s", Tasks: sixTasks(), Factory: factory},
		WithMaxAgents(2), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	startDone := make(chan error, 1)
	go func() { startDone <- o.Start(context.Background()) }()

	waitFor(t, func() bool { return factory.liveCount() == 2 }, "2 live agents")
	o.Stop(context.Background())

	if err := <-startDone; err != nil {
		t.Fatalf("start: %v", err)
	}

	if st := o.Status(); st.State != StateFailed {
		t.Errorf("expected failed state after stop, got %s", st.State)
	}

	factory.mu.Lock()
	envs := append([]*fakeEnv(nil), factory.envs...)
	factory.mu.Unlock()
	for _, env := range envs {
		env.mu.Lock()
		stopped := env.stopped
		env.mu.Unlock()
		if !stopped {
			t.Errorf("agent %s was not stopped", env.AgentID())
		}
	}

	o.Cleanup(context.Background())
	waitFor(t, func() bool { return factory.liveCount() == 0 }, "agents to drain")
	for _, env := range envs {
		env.mu.Lock()
		cleaned := env.cleaned
		env.mu.Unlock()
		if !cleaned {
			t.Errorf("agent %s was not cleaned up", env.AgentID())
		}
	}
}

func TestCheckpointGate(t *testing.T) {
	factory := newFakeFactory()
	o, err := New(RequiredConfig{SessionID: "s", Tasks: sixTasks(), Factory: factory},
		WithMaxAgents(3), WithCheckpoints(true))
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	getEvents := collectEvents(o)

	startDone := make(chan error, 1)
	go func() { startDone <- o.Start(context.Background()) }()

	waitFor(t, func() bool { return o.Status().State == StateCheckpointMerge }, "checkpoint state")
	for _, id := range []string{"b1", "b2", "b3"} {
		if got := factory.attemptCount(id); got != 0 {
			t.Errorf("task %s dispatched before checkpoint approval", id)
		}
	}

	o.ApproveCheckpoint()
	if err := <-startDone; err != nil {
		t.Fatalf("start: %v", err)
	}

	if st := o.Status(); st.State != StateCompleted {
		t.Errorf("expected completed state, got %s", st.State)
	}
	if got := len(eventsOfType(getEvents(), EventCheckpoint)); got != 1 {
		t.Errorf("expected 1 checkpoint event, got %d", got)
	}
}

func TestGroupCapAbortsRun(t *testing.T) {
	tasks := make([]*models.Task, maxGroupTasks+1)
	for i := range tasks {
		tasks[i] = &models.Task{ID: fmt.Sprintf("t%03d", i)}
	}

	o, err := New(RequiredConfig{SessionID: "s", Tasks: tasks, Factory: newFakeFactory()})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	getEvents := collectEvents(o)

	if err := o.Start(context.Background()); err == nil {
		t.Fatal("expected start to fail on oversized group")
	}
	if st := o.Status(); st.State != StateFailed {
		t.Errorf("expected failed state, got %s", st.State)
	}
	if got := len(eventsOfType(getEvents(), EventError)); got != 1 {
		t.Errorf("expected 1 error event, got %d", got)
	}
}

func TestUnknownTaskFailure(t *testing.T) {
	o, err := New(RequiredConfig{SessionID: "s", Tasks: []*models.Task{{ID: "t1"}}, Factory: newFakeFactory()})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	getEvents := collectEvents(o)

	o.handleFailure("ghost", "agent-1", "boom")

	failed := eventsOfType(getEvents(), EventTaskFailed)
	if len(failed) != 1 {
		t.Fatalf("expected 1 task_failed event, got %d", len(failed))
	}
	if failed[0].Retries != 0 {
		t.Errorf("expected 0 retries for unknown task, got %d", failed[0].Retries)
	}
}

func TestCompletedSetMonotonic(t *testing.T) {
	factory := newFakeFactory()
	o, err := New(RequiredConfig{SessionID: "s", Tasks: sixTasks(), Factory: factory},
		WithMaxAgents(3))
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	ch, cancel := o.Subscribe()
	seen := make(map[string]bool)
	var violations []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range ch {
			if e.Type != EventTaskComplete {
				continue
			}
			for id := range seen {
				if !o.IsTaskCompleted(id) {
					violations = append(violations, id)
				}
			}
			seen[e.TaskID] = true
		}
	}()

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	cancel()
	<-done

	if len(violations) > 0 {
		t.Errorf("tasks left the completed set: %v", violations)
	}
	if got := len(o.CompletedTaskIDs()); got != 6 {
		t.Errorf("expected 6 completed tasks, got %d", got)
	}
}

func TestStatusZeroTasks(t *testing.T) {
	o, err := New(RequiredConfig{SessionID: "s", Factory: newFakeFactory()})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	st := o.Status()
	if st.Progress != 100 {
		t.Errorf("expected progress 100 with no tasks, got %d", st.Progress)
	}
	if st.TotalGroups != 0 {
		t.Errorf("expected 0 groups, got %d", st.TotalGroups)
	}
}

func TestStatusGroupStates(t *testing.T) {
	factory := newFakeFactory()
	o, err := New(RequiredConfig{SessionID: "s", Tasks: sixTasks(), Factory: factory})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	st := o.Status()
	for _, g := range st.Groups {
		if g.State != GroupPending {
			t.Errorf("expected group %s pending before start, got %s", g.GroupID, g.State)
		}
	}

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	st = o.Status()
	for _, g := range st.Groups {
		if g.State != GroupCompleted {
			t.Errorf("expected group %s completed, got %s", g.GroupID, g.State)
		}
		if g.Completed != g.Tasks {
			t.Errorf("group %s: %d of %d tasks completed", g.GroupID, g.Completed, g.Tasks)
		}
	}
}
