// Package orchestrator schedules dependency-ordered task groups across a
// bounded pool of isolated agents, with retry, pause/resume, checkpoint
// gates, and on-demand status aggregation.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ShayCichocki/baton/internal/agent"
	"github.com/ShayCichocki/baton/internal/graph"
	"github.com/ShayCichocki/baton/internal/logging"
	"github.com/ShayCichocki/baton/internal/state"
	"github.com/ShayCichocki/baton/pkg/models"
)

// SessionState is the orchestrator lifecycle state.
type SessionState string

const (
	// StateIdle is the initial state before Start.
	StateIdle SessionState = "idle"
	// StateExecutingGroup means a group is actively being scheduled.
	StateExecutingGroup SessionState = "executing_group"
	// StatePaused means execution was paused mid-run and can be resumed.
	StatePaused SessionState = "paused"
	// StateCheckpointMerge means execution is waiting on a checkpoint gate.
	StateCheckpointMerge SessionState = "checkpoint_merge"
	// StateCompleted is terminal: every group finished.
	StateCompleted SessionState = "completed"
	// StateFailed is terminal: the run failed or was stopped.
	StateFailed SessionState = "failed"
)

const (
	defaultMaxAgents   = 3
	defaultTaskTimeout = 30 * time.Minute
	defaultRetryDelay  = 5 * time.Second
	defaultMaxRetries  = 2

	// maxGroupTasks bounds a single group's fan-out.
	maxGroupTasks = 100
	// maxBackoff caps the exponential retry delay.
	maxBackoff = 60 * time.Second
	// pollInterval keeps the group loop live even without completions.
	pollInterval = time.Second
)

// RequiredConfig holds the fields every orchestrator needs.
type RequiredConfig struct {
	// SessionID identifies this run.
	SessionID string
	// Tasks is the full task list. Immutable once submitted.
	Tasks []*models.Task
	// Factory constructs one agent environment per task attempt.
	Factory agent.Factory
}

// Option configures optional orchestrator behavior.
type Option func(*Orchestrator)

// WithProvider overrides the task graph provider.
func WithProvider(p graph.Provider) Option {
	return func(o *Orchestrator) { o.provider = p }
}

// WithMaxAgents bounds concurrent task attempts.
func WithMaxAgents(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxAgents = n
		}
	}
}

// WithTaskTimeout sets the per-attempt timeout passed to agents.
func WithTaskTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.taskTimeout = d
		}
	}
}

// WithRetryDelay sets the base backoff delay.
func WithRetryDelay(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.retryDelay = d
		}
	}
}

// WithMaxRetries sets the retry budget per task. Zero disables retries.
func WithMaxRetries(n int) Option {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.maxRetries = n
		}
	}
}

// WithCheckpoints pauses at group boundaries awaiting approval.
func WithCheckpoints(enabled bool) Option {
	return func(o *Orchestrator) { o.checkpoints = enabled }
}

// WithRepoPath sets the repository location passed to agents.
func WithRepoPath(path string) Option {
	return func(o *Orchestrator) { o.repoPath = path }
}

// WithBaseBranch sets the branch agents work from.
func WithBaseBranch(branch string) Option {
	return func(o *Orchestrator) { o.baseBranch = branch }
}

// WithStore persists session and task-result records.
func WithStore(s state.Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

// taskFailure tracks retry bookkeeping for a failing task.
type taskFailure struct {
	lastError string
	retries   int
	dead      bool
}

// Orchestrator executes a task list group by group. One instance owns one
// session; it is not reusable after a terminal state.
type Orchestrator struct {
	sessionID   string
	tasks       []*models.Task
	provider    graph.Provider
	factory     agent.Factory
	store       state.Store
	maxAgents   int
	taskTimeout time.Duration
	retryDelay  time.Duration
	maxRetries  int
	checkpoints bool
	repoPath    string
	baseBranch  string

	emitter *Emitter
	log     zerolog.Logger

	mu           sync.Mutex
	state        SessionState
	groups       []string
	currentGroup int
	startTime    time.Time
	pending      []*models.Task
	agents       map[string]agent.Environment
	retriesDue   int
	completed    map[string]bool
	failed       map[string]*taskFailure
	pauseReq     bool
	stopReq      bool
	cleanedUp    bool

	agentWG sync.WaitGroup

	wakeCh    chan struct{}
	approveCh chan struct{}
}

// New constructs an orchestrator and synchronously computes the ordered
// group list from the provider, failing fast on cycles or unknown
// dependencies.
func New(cfg RequiredConfig, opts ...Option) (*Orchestrator, error) {
	if cfg.SessionID == "" {
		return nil, fmt.Errorf("session ID is required")
	}
	if cfg.Factory == nil {
		return nil, fmt.Errorf("agent factory is required")
	}

	o := &Orchestrator{
		sessionID:   cfg.SessionID,
		tasks:       cfg.Tasks,
		factory:     cfg.Factory,
		provider:    &graph.LevelProvider{},
		store:       state.NopStore{},
		maxAgents:   defaultMaxAgents,
		taskTimeout: defaultTaskTimeout,
		retryDelay:  defaultRetryDelay,
		maxRetries:  defaultMaxRetries,
		emitter:     NewEmitter(),
		log:         logging.Component("orchestrator"),
		state:       StateIdle,
		agents:      make(map[string]agent.Environment),
		completed:   make(map[string]bool),
		failed:      make(map[string]*taskFailure),
		wakeCh:      make(chan struct{}, 1),
		approveCh:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(o)
	}

	groups, err := o.provider.ParallelGroups(cfg.Tasks)
	if err != nil {
		return nil, fmt.Errorf("compute parallel groups: %w", err)
	}
	o.groups = groups
	return o, nil
}

// Subscribe registers an event observer. The cancel function unsubscribes.
func (o *Orchestrator) Subscribe() (<-chan Event, func()) {
	return o.emitter.Subscribe()
}

// SessionID returns the session identifier.
func (o *Orchestrator) SessionID() string { return o.sessionID }

// Start executes all groups in order. It blocks until the session reaches a
// terminal state, is paused, or ctx ends. Fails if the session is not idle.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateIdle {
		s := o.state
		o.mu.Unlock()
		return fmt.Errorf("cannot start orchestrator in state %s", s)
	}
	o.state = StateExecutingGroup
	o.startTime = time.Now()
	o.mu.Unlock()

	o.emitState(StateExecutingGroup)
	o.persistSession()
	return o.run(ctx)
}

// Resume continues a paused session from the current group. Fails unless the
// session is paused.
func (o *Orchestrator) Resume(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StatePaused {
		s := o.state
		o.mu.Unlock()
		return fmt.Errorf("cannot resume orchestrator in state %s", s)
	}
	o.state = StateExecutingGroup
	o.pauseReq = false
	o.mu.Unlock()

	o.emitState(StateExecutingGroup)
	return o.run(ctx)
}

// run drives the group loop from the current group index.
func (o *Orchestrator) run(ctx context.Context) error {
	o.mu.Lock()
	start := o.currentGroup
	o.mu.Unlock()

	for i := start; i < len(o.groups); i++ {
		groupID := o.groups[i]
		o.mu.Lock()
		o.currentGroup = i
		o.mu.Unlock()
		o.persistSession()

		o.emitter.Emit(Event{Type: EventGroupStart, SessionID: o.sessionID, GroupID: groupID})

		if err := o.executeGroup(ctx, groupID); err != nil {
			o.setState(StateFailed)
			o.emitter.Emit(Event{Type: EventError, SessionID: o.sessionID, GroupID: groupID, Error: err.Error()})
			o.persistSession()
			return err
		}

		if o.stopRequested() {
			// Stop and Cleanup own any terminal state transition.
			return nil
		}
		if o.pauseRequested() {
			o.setState(StatePaused)
			o.persistSession()
			return nil
		}

		o.emitter.Emit(Event{Type: EventGroupComplete, SessionID: o.sessionID, GroupID: groupID})

		if o.checkpoints && i < len(o.groups)-1 {
			o.setState(StateCheckpointMerge)
			o.emitter.Emit(Event{Type: EventCheckpoint, SessionID: o.sessionID, GroupID: groupID})
			o.persistSession()
			if err := o.awaitApproval(ctx); err != nil {
				o.setState(StateFailed)
				o.emitter.Emit(Event{Type: EventError, SessionID: o.sessionID, Error: err.Error()})
				o.persistSession()
				return err
			}
			if o.stopRequested() {
				return nil
			}
			o.setState(StateExecutingGroup)
		}
	}

	o.mu.Lock()
	o.currentGroup = len(o.groups)
	completed := len(o.completed)
	failed := o.deadCount()
	elapsed := time.Since(o.startTime)
	o.mu.Unlock()

	o.setState(StateCompleted)
	o.emitter.Emit(Event{
		Type:      EventComplete,
		SessionID: o.sessionID,
		Completed: completed,
		Failed:    failed,
		Elapsed:   elapsed,
	})
	o.persistSession()
	return nil
}

// executeGroup schedules one group's tasks across the agent pool until every
// task is resolved, or a pause/stop request interrupts.
func (o *Orchestrator) executeGroup(ctx context.Context, groupID string) error {
	tasks := o.provider.TasksInGroup(o.tasks, groupID)

	// Re-entry after resume skips tasks that already resolved.
	o.mu.Lock()
	runnable := make([]*models.Task, 0, len(tasks))
	for _, task := range tasks {
		if o.completed[task.ID] {
			continue
		}
		if f, ok := o.failed[task.ID]; ok && f.dead {
			continue
		}
		runnable = append(runnable, task)
	}
	if len(runnable) > maxGroupTasks {
		o.mu.Unlock()
		return fmt.Errorf("group %s has %d tasks, exceeding the %d task limit", groupID, len(runnable), maxGroupTasks)
	}
	o.pending = runnable
	o.mu.Unlock()

	o.log.Info().Str("group", groupID).Int("tasks", len(runnable)).Msg("executing group")
	o.topUp(ctx)

	for {
		if o.stopRequested() {
			o.stopAgents(ctx)
			return nil
		}
		if o.pauseRequested() {
			// Running agents finish naturally; the loop just stops feeding.
			return nil
		}

		// A task sitting out its backoff delay occupies neither the queue
		// nor the pool; the group is not done until it re-queues or dies.
		o.mu.Lock()
		idle := len(o.pending) == 0 && len(o.agents) == 0 && o.retriesDue == 0
		o.mu.Unlock()
		if idle {
			return nil
		}

		// Wake on the next completion, or poll so stop requests are seen
		// even when no agent is running.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.wakeCh:
		case <-time.After(pollInterval):
		}

		o.topUp(ctx)
	}
}

// topUp dispatches pending tasks until the pool is full.
func (o *Orchestrator) topUp(ctx context.Context) {
	for {
		o.mu.Lock()
		if o.pauseReq || o.stopReq || len(o.pending) == 0 || len(o.agents) >= o.maxAgents {
			o.mu.Unlock()
			return
		}
		task := o.pending[0]
		o.pending = o.pending[1:]
		o.mu.Unlock()

		// Dispatch errors are handled per-task; the loop keeps feeding.
		o.dispatch(ctx, task)
	}
}

// dispatch creates an agent for one task attempt and runs it in the
// background. A dispatch error takes the same path as an execution failure.
func (o *Orchestrator) dispatch(ctx context.Context, task *models.Task) {
	agentID := fmt.Sprintf("%s-%d", task.ID, time.Now().UnixMilli())

	env, err := o.factory.New(agent.Config{
		AgentID:    agentID,
		Task:       task,
		SessionID:  o.sessionID,
		BaseBranch: o.baseBranch,
		RepoPath:   o.repoPath,
		Timeout:    o.taskTimeout,
	})
	if err != nil {
		o.log.Error().Str("task", task.ID).Err(err).Msg("create agent")
		o.handleFailure(task.ID, agentID, err.Error())
		return
	}

	o.mu.Lock()
	if o.stopReq || o.cleanedUp {
		o.mu.Unlock()
		_ = env.Cleanup(ctx)
		return
	}
	o.agents[agentID] = env
	o.agentWG.Add(1)
	o.mu.Unlock()

	go o.runAgent(ctx, env)
}

// runAgent drives one attempt through its lifecycle, forwarding agent
// notifications as orchestrator events. The agent leaves the live map the
// moment its attempt resolves, whatever the outcome.
func (o *Orchestrator) runAgent(ctx context.Context, env agent.Environment) {
	defer o.agentWG.Done()

	var completion *agent.Completion
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for n := range env.Notifications() {
			switch n.Type {
			case agent.NotificationState:
				o.emitter.Emit(Event{
					Type:      EventAgentState,
					SessionID: o.sessionID,
					AgentID:   n.AgentID,
					TaskID:    n.TaskID,
					Output:    string(n.State),
				})
			case agent.NotificationOutput:
				o.emitter.Emit(Event{
					Type:      EventAgentOutput,
					SessionID: o.sessionID,
					AgentID:   n.AgentID,
					TaskID:    n.TaskID,
					Output:    n.Output,
				})
			case agent.NotificationComplete:
				completion = n.Completion
			}
		}
	}()

	err := env.Initialize(ctx)
	if err == nil {
		err = env.Execute(ctx)
	}
	if cleanupErr := env.Cleanup(ctx); cleanupErr != nil {
		o.log.Warn().Str("agent", env.AgentID()).Err(cleanupErr).Msg("agent cleanup")
	}
	<-forwarded

	// Bookkeeping happens before the slot frees so the group loop never
	// observes an empty pool with an unrecorded completion.
	switch {
	case completion != nil && completion.Success:
		o.handleSuccess(completion)
	case completion != nil:
		o.handleFailure(completion.TaskID, completion.AgentID, completion.Error)
	case err != nil:
		o.handleFailure(env.TaskID(), env.AgentID(), err.Error())
	default:
		o.handleFailure(env.TaskID(), env.AgentID(), "agent finished without reporting a result")
	}

	o.mu.Lock()
	delete(o.agents, env.AgentID())
	o.mu.Unlock()
	o.wake()
}

// handleSuccess records a completed task. Idempotent per task.
func (o *Orchestrator) handleSuccess(c *agent.Completion) {
	o.mu.Lock()
	if o.completed[c.TaskID] {
		o.mu.Unlock()
		return
	}
	o.completed[c.TaskID] = true
	retries := 0
	if f, ok := o.failed[c.TaskID]; ok {
		retries = f.retries
	}
	groupID := o.groupForTaskLocked(c.TaskID)
	o.mu.Unlock()

	o.emitter.Emit(Event{
		Type:      EventTaskComplete,
		SessionID: o.sessionID,
		TaskID:    c.TaskID,
		AgentID:   c.AgentID,
		Retries:   retries,
		Metrics:   c.Metrics,
	})
	o.persistTaskResult(c.TaskID, c.AgentID, groupID, true, "", retries, c.Metrics)
}

// handleFailure applies the retry policy to one failed attempt.
func (o *Orchestrator) handleFailure(taskID, agentID, errMsg string) {
	// A completion can reference a task the list no longer knows about;
	// report it rather than crash.
	task := o.GetTask(taskID)
	if task == nil {
		o.log.Warn().Str("task", taskID).Msg("failure for unknown task")
		o.emitter.Emit(Event{
			Type:      EventTaskFailed,
			SessionID: o.sessionID,
			TaskID:    taskID,
			AgentID:   agentID,
			Error:     errMsg,
		})
		return
	}

	o.mu.Lock()
	prev := 0
	if f, ok := o.failed[taskID]; ok {
		if f.dead {
			o.mu.Unlock()
			return
		}
		prev = f.retries
	}
	retries := prev + 1

	if retries > o.maxRetries {
		o.failed[taskID] = &taskFailure{lastError: errMsg, retries: prev, dead: true}
		groupID := o.groupForTaskLocked(taskID)
		o.mu.Unlock()

		o.log.Warn().Str("task", taskID).Int("retries", prev).Str("error", errMsg).Msg("task permanently failed")
		o.emitter.Emit(Event{
			Type:      EventTaskFailed,
			SessionID: o.sessionID,
			TaskID:    taskID,
			AgentID:   agentID,
			Error:     errMsg,
			Retries:   prev,
		})
		o.persistTaskResult(taskID, agentID, groupID, false, errMsg, prev, nil)
		return
	}

	// Record the failure before scheduling the re-queue so a second failure
	// arriving during the delay cannot dispatch the task twice. The due
	// counter keeps the group loop open across the backoff delay.
	o.failed[taskID] = &taskFailure{lastError: errMsg, retries: retries}
	o.retriesDue++
	o.mu.Unlock()

	delay := backoffDelay(o.retryDelay, retries)
	o.log.Info().Str("task", taskID).Int("retry", retries).Dur("delay", delay).Msg("retrying task")
	o.emitter.Emit(Event{
		Type:      EventTaskRetry,
		SessionID: o.sessionID,
		TaskID:    taskID,
		AgentID:   agentID,
		Error:     errMsg,
		Retries:   retries,
		Delay:     delay,
	})

	time.AfterFunc(delay, func() {
		o.mu.Lock()
		o.retriesDue--
		// A resume re-enters the group and rebuilds the queue from the
		// failed set, so the timer must not add a second copy.
		requeue := !o.pauseReq && !o.stopReq && !o.cleanedUp &&
			!o.completed[task.ID] && !o.queuedOrLiveLocked(task.ID)
		if requeue {
			o.pending = append(o.pending, task)
		}
		o.mu.Unlock()
		o.wake()
	})
}

// queuedOrLiveLocked reports whether a task is already queued or has a live
// agent. Callers hold o.mu.
func (o *Orchestrator) queuedOrLiveLocked(taskID string) bool {
	for _, t := range o.pending {
		if t.ID == taskID {
			return true
		}
	}
	for _, env := range o.agents {
		if env.TaskID() == taskID {
			return true
		}
	}
	return false
}

// backoffDelay computes baseDelay doubled per retry, capped at maxBackoff.
func backoffDelay(base time.Duration, retries int) time.Duration {
	delay := base
	for i := 1; i < retries; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	if delay > maxBackoff {
		return maxBackoff
	}
	return delay
}

// Pause requests a pause at the next group-loop iteration. Running agents
// finish naturally.
func (o *Orchestrator) Pause() {
	o.mu.Lock()
	o.pauseReq = true
	o.mu.Unlock()
	o.wake()
}

// Stop halts every live agent and moves the session to failed. A stopped run
// is not distinguishable from a failed one.
func (o *Orchestrator) Stop(ctx context.Context) {
	o.mu.Lock()
	if o.stopReq || o.state == StateCompleted {
		o.mu.Unlock()
		return
	}
	o.stopReq = true
	o.mu.Unlock()

	o.stopAgents(ctx)
	o.setState(StateFailed)
	o.persistSession()
	o.wake()
}

// stopAgents calls Stop on every live agent and waits for the calls to
// settle.
func (o *Orchestrator) stopAgents(ctx context.Context) {
	o.mu.Lock()
	envs := make([]agent.Environment, 0, len(o.agents))
	for _, env := range o.agents {
		envs = append(envs, env)
	}
	o.mu.Unlock()

	var wg sync.WaitGroup
	for _, env := range envs {
		wg.Add(1)
		go func(env agent.Environment) {
			defer wg.Done()
			if err := env.Stop(ctx); err != nil {
				o.log.Warn().Str("agent", env.AgentID()).Err(err).Msg("stop agent")
			}
		}(env)
	}
	wg.Wait()
}

// Cleanup stops all agents, releases their resources, and detaches every
// observer. Idempotent.
func (o *Orchestrator) Cleanup(ctx context.Context) {
	o.mu.Lock()
	if o.cleanedUp {
		o.mu.Unlock()
		return
	}
	o.cleanedUp = true
	o.stopReq = true
	o.mu.Unlock()

	// Stop unblocks in-flight attempts, then the wait drains their
	// goroutines so no agent is mid-execution when its environment is
	// released.
	o.stopAgents(ctx)
	o.agentWG.Wait()

	o.mu.Lock()
	envs := make([]agent.Environment, 0, len(o.agents))
	for _, env := range o.agents {
		envs = append(envs, env)
	}
	o.agents = make(map[string]agent.Environment)
	o.mu.Unlock()

	for _, env := range envs {
		if err := env.Cleanup(ctx); err != nil {
			o.log.Warn().Str("agent", env.AgentID()).Err(err).Msg("cleanup agent")
		}
	}
	o.emitter.Close()
}

// ApproveCheckpoint releases a pending checkpoint gate. Safe to call before
// the gate is reached; the approval is consumed by the next gate.
func (o *Orchestrator) ApproveCheckpoint() {
	select {
	case o.approveCh <- struct{}{}:
	default:
	}
}

// awaitApproval blocks until the checkpoint is approved, the run is stopped,
// or ctx ends.
func (o *Orchestrator) awaitApproval(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.approveCh:
			return nil
		case <-time.After(pollInterval):
			if o.stopRequested() {
				return nil
			}
		}
	}
}

func (o *Orchestrator) setState(s SessionState) {
	o.mu.Lock()
	if o.state == s {
		o.mu.Unlock()
		return
	}
	o.state = s
	o.mu.Unlock()
	o.emitState(s)
}

func (o *Orchestrator) emitState(s SessionState) {
	o.emitter.Emit(Event{Type: EventState, SessionID: o.sessionID, State: s})
}

func (o *Orchestrator) pauseRequested() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pauseReq
}

func (o *Orchestrator) stopRequested() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopReq
}

// wake nudges the group loop without blocking.
func (o *Orchestrator) wake() {
	select {
	case o.wakeCh <- struct{}{}:
	default:
	}
}

// deadCount returns how many tasks exhausted their retries. Caller holds mu.
func (o *Orchestrator) deadCount() int {
	n := 0
	for _, f := range o.failed {
		if f.dead {
			n++
		}
	}
	return n
}

// groupForTaskLocked returns the group containing a task. Caller holds mu.
func (o *Orchestrator) groupForTaskLocked(taskID string) string {
	for _, groupID := range o.groups {
		for _, task := range o.provider.TasksInGroup(o.tasks, groupID) {
			if task.ID == taskID {
				return groupID
			}
		}
	}
	return ""
}

// persistSession saves a session snapshot. Persistence failures are logged,
// never fatal.
func (o *Orchestrator) persistSession() {
	o.mu.Lock()
	rec := &state.SessionRecord{
		ID:           o.sessionID,
		State:        string(o.state),
		CurrentGroup: o.currentGroup,
		TotalGroups:  len(o.groups),
		CreatedAt:    o.startTime,
	}
	o.mu.Unlock()

	if err := o.store.SaveSession(rec); err != nil {
		o.log.Warn().Err(err).Msg("persist session")
	}
}

func (o *Orchestrator) persistTaskResult(taskID, agentID, groupID string, success bool, errMsg string, retries int, metrics *agent.Metrics) {
	rec := &state.TaskResultRecord{
		SessionID: o.sessionID,
		TaskID:    taskID,
		AgentID:   agentID,
		GroupID:   groupID,
		Success:   success,
		Error:     errMsg,
		Retries:   retries,
	}
	if metrics != nil {
		rec.Duration = metrics.Duration
	}
	if err := o.store.SaveTaskResult(rec); err != nil {
		o.log.Warn().Err(err).Msg("persist task result")
	}
}
