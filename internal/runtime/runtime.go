// Package runtime admits, executes, monitors and terminates concurrent
// agent tasks under concurrency and time budgets. Admission is a hard
// rejection at capacity, never a queue.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrCapacityExceeded rejects a start attempt at the concurrency limit.
	ErrCapacityExceeded = errors.New("runtime: max concurrent agents reached")
	// ErrTaskNotFound is returned for unknown execution ids.
	ErrTaskNotFound = errors.New("runtime: task not found")
	// ErrTerminated rejects operations after Cleanup.
	ErrTerminated = errors.New("runtime: terminated")
)

// Status of the runtime itself.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusRunning    Status = "running"
	StatusTerminated Status = "terminated"
)

// TaskStatus tracks one execution. Transitions are monotonic:
// created -> running -> exactly one of {completed, error, terminated}.
type TaskStatus string

const (
	TaskCreated    TaskStatus = "created"
	TaskRunning    TaskStatus = "running"
	TaskCompleted  TaskStatus = "completed"
	TaskError      TaskStatus = "error"
	TaskTerminated TaskStatus = "terminated"
)

func (s TaskStatus) terminal() bool {
	return s == TaskCompleted || s == TaskError || s == TaskTerminated
}

// Config bounds the runtime.
type Config struct {
	MaxConcurrentAgents int           `json:"max_concurrent_agents"`
	MaxExecutionTime    time.Duration `json:"max_execution_time"`
	MaxMemoryMB         int           `json:"max_memory_mb"`
	WorkspaceDir        string        `json:"workspace_dir"`
}

type task struct {
	id        string
	agent     Agent
	status    TaskStatus
	startTime time.Time
	endTime   time.Time
	result    map[string]any
	errMsg    string
	workspace string
	metadata  map[string]any
	cancel    context.CancelFunc
}

// Snapshot is a point-in-time read of a task, safe to serialize.
type Snapshot struct {
	ExecutionID string         `json:"execution_id"`
	Status      TaskStatus     `json:"status"`
	StartTime   time.Time      `json:"start_time"`
	EndTime     *time.Time     `json:"end_time,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	Workspace   string         `json:"workspace"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Runtime owns the task table and the per-task timeout monitors.
type Runtime struct {
	mu     sync.RWMutex
	cfg    Config
	status Status
	tasks  map[string]*task
	wg     sync.WaitGroup
	logger *zap.Logger
}

// New creates an idle runtime. Zero or negative config fields get
// conservative defaults.
func New(cfg Config, logger *zap.Logger) *Runtime {
	if cfg.MaxConcurrentAgents <= 0 {
		cfg.MaxConcurrentAgents = 10
	}
	if cfg.MaxExecutionTime <= 0 {
		cfg.MaxExecutionTime = 5 * time.Minute
	}
	if cfg.WorkspaceDir == "" {
		cfg.WorkspaceDir = os.TempDir()
	}
	return &Runtime{
		cfg:    cfg,
		status: StatusIdle,
		tasks:  make(map[string]*task),
		logger: logger,
	}
}

// Config returns the runtime's configuration.
func (r *Runtime) Config() Config { return r.cfg }

// Status returns the runtime's own lifecycle state.
func (r *Runtime) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// StartAgent admits and schedules one agent execution, returning its
// execution id without waiting for completion. At capacity it fails
// immediately with ErrCapacityExceeded and creates no task.
func (r *Runtime) StartAgent(agent Agent, metadata map[string]any) (string, error) {
	r.mu.Lock()
	if r.status == StatusTerminated {
		r.mu.Unlock()
		return "", ErrTerminated
	}

	running := 0
	for _, t := range r.tasks {
		if t.status == TaskRunning {
			running++
		}
	}
	if running >= r.cfg.MaxConcurrentAgents {
		r.mu.Unlock()
		return "", fmt.Errorf("%w (%d/%d)", ErrCapacityExceeded, running, r.cfg.MaxConcurrentAgents)
	}

	id := uuid.New().String()
	workspace := filepath.Join(r.cfg.WorkspaceDir, id)

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.MaxExecutionTime)
	t := &task{
		id:        id,
		agent:     agent,
		status:    TaskCreated,
		startTime: time.Now(),
		workspace: workspace,
		metadata:  metadata,
		cancel:    cancel,
	}
	r.tasks[id] = t
	t.status = TaskRunning
	r.status = StatusRunning
	r.mu.Unlock()

	if err := os.MkdirAll(workspace, 0o755); err != nil {
		cancel()
		r.mu.Lock()
		delete(r.tasks, id)
		r.mu.Unlock()
		return "", fmt.Errorf("runtime: create workspace: %w", err)
	}

	r.wg.Add(2)
	go r.execute(ctx, t)
	go r.monitor(ctx, t)

	r.logger.Info("agent started",
		zap.String("execution_id", id),
		zap.String("workspace", workspace))
	return id, nil
}

// execute runs the agent and records its natural outcome.
func (r *Runtime) execute(ctx context.Context, t *task) {
	defer r.wg.Done()
	defer t.cancel()

	result, err := t.agent.Execute(ctx, t.workspace)

	if err != nil {
		// The monitor records the timeout, but only when the runtime's own
		// deadline fired. An agent surfacing a nested DeadlineExceeded from
		// its own work is an ordinary failure.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == context.DeadlineExceeded {
			return
		}
		r.finish(t, TaskError, nil, err.Error())
		return
	}
	r.finish(t, TaskCompleted, result, "")
}

// monitor enforces the execution deadline independently of the agent's
// cooperation.
func (r *Runtime) monitor(ctx context.Context, t *task) {
	defer r.wg.Done()

	<-ctx.Done()
	if ctx.Err() != context.DeadlineExceeded {
		return
	}

	if !r.finish(t, TaskError, nil,
		fmt.Sprintf("agent timed out after %s", r.cfg.MaxExecutionTime)) {
		return
	}

	termCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.agent.Terminate(termCtx); err != nil {
		r.logger.Warn("terminate after timeout failed",
			zap.String("execution_id", t.id), zap.Error(err))
	}
}

// finish moves t into a terminal state exactly once. It returns false when
// the task already reached a terminal state.
func (r *Runtime) finish(t *task, status TaskStatus, result map[string]any, errMsg string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t.status.terminal() {
		return false
	}
	t.status = status
	t.result = result
	t.errMsg = errMsg
	t.endTime = time.Now()

	r.logger.Info("agent finished",
		zap.String("execution_id", t.id),
		zap.String("status", string(status)))

	if r.status == StatusRunning {
		stillRunning := false
		for _, other := range r.tasks {
			if other.status == TaskRunning {
				stillRunning = true
				break
			}
		}
		if !stillRunning {
			r.status = StatusIdle
		}
	}
	return true
}

// GetAgentStatus returns a snapshot of the task or ErrTaskNotFound.
func (r *Runtime) GetAgentStatus(executionID string) (*Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[executionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, executionID)
	}
	return t.snapshot(), nil
}

// ListAgents returns snapshots of all tasks, optionally filtered by
// status, ordered by start time.
func (r *Runtime) ListAgents(filter TaskStatus) []*Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Snapshot, 0, len(r.tasks))
	for _, t := range r.tasks {
		if filter != "" && t.status != filter {
			continue
		}
		out = append(out, t.snapshot())
	}
	sortSnapshots(out)
	return out
}

// StopAgent cooperatively terminates a running task. It reports true when
// the task existed; the task is accounted TERMINATED regardless of whether
// the underlying work actually stopped.
func (r *Runtime) StopAgent(ctx context.Context, executionID string) (bool, error) {
	r.mu.RLock()
	t, ok := r.tasks[executionID]
	r.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrTaskNotFound, executionID)
	}

	// Claim the terminal state before waking the agent, so a cooperatively
	// unwinding Execute cannot race in an ERROR outcome.
	if !r.finish(t, TaskTerminated, nil, "") {
		return false, nil
	}
	if err := t.agent.Terminate(ctx); err != nil {
		r.logger.Warn("agent terminate failed",
			zap.String("execution_id", executionID), zap.Error(err))
	}
	t.cancel()
	return true, nil
}

// Cleanup ends every active task, marks the runtime terminated and
// optionally deletes the workspace tree. Further starts are rejected.
func (r *Runtime) Cleanup(ctx context.Context, removeWorkspaces bool) error {
	r.mu.Lock()
	r.status = StatusTerminated
	active := make([]*task, 0, len(r.tasks))
	for _, t := range r.tasks {
		if !t.status.terminal() {
			active = append(active, t)
		}
	}
	r.mu.Unlock()

	for _, t := range active {
		if !r.finish(t, TaskTerminated, nil, "") {
			continue
		}
		if err := t.agent.Terminate(ctx); err != nil {
			r.logger.Warn("agent terminate failed during cleanup",
				zap.String("execution_id", t.id), zap.Error(err))
		}
		t.cancel()
	}
	r.wg.Wait()

	if removeWorkspaces {
		if err := os.RemoveAll(r.cfg.WorkspaceDir); err != nil {
			return fmt.Errorf("runtime: remove workspaces: %w", err)
		}
	}
	r.logger.Info("runtime cleaned up",
		zap.Int("tasks", len(active)),
		zap.Bool("removed_workspaces", removeWorkspaces))
	return nil
}

func (t *task) snapshot() *Snapshot {
	s := &Snapshot{
		ExecutionID: t.id,
		Status:      t.status,
		StartTime:   t.startTime,
		Result:      t.result,
		Error:       t.errMsg,
		Workspace:   t.workspace,
		Metadata:    t.metadata,
	}
	if !t.endTime.IsZero() {
		end := t.endTime
		s.EndTime = &end
	}
	return s
}

func sortSnapshots(s []*Snapshot) {
	sort.Slice(s, func(i, j int) bool { return s[i].StartTime.Before(s[j].StartTime) })
}
