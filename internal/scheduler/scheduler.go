package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kazuhira-dev/apiary/internal/agent"
	"github.com/kazuhira-dev/apiary/internal/errors"
	"github.com/kazuhira-dev/apiary/internal/orchestrator"
	"github.com/kazuhira-dev/apiary/internal/resource"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskReady     TaskStatus = "ready"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Task is one unit of agent work with its resource requirements and
// dependencies on other tasks.
type Task struct {
	ID           string                `json:"id"`
	Name         string                `json:"name"`
	Prompt       string                `json:"prompt"`
	DependsOn    []string              `json:"depends_on,omitempty"`
	Requirements resource.Requirements `json:"requirements"`
	Priority     resource.Priority     `json:"priority"`

	Status      TaskStatus `json:"status"`
	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   time.Time  `json:"started_at,omitempty"`
	FinishedAt  time.Time  `json:"finished_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Scheduler runs a dependency graph of tasks, acquiring resources through
// the orchestrator around each agent execution: request, activate (the
// ledger usually auto-activates), run, release.
type Scheduler struct {
	logger   *zap.Logger
	manager  *orchestrator.Manager
	executor agent.Executor

	maxConcurrent int
	taskTimeout   time.Duration

	mu    sync.Mutex
	tasks map[string]*Task
	// dependents[x] lists tasks waiting on x.
	dependents map[string][]string
	ready      chan string

	running   bool
	runningMu sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a scheduler over the given manager and executor.
func New(logger *zap.Logger, manager *orchestrator.Manager, executor agent.Executor, maxConcurrent int, taskTimeout time.Duration) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	if taskTimeout <= 0 {
		taskTimeout = 10 * time.Minute
	}
	return &Scheduler{
		logger:        logger.Named("scheduler"),
		manager:       manager,
		executor:      executor,
		maxConcurrent: maxConcurrent,
		taskTimeout:   taskTimeout,
		tasks:         make(map[string]*Task),
		dependents:    make(map[string][]string),
		ready:         make(chan string, 1024),
	}
}

// Submit adds a task. Tasks with no unmet dependencies become ready
// immediately. Unknown dependency IDs are rejected.
func (s *Scheduler) Submit(t *Task) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = "task-" + uuid.New().String()
	}
	if t.Priority == "" {
		t.Priority = resource.PriorityNormal
	}
	t.SubmittedAt = time.Now()

	for _, dep := range t.DependsOn {
		if _, ok := s.tasks[dep]; !ok {
			return "", errors.NotFound("task dependency", dep)
		}
	}

	t.Status = TaskPending
	s.tasks[t.ID] = t
	for _, dep := range t.DependsOn {
		s.dependents[dep] = append(s.dependents[dep], t.ID)
	}

	if s.unmetLocked(t) == 0 {
		t.Status = TaskReady
		s.ready <- t.ID
	}
	s.logger.Info("Task submitted",
		zap.String("task_id", t.ID),
		zap.String("name", t.Name),
		zap.Int("dependencies", len(t.DependsOn)),
	)
	return t.ID, nil
}

// unmetLocked counts incomplete dependencies. Caller holds s.mu.
func (s *Scheduler) unmetLocked(t *Task) int {
	unmet := 0
	for _, dep := range t.DependsOn {
		if d, ok := s.tasks[dep]; !ok || d.Status != TaskCompleted {
			unmet++
		}
	}
	return unmet
}

// Start launches the worker pool. Idempotent.
func (s *Scheduler) Start() error {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	if s.running {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true

	for i := 0; i < s.maxConcurrent; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	s.logger.Info("Scheduler started", zap.Int("workers", s.maxConcurrent))
	return nil
}

// Stop cancels in-flight work and waits for workers to exit.
func (s *Scheduler) Stop() error {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	if !s.running {
		return nil
	}
	s.cancel()
	s.wg.Wait()
	s.running = false
	s.logger.Info("Scheduler stopped")
	return nil
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()
	for {
		select {
		case taskID := <-s.ready:
			s.runTask(taskID)
		case <-s.ctx.Done():
			return
		}
	}
}

// runTask acquires resources, executes the agent and releases. A failed
// resource request fails the task; the caller-facing policy of "retry later
// or escalate" belongs to whoever resubmits.
func (s *Scheduler) runTask(taskID string) {
	s.mu.Lock()
	t, ok := s.tasks[taskID]
	if !ok || t.Status != TaskReady {
		s.mu.Unlock()
		return
	}
	t.Status = TaskRunning
	t.StartedAt = time.Now()
	prompt := t.Prompt
	req := t.Requirements
	priority := t.Priority
	s.mu.Unlock()

	reservationID, err := s.manager.RequestResources(taskID, req, resource.RequestOptions{
		Priority: priority,
		TaskID:   taskID,
	})
	if err != nil {
		s.finishTask(taskID, false, "resource request failed: "+err.Error())
		return
	}

	allocationID, ok := s.manager.AllocationForReservation(reservationID)
	if !ok {
		// Confirmed but not auto-activated; activate explicitly.
		allocationID, err = s.manager.ActivateReservation(reservationID)
		if err != nil {
			_ = s.manager.CancelReservation(reservationID, "activation failed")
			s.finishTask(taskID, false, "activation failed: "+err.Error())
			return
		}
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.taskTimeout)
	result, execErr := s.executor.Execute(ctx, prompt, nil)
	cancel()

	if err := s.manager.ReleaseResources(allocationID, "task finished"); err != nil {
		s.logger.Error("Failed to release resources",
			zap.String("task_id", taskID),
			zap.String("allocation_id", allocationID),
			zap.Error(err),
		)
	}

	switch {
	case execErr != nil:
		s.finishTask(taskID, false, execErr.Error())
	case result != nil && !result.Success:
		s.finishTask(taskID, false, "agent exited nonzero")
	default:
		s.finishTask(taskID, true, "")
	}
}

// finishTask records the outcome and promotes or fails dependents.
func (s *Scheduler) finishTask(taskID string, success bool, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return
	}
	t.FinishedAt = time.Now()
	if success {
		t.Status = TaskCompleted
	} else {
		t.Status = TaskFailed
		t.Error = errMsg
	}
	s.logger.Info("Task finished",
		zap.String("task_id", taskID),
		zap.Bool("success", success),
	)

	for _, depID := range s.dependents[taskID] {
		dep, ok := s.tasks[depID]
		if !ok || dep.Status != TaskPending {
			continue
		}
		if !success {
			dep.Status = TaskFailed
			dep.Error = "dependency failed: " + taskID
			s.failDependentsLocked(depID)
			continue
		}
		if s.unmetLocked(dep) == 0 {
			dep.Status = TaskReady
			s.ready <- dep.ID
		}
	}
}

// failDependentsLocked transitively fails everything downstream of a failed
// task. Caller holds s.mu.
func (s *Scheduler) failDependentsLocked(taskID string) {
	for _, depID := range s.dependents[taskID] {
		dep, ok := s.tasks[depID]
		if !ok || dep.Status != TaskPending {
			continue
		}
		dep.Status = TaskFailed
		dep.Error = "dependency failed: " + taskID
		s.failDependentsLocked(depID)
	}
}

// Get returns a copy of one task.
func (s *Scheduler) Get(taskID string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, errors.NotFound("task", taskID)
	}
	out := *t
	out.DependsOn = append([]string(nil), t.DependsOn...)
	return &out, nil
}

// List returns copies of all tasks.
func (s *Scheduler) List() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		cp := *t
		cp.DependsOn = append([]string(nil), t.DependsOn...)
		out = append(out, &cp)
	}
	return out
}
