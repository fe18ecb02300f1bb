// Package controller moves tasks through their lifecycle: it plans, approves,
// rejects, continues, retries and stops tasks, persisting every transition to
// the task store and delegating the work to the orchestrator.
package controller

import (
	"context"
	"fmt"
	"strings"

	ierr "github.com/mark3labs/taskr/internal/errors"
	"github.com/mark3labs/taskr/internal/llm"
	"github.com/mark3labs/taskr/internal/logger"
	"github.com/mark3labs/taskr/internal/orchestrator"
	"github.com/mark3labs/taskr/internal/registry"
	"github.com/mark3labs/taskr/internal/session"
	"github.com/mark3labs/taskr/internal/tools"
)

// Store is the task repository the controller persists to.
// *session.Store implements it.
type Store interface {
	Get(ctx context.Context, id string) (*session.Task, error)
	Create(ctx context.Context, goal string) (*session.Task, error)
	Update(ctx context.Context, id string, u session.Update) (*session.Task, error)
	AppendStep(ctx context.Context, id string, step session.Step) error
	AppendMessage(ctx context.Context, id, role, content string) error
	ResetRun(ctx context.Context, id string) (*session.Task, error)
	List(ctx context.Context) ([]*session.Task, error)
}

// Outcome is the stored task after a run together with the run's result.
type Outcome struct {
	Task   *session.Task
	Result *orchestrator.Result
}

// Controller coordinates the store, the orchestrator and the registry.
type Controller struct {
	store Store
	orch  *orchestrator.Orchestrator
	reg   *registry.Registry
}

// New creates a Controller. The registry is the orchestrator's.
func New(store Store, orch *orchestrator.Orchestrator) *Controller {
	return &Controller{store: store, orch: orch, reg: orch.Registry()}
}

// Get returns a task by ID.
func (c *Controller) Get(ctx context.Context, id string) (*session.Task, error) {
	return c.store.Get(ctx, id)
}

// List returns all tasks, newest first.
func (c *Controller) List(ctx context.Context) ([]*session.Task, error) {
	return c.store.List(ctx)
}

// Plan creates a task for goal and asks the model for a plan. A planning
// failure is recorded on the task (phase failed), not returned as an error.
func (c *Controller) Plan(ctx context.Context, goal string) (*Outcome, error) {
	task, err := c.store.Create(ctx, goal)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	if err := c.store.AppendMessage(ctx, task.ID, session.RoleUser, task.Goal); err != nil {
		return nil, fmt.Errorf("failed to record goal: %w", err)
	}
	return c.plan(ctx, task)
}

func (c *Controller) plan(ctx context.Context, task *session.Task) (*Outcome, error) {
	res := c.orch.Run(ctx, orchestrator.Request{
		TaskID: task.ID,
		Goal:   task.Goal,
		Mode:   orchestrator.ModePlan,
	})

	persistCtx := context.WithoutCancel(ctx)
	u := runUpdate(task, res)
	if res.Success {
		phase := session.PhaseAwaitingApproval
		u.Phase = &phase
		u.Plan = &res.Plan
		u.Output = nil
		if err := c.store.AppendMessage(persistCtx, task.ID, session.RoleAssistant, res.Plan); err != nil {
			return nil, fmt.Errorf("failed to record plan: %w", err)
		}
	}
	updated, err := c.store.Update(persistCtx, task.ID, u)
	if err != nil {
		return nil, fmt.Errorf("failed to store plan: %w", err)
	}
	return &Outcome{Task: updated, Result: res}, nil
}

// Approve starts executing a task awaiting approval. A non-empty editedPlan
// replaces the proposed plan.
func (c *Controller) Approve(ctx context.Context, id, editedPlan string, onStep tools.Observer) (*Outcome, error) {
	task, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Phase != session.PhaseAwaitingApproval {
		return nil, ierr.Validation("approve", "task %s is %s, not awaiting approval", id, task.Phase)
	}

	plan := task.Plan
	if strings.TrimSpace(editedPlan) != "" {
		plan = editedPlan
	}
	return c.execute(ctx, task, orchestrator.Request{Plan: plan}, session.Update{Plan: &plan}, onStep)
}

// Reject marks a proposed plan as rejected.
func (c *Controller) Reject(ctx context.Context, id, reason string) (*session.Task, error) {
	task, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Phase != session.PhaseAwaitingApproval {
		return nil, ierr.Validation("reject", "task %s is %s, not awaiting approval", id, task.Phase)
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "the plan was rejected"
	}
	if err := c.store.AppendMessage(ctx, id, session.RoleUser, "Rejected: "+reason); err != nil {
		return nil, fmt.Errorf("failed to record rejection: %w", err)
	}

	phase := session.PhaseRejected
	return c.store.Update(ctx, id, session.Update{
		Phase: &phase,
		Error: &session.TaskError{
			Reason:         reason,
			Recommendation: "Retry the task for a new plan, or continue it with an adjustment.",
			CanContinue:    true,
		},
	})
}

// Continue re-executes a failed, stopped or rejected task, telling the model
// what went wrong last time and what the user wants changed. The run counter
// grows with every call; there is no cap.
func (c *Controller) Continue(ctx context.Context, id, adjustment string, onStep tools.Observer) (*Outcome, error) {
	task, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch task.Phase {
	case session.PhaseFailed, session.PhaseStopped, session.PhaseRejected:
	default:
		return nil, ierr.Validation("continue", "task %s is %s; only failed, stopped or rejected tasks can be continued", id, task.Phase)
	}

	cont := &orchestrator.Continuation{PreviousPlan: task.Plan, Adjustment: strings.TrimSpace(adjustment)}
	if task.Error != nil {
		cont.PreviousError = task.Error.Reason
	}
	if cont.Adjustment != "" {
		if err := c.store.AppendMessage(ctx, id, session.RoleUser, cont.Adjustment); err != nil {
			return nil, fmt.Errorf("failed to record adjustment: %w", err)
		}
	}
	return c.execute(ctx, task, orchestrator.Request{Plan: task.Plan, Continuation: cont}, session.Update{}, onStep)
}

// Retry sends a settled task back to planning and asks for a fresh plan.
func (c *Controller) Retry(ctx context.Context, id string) (*Outcome, error) {
	task, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !task.Phase.Settled() {
		return nil, ierr.Validation("retry", "task %s is %s and cannot be retried", id, task.Phase)
	}
	release, err := c.reg.Acquire(id)
	if err != nil {
		return nil, ierr.Wrap(ierr.KindValidation, "retry", err)
	}
	defer release()

	phase := session.PhasePlanning
	task, err = c.store.Update(ctx, id, session.Update{Phase: &phase, ClearError: true})
	if err != nil {
		return nil, err
	}
	logger.Info("Retrying task %s", id)
	return c.plan(ctx, task)
}

// Stop asks a running task to stop at its next iteration boundary. Returns
// false when the task is not running in this process.
func (c *Controller) Stop(id string) bool {
	return c.reg.Abort(id)
}

// StopAll asks every task running in this process to stop. Returns how many
// were signalled.
func (c *Controller) StopAll() int {
	n := 0
	for _, id := range c.reg.List() {
		if c.reg.Abort(id) {
			n++
		}
	}
	return n
}

// Run plans goal, approves the plan as proposed and executes it.
func (c *Controller) Run(ctx context.Context, goal string, onStep tools.Observer) (*Outcome, error) {
	planned, err := c.Plan(ctx, goal)
	if err != nil {
		return nil, err
	}
	if planned.Task.Phase != session.PhaseAwaitingApproval {
		return planned, nil
	}
	return c.Approve(ctx, planned.Task.ID, "", onStep)
}

// Chat sends a follow-up message to a settled task. The stored conversation
// is replayed as history and the task executes again.
func (c *Controller) Chat(ctx context.Context, id, message string, onStep tools.Observer) (*Outcome, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ierr.Validation("chat", "message is required")
	}
	task, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !task.Phase.Settled() {
		return nil, ierr.Validation("chat", "task %s is %s; wait until it settles", id, task.Phase)
	}

	history := historyTurns(task.Messages)
	if err := c.store.AppendMessage(ctx, id, session.RoleUser, message); err != nil {
		return nil, fmt.Errorf("failed to record message: %w", err)
	}
	return c.execute(ctx, task, orchestrator.Request{Plan: task.Plan, History: history, Message: message}, session.Update{}, onStep)
}

// execute moves the task to executing, runs it and stores the outcome. Steps
// are persisted as they happen. The registry slot is held from the first
// store write to the last.
func (c *Controller) execute(ctx context.Context, task *session.Task, req orchestrator.Request, start session.Update, onStep tools.Observer) (*Outcome, error) {
	release, err := c.reg.Acquire(task.ID)
	if err != nil {
		return nil, ierr.Wrap(ierr.KindValidation, "execute", err)
	}
	defer release()

	phase := session.PhaseExecuting
	start.Phase = &phase
	start.ClearError = true
	if _, err := c.store.Update(ctx, task.ID, start); err != nil {
		return nil, err
	}
	task, err = c.store.ResetRun(ctx, task.ID)
	if err != nil {
		return nil, err
	}

	// Persisting must survive a cancelled run context (SIGINT).
	persistCtx := context.WithoutCancel(ctx)

	req.TaskID = task.ID
	req.Goal = task.Goal
	req.Mode = orchestrator.ModeExecute
	req.Held = true
	req.OnStep = func(ev tools.StepEvent) {
		step := session.Step{
			Number:     ev.Number,
			Tool:       ev.Tool,
			Input:      ev.Input,
			Output:     ev.Output,
			Success:    ev.Success,
			DurationMs: ev.Duration.Milliseconds(),
		}
		if !ev.Success {
			step.Error = firstLine(ev.Output)
		}
		if err := c.store.AppendStep(persistCtx, task.ID, step); err != nil {
			logger.Warn("Failed to persist step %d of task %s: %v", ev.Number, task.ID, err)
		}
		if onStep != nil {
			onStep(ev)
		}
	}

	logger.Info("Executing task %s (run %d)", task.ID, task.Runs)
	res := c.orch.Run(ctx, req)

	if msg := resultMessage(res); msg != "" {
		if err := c.store.AppendMessage(persistCtx, task.ID, session.RoleAssistant, msg); err != nil {
			logger.Warn("Failed to record result message for task %s: %v", task.ID, err)
		}
	}
	updated, err := c.store.Update(persistCtx, task.ID, runUpdate(task, res))
	if err != nil {
		return nil, fmt.Errorf("failed to store result: %w", err)
	}
	return &Outcome{Task: updated, Result: res}, nil
}

// runUpdate builds the store update for a finished run. Duration and cost
// accumulate across runs.
func runUpdate(task *session.Task, res *orchestrator.Result) session.Update {
	phase := res.Phase
	duration := task.DurationMs + res.Duration.Milliseconds()
	cost := task.Cost + res.Cost
	u := session.Update{
		Phase:      &phase,
		Output:     &res.Output,
		Summary:    &res.Summary,
		DurationMs: &duration,
		Cost:       &cost,
	}
	if res.FilesChanged != nil {
		u.FilesChanged = res.FilesChanged
	}
	if res.Error != nil {
		u.Error = &session.TaskError{
			Reason:         res.Error.Reason,
			Recommendation: res.Error.Recommendation,
			Step:           res.Error.Step,
			CanContinue:    res.Error.CanContinue,
		}
	} else {
		u.ClearError = true
	}
	return u
}

func resultMessage(res *orchestrator.Result) string {
	switch {
	case res.Success && res.Output != "":
		return res.Output
	case res.Success:
		return res.Summary
	case res.Error != nil:
		return fmt.Sprintf("Task %s: %s", res.Phase, res.Error.Reason)
	}
	return ""
}

// historyTurns rebuilds model turns from the stored conversation.
func historyTurns(messages []*session.Message) []llm.Turn {
	turns := make([]llm.Turn, 0, len(messages))
	for _, m := range messages {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		role := llm.RoleUser
		if m.Role == session.RoleAssistant {
			role = llm.RoleAssistant
		}
		turns = append(turns, llm.Turn{Role: role, Blocks: []llm.Block{llm.TextBlock(m.Content)}})
	}
	return turns
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

