package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	ierr "github.com/mark3labs/taskr/internal/errors"
	"github.com/mark3labs/taskr/internal/logger"
	"github.com/mark3labs/taskr/internal/nats"
)

// Task is a user goal and everything recorded while planning and executing it.
type Task struct {
	ID           string     `json:"id"`
	Goal         string     `json:"goal"`
	Phase        Phase      `json:"phase"`
	Plan         string     `json:"plan,omitempty"`
	Output       string     `json:"output,omitempty"`
	Summary      string     `json:"summary,omitempty"`
	DurationMs   int64      `json:"duration_ms"`
	Cost         float64    `json:"cost"`
	Error        *TaskError `json:"error,omitempty"`
	FilesChanged []string   `json:"files_changed,omitempty"`
	Steps        []*Step    `json:"steps"`
	Messages     []*Message `json:"messages"`
	Runs         int        `json:"runs"` // execute runs started
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TaskError is the diagnosis attached to a failed task.
type TaskError struct {
	Reason         string `json:"reason"`
	Recommendation string `json:"recommendation"`
	Step           *int   `json:"step,omitempty"` // last failed step, nil when none applies
	CanContinue    bool   `json:"canContinue"`
}

// Step is one tool invocation. Steps are append-only.
type Step struct {
	Number     int       `json:"number"`
	Tool       string    `json:"tool"`
	Input      string    `json:"input"` // raw JSON
	Output     string    `json:"output"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry in a task's conversation log.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Update carries the fields to change on a task. Nil fields are left as is.
type Update struct {
	Phase        *Phase     `json:"phase,omitempty"`
	Plan         *string    `json:"plan,omitempty"`
	Output       *string    `json:"output,omitempty"`
	Summary      *string    `json:"summary,omitempty"`
	DurationMs   *int64     `json:"duration_ms,omitempty"`
	Cost         *float64   `json:"cost,omitempty"`
	Error        *TaskError `json:"error,omitempty"`
	ClearError   bool       `json:"clear_error,omitempty"`
	FilesChanged []string   `json:"files_changed,omitempty"`
}

// Apply applies an event to the task, implementing the reduce pattern.
// Events that arrive before the task's create event are ignored.
func (t *Task) Apply(event Event) {
	if event.Type == nats.EventTypeTask && event.Action == "create" {
		t.applyCreate(event)
		return
	}
	if t.ID == "" {
		return
	}

	switch event.Type {
	case nats.EventTypeTask:
		t.applyTaskEvent(event)
	case nats.EventTypeStep:
		t.applyStepEvent(event)
	case nats.EventTypeMessage:
		t.applyMessageEvent(event)
	}
}

func (t *Task) applyCreate(event Event) {
	*t = Task{
		ID:        event.Task,
		Goal:      event.Data,
		Phase:     PhasePlanning,
		CreatedAt: event.Timestamp,
		UpdatedAt: event.Timestamp,
	}
}

// applyTaskEvent handles update and reset events.
func (t *Task) applyTaskEvent(event Event) {
	switch event.Action {
	case "update":
		var u Update
		if err := json.Unmarshal(event.Meta, &u); err != nil {
			logger.Warn("Ignoring malformed update for task %s: %v", t.ID, err)
			return
		}
		t.applyUpdate(u)
		t.UpdatedAt = event.Timestamp

	case "reset":
		t.Steps = nil
		t.Error = nil
		t.Output = ""
		t.Summary = ""
		t.FilesChanged = nil
		t.Runs++
		t.UpdatedAt = event.Timestamp
	}
}

func (t *Task) applyUpdate(u Update) {
	if u.Phase != nil {
		t.Phase = *u.Phase
	}
	if u.Plan != nil {
		t.Plan = *u.Plan
	}
	if u.Output != nil {
		t.Output = *u.Output
	}
	if u.Summary != nil {
		t.Summary = *u.Summary
	}
	if u.DurationMs != nil {
		t.DurationMs = *u.DurationMs
	}
	if u.Cost != nil {
		t.Cost = *u.Cost
	}
	if u.ClearError {
		t.Error = nil
	}
	if u.Error != nil {
		e := *u.Error
		t.Error = &e
	}
	if u.FilesChanged != nil {
		t.FilesChanged = u.FilesChanged
	}
}

func (t *Task) applyStepEvent(event Event) {
	if event.Action != "append" {
		return
	}
	var step Step
	if err := json.Unmarshal(event.Meta, &step); err != nil {
		logger.Warn("Ignoring malformed step for task %s: %v", t.ID, err)
		return
	}
	t.Steps = append(t.Steps, &step)
	t.UpdatedAt = event.Timestamp
}

func (t *Task) applyMessageEvent(event Event) {
	if event.Action != "append" {
		return
	}
	var meta struct {
		Role string `json:"role"`
	}
	_ = json.Unmarshal(event.Meta, &meta)
	t.Messages = append(t.Messages, &Message{
		Role:      meta.Role,
		Content:   event.Data,
		CreatedAt: event.Timestamp,
	})
	t.UpdatedAt = event.Timestamp
}

// Create starts a new task in the planning phase.
func (s *Store) Create(ctx context.Context, goal string) (*Task, error) {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return nil, ierr.Validation("create", "goal is required")
	}

	event := Event{
		Task:      NewID(goal),
		Timestamp: time.Now(),
		Type:      nats.EventTypeTask,
		Action:    "create",
		Data:      goal,
	}
	if _, err := s.PublishEvent(ctx, event); err != nil {
		return nil, err
	}

	task := &Task{}
	task.Apply(event)
	logger.Info("Created task %s", task.ID)
	return task, nil
}

// Get returns the current state of a task, or a NotFound error.
func (s *Store) Get(ctx context.Context, id string) (*Task, error) {
	task, err := s.LoadTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.ID == "" {
		return nil, ierr.NotFound("get", "task %q not found", id)
	}
	return task, nil
}

// Update applies u to a task. A phase change must be a legal transition.
func (s *Store) Update(ctx context.Context, id string, u Update) (*Task, error) {
	task, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if u.Phase != nil {
		if !u.Phase.Valid() {
			return nil, ierr.Validation("update", "unknown phase %q", *u.Phase)
		}
		if *u.Phase != task.Phase && !CanTransition(task.Phase, *u.Phase) {
			return nil, ierr.Validation("update", "task %s cannot move from %s to %s", id, task.Phase, *u.Phase)
		}
	}

	meta, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal update: %w", err)
	}

	event := Event{
		Task:      id,
		Timestamp: time.Now(),
		Type:      nats.EventTypeTask,
		Action:    "update",
		Meta:      meta,
	}
	if _, err := s.PublishEvent(ctx, event); err != nil {
		return nil, err
	}

	task.Apply(event)
	return task, nil
}

// SetPhase is shorthand for an Update that only changes the phase.
func (s *Store) SetPhase(ctx context.Context, id string, phase Phase) (*Task, error) {
	return s.Update(ctx, id, Update{Phase: &phase})
}

// AppendStep records one tool invocation.
func (s *Store) AppendStep(ctx context.Context, id string, step Step) error {
	if step.CreatedAt.IsZero() {
		step.CreatedAt = time.Now()
	}
	meta, err := json.Marshal(step)
	if err != nil {
		return fmt.Errorf("failed to marshal step: %w", err)
	}
	_, err = s.PublishEvent(ctx, Event{
		Task:      id,
		Timestamp: step.CreatedAt,
		Type:      nats.EventTypeStep,
		Action:    "append",
		Meta:      meta,
	})
	return err
}

// AppendMessage adds an entry to the task's conversation log.
func (s *Store) AppendMessage(ctx context.Context, id, role, content string) error {
	if role != RoleUser && role != RoleAssistant {
		return ierr.Validation("append_message", "invalid role %q (must be user or assistant)", role)
	}
	meta, _ := json.Marshal(map[string]string{"role": role})
	_, err := s.PublishEvent(ctx, Event{
		Task:   id,
		Type:   nats.EventTypeMessage,
		Action: "append",
		Meta:   meta,
		Data:   content,
	})
	return err
}

// ResetRun clears the per-run fields (steps, error, output, summary, files
// changed) and bumps the run counter before a new execute run.
func (s *Store) ResetRun(ctx context.Context, id string) (*Task, error) {
	task, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	event := Event{
		Task:      id,
		Timestamp: time.Now(),
		Type:      nats.EventTypeTask,
		Action:    "reset",
	}
	if _, err := s.PublishEvent(ctx, event); err != nil {
		return nil, err
	}
	task.Apply(event)
	return task, nil
}
