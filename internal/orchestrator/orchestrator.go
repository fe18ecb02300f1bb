// Package orchestrator drives a task through a planning call or an iterative
// tool-calling loop against the model service.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	ierr "github.com/mark3labs/taskr/internal/errors"
	"github.com/mark3labs/taskr/internal/hooks"
	"github.com/mark3labs/taskr/internal/llm"
	"github.com/mark3labs/taskr/internal/logger"
	"github.com/mark3labs/taskr/internal/registry"
	"github.com/mark3labs/taskr/internal/session"
	"github.com/mark3labs/taskr/internal/template"
	"github.com/mark3labs/taskr/internal/tools"
)

// Mode selects what a run does.
type Mode string

const (
	ModePlan    Mode = "plan"
	ModeExecute Mode = "execute"
)

// Rates are the per-million-token prices in USD.
type Rates struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// Cost returns the price of u at these rates.
func (r Rates) Cost(u llm.Usage) float64 {
	return float64(u.InputTokens)/1e6*r.InputPerMTok + float64(u.OutputTokens)/1e6*r.OutputPerMTok
}

// ExecutorFactory builds a fresh tool executor for one run, reporting each
// invocation to obs.
type ExecutorFactory func(obs tools.Observer) *tools.Executor

// Config holds configuration for the orchestrator.
type Config struct {
	Client         llm.Client         // Model service (already wrapped with retry)
	Registry       *registry.Registry // Running-task registry (created if nil)
	NewExecutor    ExecutorFactory    // Tool executor per run
	MaxIterations  int                // Tool-loop ceiling per execute run
	MaxTokens      int                // Max output tokens per model call
	Rates          Rates              // Token prices
	SystemTemplate string             // Execute system prompt (default embedded)
	Workspace      string             // Workspace root, shown to the model and used as hook dir
	Hooks          *hooks.Config      // Optional pre_execute / post_run hooks
}

// Orchestrator runs plan and execute requests. It is safe for concurrent use
// by runs of different tasks.
type Orchestrator struct {
	cfg   Config
	specs []llm.ToolSpec
}

// New creates a new Orchestrator with the given configuration.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("model client is required")
	}
	if cfg.NewExecutor == nil {
		return nil, fmt.Errorf("executor factory is required")
	}
	if cfg.Registry == nil {
		cfg.Registry = registry.New()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 25
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.SystemTemplate == "" {
		cfg.SystemTemplate = template.DefaultExecuteSystem
	}
	return &Orchestrator{cfg: cfg, specs: tools.Specs()}, nil
}

// Registry returns the registry runs are tracked in.
func (o *Orchestrator) Registry() *registry.Registry {
	return o.cfg.Registry
}

// Continuation carries the context of a previous, unfinished run.
type Continuation struct {
	PreviousPlan  string
	PreviousError string
	Adjustment    string
}

// Request describes one run.
type Request struct {
	TaskID       string
	Goal         string
	Mode         Mode
	Plan         string        // approved plan (execute mode)
	Continuation *Continuation // set when resuming a failed/stopped/rejected task
	History      []llm.Turn    // prior conversation, oldest first
	Message      string        // follow-up user message appended after History
	OnStep       tools.Observer

	// Held is set when the caller already acquired TaskID in the registry
	// and releases it after Run returns.
	Held bool
}

// StepRecord is one tool invocation of a run.
type StepRecord = tools.StepEvent

// Failure is the diagnosis of a failed or stopped run.
type Failure struct {
	Reason         string `json:"reason"`
	Recommendation string `json:"recommendation"`
	Step           *int   `json:"step,omitempty"`
	CanContinue    bool   `json:"canContinue"`
}

// Result is the outcome of a run. Run never returns a Go error; failures are
// reported through Phase and Error.
type Result struct {
	RunID        string
	Success      bool
	Phase        session.Phase
	Output       string
	Summary      string
	Plan         string
	Steps        []StepRecord
	Iterations   int
	Duration     time.Duration
	Cost         float64
	Usage        llm.Usage
	Error        *Failure
	FilesChanged []string
}

// errIterationLimit marks a run that hit MaxIterations.
var errIterationLimit = errors.New("iteration limit reached")

// run is the mutable state of one invocation.
type run struct {
	req        Request
	res        *Result
	turns      []llm.Turn
	lastFailed *int
	executor   *tools.Executor
}

func (r *run) observe(ev tools.StepEvent) {
	r.res.Steps = append(r.res.Steps, ev)
	if !ev.Success {
		n := ev.Number
		r.lastFailed = &n
	}
	if r.req.OnStep != nil {
		r.req.OnStep(ev)
	}
}

// Run executes req and returns its result.
func (o *Orchestrator) Run(ctx context.Context, req Request) *Result {
	start := time.Now()
	r := &run{req: req, res: &Result{RunID: uuid.NewString()}}
	logger.Info("Run %s started: task=%s mode=%s", r.res.RunID, req.TaskID, req.Mode)

	var runErr error
	panicErr := ierr.Recover(func() error {
		switch req.Mode {
		case ModePlan:
			runErr = o.plan(ctx, r)
		case ModeExecute:
			runErr = o.execute(ctx, r)
		default:
			runErr = ierr.Validation("run", "unknown mode %q", req.Mode)
		}
		return nil
	})
	if panicErr != nil {
		var pe *ierr.PanicError
		if errors.As(panicErr, &pe) {
			logger.Error("Run %s panicked: %v\n%s", r.res.RunID, pe.Value, pe.StackTrace)
		}
		runErr = ierr.Wrap(ierr.KindOrchestration, "run", panicErr)
	}

	if runErr != nil {
		o.fail(ctx, r, runErr)
	}

	if r.executor != nil {
		r.res.FilesChanged = r.executor.Tracker().ModifiedPaths()
	}
	r.res.Cost = o.cfg.Rates.Cost(r.res.Usage)
	r.res.Duration = time.Since(start)

	if req.Mode == ModeExecute {
		o.postRun(ctx, r)
	}

	logger.Info("Run %s finished: phase=%s steps=%d iterations=%d cost=$%.4f duration=%s",
		r.res.RunID, r.res.Phase, len(r.res.Steps), r.res.Iterations, r.res.Cost, r.res.Duration.Round(time.Millisecond))
	return r.res
}

// plan makes a single tool-less model call and returns its text as the plan.
func (o *Orchestrator) plan(ctx context.Context, r *run) error {
	vars := template.Variables{Workspace: o.cfg.Workspace, Goal: r.req.Goal}

	turns := appendTurns(nil, r.req.History...)
	turns = appendTurns(turns, llm.UserText(template.Render(template.PlanInstruction, vars)))

	r.res.Iterations = 1
	resp, err := o.cfg.Client.Complete(ctx, llm.Request{
		System:    template.Render(template.PlanSystem, vars),
		Turns:     turns,
		MaxTokens: o.cfg.MaxTokens,
	})
	if err != nil {
		return fmt.Errorf("planning call failed: %w", err)
	}
	r.res.Usage.Add(resp.Usage)

	plan := resp.Text()
	if plan == "" {
		return ierr.New(ierr.KindOrchestration, "plan", "the model returned an empty plan")
	}

	r.res.Success = true
	r.res.Phase = session.PhaseAwaitingApproval
	r.res.Plan = plan
	r.res.Output = plan
	return nil
}

// execute drives the tool-calling loop.
func (o *Orchestrator) execute(ctx context.Context, r *run) error {
	if !r.req.Held {
		release, err := o.cfg.Registry.Acquire(r.req.TaskID)
		if err != nil {
			return ierr.Wrap(ierr.KindValidation, "execute", err)
		}
		defer release()
	}

	r.executor = o.cfg.NewExecutor(r.observe)

	hookOutput := ""
	var err error
	if o.cfg.Hooks != nil && len(o.cfg.Hooks.Hooks.PreExecute) > 0 {
		hookOutput, err = hooks.ExecuteAllPiped(ctx, o.cfg.Hooks.Hooks.PreExecute, o.cfg.Workspace,
			hooks.Variables{Task: r.req.TaskID, Phase: string(session.PhaseExecuting)})
		if err != nil {
			o.stop(r)
			return nil
		}
	}

	system := template.Render(o.cfg.SystemTemplate, template.Variables{
		Workspace: o.cfg.Workspace,
		Hooks:     template.FormatHooks(hookOutput),
	})

	seed := template.Variables{Goal: r.req.Goal, Plan: r.req.Plan}
	if c := r.req.Continuation; c != nil {
		if seed.Plan == "" {
			seed.Plan = c.PreviousPlan
		}
		seed.PreviousError = c.PreviousError
		seed.Adjustment = c.Adjustment
	}
	if seed.Plan == "" {
		seed.Plan = "(no plan recorded; work directly from the goal)"
	}
	r.turns = appendTurns(nil, llm.UserText(template.BuildSeed(seed)))
	r.turns = appendTurns(r.turns, r.req.History...)
	if r.req.Message != "" {
		r.turns = appendTurns(r.turns, llm.UserText(r.req.Message))
	}

	for iteration := 1; iteration <= o.cfg.MaxIterations; iteration++ {
		if o.aborted(ctx, r.req.TaskID) {
			o.stop(r)
			return nil
		}
		r.res.Iterations = iteration
		logger.Debug("Task %s iteration %d/%d", r.req.TaskID, iteration, o.cfg.MaxIterations)

		resp, err := o.cfg.Client.Complete(ctx, llm.Request{
			System:    system,
			Turns:     r.turns,
			Tools:     o.specs,
			MaxTokens: o.cfg.MaxTokens,
		})
		if err != nil {
			if ctx.Err() != nil {
				o.stop(r)
				return nil
			}
			return fmt.Errorf("model call failed: %w", err)
		}
		r.res.Usage.Add(resp.Usage)
		r.turns = appendTurns(r.turns, llm.Turn{Role: llm.RoleAssistant, Blocks: resp.Blocks})

		if text := resp.Text(); text != "" {
			r.res.Output = text
		}

		uses := resp.ToolUses()
		if len(uses) == 0 {
			o.complete(r, firstLine(r.res.Output))
			return nil
		}

		results := make([]llm.Block, 0, len(uses))
		for _, use := range uses {
			if o.aborted(ctx, r.req.TaskID) {
				o.stop(r)
				return nil
			}
			result := r.executor.Execute(ctx, use.Name, use.Input)
			results = append(results, llm.ToolResultBlock(use.ID, result.Content(), !result.Success))

			if tools.Name(use.Name) == tools.TaskComplete && result.Success {
				if r.res.Output == "" {
					r.res.Output = result.Output
				}
				o.complete(r, result.Output)
				return nil
			}
		}
		r.turns = appendTurns(r.turns, llm.Turn{Role: llm.RoleUser, Blocks: results})
	}

	return errIterationLimit
}

func (o *Orchestrator) aborted(ctx context.Context, taskID string) bool {
	return ctx.Err() != nil || o.cfg.Registry.Aborted(taskID)
}

func (o *Orchestrator) complete(r *run, summary string) {
	r.res.Success = true
	r.res.Phase = session.PhaseCompleted
	r.res.Summary = summary
	logger.Info("Task %s completed after %d step(s)", r.req.TaskID, len(r.res.Steps))
}

func (o *Orchestrator) stop(r *run) {
	r.res.Success = false
	r.res.Phase = session.PhaseStopped
	r.res.Error = &Failure{
		Reason:         "the task was stopped before it finished",
		Recommendation: "Continue the task to resume from the current state of the workspace.",
		CanContinue:    true,
	}
	logger.Info("Task %s stopped after %d step(s)", r.req.TaskID, len(r.res.Steps))
}

// postRun fires post_run hooks with the final phase. They run even when ctx
// was cancelled; each hook carries its own timeout.
func (o *Orchestrator) postRun(ctx context.Context, r *run) {
	if o.cfg.Hooks == nil || len(o.cfg.Hooks.Hooks.PostRun) == 0 {
		return
	}
	results, err := hooks.ExecuteAll(context.WithoutCancel(ctx), o.cfg.Hooks.Hooks.PostRun, o.cfg.Workspace,
		hooks.Variables{Task: r.req.TaskID, Phase: string(r.res.Phase)})
	if err != nil {
		logger.Warn("post_run hooks aborted for task %s: %v", r.req.TaskID, err)
	}
	for _, res := range results {
		if res.Failed() {
			logger.Warn("post_run hook %q for task %s: %s", res.Command, r.req.TaskID, res.Status())
		}
	}
}

// appendTurns adds turns, merging consecutive turns of the same role so the
// conversation keeps alternating.
func appendTurns(turns []llm.Turn, more ...llm.Turn) []llm.Turn {
	for _, t := range more {
		if len(t.Blocks) == 0 {
			continue
		}
		if n := len(turns); n > 0 && turns[n-1].Role == t.Role {
			merged := append(append([]llm.Block{}, turns[n-1].Blocks...), t.Blocks...)
			turns[n-1] = llm.Turn{Role: t.Role, Blocks: merged}
			continue
		}
		turns = append(turns, t)
	}
	return turns
}
