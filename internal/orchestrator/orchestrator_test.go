package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mark3labs/taskr/internal/hooks"
	"github.com/mark3labs/taskr/internal/llm"
	"github.com/mark3labs/taskr/internal/registry"
	"github.com/mark3labs/taskr/internal/sandbox"
	"github.com/mark3labs/taskr/internal/session"
	"github.com/mark3labs/taskr/internal/template"
	"github.com/mark3labs/taskr/internal/tools"
)

type reply func(req llm.Request) (*llm.Response, error)

// fakeClient replays a script of replies. Diagnosis calls are answered by
// diagnose so they never consume the script.
type fakeClient struct {
	mu        sync.Mutex
	script    []reply
	fallback  reply
	diagnose  reply
	requests  []llm.Request
	diagCalls int
}

func (f *fakeClient) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	if req.System == template.DiagnoseSystem {
		f.diagCalls++
		d := f.diagnose
		f.mu.Unlock()
		if d == nil {
			return nil, errors.New("diagnosis unavailable")
		}
		return d(req)
	}
	f.requests = append(f.requests, req)
	next := f.fallback
	if len(f.script) > 0 {
		next = f.script[0]
		f.script = f.script[1:]
	}
	f.mu.Unlock()
	if next == nil {
		return textReply("done")(req)
	}
	return next(req)
}

func textReply(text string) reply {
	return func(llm.Request) (*llm.Response, error) {
		return &llm.Response{Blocks: []llm.Block{llm.TextBlock(text)}, StopReason: "end_turn"}, nil
	}
}

func use(id, name, input string) llm.Block {
	return llm.ToolUseBlock(id, name, json.RawMessage(input))
}

func toolReply(blocks ...llm.Block) reply {
	return func(llm.Request) (*llm.Response, error) {
		return &llm.Response{Blocks: blocks, StopReason: "tool_use"}, nil
	}
}

func errReply(err error) reply {
	return func(llm.Request) (*llm.Response, error) { return nil, err }
}

func newOrchestrator(t *testing.T, client llm.Client, mutate func(*Config)) (*Orchestrator, string) {
	t.Helper()
	resolver, err := sandbox.New(filepath.Join(t.TempDir(), "ws"))
	require.NoError(t, err)

	cfg := Config{
		Client:   client,
		Registry: registry.New(),
		NewExecutor: func(obs tools.Observer) *tools.Executor {
			return tools.New(tools.Config{Resolver: resolver, Observer: obs})
		},
		MaxIterations: 10,
		Rates:         Rates{InputPerMTok: 3, OutputPerMTok: 15},
		Workspace:     resolver.Root(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	o, err := New(cfg)
	require.NoError(t, err)
	return o, resolver.Root()
}

func executeRequest(goal string) Request {
	return Request{TaskID: "task-1", Goal: goal, Mode: ModeExecute, Plan: "1. do it"}
}

func TestNewRequiresClientAndFactory(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
	_, err = New(Config{Client: &fakeClient{}})
	assert.Error(t, err)
}

func TestScenarioA_ListEmptyWorkspace(t *testing.T) {
	client := &fakeClient{script: []reply{
		toolReply(use("call_1", "list_files", `{"path":"."}`)),
		toolReply(use("call_2", "task_complete", `{"summary":"The workspace is empty."}`)),
	}}
	o, _ := newOrchestrator(t, client, nil)

	res := o.Run(context.Background(), executeRequest("list files in the workspace root"))

	require.True(t, res.Success)
	assert.Equal(t, session.PhaseCompleted, res.Phase)
	require.Len(t, res.Steps, 2)
	assert.Equal(t, "list_files", res.Steps[0].Tool)
	assert.Equal(t, "(empty directory)", res.Steps[0].Output)
	assert.True(t, res.Steps[0].Success)
	assert.Equal(t, "task_complete", res.Steps[1].Tool)
	assert.Equal(t, "The workspace is empty.", res.Summary)
	assert.Nil(t, res.Error)
	assert.NotEmpty(t, res.RunID)

	require.Len(t, client.requests, 2)
	assert.NotEmpty(t, client.requests[0].Tools)
	last := client.requests[1].Turns[len(client.requests[1].Turns)-1]
	assert.Equal(t, llm.RoleUser, last.Role)
	require.Len(t, last.Blocks, 1)
	assert.Equal(t, llm.BlockToolResult, last.Blocks[0].Type)
	assert.Equal(t, "call_1", last.Blocks[0].ToolUseID)
	assert.Equal(t, "(empty directory)", last.Blocks[0].Content)
	assert.False(t, o.Registry().Running("task-1"))
}

func TestScenarioB_DeniedCommandContinues(t *testing.T) {
	client := &fakeClient{script: []reply{
		toolReply(use("call_1", "execute_bash", `{"command":"rm -rf /"}`)),
		textReply("That command is not allowed, so I stopped."),
	}}
	o, _ := newOrchestrator(t, client, nil)

	res := o.Run(context.Background(), executeRequest("wipe everything"))

	require.Len(t, res.Steps, 1)
	assert.False(t, res.Steps[0].Success)
	assert.True(t, strings.HasPrefix(res.Steps[0].Output, "Error: Command not allowed"), res.Steps[0].Output)

	require.Len(t, client.requests, 2, "loop continues after the refusal")
	last := client.requests[1].Turns[len(client.requests[1].Turns)-1]
	require.Len(t, last.Blocks, 1)
	assert.True(t, last.Blocks[0].IsError)

	assert.Equal(t, session.PhaseCompleted, res.Phase)
	assert.Equal(t, "That command is not allowed, so I stopped.", res.Output)
}

func TestScenarioC_IterationCeiling(t *testing.T) {
	client := &fakeClient{
		fallback: toolReply(use("call", "list_files", `{}`)),
		diagnose: textReply("```json\n{\"reason\":\"kept listing\",\"recommendation\":\"Give a narrower goal\",\"canContinue\":true}\n```"),
	}
	o, _ := newOrchestrator(t, client, func(c *Config) { c.MaxIterations = 3 })

	res := o.Run(context.Background(), executeRequest("loop forever"))

	assert.False(t, res.Success)
	assert.Equal(t, session.PhaseFailed, res.Phase)
	assert.Len(t, res.Steps, 3)
	assert.Equal(t, 3, res.Iterations)
	require.NotNil(t, res.Error)
	assert.Nil(t, res.Error.Step)
	assert.Contains(t, res.Error.Reason, "iteration limit of 3")
	assert.Equal(t, "Give a narrower goal", res.Error.Recommendation)
	assert.Equal(t, 1, client.diagCalls)
}

func TestFailureRecordsLastFailedStep(t *testing.T) {
	client := &fakeClient{script: []reply{
		toolReply(use("call_1", "read_file", `{"path":"missing.txt"}`)),
		errReply(errors.New("invalid request")),
	}}
	o, _ := newOrchestrator(t, client, nil)

	res := o.Run(context.Background(), executeRequest("read a missing file"))

	assert.Equal(t, session.PhaseFailed, res.Phase)
	require.NotNil(t, res.Error)
	require.NotNil(t, res.Error.Step)
	assert.Equal(t, 1, *res.Error.Step)
	assert.Equal(t, "model call failed: invalid request", res.Error.Reason)
	assert.Equal(t, genericRecommendation, res.Error.Recommendation)
	assert.Equal(t, 1, client.diagCalls)
}

func TestFailureUsesDiagnosis(t *testing.T) {
	client := &fakeClient{
		script:   []reply{errReply(errors.New("overloaded"))},
		diagnose: textReply(`Sure: {"reason":"The model service is overloaded","recommendation":"Retry later","canContinue":false}`),
	}
	o, _ := newOrchestrator(t, client, nil)

	res := o.Run(context.Background(), executeRequest("anything"))

	require.NotNil(t, res.Error)
	assert.Equal(t, "The model service is overloaded", res.Error.Reason)
	assert.Equal(t, "Retry later", res.Error.Recommendation)
	assert.False(t, res.Error.CanContinue)
	assert.Nil(t, res.Error.Step)
}

func TestPanicBecomesFailure(t *testing.T) {
	client := &fakeClient{script: []reply{func(llm.Request) (*llm.Response, error) {
		panic("boom")
	}}}
	o, _ := newOrchestrator(t, client, nil)

	res := o.Run(context.Background(), executeRequest("explode"))

	assert.Equal(t, session.PhaseFailed, res.Phase)
	require.NotNil(t, res.Error)
	assert.Equal(t, "panic: boom", res.Error.Reason)
	assert.False(t, o.Registry().Running("task-1"), "registry entry released on panic")
}

func TestStepNumbering(t *testing.T) {
	client := &fakeClient{script: []reply{
		toolReply(use("a", "list_files", `{}`), use("b", "create_directory", `{"path":"src"}`)),
		toolReply(use("c", "write_file", `{"path":"src/main.go","content":"package main\n"}`), use("d", "list_files", `{"path":"src"}`)),
		toolReply(use("e", "task_complete", `{"summary":"done"}`)),
	}}
	var observed []int
	o, root := newOrchestrator(t, client, nil)

	req := executeRequest("scaffold")
	req.OnStep = func(ev tools.StepEvent) { observed = append(observed, ev.Number) }
	res := o.Run(context.Background(), req)

	require.True(t, res.Success)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, observed)
	for i, step := range res.Steps {
		assert.Equal(t, i+1, step.Number)
	}
	assert.Equal(t, []string{"src", "src/main.go"}, res.FilesChanged)
	_, err := os.Stat(filepath.Join(root, "src", "main.go"))
	assert.NoError(t, err)
}

func TestCancellationLatency(t *testing.T) {
	client := &fakeClient{script: []reply{
		toolReply(use("a", "list_files", `{}`), use("b", "list_files", `{}`), use("c", "list_files", `{}`)),
	}}
	o, _ := newOrchestrator(t, client, nil)

	req := executeRequest("stop me")
	req.OnStep = func(ev tools.StepEvent) {
		if ev.Number == 1 {
			o.Registry().Abort(req.TaskID)
		}
	}
	res := o.Run(context.Background(), req)

	assert.Equal(t, session.PhaseStopped, res.Phase)
	assert.LessOrEqual(t, len(res.Steps), 2)
	assert.Len(t, client.requests, 1)
	require.NotNil(t, res.Error)
	assert.True(t, res.Error.CanContinue)
	assert.False(t, o.Registry().Running(req.TaskID))
}

func TestContextCancelledStops(t *testing.T) {
	client := &fakeClient{}
	o, _ := newOrchestrator(t, client, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := o.Run(ctx, executeRequest("never runs"))

	assert.Equal(t, session.PhaseStopped, res.Phase)
	assert.Empty(t, client.requests)
	assert.Zero(t, client.diagCalls)
}

func TestAlreadyRunning(t *testing.T) {
	client := &fakeClient{}
	o, _ := newOrchestrator(t, client, nil)

	release, err := o.Registry().Acquire("task-1")
	require.NoError(t, err)
	defer release()

	res := o.Run(context.Background(), executeRequest("twice"))
	assert.Equal(t, session.PhaseFailed, res.Phase)
	require.NotNil(t, res.Error)
	assert.Equal(t, "the task is already running", res.Error.Reason)
	assert.Empty(t, client.requests)
	assert.True(t, o.Registry().Running("task-1"), "the other run keeps its entry")
}

func TestHeldRegistrySlot(t *testing.T) {
	client := &fakeClient{}
	o, _ := newOrchestrator(t, client, nil)

	release, err := o.Registry().Acquire("task-1")
	require.NoError(t, err)

	req := executeRequest("held by caller")
	req.Held = true
	res := o.Run(context.Background(), req)
	assert.Equal(t, session.PhaseCompleted, res.Phase)
	assert.True(t, o.Registry().Running("task-1"), "the caller still owns the entry")

	release()
	assert.False(t, o.Registry().Running("task-1"))
}

func TestCost(t *testing.T) {
	usage := llm.Usage{InputTokens: 500_000, OutputTokens: 500_000}
	client := &fakeClient{script: []reply{
		func(llm.Request) (*llm.Response, error) {
			return &llm.Response{Blocks: []llm.Block{use("a", "list_files", `{}`)}, Usage: usage}, nil
		},
		func(llm.Request) (*llm.Response, error) {
			return &llm.Response{Blocks: []llm.Block{use("b", "task_complete", `{"summary":"ok"}`)}, Usage: usage}, nil
		},
	}}
	o, _ := newOrchestrator(t, client, nil)

	res := o.Run(context.Background(), executeRequest("count tokens"))

	assert.Equal(t, llm.Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000}, res.Usage)
	assert.InDelta(t, 18.0, res.Cost, 1e-9)
}

func TestPlanMode(t *testing.T) {
	client := &fakeClient{script: []reply{textReply("1. Create hello.txt\n2. Read it back")}}
	o, root := newOrchestrator(t, client, nil)

	res := o.Run(context.Background(), Request{TaskID: "task-1", Goal: "make hello.txt", Mode: ModePlan})

	require.True(t, res.Success)
	assert.Equal(t, session.PhaseAwaitingApproval, res.Phase)
	assert.Equal(t, "1. Create hello.txt\n2. Read it back", res.Plan)
	assert.Empty(t, res.Steps)

	require.Len(t, client.requests, 1)
	req := client.requests[0]
	assert.Nil(t, req.Tools)
	assert.Contains(t, req.System, root)
	require.Len(t, req.Turns, 1)
	assert.Contains(t, req.Turns[0].Blocks[0].Text, "make hello.txt")
}

func TestPlanModeEmptyPlanFails(t *testing.T) {
	client := &fakeClient{script: []reply{textReply("")}}
	o, _ := newOrchestrator(t, client, nil)

	res := o.Run(context.Background(), Request{TaskID: "task-1", Goal: "g", Mode: ModePlan})
	assert.Equal(t, session.PhaseFailed, res.Phase)
	require.NotNil(t, res.Error)
	assert.Contains(t, res.Error.Reason, "empty plan")
}

func TestContinuationSeed(t *testing.T) {
	client := &fakeClient{}
	o, _ := newOrchestrator(t, client, nil)

	req := executeRequest("make hello.txt")
	req.Plan = ""
	req.Continuation = &Continuation{
		PreviousPlan:  "1. run a shell redirect",
		PreviousError: "Command not allowed",
		Adjustment:    "use write_file instead",
	}
	res := o.Run(context.Background(), req)
	require.True(t, res.Success)

	seed := client.requests[0].Turns[0].Blocks[0].Text
	assert.Contains(t, seed, "## Approved Plan\n1. run a shell redirect")
	assert.Contains(t, seed, "Previous error:\nCommand not allowed")
	assert.Contains(t, seed, "## Adjustment\nuse write_file instead")
}

func TestHistoryAndMessageKeepAlternation(t *testing.T) {
	client := &fakeClient{}
	o, _ := newOrchestrator(t, client, nil)

	req := executeRequest("chat")
	req.History = []llm.Turn{llm.UserText("chat"), llm.AssistantText("Done earlier.")}
	req.Message = "also add a LICENSE"
	o.Run(context.Background(), req)

	turns := client.requests[0].Turns
	require.Len(t, turns, 3)
	assert.Equal(t, llm.RoleUser, turns[0].Role)
	assert.Len(t, turns[0].Blocks, 2)
	assert.Equal(t, llm.RoleAssistant, turns[1].Role)
	assert.Equal(t, "also add a LICENSE", turns[2].Blocks[0].Text)
}

func TestHooks(t *testing.T) {
	client := &fakeClient{}
	o, root := newOrchestrator(t, client, func(c *Config) {
		c.Hooks = &hooks.Config{Hooks: hooks.HooksConfig{
			PreExecute: []*hooks.HookConfig{{Command: "echo hook-says-hi", PipeOutput: true}},
			PostRun:    []*hooks.HookConfig{{Command: "echo {{task}} {{phase}} > post-run.txt"}},
		}}
	})

	res := o.Run(context.Background(), executeRequest("hooks"))
	require.True(t, res.Success)

	assert.Contains(t, client.requests[0].System, "## Pre-execute Hook Output\nhook-says-hi")
	data, err := os.ReadFile(filepath.Join(root, "post-run.txt"))
	require.NoError(t, err)
	assert.Equal(t, "task-1 completed\n", string(data))
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		ok     bool
		reason string
	}{
		{"plain", `{"reason":"a"}`, true, "a"},
		{"fenced", "```json\n{\"reason\":\"b\"}\n```", true, "b"},
		{"prose around", `The answer is {"reason":"c","canContinue":true}. Hope it helps.`, true, "c"},
		{"no object", "no json here", false, ""},
		{"broken", `{"reason":`, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d diagnosis
			assert.Equal(t, tt.ok, extractJSON(tt.text, &d))
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestRatesCost(t *testing.T) {
	r := Rates{InputPerMTok: 3, OutputPerMTok: 15}
	assert.InDelta(t, 0.0105, r.Cost(llm.Usage{InputTokens: 1000, OutputTokens: 500}), 1e-12)
}
