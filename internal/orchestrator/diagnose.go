package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	ierr "github.com/mark3labs/taskr/internal/errors"
	"github.com/mark3labs/taskr/internal/llm"
	"github.com/mark3labs/taskr/internal/logger"
	"github.com/mark3labs/taskr/internal/registry"
	"github.com/mark3labs/taskr/internal/session"
	"github.com/mark3labs/taskr/internal/template"
)

const (
	genericRecommendation = "Review the error and the recorded steps, then continue the task with an adjusted instruction or retry it."
	diagnoseMaxTokens     = 512
	diagnoseSteps         = 5
	diagnoseOutputLen     = 400
)

// diagnosis is the JSON object DiagnoseSystem asks for.
type diagnosis struct {
	Reason         string `json:"reason"`
	Recommendation string `json:"recommendation"`
	CanContinue    *bool  `json:"canContinue"`
}

// fail turns err into a failed result, asking the model once for a diagnosis.
func (o *Orchestrator) fail(ctx context.Context, r *run, err error) {
	logger.Error("Task %s run failed: %v", r.req.TaskID, err)
	r.res.Success = false
	r.res.Phase = session.PhaseFailed

	if errors.Is(err, registry.ErrAlreadyRunning) {
		r.res.Error = &Failure{
			Reason:         "the task is already running",
			Recommendation: "Wait for the current run to finish or stop it first.",
		}
		return
	}

	failure := &Failure{
		Reason:         describe(err),
		Recommendation: genericRecommendation,
		Step:           r.lastFailed,
		CanContinue:    true,
	}
	if errors.Is(err, errIterationLimit) {
		failure.Reason = fmt.Sprintf("reached the iteration limit of %d without the task being completed", o.cfg.MaxIterations)
		failure.Step = nil
	}

	if d, ok := o.diagnose(ctx, r, failure.Reason); ok {
		if d.Reason != "" && !errors.Is(err, errIterationLimit) {
			failure.Reason = d.Reason
		}
		if d.Recommendation != "" {
			failure.Recommendation = d.Recommendation
		}
		if d.CanContinue != nil {
			failure.CanContinue = *d.CanContinue
		}
	}
	r.res.Error = failure
}

// diagnose makes the best-effort secondary call. It reports false when the
// call fails or the reply holds no usable JSON.
func (o *Orchestrator) diagnose(ctx context.Context, r *run, cause string) (diagnosis, bool) {
	if ctx.Err() != nil {
		return diagnosis{}, false
	}
	instruction := template.Render(template.DiagnoseInstruction, template.Variables{
		Goal:          r.req.Goal,
		PreviousError: cause,
		Steps:         formatSteps(r.res.Steps),
	})

	var resp *llm.Response
	err := ierr.Recover(func() error {
		var callErr error
		resp, callErr = o.cfg.Client.Complete(ctx, llm.Request{
			System:    template.DiagnoseSystem,
			Turns:     []llm.Turn{llm.UserText(instruction)},
			MaxTokens: diagnoseMaxTokens,
		})
		return callErr
	})
	if err != nil {
		logger.Warn("Diagnosis call failed for task %s: %v", r.req.TaskID, err)
		return diagnosis{}, false
	}
	r.res.Usage.Add(resp.Usage)

	var d diagnosis
	if !extractJSON(resp.Text(), &d) {
		logger.Warn("Diagnosis for task %s was not valid JSON", r.req.TaskID)
		return diagnosis{}, false
	}
	return d, true
}

// extractJSON decodes the first {...} object found in text, tolerating code
// fences and surrounding prose.
func extractJSON(text string, v any) bool {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return false
	}
	return json.Unmarshal([]byte(text[start:end+1]), v) == nil
}

// formatSteps renders the last few steps for the diagnosis prompt.
func formatSteps(steps []StepRecord) string {
	if len(steps) == 0 {
		return "(no tool calls were made)"
	}
	if len(steps) > diagnoseSteps {
		steps = steps[len(steps)-diagnoseSteps:]
	}
	var sb strings.Builder
	for _, s := range steps {
		status := "ok"
		if !s.Success {
			status = "failed"
		}
		output := s.Output
		if len(output) > diagnoseOutputLen {
			output = output[:diagnoseOutputLen] + "..."
		}
		fmt.Fprintf(&sb, "- #%d %s %s (%s)\n  input: %s\n  output: %s\n", s.Number, s.Tool, status, s.Duration.Round(time.Millisecond), s.Input, output)
	}
	return sb.String()
}

// describe renders err without classification prefixes.
func describe(err error) string {
	var e *ierr.Error
	if errors.As(err, &e) && error(e) == err {
		return e.Detail()
	}
	return err.Error()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
