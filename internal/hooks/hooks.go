package hooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/taskr/internal/logger"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the name of the hooks configuration file.
const ConfigFileName = ".taskr.hooks.yml"

// LoadConfig loads the hooks configuration from the workspace.
// Returns nil if the config file doesn't exist (hooks are optional).
// Returns an error only if the file exists but cannot be parsed.
func LoadConfig(workDir string) (*Config, error) {
	configPath := filepath.Join(workDir, ConfigFileName)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug("No hooks config found at %s", configPath)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read hooks config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse hooks config: %w", err)
	}

	logger.Debug("Loaded hooks config from %s (version: %d, pre_execute: %d, post_run: %d)",
		configPath, cfg.Version, len(cfg.Hooks.PreExecute), len(cfg.Hooks.PostRun))
	return &cfg, nil
}

// Variables holds template variables that can be expanded in hook commands.
type Variables struct {
	Task  string
	Phase string
}

// Result is the outcome of one hook command.
type Result struct {
	Command  string // command after variable expansion
	Stdout   string
	Stderr   string
	ExitCode int
	Timeout  time.Duration
	TimedOut bool
	Duration time.Duration
	Err      error // exit or start error, nil on success
}

// Failed reports whether the hook did not exit cleanly.
func (r *Result) Failed() bool {
	return r.TimedOut || r.Err != nil
}

// Status is a short description for logs: "ok", "exit 3", "timed out after 30s"
// or the start error.
func (r *Result) Status() string {
	var exitErr *exec.ExitError
	switch {
	case r.TimedOut:
		return fmt.Sprintf("timed out after %ds", int(r.Timeout.Seconds()))
	case r.Err == nil:
		return "ok"
	case errors.As(r.Err, &exitErr):
		return fmt.Sprintf("exit %d", r.ExitCode)
	default:
		return r.Err.Error()
	}
}

// Text is the hook output as fed to the model. A failed hook is described
// inline rather than aborting the run.
func (r *Result) Text() string {
	if r.TimedOut {
		return fmt.Sprintf("[Hook timed out after %ds]\nPartial output:\n%s", int(r.Timeout.Seconds()), r.Stdout)
	}
	out := r.Stdout
	if r.Stderr != "" {
		out += "\n[stderr]\n" + r.Stderr
	}
	if r.Err != nil {
		return fmt.Sprintf("[Hook command failed: %v]\n%s", r.Err, out)
	}
	return out
}

// Execute runs one hook in workDir with {{task}} and {{phase}} expanded. A
// failing or timed out command is reported through the Result; the error is
// only set when ctx itself is done.
func Execute(ctx context.Context, hook *HookConfig, workDir string, vars Variables) (*Result, error) {
	if hook == nil || hook.Command == "" {
		return &Result{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{
		Command: expandVariables(hook.Command, vars),
		Timeout: time.Duration(hook.Timeout) * time.Second,
	}
	if res.Timeout <= 0 {
		res.Timeout = DefaultTimeout * time.Second
	}
	logger.Debug("Running hook: %s", res.Command)

	runCtx, cancel := context.WithTimeout(ctx, res.Timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, "sh", "-c", res.Command)
	cmd.Dir = workDir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	start := time.Now()
	err := cmd.Run()
	res.Duration = time.Since(start)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
		logger.Warn("Hook %q %s", res.Command, res.Status())
		return res, nil
	}
	if err != nil {
		res.Err = err
		if cmd.ProcessState != nil {
			res.ExitCode = cmd.ProcessState.ExitCode()
		}
		logger.Warn("Hook %q failed: %s", res.Command, res.Status())
		return res, nil
	}

	logger.Debug("Hook %q ok in %s, %d bytes of output", res.Command, res.Duration.Round(time.Millisecond), len(res.Stdout))
	return res, nil
}

// ExecuteAll runs hooks in order and returns their results. It stops early
// only when ctx is done.
func ExecuteAll(ctx context.Context, hooks []*HookConfig, workDir string, vars Variables) ([]*Result, error) {
	results := make([]*Result, 0, len(hooks))
	for _, hook := range hooks {
		res, err := Execute(ctx, hook, workDir, vars)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// ExecuteAllPiped runs hooks in order and joins the Text of those with
// pipe_output set, separated by a blank line.
func ExecuteAllPiped(ctx context.Context, hooks []*HookConfig, workDir string, vars Variables) (string, error) {
	results, err := ExecuteAll(ctx, hooks, workDir, vars)
	if err != nil {
		return "", err
	}
	var parts []string
	for i, res := range results {
		if hooks[i] == nil || !hooks[i].PipeOutput {
			continue
		}
		if text := res.Text(); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n"), nil
}

// expandVariables replaces {{variable}} placeholders in the command string.
func expandVariables(command string, vars Variables) string {
	replacements := map[string]string{
		"{{task}}":  vars.Task,
		"{{phase}}": vars.Phase,
	}

	result := command
	for placeholder, value := range replacements {
		result = strings.ReplaceAll(result, placeholder, value)
	}
	return result
}
