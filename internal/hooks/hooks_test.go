package hooks

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExecuteAllPiped(t *testing.T) {
	ctx := context.Background()
	workDir := t.TempDir()
	vars := Variables{Task: "test", Phase: "executing"}

	tests := []struct {
		name     string
		hooks    []*HookConfig
		expected string
	}{
		{
			name:     "no hooks",
			hooks:    []*HookConfig{},
			expected: "",
		},
		{
			name: "single hook with pipe_output true",
			hooks: []*HookConfig{
				{Command: "echo 'piped'", Timeout: 5, PipeOutput: true},
			},
			expected: "piped\n",
		},
		{
			name: "single hook with pipe_output false",
			hooks: []*HookConfig{
				{Command: "echo 'not piped'", Timeout: 5, PipeOutput: false},
			},
			expected: "",
		},
		{
			name: "multiple hooks mixed pipe_output",
			hooks: []*HookConfig{
				{Command: "echo 'first piped'", Timeout: 5, PipeOutput: true},
				{Command: "echo 'not piped'", Timeout: 5, PipeOutput: false},
				{Command: "echo 'second piped'", Timeout: 5, PipeOutput: true},
			},
			expected: "first piped\n\nsecond piped\n",
		},
		{
			name: "all hooks with pipe_output false",
			hooks: []*HookConfig{
				{Command: "echo 'first'", Timeout: 5, PipeOutput: false},
				{Command: "echo 'second'", Timeout: 5, PipeOutput: false},
			},
			expected: "",
		},
		{
			name: "all hooks with pipe_output true",
			hooks: []*HookConfig{
				{Command: "echo 'first'", Timeout: 5, PipeOutput: true},
				{Command: "echo 'second'", Timeout: 5, PipeOutput: true},
			},
			expected: "first\n\nsecond\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := ExecuteAllPiped(ctx, tt.hooks, workDir, vars)
			if err != nil {
				t.Fatalf("ExecuteAllPiped() error = %v", err)
			}
			if output != tt.expected {
				t.Errorf("ExecuteAllPiped() output = %q, expected %q", output, tt.expected)
			}
		})
	}
}

func TestExecuteAllPiped_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	workDir := t.TempDir()
	vars := Variables{Task: "test", Phase: "executing"}
	hooks := []*HookConfig{
		{Command: "echo 'test'", Timeout: 5, PipeOutput: true},
	}

	_, err := ExecuteAllPiped(ctx, hooks, workDir, vars)
	if err == nil {
		t.Error("ExecuteAllPiped() expected error for cancelled context, got nil")
	}
}

func TestExecute(t *testing.T) {
	ctx := context.Background()
	workDir := t.TempDir()

	t.Run("expands variables", func(t *testing.T) {
		hook := &HookConfig{Command: "echo {{task}} {{phase}}", Timeout: 5}
		res, err := Execute(ctx, hook, workDir, Variables{Task: "abc", Phase: "completed"})
		if err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		if res.Command != "echo abc completed" {
			t.Errorf("Command = %q", res.Command)
		}
		if res.Text() != "abc completed\n" || res.Failed() || res.Status() != "ok" {
			t.Errorf("Execute() = %+v", res)
		}
	})

	t.Run("runs in work dir", func(t *testing.T) {
		res, err := Execute(ctx, &HookConfig{Command: "pwd"}, workDir, Variables{})
		if err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		resolved, _ := filepath.EvalSymlinks(workDir)
		got, _ := filepath.EvalSymlinks(strings.TrimSpace(res.Stdout))
		if got != resolved {
			t.Errorf("pwd = %q, want %q", got, resolved)
		}
	})

	t.Run("failure degrades to output", func(t *testing.T) {
		res, err := Execute(ctx, &HookConfig{Command: "echo oops >&2; exit 3"}, workDir, Variables{})
		if err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		if !res.Failed() || res.ExitCode != 3 || res.Status() != "exit 3" {
			t.Errorf("Execute() = %+v", res)
		}
		if res.Stderr != "oops\n" {
			t.Errorf("Stderr = %q", res.Stderr)
		}
		text := res.Text()
		if !strings.Contains(text, "[Hook command failed") || !strings.Contains(text, "oops") {
			t.Errorf("Text() = %q", text)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		res, err := Execute(ctx, &HookConfig{Command: "sleep 5", Timeout: 1}, workDir, Variables{})
		if err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		if !res.TimedOut || res.Status() != "timed out after 1s" {
			t.Errorf("Execute() = %+v", res)
		}
		if !strings.Contains(res.Text(), "[Hook timed out after 1s]") {
			t.Errorf("Text() = %q", res.Text())
		}
	})

	t.Run("nil hook", func(t *testing.T) {
		res, err := Execute(ctx, nil, workDir, Variables{})
		if err != nil || res.Text() != "" || res.Failed() {
			t.Errorf("Execute(nil) = %+v, %v", res, err)
		}
	})
}

func TestExecuteAll(t *testing.T) {
	workDir := t.TempDir()
	hooks := []*HookConfig{
		{Command: "echo one > marker.txt"},
		{Command: "exit 1"},
		{Command: "echo {{phase}} >> marker.txt"},
	}
	results, err := ExecuteAll(context.Background(), hooks, workDir, Variables{Phase: "failed"})
	if err != nil {
		t.Fatalf("ExecuteAll() error = %v", err)
	}
	if len(results) != 3 || results[0].Failed() || !results[1].Failed() || results[2].Failed() {
		t.Errorf("unexpected results: %+v", results)
	}
	data, err := os.ReadFile(filepath.Join(workDir, "marker.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "one\nfailed\n" {
		t.Errorf("marker = %q", string(data))
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		cfg, err := LoadConfig(t.TempDir())
		if err != nil || cfg != nil {
			t.Errorf("LoadConfig() = %v, %v; want nil, nil", cfg, err)
		}
	})

	t.Run("valid file", func(t *testing.T) {
		dir := t.TempDir()
		content := `version: 1
hooks:
  pre_execute:
    - command: "go version"
      timeout: 10
      pipe_output: true
  post_run:
    - command: "echo {{task}} {{phase}}"
`
		if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		cfg, err := LoadConfig(dir)
		if err != nil {
			t.Fatalf("LoadConfig() error = %v", err)
		}
		if len(cfg.Hooks.PreExecute) != 1 || len(cfg.Hooks.PostRun) != 1 {
			t.Fatalf("unexpected hooks: %+v", cfg.Hooks)
		}
		pre := cfg.Hooks.PreExecute[0]
		if pre.Command != "go version" || pre.Timeout != 10 || !pre.PipeOutput {
			t.Errorf("pre_execute = %+v", pre)
		}
	})

	t.Run("invalid yaml", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte("hooks: [unclosed"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadConfig(dir); err == nil {
			t.Error("LoadConfig() expected parse error")
		}
	})
}
