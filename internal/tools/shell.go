package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	ierr "github.com/mark3labs/taskr/internal/errors"
)

// safePath is the only PATH commands see.
const safePath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

type bashInput struct {
	Command string `json:"command"`
}

type gitInput struct {
	Args string `json:"args"`
}

func (e *Executor) executeBash(ctx context.Context, raw json.RawMessage) (string, error) {
	in, err := decode[bashInput](ExecuteBash, raw)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(in.Command) == "" {
		return "", ierr.Validation(string(ExecuteBash), "command is required")
	}
	if d := e.policy.Check(in.Command); !d.Allowed {
		return "", ierr.CommandDenied(string(ExecuteBash), "Command not allowed: %s", d.Reason)
	}
	return e.run(ctx, ExecuteBash, in.Command)
}

func (e *Executor) gitCommand(ctx context.Context, raw json.RawMessage) (string, error) {
	in, err := decode[gitInput](GitCommand, raw)
	if err != nil {
		return "", err
	}
	args := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(in.Args), "git "))
	if d := e.policy.CheckGit(args); !d.Allowed {
		return "", ierr.CommandDenied(string(GitCommand), "Command not allowed: %s", d.Reason)
	}
	return e.run(ctx, GitCommand, "git "+args)
}

// run executes command with sh -c in the workspace root under the command
// timeout. The whole process group is killed when the timeout fires or ctx is
// cancelled. Files the command touches are recorded in the change tracker.
func (e *Executor) run(ctx context.Context, tool Name, command string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.limits.CommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = e.resolver.Root()
	cmd.Env = minimalEnv(e.resolver.Root())
	configureCommandProcess(cmd)
	cmd.Cancel = func() error {
		terminateCommandProcess(cmd)
		return nil
	}
	cmd.WaitDelay = 2 * time.Second

	out := &cappedBuffer{max: e.limits.MaxOutputSize}
	cmd.Stdout = out
	cmd.Stderr = out

	watcher := watchWorkspace(e.resolver.Root())
	start := time.Now()
	runErr := cmd.Run()
	if watcher != nil {
		watcher.finish(e.tracker)
	}
	elapsed := time.Since(start).Round(time.Millisecond)
	output := out.String()

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		return output, ierr.ResourceExceeded(string(tool),
			"command timed out after %s", e.limits.CommandTimeout)
	case ctx.Err() != nil:
		return output, ierr.Wrap(ierr.KindExecution, string(tool), fmt.Errorf("command cancelled: %w", ctx.Err()))
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return withExit(output, exitErr.ExitCode()), ierr.New(ierr.KindExecution, string(tool),
				"command exited with status %d", exitErr.ExitCode())
		}
		return output, ierr.Wrap(ierr.KindExecution, string(tool), runErr)
	}

	if output == "" {
		output = "(no output)"
	}
	return withExit(output, 0) + fmt.Sprintf(" in %s", elapsed), nil
}

func withExit(output string, code int) string {
	if output != "" && !strings.HasSuffix(output, "\n") {
		output += "\n"
	}
	return output + fmt.Sprintf("[exit code %d]", code)
}

// minimalEnv returns the environment for child processes. Nothing is
// inherited from the parent.
func minimalEnv(home string) []string {
	return []string{
		"PATH=" + safePath,
		"HOME=" + home,
		"LANG=C.UTF-8",
		"LC_ALL=C.UTF-8",
		"TERM=dumb",
	}
}

// cappedBuffer keeps the first max bytes written and counts the rest.
type cappedBuffer struct {
	mu      sync.Mutex
	buf     []byte
	max     int
	dropped int
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	room := c.max - len(c.buf)
	if room > 0 {
		n := min(room, len(p))
		c.buf = append(c.buf, p[:n]...)
		c.dropped += len(p) - n
	} else {
		c.dropped += len(p)
	}
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dropped == 0 {
		return string(c.buf)
	}
	return string(c.buf) + fmt.Sprintf("\n... [output truncated, %d bytes dropped]", c.dropped)
}
