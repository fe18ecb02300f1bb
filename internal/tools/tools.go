// Package tools implements the sandboxed tools the model can call. Every path
// goes through the workspace resolver and every shell command through the
// command policy; tool failures are returned as results, never as Go errors.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	ierr "github.com/mark3labs/taskr/internal/errors"
	"github.com/mark3labs/taskr/internal/logger"
	"github.com/mark3labs/taskr/internal/policy"
	"github.com/mark3labs/taskr/internal/sandbox"
)

// Name identifies a tool.
type Name string

const (
	ReadFile        Name = "read_file"
	WriteFile       Name = "write_file"
	ListFiles       Name = "list_files"
	ExecuteBash     Name = "execute_bash"
	GitCommand      Name = "git_command"
	CreateDirectory Name = "create_directory"
	DeleteFile      Name = "delete_file"
	SearchFiles     Name = "search_files"
	TaskComplete    Name = "task_complete"
)

// Names lists every tool in catalog order.
var Names = []Name{
	ReadFile, WriteFile, ListFiles, ExecuteBash, GitCommand,
	CreateDirectory, DeleteFile, SearchFiles, TaskComplete,
}

// Valid reports whether n is a known tool.
func (n Name) Valid() bool {
	for _, known := range Names {
		if n == known {
			return true
		}
	}
	return false
}

// Limits bounds what a single tool invocation may do.
type Limits struct {
	MaxFileSize       int64
	MaxWriteSize      int64
	MaxOutputSize     int
	CommandTimeout    time.Duration
	MaxDeleteFiles    int
	MaxSearchResults  int
	MaxSearchFiles    int
	MaxMatchesPerFile int
}

// DefaultLimits returns the stock limits.
func DefaultLimits() Limits {
	return Limits{
		MaxFileSize:       1 << 20,
		MaxWriteSize:      5 << 20,
		MaxOutputSize:     100 << 10,
		CommandTimeout:    120 * time.Second,
		MaxDeleteFiles:    1000,
		MaxSearchResults:  100,
		MaxSearchFiles:    500,
		MaxMatchesPerFile: 10,
	}
}

// Result is the outcome of one tool invocation.
type Result struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Error   string `json:"error,omitempty"`
}

// Content renders the result the way the model sees it.
func (r Result) Content() string {
	if r.Success {
		return r.Output
	}
	if r.Output == "" {
		return "Error: " + r.Error
	}
	return "Error: " + r.Error + "\n" + r.Output
}

// StepEvent describes one finished tool invocation.
type StepEvent struct {
	Number   int
	Tool     string
	Input    string
	Output   string
	Success  bool
	Duration time.Duration
}

// Observer is called synchronously once per invocation.
type Observer func(StepEvent)

// Config configures an Executor.
type Config struct {
	Resolver *sandbox.Resolver
	Policy   *policy.Policy
	Limits   Limits
	Observer Observer
}

type handler func(ctx context.Context, input json.RawMessage) (string, error)

// Executor runs tools inside one workspace. Step numbers are per executor,
// so callers create one executor per run.
type Executor struct {
	resolver *sandbox.Resolver
	policy   *policy.Policy
	limits   Limits
	observer Observer
	tracker  *ChangeTracker
	handlers map[Name]handler

	mu   sync.Mutex
	step int
}

// New creates an Executor. Zero limits fall back to DefaultLimits.
func New(cfg Config) *Executor {
	if cfg.Policy == nil {
		cfg.Policy = policy.Default()
	}
	cfg.Limits = withDefaults(cfg.Limits)

	e := &Executor{
		resolver: cfg.Resolver,
		policy:   cfg.Policy,
		limits:   cfg.Limits,
		observer: cfg.Observer,
		tracker:  NewChangeTracker(cfg.Resolver.Root()),
	}
	e.handlers = map[Name]handler{
		ReadFile:        e.readFile,
		WriteFile:       e.writeFile,
		ListFiles:       e.listFiles,
		ExecuteBash:     e.executeBash,
		GitCommand:      e.gitCommand,
		CreateDirectory: e.createDirectory,
		DeleteFile:      e.deleteFile,
		SearchFiles:     e.searchFiles,
		TaskComplete:    e.taskComplete,
	}
	return e
}

func withDefaults(l Limits) Limits {
	d := DefaultLimits()
	if l.MaxFileSize <= 0 {
		l.MaxFileSize = d.MaxFileSize
	}
	if l.MaxWriteSize <= 0 {
		l.MaxWriteSize = d.MaxWriteSize
	}
	if l.MaxOutputSize <= 0 {
		l.MaxOutputSize = d.MaxOutputSize
	}
	if l.CommandTimeout <= 0 {
		l.CommandTimeout = d.CommandTimeout
	}
	if l.MaxDeleteFiles <= 0 {
		l.MaxDeleteFiles = d.MaxDeleteFiles
	}
	if l.MaxSearchResults <= 0 {
		l.MaxSearchResults = d.MaxSearchResults
	}
	if l.MaxSearchFiles <= 0 {
		l.MaxSearchFiles = d.MaxSearchFiles
	}
	if l.MaxMatchesPerFile <= 0 {
		l.MaxMatchesPerFile = d.MaxMatchesPerFile
	}
	return l
}

// Tracker returns the change tracker recording paths modified by this executor.
func (e *Executor) Tracker() *ChangeTracker {
	return e.tracker
}

// Steps returns how many invocations this executor has run.
func (e *Executor) Steps() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.step
}

// Execute runs the named tool with its JSON input. It always returns a Result
// and reports the invocation to the observer exactly once.
func (e *Executor) Execute(ctx context.Context, name string, input json.RawMessage) Result {
	start := time.Now()

	e.mu.Lock()
	e.step++
	number := e.step
	e.mu.Unlock()

	var (
		output string
		err    error
	)
	h, ok := e.handlers[Name(name)]
	if !ok {
		err = ierr.Validation(name, "unknown tool %q", name)
	} else {
		panicErr := ierr.Recover(func() error {
			output, err = h(ctx, normalizeInput(input))
			return nil
		})
		if panicErr != nil {
			var pe *ierr.PanicError
			if errors.As(panicErr, &pe) {
				logger.Error("tool %s panicked: %v\n%s", name, pe.Value, pe.StackTrace)
			}
			output = ""
			err = ierr.New(ierr.KindExecution, name, "internal error while running tool")
		}
	}

	result := Result{Success: err == nil, Output: truncate(output, e.limits.MaxOutputSize)}
	if err != nil {
		result.Error = describe(err)
		logger.Debug("step %d %s failed: %v", number, name, err)
	} else {
		logger.Debug("step %d %s ok (%d bytes)", number, name, len(result.Output))
	}

	if e.observer != nil {
		e.observer(StepEvent{
			Number:   number,
			Tool:     name,
			Input:    string(input),
			Output:   result.Content(),
			Success:  result.Success,
			Duration: time.Since(start),
		})
	}

	return result
}

func normalizeInput(input json.RawMessage) json.RawMessage {
	if len(strings.TrimSpace(string(input))) == 0 || string(input) == "null" {
		return json.RawMessage("{}")
	}
	return input
}

// decode unmarshals a tool input into its typed struct.
func decode[T any](tool Name, input json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(input, &v); err != nil {
		return v, ierr.Validation(string(tool), "invalid input: %v", err)
	}
	return v, nil
}

// describe renders err for the model without the operation prefix.
func describe(err error) string {
	var e *ierr.Error
	if errors.As(err, &e) && error(e) == err {
		return e.Detail()
	}
	return err.Error()
}

// truncate caps s at max bytes on a rune boundary and appends a marker.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + fmt.Sprintf("\n... [output truncated, %d of %d bytes shown]", cut, len(s))
}
