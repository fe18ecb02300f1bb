package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"charm.land/lipgloss/v2"

	"github.com/mark3labs/taskr/internal/controller"
	"github.com/mark3labs/taskr/internal/session"
	"github.com/mark3labs/taskr/internal/theme"
	"github.com/mark3labs/taskr/internal/tools"
)

var palette = theme.NewCatppuccinMocha()

// inputKeys are the tool input fields worth showing next to a step, in order
// of preference.
var inputKeys = []string{"path", "command", "args", "pattern", "summary"}

// summarizeInput picks the most telling field of a tool's JSON input.
func summarizeInput(input string) string {
	var fields map[string]any
	if err := json.Unmarshal([]byte(input), &fields); err != nil {
		return ""
	}
	for _, key := range inputKeys {
		if v, ok := fields[key].(string); ok && v != "" {
			return truncate(firstLine(v), 60)
		}
	}
	return ""
}

func stepLine(number int, tool, input string, success bool, d time.Duration) string {
	s := palette.S()
	mark := s.Success.Render("✓")
	if !success {
		mark = s.Failure.Render("✗")
	}
	line := fmt.Sprintf("  %s %2d %s", mark, number, s.Label.Render(tool))
	if detail := summarizeInput(input); detail != "" {
		line += " " + detail
	}
	return line + " " + s.Muted.Render(d.Round(time.Millisecond).String())
}

// stepPrinter prints each step as it finishes.
func stepPrinter(w io.Writer) tools.Observer {
	return func(ev tools.StepEvent) {
		fmt.Fprintln(w, stepLine(ev.Number, ev.Tool, ev.Input, ev.Success, ev.Duration))
	}
}

func printHeader(w io.Writer, task *session.Task) {
	s := palette.S()
	fmt.Fprintf(w, "%s %s\n", s.Title.Render(task.ID), palette.PhaseBadge(string(task.Phase)))
	fmt.Fprintf(w, "%s %s\n", s.Label.Render("Goal:"), task.Goal)
}

func printFailure(w io.Writer, e *session.TaskError) {
	if e == nil {
		return
	}
	s := palette.S()
	fmt.Fprintf(w, "\n%s %s\n", s.Failure.Render("Reason:"), e.Reason)
	if e.Step != nil {
		fmt.Fprintf(w, "%s %d\n", s.Label.Render("Failed step:"), *e.Step)
	}
	if e.Recommendation != "" {
		fmt.Fprintf(w, "%s %s\n", s.Label.Render("Recommendation:"), e.Recommendation)
	}
}

func printStats(w io.Writer, task *session.Task) {
	s := palette.S()
	fmt.Fprintln(w, s.Muted.Render(fmt.Sprintf("runs %d · %s · $%.4f",
		task.Runs, (time.Duration(task.DurationMs) * time.Millisecond).String(), task.Cost)))
}

// printOutcome prints the result of a plan or execute command with a hint
// for the next step.
func printOutcome(w io.Writer, out *controller.Outcome) {
	task := out.Task
	fmt.Fprintln(w)
	printHeader(w, task)

	switch task.Phase {
	case session.PhaseAwaitingApproval:
		fmt.Fprintln(w)
		fmt.Fprintln(w, theme.RenderMarkdown(task.Plan, 100))
		fmt.Fprintf(w, "\nApprove with 'taskr approve %s' or reject with 'taskr reject %s'.\n", task.ID, task.ID)
	case session.PhaseCompleted:
		if task.Summary != "" {
			fmt.Fprintf(w, "%s %s\n", palette.S().Label.Render("Summary:"), task.Summary)
		}
		if len(task.FilesChanged) > 0 {
			fmt.Fprintf(w, "%s %s\n", palette.S().Label.Render("Files changed:"), strings.Join(task.FilesChanged, ", "))
		}
	default:
		printFailure(w, task.Error)
		if task.Error != nil && task.Error.CanContinue {
			fmt.Fprintf(w, "\nContinue with 'taskr continue %s -m <adjustment>' or start over with 'taskr retry %s'.\n", task.ID, task.ID)
		}
	}
	printStats(w, task)
}

// printTask prints everything recorded on a task.
func printTask(w io.Writer, task *session.Task) {
	s := palette.S()
	printHeader(w, task)
	fmt.Fprintf(w, "%s %s\n", s.Label.Render("Created:"), task.CreatedAt.Local().Format(time.DateTime))

	if task.Plan != "" {
		fmt.Fprintf(w, "\n%s\n%s\n", s.Title.Render("Plan"), theme.RenderMarkdown(task.Plan, 100))
	}
	if len(task.Steps) > 0 {
		fmt.Fprintf(w, "\n%s\n", s.Title.Render("Steps"))
		for _, st := range task.Steps {
			fmt.Fprintln(w, stepLine(st.Number, st.Tool, st.Input, st.Success, time.Duration(st.DurationMs)*time.Millisecond))
			if st.Error != "" {
				fmt.Fprintln(w, "       "+s.Failure.Render(st.Error))
			}
		}
	}
	if task.Output != "" && task.Phase == session.PhaseCompleted {
		fmt.Fprintf(w, "\n%s\n%s\n", s.Title.Render("Output"), theme.RenderMarkdown(task.Output, 100))
	}
	if task.Summary != "" {
		fmt.Fprintf(w, "\n%s %s\n", s.Label.Render("Summary:"), task.Summary)
	}
	if len(task.FilesChanged) > 0 {
		fmt.Fprintf(w, "%s %s\n", s.Label.Render("Files changed:"), strings.Join(task.FilesChanged, ", "))
	}
	printFailure(w, task.Error)
	fmt.Fprintln(w)
	printStats(w, task)
}

func printList(w io.Writer, tasks []*session.Task) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, "No tasks. Create one with 'taskr plan <goal>'.")
		return
	}
	s := palette.S()
	idCol := lipgloss.NewStyle().Width(32)
	phaseCol := lipgloss.NewStyle().Width(21)
	for _, task := range tasks {
		fmt.Fprintf(w, "%s%s%s %s\n",
			idCol.Render(s.Title.Render(task.ID)),
			phaseCol.Render(palette.PhaseBadge(string(task.Phase))),
			s.Muted.Render(fmt.Sprintf("%-8s", humanAge(time.Since(task.CreatedAt)))),
			truncate(task.Goal, 60),
		)
	}
}

func humanAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
