package template

import (
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/taskr/internal/logger"
)

// Variables holds the data to be injected into template placeholders.
type Variables struct {
	Workspace     string // Workspace root shown to the model
	Goal          string // User goal
	Plan          string // Approved (or previous) plan
	PreviousError string // Error of the previous run
	Adjustment    string // User adjustment for a continuation
	Steps         string // Formatted recent steps (diagnosis only)
	Hooks         string // Pre-execute hook output
}

// Render replaces {{variable}} placeholders in template with actual values.
// Supports the following variables:
// - {{workspace}} - Workspace root
// - {{goal}} - User goal
// - {{plan}} - Plan text
// - {{previous_error}} - Error of the previous run (empty if none)
// - {{adjustment}} - Continuation adjustment (empty if none)
// - {{steps}} - Recent steps
// - {{hooks}} - Pre-execute hook output (empty if none)
func Render(template string, vars Variables) string {
	result := template

	replacements := map[string]string{
		"{{workspace}}":      vars.Workspace,
		"{{goal}}":           vars.Goal,
		"{{plan}}":           vars.Plan,
		"{{previous_error}}": vars.PreviousError,
		"{{adjustment}}":     vars.Adjustment,
		"{{steps}}":          vars.Steps,
		"{{hooks}}":          vars.Hooks,
	}

	for placeholder, value := range replacements {
		result = strings.ReplaceAll(result, placeholder, value)
	}

	return result
}

// LoadFromFile loads a template from a file.
// If the file doesn't exist or can't be read, returns an error.
func LoadFromFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read template file %s: %w", path, err)
	}
	return string(data), nil
}

// GetTemplate returns the execute system prompt.
// If customPath is non-empty, loads from that file.
// Otherwise returns the default embedded template.
func GetTemplate(customPath string) (string, error) {
	if customPath == "" {
		return DefaultExecuteSystem, nil
	}
	logger.Debug("Using custom template: %s", customPath)
	return LoadFromFile(customPath)
}

// FormatHooks wraps pre-execute hook output in a section header.
// Returns empty string when there is no output (section is omitted).
func FormatHooks(output string) string {
	output = strings.TrimSpace(output)
	if output == "" {
		return ""
	}
	return "\n## Pre-execute Hook Output\n" + output + "\n"
}

// BuildSeed renders the first user message of an execute run. The continuation
// section is included only when one of its fields is set.
func BuildSeed(vars Variables) string {
	var sb strings.Builder
	sb.WriteString(Render(ExecuteInstruction, vars))
	if vars.PreviousError != "" || vars.Adjustment != "" {
		adj := vars.Adjustment
		if adj == "" {
			adj = "(none given)"
		}
		perr := vars.PreviousError
		if perr == "" {
			perr = "(none recorded)"
		}
		cont := vars
		cont.Adjustment = adj
		cont.PreviousError = perr
		sb.WriteString("\n\n")
		sb.WriteString(Render(ContinuationTemplate, cont))
	}
	return sb.String()
}
