package main

import (
	"context"
	"os"
	"strings"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/mark3labs/taskr/internal/logger"
	"github.com/mark3labs/taskr/internal/theme"
)

const (
	logoText1 = "▀█▀ ▄▀█ █▀ █▄▀ █▀█"
	logoText2 = " █  █▀█ ▄█ █ █ █▀▄"
)

// Version set via ldflags during build
var version = "dev"

func main() {
	defer func() { _ = logger.Close() }()

	if err := fang.Execute(context.Background(), rootCmd, fang.WithVersion(version)); err != nil {
		logger.Error("Command execution failed: %v", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "taskr",
	Short: "Plan, approve and execute coding tasks with a sandboxed AI agent",
}

// Persistent flags override the loaded configuration when set.
var rootFlags struct {
	workspace string
	dataDir   string
	provider  string
	model     string
	logLevel  string
}

func renderLogo() string {
	t := theme.NewCatppuccinMocha()
	line1 := theme.ApplyGradient(logoText1, t.Primary, t.Secondary)
	line2 := theme.ApplyGradient(logoText2, t.Primary, t.Secondary)
	return strings.Join([]string{line1, line2}, "\n")
}

func init() {
	rootCmd.Long = renderLogo() + `

taskr turns a goal into a plan, waits for your approval and then executes it
with an AI agent confined to a workspace directory. The agent reads, writes and
searches files and runs allowlisted commands; every step is recorded in an
embedded NATS JetStream store so tasks can be inspected, continued or retried.

Configuration precedence:
  CLI flags > Environment variables > Project config > Global config > Defaults`

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&rootFlags.workspace, "workspace", "w", "", "Workspace directory the agent is confined to")
	pf.StringVar(&rootFlags.dataDir, "data-dir", "", "Data directory for the task store")
	pf.StringVar(&rootFlags.provider, "provider", "", "Model provider (anthropic or gemini)")
	pf.StringVar(&rootFlags.model, "model", "", "Model name")
	pf.StringVar(&rootFlags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(rejectCmd)
	rootCmd.AddCommand(continueCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(doctorCmd)
}
