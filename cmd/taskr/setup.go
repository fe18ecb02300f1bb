package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mark3labs/taskr/internal/config"
)

var setupFlags struct {
	project bool
	force   bool
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create taskr configuration file",
	Long: `Create a taskr configuration file with sensible defaults.

By default, creates a global config at ~/.config/taskr/taskr.yml.
Use --project to create a project-local config in the current directory.
API keys are never written; set ANTHROPIC_API_KEY, GEMINI_API_KEY or
TASKR_API_KEY in the environment.`,
	Args: cobra.NoArgs,
	RunE: runSetup,
}

func init() {
	setupCmd.Flags().BoolVarP(&setupFlags.project, "project", "p", false, "Create config in current directory instead of global location")
	setupCmd.Flags().BoolVarP(&setupFlags.force, "force", "f", false, "Overwrite existing config file")
}

func runSetup(cmd *cobra.Command, args []string) error {
	targetPath := config.GlobalPath()
	if setupFlags.project {
		targetPath = config.ProjectPath()
	}

	if !setupFlags.force && fileExists(targetPath) {
		return fmt.Errorf("config file already exists at %s\n\nUse --force to overwrite", targetPath)
	}

	// Start from the effective configuration so flags and env carry over
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load defaults: %w", err)
	}
	if cmd.Flags().Changed("workspace") {
		cfg.Workspace = rootFlags.workspace
	}
	if cmd.Flags().Changed("provider") {
		cfg.Provider = rootFlags.provider
	}
	if cmd.Flags().Changed("model") {
		cfg.Model = rootFlags.model
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if setupFlags.project {
		err = config.WriteProject(cfg)
	} else {
		err = config.WriteGlobal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Config written to: %s\n\n", targetPath)
	fmt.Println("Run 'taskr doctor' to check your environment, then 'taskr plan <goal>' to get started.")
	return nil
}

// fileExists checks if a file exists (helper for setup command).
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
