package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mark3labs/taskr/internal/config"
	"github.com/mark3labs/taskr/internal/hooks"
	"github.com/mark3labs/taskr/internal/template"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration and environment",
	Args:  cobra.NoArgs,
	RunE:  runDoctor,
}

type check struct {
	name string
	err  error
	note string
}

func runDoctor(cmd *cobra.Command, args []string) error {
	var checks []check
	add := func(name string, err error, note string) {
		checks = append(checks, check{name: name, err: err, note: note})
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		add("config", err, "")
		return report(checks)
	}
	source := "defaults only"
	if config.Exists() {
		source = "loaded"
	}
	add("config", nil, source)

	if cfg.APIKey == "" {
		add("api key", fmt.Errorf("no API key for %s", cfg.Provider), "set ANTHROPIC_API_KEY, GEMINI_API_KEY or TASKR_API_KEY")
	} else {
		add("api key", nil, cfg.Provider)
	}

	add("workspace", writable(cfg.Workspace), cfg.Workspace)
	add("data dir", writable(filepath.Join(cfg.DataDir, "nats")), cfg.DataDir)

	for _, bin := range []string{"sh", "git"} {
		path, err := exec.LookPath(bin)
		add(bin, err, path)
	}

	if _, err := template.GetTemplate(cfg.Template); err != nil {
		add("template", err, cfg.Template)
	} else if cfg.Template != "" {
		add("template", nil, cfg.Template)
	}

	hooksCfg, err := hooks.LoadConfig(".")
	switch {
	case err != nil:
		add("hooks", err, hooks.ConfigFileName)
	case hooksCfg != nil:
		add("hooks", nil, fmt.Sprintf("%d pre_execute, %d post_run", len(hooksCfg.Hooks.PreExecute), len(hooksCfg.Hooks.PostRun)))
	}

	return report(checks)
}

// writable creates dir if needed and checks a file can be written in it.
func writable(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".taskr-doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

func report(checks []check) error {
	s := palette.S()
	failed := 0
	for _, c := range checks {
		mark := s.Success.Render("✓")
		detail := c.note
		if c.err != nil {
			failed++
			mark = s.Failure.Render("✗")
			detail = c.err.Error()
			if c.note != "" {
				detail += " (" + c.note + ")"
			}
		}
		fmt.Printf("%s %-10s %s\n", mark, c.name, s.Muted.Render(detail))
	}
	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}
