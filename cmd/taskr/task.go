package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mark3labs/taskr/internal/controller"
)

var approveFlags struct {
	planFile string
}

var continueFlags struct {
	message string
}

var outputFlags struct {
	json bool
}

var planCmd = &cobra.Command{
	Use:   "plan <goal>",
	Short: "Create a task and propose a plan for it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(cmd, func(ctrl *controller.Controller, cmd *cobra.Command) error {
			out, err := ctrl.Plan(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			printOutcome(os.Stdout, out)
			return nil
		})
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve a proposed plan and execute it",
	Long: `Approve a proposed plan and execute it.

Use --plan-file to replace the proposed plan with an edited version.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		plan := ""
		if approveFlags.planFile != "" {
			data, err := os.ReadFile(approveFlags.planFile)
			if err != nil {
				return fmt.Errorf("failed to read plan file: %w", err)
			}
			plan = string(data)
		}
		return withController(cmd, func(ctrl *controller.Controller, cmd *cobra.Command) error {
			out, err := ctrl.Approve(cmd.Context(), args[0], plan, stepPrinter(os.Stdout))
			if err != nil {
				return err
			}
			printOutcome(os.Stdout, out)
			return nil
		})
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject <id> [reason]",
	Short: "Reject a proposed plan",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(cmd, func(ctrl *controller.Controller, cmd *cobra.Command) error {
			task, err := ctrl.Reject(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			printHeader(os.Stdout, task)
			fmt.Printf("\nRun 'taskr retry %s' for a new plan, or 'taskr continue %s -m <adjustment>'.\n", task.ID, task.ID)
			return nil
		})
	},
}

var continueCmd = &cobra.Command{
	Use:   "continue <id>",
	Short: "Re-execute a failed, stopped or rejected task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(cmd, func(ctrl *controller.Controller, cmd *cobra.Command) error {
			out, err := ctrl.Continue(cmd.Context(), args[0], continueFlags.message, stepPrinter(os.Stdout))
			if err != nil {
				return err
			}
			printOutcome(os.Stdout, out)
			return nil
		})
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Ask for a fresh plan for a settled task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(cmd, func(ctrl *controller.Controller, cmd *cobra.Command) error {
			out, err := ctrl.Retry(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printOutcome(os.Stdout, out)
			return nil
		})
	},
}

var runCmd = &cobra.Command{
	Use:   "run <goal>",
	Short: "Plan a goal and execute the plan without waiting for approval",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(cmd, func(ctrl *controller.Controller, cmd *cobra.Command) error {
			out, err := ctrl.Run(cmd.Context(), strings.Join(args, " "), stepPrinter(os.Stdout))
			if err != nil {
				return err
			}
			printOutcome(os.Stdout, out)
			return nil
		})
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat <id> <message>",
	Short: "Send a follow-up message to a finished task",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(cmd, func(ctrl *controller.Controller, cmd *cobra.Command) error {
			out, err := ctrl.Chat(cmd.Context(), args[0], strings.Join(args[1:], " "), stepPrinter(os.Stdout))
			if err != nil {
				return err
			}
			printOutcome(os.Stdout, out)
			return nil
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		tasks, err := a.store.List(cmd.Context())
		if err != nil {
			return err
		}
		if outputFlags.json {
			return writeJSON(tasks)
		}
		printList(os.Stdout, tasks)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a task with its plan, steps and outcome",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		task, err := a.store.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if outputFlags.json {
			return writeJSON(task)
		}
		printTask(os.Stdout, task)
		return nil
	},
}

func init() {
	approveCmd.Flags().StringVar(&approveFlags.planFile, "plan-file", "", "File with an edited plan to execute instead of the proposed one")
	continueCmd.Flags().StringVarP(&continueFlags.message, "message", "m", "", "Adjustment for the next attempt")
	listCmd.Flags().BoolVar(&outputFlags.json, "json", false, "Output JSON")
	showCmd.Flags().BoolVar(&outputFlags.json, "json", false, "Output JSON")
}

// withController opens the app, installs the interrupt handler and runs fn.
func withController(cmd *cobra.Command, fn func(*controller.Controller, *cobra.Command) error) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
		}
	}()

	ctx, release := withInterrupt(cmd.Context(), a.ctrl)
	defer release()
	cmd.SetContext(ctx)
	return fn(a.ctrl, cmd)
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
