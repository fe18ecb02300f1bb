package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mark3labs/taskr/internal/logger"
	"github.com/mark3labs/taskr/internal/mcpserver"
	"github.com/mark3labs/taskr/internal/tools"
)

var serveFlags struct {
	stdio bool
	port  int
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose the sandboxed workspace tools over MCP",
	Long: `Expose the sandboxed workspace tools to MCP clients.

The same path confinement, command policy and limits apply as for task runs.
By default the server speaks streamable HTTP on 127.0.0.1; use --stdio to
serve over standard input and output instead.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveFlags.stdio, "stdio", false, "Serve over stdin/stdout")
	serveCmd.Flags().IntVarP(&serveFlags.port, "port", "p", 0, "HTTP port (0 picks a free port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	newExecutor, resolver, err := newExecutorFactory(cfg)
	if err != nil {
		return err
	}
	executor := newExecutor(func(ev tools.StepEvent) {
		logger.Info("MCP call %d %s success=%t (%s)", ev.Number, ev.Tool, ev.Success, ev.Duration)
	})
	srv := mcpserver.New(executor, version)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if serveFlags.stdio {
		return srv.ServeStdio(ctx, os.Stdin, os.Stdout)
	}

	if _, err := srv.Start(ctx, serveFlags.port); err != nil {
		return err
	}
	fmt.Printf("Serving workspace %s\nMCP endpoint: %s\n", resolver.Root(), srv.URL())

	<-ctx.Done()
	fmt.Println("\nShutting down...")
	return srv.Stop()
}
