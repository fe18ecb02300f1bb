package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/taskr/internal/controller"
)

// withInterrupt returns a context for one task command. The first SIGINT
// stops running tasks after their current step (or cancels the context when
// nothing is executing yet, e.g. during planning). The second exits.
func withInterrupt(parent context.Context, ctrl *controller.Controller) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		interrupts := 0
		for {
			select {
			case <-done:
				return
			case <-sigCh:
				interrupts++
				if interrupts > 1 {
					fmt.Fprintln(os.Stderr, "\nExiting.")
					cancel()
					os.Exit(130)
				}
				if ctrl.StopAll() > 0 {
					fmt.Fprintln(os.Stderr, "\nStopping after the current step (Ctrl+C again to exit)...")
					continue
				}
				fmt.Fprintln(os.Stderr, "\nCancelling (Ctrl+C again to exit)...")
				cancel()
			}
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		close(done)
		cancel()
	}
}
