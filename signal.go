package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// exitInterrupted is the conventional status for death by SIGINT.
const exitInterrupted = 130

// Test seams.
var (
	notifySignals = signal.Notify
	stopSignals   = signal.Stop
	exitProcess   = os.Exit
)

// interruptible derives a context that is canceled by the first SIGINT or
// SIGTERM, so an in-flight transfer can remove its partial file. A second
// signal while the command is still unwinding exits at once. The returned
// stop func releases the handler and must be called when the command ends.
func (cc *CLIContext) interruptible(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 2)
	notifySignals(sigCh, syscall.SIGINT, syscall.SIGTERM)

	stopCh := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)

		select {
		case sig := <-sigCh:
			cc.Logger.Info("received signal, canceling", slog.String("signal", sig.String()))
			cc.Statusf("\nInterrupted, cleaning up. Press Ctrl-C again to quit immediately.\n")
			cancel()
		case <-stopCh:
			return
		}

		select {
		case sig := <-sigCh:
			cc.Logger.Warn("received second signal, exiting", slog.String("signal", sig.String()))
			exitProcess(exitInterrupted)
		case <-stopCh:
		}
	}()

	var once sync.Once

	stop := func() {
		once.Do(func() {
			stopSignals(sigCh)
			close(stopCh)
			<-done
			cancel()
		})
	}

	return ctx, stop
}
