package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// forceExit ends the process on a second signal. Tests replace it.
var forceExit = os.Exit

// shutdownContext returns a context for one run against storePath. The
// first SIGINT/SIGTERM cancels it: the engine stops dispatching fetches and
// every result merged so far is already checkpointed. A second signal exits
// at once, abandoning fetches still in flight. stop releases the signal
// handler and must be called when the run ends.
func shutdownContext(parent context.Context, logger *slog.Logger, storePath string) (ctx context.Context, stop func()) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("stopping fetch dispatch, merged results stay in the store",
				slog.String("signal", sig.String()),
				slog.String("store", storePath),
			)
			cancel()
		case <-done:
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("forcing exit, in-flight fetches abandoned",
				slog.String("signal", sig.String()),
				slog.String("store", storePath),
			)
			forceExit(exitFailure)
		case <-done:
			return
		}
	}()

	stop = func() {
		select {
		case <-done:
		default:
			close(done)
		}

		cancel()
	}

	return ctx, stop
}
