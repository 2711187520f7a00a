package util

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

var (
	notifySignals = signal.Notify
	stopSignals   = signal.Stop
)

// WaitForInterrupt blocks until SIGINT or SIGTERM arrives and returns it.
// It returns nil when ctx ends first.
func WaitForInterrupt(ctx context.Context) os.Signal {
	ch := make(chan os.Signal, 1)
	notifySignals(ch, shutdownSignals...)
	defer stopSignals(ch)

	select {
	case sig := <-ch:
		slog.Info("Received shutdown signal", "signal", sig.String())
		return sig
	case <-ctx.Done():
		return nil
	}
}
