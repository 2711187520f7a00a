package util

import (
	"context"
	"os"
	"slices"
	"syscall"
	"testing"
)

func stubSignals(t *testing.T, deliver os.Signal) *[]os.Signal {
	t.Helper()
	prevNotify, prevStop := notifySignals, stopSignals
	t.Cleanup(func() { notifySignals, stopSignals = prevNotify, prevStop })

	var registered []os.Signal
	notifySignals = func(c chan<- os.Signal, sig ...os.Signal) {
		registered = append(registered, sig...)
		if deliver != nil {
			c <- deliver
		}
	}
	stopSignals = func(chan<- os.Signal) {}
	return &registered
}

func TestWaitForInterruptReturnsSignal(t *testing.T) {
	registered := stubSignals(t, syscall.SIGTERM)

	if got := WaitForInterrupt(context.Background()); got != syscall.SIGTERM {
		t.Fatalf("WaitForInterrupt() = %v, want SIGTERM", got)
	}
	if !slices.Contains(*registered, os.Interrupt) || !slices.Contains(*registered, os.Signal(syscall.SIGTERM)) {
		t.Fatalf("expected SIGINT and SIGTERM to be watched, got %v", *registered)
	}
}

func TestWaitForInterruptStopsWithContext(t *testing.T) {
	stubSignals(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if got := WaitForInterrupt(ctx); got != nil {
		t.Fatalf("expected nil after cancellation, got %v", got)
	}
}
