package service

import (
	"context"
	"sync"
)

// ServiceWrapper adapts a pair of start/stop functions to Service.
type ServiceWrapper struct {
	name         string
	serviceType  ServiceType
	dependencies []string
	start        func(ctx context.Context) error
	stop         func(ctx context.Context) error

	mu      sync.Mutex
	running bool
}

// NewServiceWrapper creates a wrapper; either function may be nil.
func NewServiceWrapper(
	name string,
	serviceType ServiceType,
	dependencies []string,
	startFunc func(ctx context.Context) error,
	stopFunc func(ctx context.Context) error,
) *ServiceWrapper {
	return &ServiceWrapper{
		name:         name,
		serviceType:  serviceType,
		dependencies: dependencies,
		start:        startFunc,
		stop:         stopFunc,
	}
}

func (w *ServiceWrapper) Name() string           { return w.name }
func (w *ServiceWrapper) Type() ServiceType      { return w.serviceType }
func (w *ServiceWrapper) Dependencies() []string { return w.dependencies }

func (w *ServiceWrapper) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	if w.start != nil {
		if err := w.start(ctx); err != nil {
			return err
		}
	}
	w.running = true
	return nil
}

func (w *ServiceWrapper) Stop(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return nil
	}
	w.running = false
	if w.stop != nil {
		return w.stop(ctx)
	}
	return nil
}

func (w *ServiceWrapper) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
